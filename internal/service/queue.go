package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// QueueService 维护房间的共享播放队列。
// 条目 key 由存储生成（单调 ULID），本服务只持有按插入顺序排列的
// 本地视图；所有变更先写存储，视图靠订阅快照刷新。
type QueueService struct {
	store    store.Store
	path     string
	playback *PlaybackSynchronizer
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.RWMutex
	entries []domain.QueueEntry
}

// NewQueueService 创建队列服务。playback 用于选中/自动前进时驱动播放。
func NewQueueService(st store.Store, roomCode string, playback *PlaybackSynchronizer, logger *logrus.Logger) *QueueService {
	if st == nil {
		panic("store cannot be nil for QueueService")
	}
	if playback == nil {
		panic("playback synchronizer cannot be nil for QueueService")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueService{
		store:    st,
		path:     store.RoomQueue(roomCode),
		playback: playback,
		log:      logger.WithFields(logrus.Fields{"component": "queue", "room": roomCode}),
		now:      time.Now,
	}
}

// ApplySnapshot 用订阅送来的完整队列快照替换本地视图。
func (q *QueueService) ApplySnapshot(snapshot store.Snapshot) {
	entries := domain.DecodeQueue(snapshot)
	q.mu.Lock()
	q.entries = entries
	q.mu.Unlock()
}

// Entries 返回按插入顺序排列的队列视图副本。
func (q *QueueService) Entries() []domain.QueueEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Add 校验并追加一条视频。若此前队列为空且没有在播视频，
// 新条目立刻开始播放（加入即播）。
func (q *QueueService) Add(ctx context.Context, memberName string, v domain.VideoResult) error {
	if err := domain.ValidateQueueEntry(v); err != nil {
		return err
	}

	q.mu.RLock()
	wasEmpty := len(q.entries) == 0
	q.mu.RUnlock()

	entry := domain.QueueEntry{
		VideoID:   v.VideoID,
		Title:     v.Title,
		Thumbnail: v.Thumbnail,
		Channel:   v.Channel,
		AddedBy:   memberName,
		AddedAt:   q.now().UnixMilli(),
	}
	id, err := q.store.Append(ctx, q.path, entry)
	if err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{"entry": id, "video": v.VideoID}).Info("Queue entry added")

	if wasEmpty && q.playback.CurrentVideo() == "" {
		q.startPlaying(v.VideoID)
	}
	return nil
}

// Select 手动切换到队列中的某一条（不移除，可重复点播）。
func (q *QueueService) Select(entryID string) error {
	q.mu.RLock()
	var found *domain.QueueEntry
	for i := range q.entries {
		if q.entries[i].ID == entryID {
			found = &q.entries[i]
			break
		}
	}
	q.mu.RUnlock()
	if found == nil {
		return ErrEntryNotFound
	}
	q.startPlaying(found.VideoID)
	return nil
}

// Remove 删除一条队列条目。如果删掉的恰好是当前在播的视频，
// 按"先后继、再回绕、都没有就停"的规则自动前进——基于删除前的
// 队列快照决策，避免和订阅刷新竞争。
func (q *QueueService) Remove(ctx context.Context, entryID string) error {
	q.mu.RLock()
	before := make([]domain.QueueEntry, len(q.entries))
	copy(before, q.entries)
	q.mu.RUnlock()

	idx := -1
	for i := range before {
		if before[i].ID == entryID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrEntryNotFound
	}
	removed := before[idx]

	if err := q.store.DeleteField(ctx, q.path, entryID); err != nil {
		return err
	}
	q.log.WithFields(logrus.Fields{"entry": entryID, "video": removed.VideoID}).Info("Queue entry removed")

	// 按视频 id 匹配：当前在播的可能是这条，也可能是同视频的另一条；
	// 只有被删条目确实是在播视频时才需要前进
	if q.playback.CurrentVideo() != removed.VideoID {
		return nil
	}

	remaining := append(before[:idx:idx], before[idx+1:]...)
	q.advanceFrom(remaining, idx)
	return nil
}

// Clear 清空整个队列并停止播放。
func (q *QueueService) Clear(ctx context.Context) error {
	if err := q.store.Delete(ctx, q.path); err != nil {
		return err
	}
	q.log.Info("Queue cleared")
	q.stopPlaying()
	return nil
}

// ConsumeFinished 处理视频自然播完：消费掉第一条匹配的队列条目，
// 随后按与手动删除相同的规则前进。队列里找不到（例如手动点播的
// 历史条目已被删）就直接停。
func (q *QueueService) ConsumeFinished(ctx context.Context, videoID string) {
	q.mu.RLock()
	var entryID string
	for i := range q.entries {
		if q.entries[i].VideoID == videoID {
			entryID = q.entries[i].ID
			break
		}
	}
	q.mu.RUnlock()

	if entryID == "" {
		q.stopPlaying()
		return
	}
	if err := q.Remove(ctx, entryID); err != nil {
		q.log.WithError(err).WithField("entry", entryID).Warn("Failed to consume finished entry")
		q.stopPlaying()
	}
}

// advanceFrom 在删除后的队列上选下一条：原位置的后继优先，
// 没有后继则回绕到第一条，队列空了就停。
func (q *QueueService) advanceFrom(remaining []domain.QueueEntry, removedIdx int) {
	if len(remaining) == 0 {
		q.stopPlaying()
		return
	}
	next := removedIdx
	if next >= len(remaining) {
		next = 0
	}
	q.startPlaying(remaining[next].VideoID)
}

func (q *QueueService) startPlaying(videoID string) {
	playing := true
	zero := 0.0
	q.playback.RequestChange(domain.PlaybackChange{
		CurrentVideo: &videoID,
		IsPlaying:    &playing,
		CurrentTime:  &zero,
	})
}

func (q *QueueService) stopPlaying() {
	empty := ""
	stopped := false
	zero := 0.0
	q.playback.RequestChange(domain.PlaybackChange{
		CurrentVideo: &empty,
		IsPlaying:    &stopped,
		CurrentTime:  &zero,
	})
}
