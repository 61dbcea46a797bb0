package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	memorystate "github.com/vijayakanth06/watchtogether-vk/internal/infra/state/memory"
	"github.com/vijayakanth06/watchtogether-vk/internal/service"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// queueFixture 组装一套跑在内存存储上的队列 + 播放同步器，
// 订阅接好，和真实会话同构。
type queueFixture struct {
	st       *memorystate.Store
	playback *service.PlaybackSynchronizer
	queue    *service.QueueService
	ctx      context.Context
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	st := memorystate.New()
	playback := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	t.Cleanup(playback.Close)
	queue := service.NewQueueService(st, "ABC123", playback, nil)

	for path, h := range map[string]store.Handler{
		store.RoomQueue("ABC123"):    queue.ApplySnapshot,
		store.RoomPlayback("ABC123"): playback.ApplyRemote,
	} {
		sub, err := st.Subscribe(path, h)
		require.NoError(t, err)
		t.Cleanup(sub.Unsubscribe)
	}
	return &queueFixture{st: st, playback: playback, queue: queue, ctx: context.Background()}
}

func video(id string) domain.VideoResult {
	return domain.VideoResult{VideoID: id, Title: "title " + id, Thumbnail: "https://example.com/t.jpg"}
}

// add 入队并等待可能的自动播放写入落盘。
func (f *queueFixture) add(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.queue.Add(f.ctx, "alice", video(id)))
	waitFlush()
}

// entryByVideo 按视频 id 找到条目 key。
func (f *queueFixture) entryByVideo(t *testing.T, id string) string {
	t.Helper()
	for _, e := range f.queue.Entries() {
		if e.VideoID == id {
			return e.ID
		}
	}
	t.Fatalf("no queue entry for video %s", id)
	return ""
}

// selectVideo 点播并等待写入落盘。
func (f *queueFixture) selectVideo(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.queue.Select(f.entryByVideo(t, id)))
	waitFlush()
	require.Equal(t, id, f.playback.CurrentVideo())
}

func TestQueue_AddValidatesBeforeWrite(t *testing.T) {
	f := newQueueFixture(t)

	err := f.queue.Add(f.ctx, "alice", domain.VideoResult{VideoID: "bad", Title: "x", Thumbnail: "t"})
	assert.ErrorIs(t, err, domain.ErrInvalidVideoID)
	assert.Empty(t, f.queue.Entries(), "校验失败不得产生任何写入")
}

func TestQueue_AddToEmptyQueueStartsPlayback(t *testing.T) {
	f := newQueueFixture(t)

	f.add(t, videoA)

	known := f.playback.Known()
	assert.Equal(t, videoA, known.CurrentVideo, "空队列且无在播时，入队即播")
	assert.True(t, known.IsPlaying)
	assert.Zero(t, known.CurrentTime)
}

func TestQueue_AddDoesNotInterruptCurrentVideo(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, videoA)

	f.add(t, videoB)

	assert.Equal(t, videoA, f.playback.CurrentVideo(), "已有在播视频时入队不应打断")
	assert.Len(t, f.queue.Entries(), 2)
}

func TestQueue_RemoveCurrent_AdvancesToSuccessor(t *testing.T) {
	// [A, B, C]，在播 B，删 B -> 前进到 C
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.add(t, videoB)
	f.add(t, videoC)
	f.selectVideo(t, videoB)

	require.NoError(t, f.queue.Remove(f.ctx, f.entryByVideo(t, videoB)))
	waitFlush()

	assert.Equal(t, videoC, f.playback.CurrentVideo())
	assert.Len(t, f.queue.Entries(), 2)
}

func TestQueue_RemoveCurrentTail_WrapsToHead(t *testing.T) {
	// [A, B]，在播 B，删 B -> 回绕到 A
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.add(t, videoB)
	f.selectVideo(t, videoB)

	require.NoError(t, f.queue.Remove(f.ctx, f.entryByVideo(t, videoB)))
	waitFlush()

	assert.Equal(t, videoA, f.playback.CurrentVideo())
}

func TestQueue_RemoveLastEntry_StopsPlayback(t *testing.T) {
	// [A]，在播 A，删 A -> 停止
	f := newQueueFixture(t)
	f.add(t, videoA)

	require.NoError(t, f.queue.Remove(f.ctx, f.entryByVideo(t, videoA)))
	waitFlush()

	known := f.playback.Known()
	assert.Empty(t, known.CurrentVideo)
	assert.False(t, known.IsPlaying)
	assert.Empty(t, f.queue.Entries())
}

func TestQueue_RemoveNonCurrent_LeavesPlaybackAlone(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.add(t, videoB)

	require.NoError(t, f.queue.Remove(f.ctx, f.entryByVideo(t, videoB)))
	waitFlush()

	assert.Equal(t, videoA, f.playback.CurrentVideo(), "删掉非在播条目不应影响播放")
}

func TestQueue_RemoveUnknownEntry(t *testing.T) {
	f := newQueueFixture(t)
	err := f.queue.Remove(f.ctx, "missing")
	assert.ErrorIs(t, err, service.ErrEntryNotFound)
}

func TestQueue_ConsumeFinished_AdvancesAndConsumes(t *testing.T) {
	// [A, B]，A 播完 -> A 被消费，前进到 B
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.add(t, videoB)

	f.queue.ConsumeFinished(f.ctx, videoA)
	waitFlush()

	assert.Equal(t, videoB, f.playback.CurrentVideo())
	require.Len(t, f.queue.Entries(), 1)
	assert.Equal(t, videoB, f.queue.Entries()[0].VideoID)
}

func TestQueue_ConsumeFinished_UnknownVideoStops(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.selectVideo(t, videoA)

	// 播完的视频已不在队列里（比如被别人删了）：直接停
	f.queue.ConsumeFinished(f.ctx, videoC)
	waitFlush()

	known := f.playback.Known()
	assert.Empty(t, known.CurrentVideo)
	assert.False(t, known.IsPlaying)
}

func TestQueue_ClearStopsPlayback(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, videoA)
	f.add(t, videoB)

	require.NoError(t, f.queue.Clear(f.ctx))
	waitFlush()

	assert.Empty(t, f.queue.Entries())
	assert.Empty(t, f.playback.CurrentVideo())
}
