package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
	"github.com/vijayakanth06/watchtogether-vk/internal/tasks"
)

// DefaultRoomTimeout 是空房间被回收前的最短存活时长。
const DefaultRoomTimeout = 2 * time.Hour

// ReaperHandler 处理周期性的房间回收任务：
// 删除"没有任何成员且创建时间超过超时"的房间整棵子树。
// 判据是成员集合为空，不是最后活跃时间——有人在的房间永远不回收。
type ReaperHandler struct {
	store store.Store
	log   *logrus.Entry
	now   func() time.Time
}

// NewReaperHandler 创建回收处理器。
func NewReaperHandler(st store.Store, logger *logrus.Logger) *ReaperHandler {
	if st == nil {
		panic("store cannot be nil for ReaperHandler")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReaperHandler{
		store: st,
		log:   logger.WithField("component", "room_reaper"),
		now:   time.Now,
	}
}

// ProcessTask 实现 asynq.Handler。
// 单个房间的错误只记录并跳过，不让整轮扫描失败重试。
func (h *ReaperHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomReapPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.WithError(err).Error("Malformed reap task payload")
		return err
	}
	timeout := payload.Timeout
	if timeout <= 0 {
		timeout = DefaultRoomTimeout
	}

	h.log.Info("Starting room sweep...")
	swept, err := h.Sweep(ctx, timeout)
	if err != nil {
		h.log.WithError(err).Error("Room sweep failed")
		return err
	}
	h.log.WithField("swept", swept).Info("Room sweep completed")

	// 顺带清理心跳已消失客户端留下的断线删除注册（幽灵成员兜底）
	if sw, ok := h.store.(store.DisconnectSweeper); ok {
		n, err := sw.SweepDisconnected(ctx)
		if err != nil {
			h.log.WithError(err).Warn("Disconnect sweep failed")
		} else if n > 0 {
			h.log.WithField("clients", n).Info("Swept dead client registrations")
		}
	}
	return nil
}

// Sweep 扫描房间索引，删除空闲超时的房间，返回删除数量。
func (h *ReaperHandler) Sweep(ctx context.Context, timeout time.Duration) (int, error) {
	index, err := h.store.Read(ctx, store.RoomsIndex())
	if err != nil {
		return 0, err
	}

	now := h.now()
	swept := 0
	for code, raw := range index {
		roomLog := h.log.WithField("room", code)

		room, err := domain.DecodeRoom(code, raw)
		if err != nil {
			roomLog.WithError(err).Warn("Skipping malformed room record")
			continue
		}
		if room.Age(now) < timeout {
			continue
		}

		members, err := h.store.Read(ctx, store.RoomMembers(code))
		if err != nil {
			roomLog.WithError(err).Warn("Failed to read members, skipping room")
			continue
		}
		if len(members) > 0 {
			continue
		}

		if err := h.store.DeleteTree(ctx, store.RoomTree(code)); err != nil {
			roomLog.WithError(err).Error("Failed to delete room tree")
			continue
		}
		if err := h.store.DeleteField(ctx, store.RoomsIndex(), code); err != nil {
			roomLog.WithError(err).Error("Failed to remove room from index")
			continue
		}
		roomLog.WithField("age", room.Age(now).String()).Info("Reaped abandoned room")
		swept++
	}
	return swept, nil
}
