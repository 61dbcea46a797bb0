package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// PresenceService 维护房间的成员集合和本成员的存在记录。
// 成员记录由各自的客户端负责写入；崩溃离开靠存储的断线删除钩子兜底。
type PresenceService struct {
	store    store.Store
	path     string
	memberID string
	log      *logrus.Entry
	now      func() time.Time

	mu       sync.RWMutex
	self     domain.Member
	members  []domain.Member
	speaking bool
}

// NewPresenceService 创建存在服务。调用 Register 之前成员对房间不可见。
func NewPresenceService(st store.Store, roomCode, memberID, displayName string, logger *logrus.Logger) *PresenceService {
	if st == nil {
		panic("store cannot be nil for PresenceService")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PresenceService{
		store:    st,
		path:     store.RoomMembers(roomCode),
		memberID: memberID,
		log: logger.WithFields(logrus.Fields{
			"component": "presence",
			"room":      roomCode,
			"member":    memberID,
		}),
		now: time.Now,
		self: domain.Member{
			ID:   memberID,
			Name: displayName,
		},
	}
}

// Register 写入本成员的存在记录，并注册断线删除钩子：
// 进程崩溃或网络彻底丢失时，记录由存储侧清理，不会留下幽灵成员。
func (p *PresenceService) Register(ctx context.Context) error {
	p.mu.Lock()
	p.self.JoinedAt = p.now().UnixMilli()
	p.self.IsSpeaking = p.speaking
	self := p.self
	p.mu.Unlock()

	if err := p.store.SetField(ctx, p.path, p.memberID, self); err != nil {
		return err
	}
	if err := p.store.OnDisconnectDelete(p.path, p.memberID); err != nil {
		return err
	}
	p.log.Info("Member registered")
	return nil
}

// HandleConnectivity 处理连接存活信号。断线删除钩子只绑定单次连接的
// 存活期，所以每次恢复都要重写存在记录并重挂钩子；中断期间钩子可能
// 已经触发，把本成员从集合里删掉了。
func (p *PresenceService) HandleConnectivity(connected bool) {
	if !connected {
		p.log.Warn("Connection lost")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Register(ctx); err != nil {
		p.log.WithError(err).Error("Failed to re-register presence after reconnect")
		return
	}
	p.log.Info("Presence re-established after reconnect")
}

// ApplySnapshot 用订阅送来的完整成员快照替换本地视图。
func (p *PresenceService) ApplySnapshot(snapshot store.Snapshot) {
	members := domain.DecodeMembers(snapshot)
	p.mu.Lock()
	p.members = members
	p.mu.Unlock()
}

// Members 返回按加入时间排序的成员视图副本。
func (p *PresenceService) Members() []domain.Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Member, len(p.members))
	copy(out, p.members)
	return out
}

// SetSpeaking 更新本成员的语音活动标记。标记是纯提示性状态，
// 多人同时为真是正常情况。
func (p *PresenceService) SetSpeaking(ctx context.Context, speaking bool) error {
	p.mu.Lock()
	if p.speaking == speaking {
		p.mu.Unlock()
		return nil
	}
	p.speaking = speaking
	p.self.IsSpeaking = speaking
	self := p.self
	p.mu.Unlock()

	return p.store.SetField(ctx, p.path, p.memberID, self)
}

// Deregister 显式移除本成员的存在记录（优雅离开）。
func (p *PresenceService) Deregister(ctx context.Context) error {
	return p.store.DeleteField(ctx, p.path, p.memberID)
}
