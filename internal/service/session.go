package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// roomCodeCharset 排版同房间码格式：大写字母和数字。
const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts 是生成唯一房间码的最大重试次数。
const maxCodeAttempts = 10

// SessionManager 负责房间的创建和加入/重连，是所有房间级服务的组装点。
type SessionManager struct {
	store       store.Store
	cache       store.SessionCache
	logger      *logrus.Logger
	log         *logrus.Entry
	playbackCfg PlaybackConfig
	now         func() time.Time
}

// NewSessionManager 创建会话管理器。cache 可以为 nil（不做本地重连缓存）。
func NewSessionManager(st store.Store, cache store.SessionCache, cfg PlaybackConfig, logger *logrus.Logger) *SessionManager {
	if st == nil {
		panic("store cannot be nil for SessionManager")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionManager{
		store:       st,
		cache:       cache,
		logger:      logger,
		log:         logger.WithField("component", "session"),
		playbackCfg: cfg,
		now:         time.Now,
	}
}

// NewMemberID 生成一个新的成员 id。只要求会话内稳定，uuid 足够。
func NewMemberID() string {
	return uuid.NewString()
}

// generateRoomCode 用加密随机源生成一个 6 位房间码。
func generateRoomCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeCharset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		code[i] = roomCodeCharset[n.Int64()]
	}
	return string(code), nil
}

// generateUniqueRoomCode 生成一个索引里尚未占用的房间码。
// 码空间 36^6，冲突概率极低，重试上限只是兜底。
func (m *SessionManager) generateUniqueRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateRoomCode()
		if err != nil {
			return "", err
		}
		_, err = m.store.ReadField(ctx, store.RoomsIndex(), code)
		if errors.Is(err, store.ErrAbsent) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrRoomCodeExhausted
}

// CreateRoom 创建一个新房间并返回元数据。创建不等于加入，
// 调用方随后用返回的房间码 Join。
func (m *SessionManager) CreateRoom(ctx context.Context, displayName string) (domain.Room, error) {
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return domain.Room{}, err
	}
	code, err := m.generateUniqueRoomCode(ctx)
	if err != nil {
		return domain.Room{}, err
	}
	room := domain.Room{
		Code:      code,
		CreatedAt: m.now().UnixMilli(),
		CreatedBy: displayName,
	}
	if err := m.store.SetField(ctx, store.RoomsIndex(), code, room); err != nil {
		return domain.Room{}, err
	}
	m.log.WithField("room", code).Info("Room created")
	return room, nil
}

// Join 加入一个已存在的房间：校验 -> 核对索引 -> 组装服务 -> 建立订阅。
// 任何写入都发生在房间确认存在之后；加入未知房间不留任何痕迹。
func (m *SessionManager) Join(ctx context.Context, roomCode, displayName string) (*RoomSession, error) {
	return m.join(ctx, roomCode, displayName, NewMemberID())
}

// Resume 尝试用本地缓存的会话重新加入上一个房间。
// 没有可用缓存时 ok 为 false 且无错误；房间已消失时清掉缓存并返回
// ErrRoomNotFound。
func (m *SessionManager) Resume(ctx context.Context) (*RoomSession, bool, error) {
	if m.cache == nil {
		return nil, false, nil
	}
	saved, ok, err := m.cache.Load(m.now())
	if err != nil || !ok {
		return nil, false, err
	}
	sess, err := m.join(ctx, saved.RoomCode, saved.DisplayName, saved.MemberID)
	if errors.Is(err, ErrRoomNotFound) {
		if cerr := m.cache.Clear(); cerr != nil {
			m.log.WithError(cerr).Warn("Failed to clear stale session cache")
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (m *SessionManager) join(ctx context.Context, roomCode, displayName, memberID string) (*RoomSession, error) {
	code := domain.NormalizeRoomCode(roomCode)
	if err := domain.ValidateRoomCode(code); err != nil {
		return nil, err
	}
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}

	raw, err := m.store.ReadField(ctx, store.RoomsIndex(), code)
	if errors.Is(err, store.ErrAbsent) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	room, err := domain.DecodeRoom(code, raw)
	if err != nil {
		return nil, fmt.Errorf("malformed room record for %s: %w", code, err)
	}

	playback := NewPlaybackSynchronizer(m.store, code, m.playbackCfg, m.logger)
	queue := NewQueueService(m.store, code, playback, m.logger)
	chat := NewChatService(m.store, code, displayName, m.logger)
	presence := NewPresenceService(m.store, code, memberID, displayName, m.logger)

	// 播完自动前进：播放器报告 Ended -> 消费队列里对应的条目
	playback.SetOnEnded(func(videoID string) {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue.ConsumeFinished(cctx, videoID)
	})

	sess := &RoomSession{
		room:     room,
		memberID: memberID,
		name:     displayName,
		manager:  m,
		playback: playback,
		queue:    queue,
		chat:     chat,
		presence: presence,
		log:      m.logger.WithFields(logrus.Fields{"component": "session", "room": code}),
	}

	if err := presence.Register(ctx); err != nil {
		playback.Close()
		return nil, fmt.Errorf("failed to register presence: %w", err)
	}

	// 订阅建立时回调立即收到当前快照，中途加入的成员无需额外的初始读取
	wiring := []struct {
		path string
		h    store.Handler
	}{
		{store.RoomMembers(code), presence.ApplySnapshot},
		{store.RoomQueue(code), queue.ApplySnapshot},
		{store.RoomChat(code), chat.ApplySnapshot},
		{store.RoomPlayback(code), playback.ApplyRemote},
	}
	for _, w := range wiring {
		sub, err := m.store.Subscribe(w.path, w.h)
		if err != nil {
			sess.teardown(ctx)
			return nil, fmt.Errorf("failed to subscribe %s: %w", w.path, err)
		}
		sess.subs = append(sess.subs, sub)
	}
	sess.subs = append(sess.subs, m.store.SubscribeConnectivity(presence.HandleConnectivity))

	if m.cache != nil {
		saved := domain.SavedSession{
			RoomCode:    code,
			DisplayName: displayName,
			MemberID:    memberID,
			ExpiresAt:   m.now().Add(domain.SessionTTL).UnixMilli(),
		}
		if err := m.cache.Save(saved); err != nil {
			// 缓存失败不阻塞加入，只是下次重启要重新输房间码
			sess.log.WithError(err).Warn("Failed to save session cache")
		}
	}

	sess.log.WithField("member", memberID).Info("Joined room")
	return sess, nil
}

// RoomSession 是加入一个房间后得到的会话句柄，
// 统一持有所有订阅并保证 Leave 的确定性释放。
type RoomSession struct {
	room     domain.Room
	memberID string
	name     string
	manager  *SessionManager
	playback *PlaybackSynchronizer
	queue    *QueueService
	chat     *ChatService
	presence *PresenceService
	log      *logrus.Entry

	subs      []*store.Subscription
	leaveOnce sync.Once
}

// Room 返回房间元数据。
func (s *RoomSession) Room() domain.Room { return s.room }

// MemberID 返回本成员在这次会话中的 id。
func (s *RoomSession) MemberID() string { return s.memberID }

// DisplayName 返回本成员的显示名。
func (s *RoomSession) DisplayName() string { return s.name }

// Playback 返回播放同步器。
func (s *RoomSession) Playback() *PlaybackSynchronizer { return s.playback }

// Queue 返回队列服务。
func (s *RoomSession) Queue() *QueueService { return s.queue }

// Chat 返回聊天服务。
func (s *RoomSession) Chat() *ChatService { return s.chat }

// Presence 返回存在服务。
func (s *RoomSession) Presence() *PresenceService { return s.presence }

// Leave 优雅离开房间：解除所有订阅、丢弃待写的播放变更、
// 删除本成员的存在记录、清掉本地会话缓存。幂等，重复调用是空操作；
// 成员记录恰好被删除一次。
func (s *RoomSession) Leave(ctx context.Context) {
	s.leaveOnce.Do(func() {
		s.teardown(ctx)
		if s.manager.cache != nil {
			if err := s.manager.cache.Clear(); err != nil {
				s.log.WithError(err).Warn("Failed to clear session cache")
			}
		}
		s.log.Info("Left room")
	})
}

func (s *RoomSession) teardown(ctx context.Context) {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.playback.Close()
	if err := s.presence.Deregister(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to remove presence record")
	}
}
