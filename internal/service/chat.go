package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// ChatService 维护房间的共享聊天记录。消息只增不改，
// 显示顺序按发送方时间戳排，不按到达顺序。
type ChatService struct {
	store      store.Store
	path       string
	memberName string
	log        *logrus.Entry
	now        func() time.Time

	mu       sync.RWMutex
	messages []domain.ChatMessage
}

// NewChatService 创建聊天服务。memberName 作为后续消息的发送者署名。
func NewChatService(st store.Store, roomCode, memberName string, logger *logrus.Logger) *ChatService {
	if st == nil {
		panic("store cannot be nil for ChatService")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChatService{
		store:      st,
		path:       store.RoomChat(roomCode),
		memberName: memberName,
		log:        logger.WithFields(logrus.Fields{"component": "chat", "room": roomCode}),
		now:        time.Now,
	}
}

// ApplySnapshot 用订阅送来的完整聊天快照替换本地视图。
func (c *ChatService) ApplySnapshot(snapshot store.Snapshot) {
	messages := domain.DecodeChat(snapshot)
	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()
}

// Messages 返回按时间戳升序排列的消息副本。
func (c *ChatService) Messages() []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Send 校验并发送一条消息。写入前做 trim，空白消息在本地拒绝，
// 不产生任何存储流量。
func (c *ChatService) Send(ctx context.Context, text string) error {
	trimmed, err := domain.ValidateMessageText(text)
	if err != nil {
		return err
	}
	msg := domain.ChatMessage{
		User:      c.memberName,
		Text:      trimmed,
		Timestamp: c.now().UnixMilli(),
	}
	if _, err := c.store.Append(ctx, c.path, msg); err != nil {
		c.log.WithError(err).Error("Failed to send chat message")
		return err
	}
	return nil
}
