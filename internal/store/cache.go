package store

import (
	"time"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
)

// SessionCache 是本地会话缓存：记住最近一次加入的房间，
// 供进程重启后在有效期内自动重连。
type SessionCache interface {
	// Save 写入（覆盖）缓存的会话。
	Save(session domain.SavedSession) error

	// Load 读取缓存的会话。过期或畸形的条目被静默丢弃并从缓存中移除，
	// 此时 ok 为 false。
	Load(now time.Time) (session domain.SavedSession, ok bool, err error)

	// Clear 删除缓存的会话。缓存为空时是空操作。
	Clear() error
}
