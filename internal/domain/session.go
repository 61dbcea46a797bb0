package domain

import "time"

// SessionTTL 是本地缓存会话的绝对有效期（自保存起 1 小时）。
const SessionTTL = time.Hour

// SavedSession 是本地缓存的上一次会话，用于进程重启后免输房间码重连。
type SavedSession struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	MemberID    string `json:"memberId"`
	ExpiresAt   int64  `json:"expiresAt"` // 绝对过期时间 (Unix 毫秒)
}

// Expired 报告会话是否已过期。
func (s SavedSession) Expired(now time.Time) bool {
	return now.UnixMilli() > s.ExpiresAt
}

// Valid 做一次基本的完整性检查，畸形条目直接当作不存在。
func (s SavedSession) Valid() bool {
	return ValidateRoomCode(s.RoomCode) == nil &&
		ValidateDisplayName(s.DisplayName) == nil &&
		s.MemberID != ""
}
