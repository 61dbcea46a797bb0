package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Member 表示房间内的一个已连接参与者。
// key 是客户端生成的不透明 id（仅在浏览器/进程会话内稳定）。
type Member struct {
	ID         string `json:"-"`          // 成员 id（集合 key，不序列化进值里）
	Name       string `json:"name"`       // 显示名 (1-20 字符)
	IsSpeaking bool   `json:"isSpeaking"` // 语音活动标记，纯提示性状态，不是互斥锁
	JoinedAt   int64  `json:"joinedAt"`   // 加入时间 (Unix 毫秒)
}

// ValidateDisplayName 校验显示名长度（trim 后 1-20 字符）。
func ValidateDisplayName(name string) error {
	n := strings.TrimSpace(name)
	if len(n) < 1 || len(n) > 20 {
		return ErrInvalidDisplayName
	}
	return nil
}

// DecodeMembers 把完整的成员集合快照映射为有序列表（按加入时间升序）。
// 单条畸形记录被丢弃，不影响其余成员。
func DecodeMembers(snapshot map[string]json.RawMessage) []Member {
	out := make([]Member, 0, len(snapshot))
	for id, raw := range snapshot {
		var m Member
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		m.ID = id
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
