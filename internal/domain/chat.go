package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// ChatMessage 是房间聊天记录中的一条消息。
// 只追加，永不修改；展示顺序按发送时间升序。
type ChatMessage struct {
	ID        string `json:"-"`         // 存储生成的消息 key
	User      string `json:"user"`      // 发送者显示名
	Text      string `json:"text"`      // 消息正文 (trim 后 1-200 字符)
	Timestamp int64  `json:"timestamp"` // 发送时间，客户端时钟 (Unix 毫秒)
}

// ValidateMessageText 校验并规整消息正文，返回 trim 后的文本。
func ValidateMessageText(text string) (string, error) {
	t := strings.TrimSpace(text)
	if len(t) < 1 || len(t) > 200 {
		return "", ErrInvalidMessage
	}
	return t, nil
}

// DecodeChat 把完整的聊天快照映射为按时间戳升序的列表。
// 并发写入下存储的自然 key 顺序不保证等于时间戳顺序（时钟偏差、同毫秒
// 到达乱序），所以每次快照都必须显式重排。
func DecodeChat(snapshot map[string]json.RawMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(snapshot))
	for id, raw := range snapshot {
		var m ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		m.ID = id
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}
