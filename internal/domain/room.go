package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// roomCodePattern 限定房间码格式：6 位大写字母或数字。
var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Room 表示一个共享观影房间的元数据。
// 队列、聊天、播放状态和成员都挂载在该房间的子路径下。
type Room struct {
	Code      string `json:"-"`         // 房间码（作为索引 key 存储，不序列化进值里）
	CreatedAt int64  `json:"createdAt"` // 创建时间 (Unix 毫秒)
	CreatedBy string `json:"createdBy"` // 创建者的显示名
}

// ValidateRoomCode 校验房间码格式。
// 必须在任何一次存储读取之前调用，避免用非法 key 访问存储。
func ValidateRoomCode(code string) error {
	if !roomCodePattern.MatchString(code) {
		return ErrInvalidRoomCode
	}
	return nil
}

// NormalizeRoomCode 去除首尾空白并统一为大写，方便用户手动输入。
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Age 返回房间自创建以来经过的时长。
func (r Room) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CreatedAt))
}

// DecodeRoom 将存储快照中的原始 JSON 解析为 Room。
// 畸形数据返回错误，而不是把弱类型值向上传播。
func DecodeRoom(code string, raw json.RawMessage) (Room, error) {
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return Room{}, err
	}
	r.Code = code
	return r, nil
}
