package tasks

import (
	"encoding/json"
	"time"
)

// 任务类型常量
const (
	TypeRoomReap = "room:reap" // 周期性的空闲房间回收任务
)

// RoomReapPayload 是房间回收任务的数据结构。
type RoomReapPayload struct {
	// Timeout 是空房间被判定为废弃的最短存活时长
	Timeout time.Duration `json:"timeout"`
}

// NewRoomReapTask 序列化一个房间回收任务的 payload。
func NewRoomReapTask(timeout time.Duration) ([]byte, error) {
	return json.Marshal(RoomReapPayload{Timeout: timeout})
}
