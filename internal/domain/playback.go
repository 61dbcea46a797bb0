package domain

import (
	"encoding/json"
)

// PlaybackState 是每个房间唯一的一条共享播放记录。
// 任何成员都可以写入，没有单一权威；冲突完全靠 LastUpdated 上的
// last-write-wins 规则解决（接受方只认严格更大的时间戳）。
type PlaybackState struct {
	CurrentVideo string  `json:"currentVideo"` // 当前视频 id，空串表示没有在播
	IsPlaying    bool    `json:"isPlaying"`    // 播放/暂停标记
	CurrentTime  float64 `json:"currentTime"`  // 播放位置（秒）
	LastUpdated  int64   `json:"lastUpdated"`  // 写入方挂钟时间 (Unix 毫秒)，LWW 判据
}

// NewerThan 报告 incoming 是否应当覆盖本地已接受的状态。
// 等于不算新：同一时间戳的重复投递必须被丢弃（自回声 / 重放）。
func (p PlaybackState) NewerThan(local PlaybackState) bool {
	return p.LastUpdated > local.LastUpdated
}

// PlaybackChange 是一次局部播放状态变更请求。
// nil 字段表示"保持现状"，在节流窗口内多次变更会被合并。
type PlaybackChange struct {
	CurrentVideo *string
	IsPlaying    *bool
	CurrentTime  *float64
}

// MergeInto 把非 nil 字段合并进 dst。
func (c PlaybackChange) MergeInto(dst *PlaybackChange) {
	if c.CurrentVideo != nil {
		dst.CurrentVideo = c.CurrentVideo
	}
	if c.IsPlaying != nil {
		dst.IsPlaying = c.IsPlaying
	}
	if c.CurrentTime != nil {
		dst.CurrentTime = c.CurrentTime
	}
}

// IsZero 报告这次变更是否什么都没改。
func (c PlaybackChange) IsZero() bool {
	return c.CurrentVideo == nil && c.IsPlaying == nil && c.CurrentTime == nil
}

// ApplyTo 在 base 之上应用变更并盖上新的时间戳，得到要写入存储的完整记录。
func (c PlaybackChange) ApplyTo(base PlaybackState, stampMillis int64) PlaybackState {
	next := base
	if c.CurrentVideo != nil {
		next.CurrentVideo = *c.CurrentVideo
	}
	if c.IsPlaying != nil {
		next.IsPlaying = *c.IsPlaying
	}
	if c.CurrentTime != nil {
		next.CurrentTime = *c.CurrentTime
	}
	next.LastUpdated = stampMillis
	return next
}

// Fields 把完整记录展开为逐字段的 map，供存储层做字段粒度的原子写入
// （部分更新必须保留兄弟字段）。
func (p PlaybackState) Fields() map[string]any {
	return map[string]any{
		"currentVideo": p.CurrentVideo,
		"isPlaying":    p.IsPlaying,
		"currentTime":  p.CurrentTime,
		"lastUpdated":  p.LastUpdated,
	}
}

// DecodePlayback 从记录节点的快照（字段 -> JSON 标量）解析播放状态。
// 缺失或畸形的字段取零值：空快照等价于"没有在播"。
func DecodePlayback(snapshot map[string]json.RawMessage) PlaybackState {
	var p PlaybackState
	if raw, ok := snapshot["currentVideo"]; ok {
		_ = json.Unmarshal(raw, &p.CurrentVideo)
	}
	if raw, ok := snapshot["isPlaying"]; ok {
		_ = json.Unmarshal(raw, &p.IsPlaying)
	}
	if raw, ok := snapshot["currentTime"]; ok {
		_ = json.Unmarshal(raw, &p.CurrentTime)
	}
	if raw, ok := snapshot["lastUpdated"]; ok {
		_ = json.Unmarshal(raw, &p.LastUpdated)
	}
	return p
}
