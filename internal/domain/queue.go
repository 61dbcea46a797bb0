package domain

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// videoIDPattern 是外部视频 id 的固定格式：11 位字母数字、横线或下划线。
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// QueueEntry 表示队列中等待（或正在）播放的一条视频。
// key 由存储生成（单调 ULID），因此按 key 排序即插入顺序；
// 不用视频 id 作 key，同一视频允许排队多次。
type QueueEntry struct {
	ID        string `json:"-"`         // 存储生成的条目 key
	VideoID   string `json:"videoId"`   // 外部视频 id
	Title     string `json:"title"`     // 标题
	Thumbnail string `json:"thumbnail"` // 缩略图 URL
	Channel   string `json:"channel"`   // 频道/作者名
	AddedBy   string `json:"addedBy"`   // 添加者的显示名
	AddedAt   int64  `json:"addedAt"`   // 添加时间 (Unix 毫秒)
}

// VideoResult 是外部元数据搜索返回的一条结果。
type VideoResult struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Channel   string `json:"channel"`
}

// ValidateVideoID 校验外部视频 id 的格式。
func ValidateVideoID(id string) error {
	if !videoIDPattern.MatchString(id) {
		return ErrInvalidVideoID
	}
	return nil
}

// ValidateQueueEntry 在写入前校验一条待入队的视频数据。
func ValidateQueueEntry(v VideoResult) error {
	if err := ValidateVideoID(v.VideoID); err != nil {
		return err
	}
	title := strings.TrimSpace(v.Title)
	if title == "" || len(title) > 100 {
		return ErrInvalidVideoTitle
	}
	if strings.TrimSpace(v.Thumbnail) == "" {
		return ErrMissingThumbnail
	}
	return nil
}

// DecodeQueue 把完整的队列快照映射为按插入顺序排列的列表。
// key 是单调 ULID，字典序即到达顺序。
func DecodeQueue(snapshot map[string]json.RawMessage) []QueueEntry {
	out := make([]QueueEntry, 0, len(snapshot))
	for id, raw := range snapshot {
		var e QueueEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		e.ID = id
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
