// Package player 定义远程可控视频播放器的能力边界。
// 核心只通过这个接口指挥播放器；真实实现（浏览器 iframe、外置进程等）
// 由展示层提供。所有命令都是 fire-and-forget：效果只能通过后续的
// 状态事件观察到，调用方不能假设同步生效。
package player

// State 是播放器的原生状态。
type State int

const (
	StateUnstarted State = iota
	StatePlaying
	StatePaused
	StateBuffering
	StateEnded
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	default:
		return "unstarted"
	}
}

// Event 是播放器发出的一次原生状态转移。
type Event struct {
	State State
	// Position 是事件发生时的播放位置（秒）
	Position float64
}

// Widget 是远程可控播放器的能力集合。
type Widget interface {
	// Load 载入新视频并定位到给定位置（秒）。
	Load(videoID string, startPosition float64)
	Play()
	Pause()
	Seek(position float64)
	// CurrentPosition 返回播放器当前的实际位置（秒）。
	CurrentPosition() float64
	// Duration 返回当前视频总时长（秒），未知时为 0。
	Duration() float64
	// State 返回播放器当前的实际原生状态。
	State() State
	// LoadedVideo 返回播放器当前载入的视频 id，空串表示未载入。
	LoadedVideo() string
}
