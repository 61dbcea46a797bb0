package service

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	"github.com/vijayakanth06/watchtogether-vk/internal/player"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// PlaybackConfig 是播放同步器的可调参数。阈值是配置，不是契约。
type PlaybackConfig struct {
	// ThrottleWindow 是两次存储写入之间的最小间隔（合并窗口）。
	ThrottleWindow time.Duration
	// SeekTolerance 是触发 seek 的最小漂移（秒）；换视频不受此限制。
	SeekTolerance float64
	// MinPositionDelta 是位置变化被认为"有意义"的最小差值（秒）。
	MinPositionDelta float64
	// PositionReportInterval 是播放中位置上报的最小间隔。
	PositionReportInterval time.Duration
}

// DefaultPlaybackConfig 返回推荐缺省值。
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		ThrottleWindow:         750 * time.Millisecond,
		SeekTolerance:          2.0,
		MinPositionDelta:       2.0,
		PositionReportInterval: 2 * time.Second,
	}
}

func (c *PlaybackConfig) applyDefaults() {
	d := DefaultPlaybackConfig()
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = d.ThrottleWindow
	}
	if c.SeekTolerance <= 0 {
		c.SeekTolerance = d.SeekTolerance
	}
	if c.MinPositionDelta <= 0 {
		c.MinPositionDelta = d.MinPositionDelta
	}
	if c.PositionReportInterval <= 0 {
		c.PositionReportInterval = d.PositionReportInterval
	}
}

// SyncPhase 是自回声抑制状态机的状态。
// 对播放器下发指令后，播放器"追赶"期间发出的原生事件不是新的用户
// 意图，必须被吞掉；状态机让这件事成为显式、可测试的转移，
// 而不是散落各处的布尔标记。
type SyncPhase int

const (
	PhaseSynced SyncPhase = iota
	PhaseAwaitingLoad
	PhaseAwaitingSeek
	PhaseAwaitingPlayPause
)

// PlaybackSynchronizer 把本地播放器事件和远端状态变更合并为收敛的
// "当前视频/是否播放/位置"记录。冲突只靠 lastUpdated 上的
// last-write-wins 解决；写入经过节流并抑制自回声。
type PlaybackSynchronizer struct {
	store store.Store
	path  string
	log   *logrus.Entry
	cfg   PlaybackConfig
	now   func() time.Time

	mu     sync.Mutex
	widget player.Widget
	// known 是本客户端最后接受的共享状态
	known domain.PlaybackState
	// pending 是窗口内合并的待写变更
	pending domain.PlaybackChange
	phase   SyncPhase
	// echoBudget 是还要吞掉的原生事件数
	echoBudget    int
	lastPosReport time.Time
	onEnded       func(videoID string)

	throttle *writeThrottle
}

// NewPlaybackSynchronizer 创建播放同步器。widget 可以之后再 Attach
// （中途加入的成员先收到快照、后拿到播放器）。
func NewPlaybackSynchronizer(st store.Store, roomCode string, cfg PlaybackConfig, logger *logrus.Logger) *PlaybackSynchronizer {
	if st == nil {
		panic("store cannot be nil for PlaybackSynchronizer")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.applyDefaults()
	s := &PlaybackSynchronizer{
		store: st,
		path:  store.RoomPlayback(roomCode),
		log:   logger.WithFields(logrus.Fields{"component": "playback_sync", "room": roomCode}),
		cfg:   cfg,
		now:   time.Now,
	}
	s.throttle = newWriteThrottle(cfg.ThrottleWindow, s.now, s.flushPending)
	return s
}

// SetOnEnded 注册视频自然播完时的回调（队列自动前进）。
func (s *PlaybackSynchronizer) SetOnEnded(fn func(videoID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// AttachWidget 绑定播放器，并立即向已知状态收敛——中途加入的成员
// 必须 seek 到进行中的位置，而不是从零开始。
func (s *PlaybackSynchronizer) AttachWidget(w player.Widget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widget = w
	if s.known.LastUpdated > 0 {
		s.convergeLocked()
	}
}

// Known 返回最后接受的共享状态。
func (s *PlaybackSynchronizer) Known() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known
}

// CurrentVideo 返回当前在播的视频 id，空串表示没有。
func (s *PlaybackSynchronizer) CurrentVideo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known.CurrentVideo
}

// Phase 返回自回声状态机当前所处状态。
func (s *PlaybackSynchronizer) Phase() SyncPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ApplyRemote 处理订阅送来的播放状态快照。
// 唯一的冲突规则：只接受 lastUpdated 严格更大的记录；过期写入被
// 静默丢弃（这不是错误，绝不上报给用户）。
func (s *PlaybackSynchronizer) ApplyRemote(snapshot store.Snapshot) {
	incoming := domain.DecodePlayback(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !incoming.NewerThan(s.known) {
		// 自己写入的回声或乱序的旧值
		s.log.WithFields(logrus.Fields{
			"incoming": incoming.LastUpdated,
			"known":    s.known.LastUpdated,
		}).Debug("Stale playback update discarded")
		return
	}
	s.known = incoming
	s.convergeLocked()
}

// convergeLocked 指挥播放器向 known 收敛。调用方必须持有 s.mu。
func (s *PlaybackSynchronizer) convergeLocked() {
	w := s.widget
	if w == nil {
		return
	}
	st := s.known

	if st.CurrentVideo == "" {
		if w.LoadedVideo() != "" && w.State() == player.StatePlaying {
			w.Pause()
			s.phase = PhaseAwaitingPlayPause
			s.echoBudget++
		}
		return
	}

	if w.LoadedVideo() != st.CurrentVideo {
		// 换视频是硬不连续，直接载入到目标位置，不做 seek 容差判断
		w.Load(st.CurrentVideo, st.CurrentTime)
		if !st.IsPlaying {
			w.Pause()
		}
		s.phase = PhaseAwaitingLoad
		s.echoBudget += 2
		return
	}

	if drift := math.Abs(w.CurrentPosition() - st.CurrentTime); drift > s.cfg.SeekTolerance {
		w.Seek(st.CurrentTime)
		s.phase = PhaseAwaitingSeek
		s.echoBudget++
	}

	// 播放/暂停标记按播放器的实际状态独立校正
	widgetPlaying := w.State() == player.StatePlaying
	if st.IsPlaying && !widgetPlaying {
		w.Play()
		if s.phase == PhaseSynced {
			s.phase = PhaseAwaitingPlayPause
		}
		s.echoBudget++
	} else if !st.IsPlaying && widgetPlaying {
		w.Pause()
		if s.phase == PhaseSynced {
			s.phase = PhaseAwaitingPlayPause
		}
		s.echoBudget++
	}
}

// RequestChange 合并一次本地用户意图（播放/暂停、seek、选视频、
// 自动前进）。与已知状态没有"有意义"差别的请求直接丢弃，避免周期性
// 位置上报造成写风暴；其余合并进 pending，由节流器在窗口尾部一次写出。
func (s *PlaybackSynchronizer) RequestChange(change domain.PlaybackChange) {
	s.mu.Lock()
	if !s.meaningfulLocked(change) {
		s.mu.Unlock()
		return
	}
	change.MergeInto(&s.pending)
	s.mu.Unlock()
	s.throttle.Trigger()
}

func (s *PlaybackSynchronizer) meaningfulLocked(change domain.PlaybackChange) bool {
	if change.IsZero() {
		return false
	}
	if change.CurrentVideo != nil && *change.CurrentVideo != s.known.CurrentVideo {
		return true
	}
	if change.IsPlaying != nil && *change.IsPlaying != s.known.IsPlaying {
		return true
	}
	if change.CurrentTime != nil && math.Abs(*change.CurrentTime-s.known.CurrentTime) > s.cfg.MinPositionDelta {
		return true
	}
	return false
}

// flushPending 由节流器调用：把合并后的变更盖上新时间戳写入存储。
func (s *PlaybackSynchronizer) flushPending() {
	s.mu.Lock()
	if s.pending.IsZero() {
		s.mu.Unlock()
		return
	}
	next := s.pending.ApplyTo(s.known, s.now().UnixMilli())
	s.pending = domain.PlaybackChange{}
	// 本地立即接受自己的写入；订阅回声的时间戳不更大，会被静默丢弃
	s.known = next
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Patch(ctx, s.path, next.Fields()); err != nil {
		// 瞬态存储错误：记录并继续，下一次被接受的远端更新会自愈
		s.log.WithError(err).Error("Failed to write playback state")
	}
}

// HandleWidgetEvent 处理播放器的原生状态转移。
// 指令"追赶"期间的事件被吞掉（自回声抑制）；Ended 永远是真实事件，
// 触发队列自动前进。
func (s *PlaybackSynchronizer) HandleWidgetEvent(ev player.Event) {
	var ended func(string)
	var endedVideo string

	s.mu.Lock()
	switch ev.State {
	case player.StateEnded:
		ended = s.onEnded
		endedVideo = s.known.CurrentVideo
	case player.StatePlaying, player.StatePaused:
		if s.echoBudget > 0 {
			s.echoBudget--
			if s.echoBudget == 0 {
				s.phase = PhaseSynced
			}
			s.mu.Unlock()
			return
		}
		playing := ev.State == player.StatePlaying
		pos := ev.Position
		s.mu.Unlock()
		s.RequestChange(domain.PlaybackChange{IsPlaying: &playing, CurrentTime: &pos})
		return
	default:
		// buffering / unstarted 不代表用户意图
	}
	s.mu.Unlock()

	if ended != nil && endedVideo != "" {
		ended(endedVideo)
	}
}

// ReportPosition 处理播放期间的周期性位置上报：独立节流，
// 且只有播放器实际仍在播放时才转发（防暂停后的过期定时器回调）。
func (s *PlaybackSynchronizer) ReportPosition(pos float64) {
	s.mu.Lock()
	w := s.widget
	if w == nil || w.State() != player.StatePlaying {
		s.mu.Unlock()
		return
	}
	if s.now().Sub(s.lastPosReport) < s.cfg.PositionReportInterval {
		s.mu.Unlock()
		return
	}
	s.lastPosReport = s.now()
	s.mu.Unlock()

	s.RequestChange(domain.PlaybackChange{CurrentTime: &pos})
}

// Close 取消仍在等待的节流写入。会话 teardown 时调用。
func (s *PlaybackSynchronizer) Close() {
	s.throttle.Cancel()
}
