package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
	memorystate "github.com/vijayakanth06/watchtogether-vk/internal/infra/state/memory"
	"github.com/vijayakanth06/watchtogether-vk/internal/player"
	"github.com/vijayakanth06/watchtogether-vk/internal/service"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

const (
	videoA = "aaaaaaaaaaa"
	videoB = "bbbbbbbbbbb"
	videoC = "ccccccccccc"
)

// fakeWidget 模拟远程可控播放器并记录收到的指令。
type fakeWidget struct {
	loaded string
	pos    float64
	state  player.State

	loadCalls  int
	seekCalls  int
	playCalls  int
	pauseCalls int
}

func (w *fakeWidget) Load(videoID string, startPosition float64) {
	w.loadCalls++
	w.loaded = videoID
	w.pos = startPosition
	w.state = player.StatePlaying // 模拟载入后自动播放
}
func (w *fakeWidget) Play()  { w.playCalls++; w.state = player.StatePlaying }
func (w *fakeWidget) Pause() { w.pauseCalls++; w.state = player.StatePaused }
func (w *fakeWidget) Seek(position float64) {
	w.seekCalls++
	w.pos = position
}
func (w *fakeWidget) CurrentPosition() float64 { return w.pos }
func (w *fakeWidget) Duration() float64        { return 0 }
func (w *fakeWidget) State() player.State      { return w.state }
func (w *fakeWidget) LoadedVideo() string      { return w.loaded }

// fastConfig 用很短的节流窗口让测试不必等太久。
func fastConfig() service.PlaybackConfig {
	cfg := service.DefaultPlaybackConfig()
	cfg.ThrottleWindow = 20 * time.Millisecond
	return cfg
}

// waitFlush 等待节流窗口过去、写入落盘。
func waitFlush() { time.Sleep(120 * time.Millisecond) }

// playbackSnapshot 把播放状态编码成订阅投递的快照形式。
func playbackSnapshot(t *testing.T, p domain.PlaybackState) store.Snapshot {
	t.Helper()
	snap := make(store.Snapshot)
	for k, v := range p.Fields() {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		snap[k] = b
	}
	return snap
}

// --- LWW ---

func TestPlayback_AcceptsStrictlyNewerOnly(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	w1 := domain.PlaybackState{CurrentVideo: videoA, CurrentTime: 10, LastUpdated: 100}
	w2 := domain.PlaybackState{CurrentVideo: videoB, CurrentTime: 20, LastUpdated: 200}

	// 顺序到达
	sync.ApplyRemote(playbackSnapshot(t, w1))
	sync.ApplyRemote(playbackSnapshot(t, w2))
	assert.Equal(t, videoB, sync.Known().CurrentVideo)

	// 更早的写入事后才到达：丢弃
	stale := domain.PlaybackState{CurrentVideo: videoC, CurrentTime: 5, LastUpdated: 150}
	sync.ApplyRemote(playbackSnapshot(t, stale))
	assert.Equal(t, videoB, sync.Known().CurrentVideo, "时间戳 150 < 200，应被丢弃")
	assert.Equal(t, int64(200), sync.Known().LastUpdated)
}

func TestPlayback_ReversedArrivalConvergesSame(t *testing.T) {
	// 两个客户端以相反顺序看到同两条写入，最终必须一致
	w1 := domain.PlaybackState{CurrentVideo: videoA, LastUpdated: 100}
	w2 := domain.PlaybackState{CurrentVideo: videoB, LastUpdated: 200}

	st := memorystate.New()
	a := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer a.Close()
	b := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer b.Close()

	a.ApplyRemote(playbackSnapshot(t, w1))
	a.ApplyRemote(playbackSnapshot(t, w2))

	b.ApplyRemote(playbackSnapshot(t, w2))
	b.ApplyRemote(playbackSnapshot(t, w1))

	assert.Equal(t, a.Known(), b.Known(), "到达顺序不同也必须收敛到 W2")
	assert.Equal(t, videoB, b.Known().CurrentVideo)
}

// --- 节流合并 ---

func TestPlayback_ThrottleMergesBurstIntoOneWrite(t *testing.T) {
	st := memorystate.New()
	cfg := fastConfig()
	cfg.ThrottleWindow = 200 * time.Millisecond
	sync := service.NewPlaybackSynchronizer(st, "ABC123", cfg, nil)
	defer sync.Close()

	path := store.RoomPlayback("ABC123")

	// 窗口内的两次变更
	t10 := 10.0
	sync.RequestChange(domain.PlaybackChange{CurrentTime: &t10})
	time.Sleep(50 * time.Millisecond)
	t30 := 30.0
	sync.RequestChange(domain.PlaybackChange{CurrentTime: &t30})

	time.Sleep(400 * time.Millisecond)

	// 恰好一次写入，携带最新值
	assert.Equal(t, 1, st.MutationCount(path), "窗口内的多次变更必须合并为一次写入")
	snap, err := st.Read(context.Background(), path)
	require.NoError(t, err)
	got := domain.DecodePlayback(snap)
	assert.Equal(t, 30.0, got.CurrentTime)
	assert.Positive(t, got.LastUpdated)
}

// --- 自回声 ---

func TestPlayback_OwnWriteEchoIsDiscarded(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	w := &fakeWidget{loaded: videoA, state: player.StatePlaying}
	sync.AttachWidget(w)

	playing := true
	video := videoA
	t42 := 42.0
	sync.RequestChange(domain.PlaybackChange{CurrentVideo: &video, IsPlaying: &playing, CurrentTime: &t42})
	waitFlush()

	known := sync.Known()
	require.Equal(t, 42.0, known.CurrentTime)

	// 订阅把自己的写入投递回来：时间戳相等，不得再次收敛
	loadsBefore, seeksBefore := w.loadCalls, w.seekCalls
	snap, err := st.Read(context.Background(), store.RoomPlayback("ABC123"))
	require.NoError(t, err)
	sync.ApplyRemote(snap)

	assert.Equal(t, known, sync.Known(), "自己写入的回声不应改变已知状态")
	assert.Equal(t, loadsBefore, w.loadCalls)
	assert.Equal(t, seeksBefore, w.seekCalls)
}

// --- 收敛 ---

func TestPlayback_MidJoinSeeksIntoOngoingVideo(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	// 先收到快照，后拿到播放器
	remote := domain.PlaybackState{CurrentVideo: videoA, IsPlaying: true, CurrentTime: 120, LastUpdated: 100}
	sync.ApplyRemote(playbackSnapshot(t, remote))

	w := &fakeWidget{}
	sync.AttachWidget(w)

	assert.Equal(t, videoA, w.loaded, "中途加入必须载入进行中的视频")
	assert.Equal(t, 120.0, w.pos, "必须定位到进行中的位置，而不是从零开始")
	assert.Equal(t, player.StatePlaying, w.state)
}

func TestPlayback_DriftWithinToleranceNotSeeked(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	w := &fakeWidget{loaded: videoA, pos: 100, state: player.StatePlaying}
	sync.AttachWidget(w)

	// 漂移 1s < 容差 2s
	remote := domain.PlaybackState{CurrentVideo: videoA, IsPlaying: true, CurrentTime: 101, LastUpdated: 100}
	sync.ApplyRemote(playbackSnapshot(t, remote))
	assert.Zero(t, w.seekCalls, "容差内的漂移不应触发 seek")

	// 漂移 5s > 容差
	remote = domain.PlaybackState{CurrentVideo: videoA, IsPlaying: true, CurrentTime: 106, LastUpdated: 200}
	sync.ApplyRemote(playbackSnapshot(t, remote))
	assert.Equal(t, 1, w.seekCalls)
	assert.Equal(t, 106.0, w.pos)
}

func TestPlayback_VideoChangeBypassesTolerance(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	w := &fakeWidget{loaded: videoA, pos: 50, state: player.StatePlaying}
	sync.AttachWidget(w)

	// 换视频且目标位置与当前位置仅差 1s：仍然必须硬载入
	remote := domain.PlaybackState{CurrentVideo: videoB, IsPlaying: true, CurrentTime: 51, LastUpdated: 100}
	sync.ApplyRemote(playbackSnapshot(t, remote))

	assert.Equal(t, 1, w.loadCalls, "换视频不受 seek 容差限制")
	assert.Equal(t, videoB, w.loaded)
	assert.Equal(t, 51.0, w.pos)
}

func TestPlayback_CommandEchoEventsSwallowed(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	w := &fakeWidget{}
	sync.AttachWidget(w)

	// 远端换视频触发 Load，载入过程会产生追赶事件
	remote := domain.PlaybackState{CurrentVideo: videoA, IsPlaying: true, CurrentTime: 0, LastUpdated: 100}
	sync.ApplyRemote(playbackSnapshot(t, remote))
	require.Equal(t, service.PhaseAwaitingLoad, sync.Phase())

	// 追赶事件被吞掉，不产生写入
	sync.HandleWidgetEvent(player.Event{State: player.StateBuffering})
	sync.HandleWidgetEvent(player.Event{State: player.StatePlaying})
	sync.HandleWidgetEvent(player.Event{State: player.StatePlaying})
	assert.Equal(t, service.PhaseSynced, sync.Phase())

	waitFlush()
	assert.Zero(t, st.MutationCount(store.RoomPlayback("ABC123")), "指令追赶事件不得回写存储")

	// 追赶结束后，真实的用户暂停要正常上报
	sync.HandleWidgetEvent(player.Event{State: player.StatePaused, Position: 3})
	waitFlush()
	assert.Equal(t, 1, st.MutationCount(store.RoomPlayback("ABC123")))
	got := domain.DecodePlayback(mustRead(t, st, store.RoomPlayback("ABC123")))
	assert.False(t, got.IsPlaying)
}

func TestPlayback_EndedFiresCallback(t *testing.T) {
	st := memorystate.New()
	sync := service.NewPlaybackSynchronizer(st, "ABC123", fastConfig(), nil)
	defer sync.Close()

	var endedWith string
	sync.SetOnEnded(func(videoID string) { endedWith = videoID })

	remote := domain.PlaybackState{CurrentVideo: videoA, IsPlaying: true, LastUpdated: 100}
	sync.ApplyRemote(playbackSnapshot(t, remote))

	sync.HandleWidgetEvent(player.Event{State: player.StateEnded})
	assert.Equal(t, videoA, endedWith, "自然播完必须触发回调，即使处于追赶期")
}

func mustRead(t *testing.T, st store.Store, path string) store.Snapshot {
	t.Helper()
	snap, err := st.Read(context.Background(), path)
	require.NoError(t, err)
	return snap
}
