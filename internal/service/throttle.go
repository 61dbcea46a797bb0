package service

import (
	"sync"
	"time"
)

// writeThrottle 是播放状态写入的显式限流器，替代原型里闭包捕获可变
// timer 的 debounce 写法。trailing-edge 语义：窗口内的多次触发合并为
// 窗口结束时的一次 flush，flush 时拿到的是最新合并值。
// Cancel 在会话 teardown 时丢弃仍在等待的写入。
type writeThrottle struct {
	window time.Duration
	now    func() time.Time
	fire   func()

	mu        sync.Mutex
	lastFire  time.Time
	timer     *time.Timer
	cancelled bool
}

func newWriteThrottle(window time.Duration, now func() time.Time, fire func()) *writeThrottle {
	if now == nil {
		now = time.Now
	}
	return &writeThrottle{
		window: window,
		now:    now,
		fire:   fire,
		// 初始视为刚触发过：紧跟构造之后的第一批变更也要等满一个窗口，
		// 这样窗口内的多次请求恰好合并成一次写入
		lastFire: now(),
	}
}

// Trigger 请求一次 flush。窗口未满时只挂一个定时器，不会叠加。
func (t *writeThrottle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.timer != nil {
		return
	}
	delay := t.window - t.now().Sub(t.lastFire)
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, t.flush)
}

func (t *writeThrottle) flush() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.lastFire = t.now()
	fn := t.fire
	t.mu.Unlock()
	fn()
}

// Cancel 停止并丢弃任何仍在等待的 flush。之后的 Trigger 全部忽略。
func (t *writeThrottle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
