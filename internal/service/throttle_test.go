package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 节流器是内部类型，在包内测试。

func TestWriteThrottle_BurstFiresOnce(t *testing.T) {
	var fires int32
	th := newWriteThrottle(100*time.Millisecond, nil, func() { atomic.AddInt32(&fires, 1) })

	// 窗口内连续触发
	th.Trigger()
	th.Trigger()
	th.Trigger()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fires), "一个窗口内的多次触发只应 flush 一次")
}

func TestWriteThrottle_FirstBatchWaitsFullWindow(t *testing.T) {
	var fires int32
	th := newWriteThrottle(100*time.Millisecond, nil, func() { atomic.AddInt32(&fires, 1) })

	th.Trigger()
	time.Sleep(30 * time.Millisecond)
	// 构造后立刻触发也要等满窗口，给后续变更留出合并机会
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fires))
}

func TestWriteThrottle_SeparateWindowsFireSeparately(t *testing.T) {
	var fires int32
	th := newWriteThrottle(50*time.Millisecond, nil, func() { atomic.AddInt32(&fires, 1) })

	th.Trigger()
	time.Sleep(150 * time.Millisecond)
	th.Trigger()
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fires))
}

func TestWriteThrottle_CancelDropsPendingFlush(t *testing.T) {
	var fires int32
	th := newWriteThrottle(100*time.Millisecond, nil, func() { atomic.AddInt32(&fires, 1) })

	th.Trigger()
	th.Cancel()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires), "Cancel 后等待中的 flush 必须被丢弃")

	// 之后的触发全部忽略
	th.Trigger()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fires))
}
