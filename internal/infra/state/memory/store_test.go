package memorystate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memorystate "github.com/vijayakanth06/watchtogether-vk/internal/infra/state/memory"
	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

func TestSubscribe_DeliversInitialSnapshot(t *testing.T) {
	// Arrange
	st := memorystate.New()
	ctx := context.Background()
	require.NoError(t, st.SetField(ctx, "rooms/AAAAAA/playback", "currentTime", 42.0))

	// Act: 订阅建立时应立即收到当前快照
	var got []store.Snapshot
	sub, err := st.Subscribe("rooms/AAAAAA/playback", func(s store.Snapshot) {
		got = append(got, s)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Assert
	require.Len(t, got, 1, "订阅建立时应同步投递一次当前快照")
	assert.JSONEq(t, "42", string(got[0]["currentTime"]))
}

func TestSubscribe_FullSnapshotOnEachChange(t *testing.T) {
	st := memorystate.New()
	ctx := context.Background()

	var last store.Snapshot
	sub, err := st.Subscribe("node", func(s store.Snapshot) { last = s })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, st.SetField(ctx, "node", "a", 1))
	require.NoError(t, st.SetField(ctx, "node", "b", 2))

	// 每次投递的都是完整快照，不是增量
	assert.Len(t, last, 2)
	assert.JSONEq(t, "1", string(last["a"]))
	assert.JSONEq(t, "2", string(last["b"]))
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	st := memorystate.New()
	ctx := context.Background()

	count := 0
	sub, err := st.Subscribe("node", func(store.Snapshot) { count++ })
	require.NoError(t, err)
	require.Equal(t, 1, count)

	sub.Unsubscribe()
	sub.Unsubscribe() // 幂等

	require.NoError(t, st.SetField(ctx, "node", "a", 1))
	assert.Equal(t, 1, count, "解除订阅后不应再有投递")
}

func TestPatch_PreservesSiblingFields(t *testing.T) {
	st := memorystate.New()
	ctx := context.Background()
	require.NoError(t, st.Write(ctx, "playback", map[string]any{
		"currentVideo": "aaaaaaaaaaa",
		"isPlaying":    true,
		"currentTime":  10.0,
	}))

	// Act: 只更新其中一个字段
	require.NoError(t, st.Patch(ctx, "playback", map[string]any{"currentTime": 55.0}))

	// Assert: 兄弟字段原样保留
	snap, err := st.Read(ctx, "playback")
	require.NoError(t, err)
	assert.JSONEq(t, `"aaaaaaaaaaa"`, string(snap["currentVideo"]))
	assert.JSONEq(t, "true", string(snap["isPlaying"]))
	assert.JSONEq(t, "55", string(snap["currentTime"]))
}

func TestAppend_KeysAreChronologicallyOrdered(t *testing.T) {
	st := memorystate.New()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		k, err := st.Append(ctx, "queue", map[string]any{"n": i})
		require.NoError(t, err)
		keys = append(keys, k)
	}

	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "后插入的 key 字典序必须更大")
	}
}

func TestReadField_AbsentReturnsSentinel(t *testing.T) {
	st := memorystate.New()
	_, err := st.ReadField(context.Background(), "rooms", "ZZZZZZ")
	assert.ErrorIs(t, err, store.ErrAbsent)
}

func TestDeleteTree_RemovesWholeSubtree(t *testing.T) {
	st := memorystate.New()
	ctx := context.Background()
	require.NoError(t, st.SetField(ctx, "rooms/AAAAAA/members", "u1", map[string]any{"name": "a"}))
	require.NoError(t, st.SetField(ctx, "rooms/AAAAAA/chat", "m1", map[string]any{"text": "hi"}))
	require.NoError(t, st.SetField(ctx, "rooms/BBBBBB/members", "u2", map[string]any{"name": "b"}))

	require.NoError(t, st.DeleteTree(ctx, "rooms/AAAAAA"))

	snap, _ := st.Read(ctx, "rooms/AAAAAA/members")
	assert.Empty(t, snap)
	snap, _ = st.Read(ctx, "rooms/AAAAAA/chat")
	assert.Empty(t, snap)
	// 其他房间不受影响
	snap, _ = st.Read(ctx, "rooms/BBBBBB/members")
	assert.Len(t, snap, 1)
}

func TestClose_RunsDisconnectDeletes(t *testing.T) {
	// Arrange: 注册断线删除后优雅关闭
	st := memorystate.New()
	ctx := context.Background()
	require.NoError(t, st.SetField(ctx, "members", "u1", map[string]any{"name": "a"}))
	require.NoError(t, st.OnDisconnectDelete("members", "u1"))

	// Act
	require.NoError(t, st.Close())

	// Assert: 成员记录已被删除
	_, err := st.ReadField(ctx, "members", "u1")
	assert.ErrorIs(t, err, store.ErrAbsent)
}

func TestSweepDisconnected_CleansCrashedClient(t *testing.T) {
	// Arrange: 客户端崩溃，断线删除没机会执行
	st := memorystate.New()
	ctx := context.Background()
	require.NoError(t, st.SetField(ctx, "members", "u1", map[string]any{"name": "a"}))
	require.NoError(t, st.OnDisconnectDelete("members", "u1"))
	st.SimulateCrash()

	// 崩溃后记录还在（幽灵成员）
	_, err := st.ReadField(ctx, "members", "u1")
	require.NoError(t, err)

	// Act: 后台清扫
	n, err := st.SweepDisconnected(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Assert: 幽灵成员被清掉
	_, err = st.ReadField(ctx, "members", "u1")
	assert.ErrorIs(t, err, store.ErrAbsent)
}

func TestSetConnected_NotifiesOnTransitions(t *testing.T) {
	st := memorystate.New()

	var seen []bool
	sub := st.SubscribeConnectivity(func(up bool) { seen = append(seen, up) })
	defer sub.Unsubscribe()

	// 订阅时先收到当前状态
	require.Equal(t, []bool{true}, seen)

	st.SetConnected(false)
	st.SetConnected(false) // 重复设置不翻转，不应重复投递
	st.SetConnected(true)

	assert.Equal(t, []bool{true, false, true}, seen)
}
