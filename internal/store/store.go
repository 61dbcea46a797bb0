// Package store 定义同步介质的抽象契约：一棵路径寻址、可订阅的共享键值树。
// 核心只依赖这里的接口；Redis 实现在 infra/state/redis，
// 进程内实现（测试用）在 infra/state/memory。
package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Snapshot 是一个节点的完整当前值：key 到原始 JSON 的映射。
// 对集合节点，key 是子条目 key；对记录节点，key 是字段名。
// 订阅回调每次拿到的都是完整快照，而不是逐条增量。
type Snapshot map[string]json.RawMessage

// Handler 是节点订阅回调。订阅建立时立即用当前快照调用一次，
// 之后节点每次变更再调用。实现方必须吞掉回调内的 panic 并继续投递，
// 回调抛出不允许悄悄断开监听。
type Handler func(Snapshot)

// Store 是路径寻址的共享树。路径形如 "rooms/ABC123/queue"。
// 单个节点的写入是原子的：读者看不到半成品；Patch 只改给定字段，
// 兄弟字段必须原样保留。
type Store interface {
	// Read 返回节点的完整当前值；节点不存在时返回空 Snapshot。
	Read(ctx context.Context, path string) (Snapshot, error)

	// ReadField 读取节点下单个 key 的值；不存在返回 ErrAbsent。
	ReadField(ctx context.Context, path string, field string) (json.RawMessage, error)

	// Write 整体替换节点内容。
	Write(ctx context.Context, path string, fields map[string]any) error

	// Patch 把给定字段合并进节点，未提及的字段保持不变。
	Patch(ctx context.Context, path string, fields map[string]any) error

	// SetField 整体替换节点下单个 key 的值（value 会被序列化为 JSON）。
	SetField(ctx context.Context, path string, field string, value any) error

	// DeleteField 删除节点下单个 key。key 不存在不算错误。
	DeleteField(ctx context.Context, path string, field string) error

	// Append 以新生成的唯一 key 插入一个子条目并返回该 key。
	// key 生成保证时间有序：后插入的 key 字典序更大。
	Append(ctx context.Context, path string, value any) (string, error)

	// Delete 删除整个节点。
	Delete(ctx context.Context, path string) error

	// DeleteTree 删除前缀下的整棵子树（房间级联清理用）。
	DeleteTree(ctx context.Context, prefix string) error

	// Subscribe 订阅一个节点。回调先收到当前快照，之后每次变更再收到
	// 新的完整快照。返回的句柄用于确定性解除订阅。
	Subscribe(path string, h Handler) (*Subscription, error)

	// SubscribeConnectivity 订阅本客户端的连接存活信号。
	// 回调先收到当前状态，之后在连接断开/恢复的每次翻转时收到新值。
	SubscribeConnectivity(h func(connected bool)) *Subscription

	// OnDisconnectDelete 注册"本客户端连接丢失时删除 path 下的 field"。
	// 这是一次性触发器，绑定当前连接的存活期；重连后必须重新注册。
	OnDisconnectDelete(path string, field string) error

	// Close 优雅关闭：执行所有已注册的断线删除并释放连接。
	Close() error
}

// DisconnectSweeper 是存储实现的可选能力：清理那些心跳已经消失的
// 客户端留下的断线删除注册。后台 reaper 通过类型断言使用它。
type DisconnectSweeper interface {
	// SweepDisconnected 执行所有已死亡客户端的断线删除，返回清理的客户端数。
	SweepDisconnected(ctx context.Context) (int, error)
}

// Subscription 是一次订阅的句柄，由会话的 teardown 注册表统一持有并
// 在会话结束时确定性释放。
type Subscription struct {
	stop func()
	once sync.Once
}

// NewSubscription 用给定的停止函数构造订阅句柄。
func NewSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop}
}

// Unsubscribe 解除订阅。幂等：第二次调用是空操作。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
