// Package redisstate 是 store.Store 的 Redis 实现。
//
// 映射规则：树上的每个路径对应一个 Redis hash，
// key = prefix + path（"/" 换成 ":"）。集合节点的 hash field 是子条目
// key（单调 ULID），记录节点的 hash field 是字段名；value 一律是 JSON。
// 每次变更之后向该路径的 pub/sub 频道发布一条通知，订阅方收到后
// 重新读取完整节点——正好是契约要求的全量快照语义。
package redisstate

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// Options 控制 key 前缀和断线检测的节奏。
type Options struct {
	KeyPrefix         string        // Redis key 前缀，默认 "wt:"
	ClientID          string        // 本客户端标识，断线注册表以它为 key
	HeartbeatInterval time.Duration // 心跳刷新间隔，默认 5s
	HeartbeatTTL      time.Duration // 心跳 key 的 TTL，默认 30s
}

// Client 实现 store.Store 和 store.DisconnectSweeper。
type Client struct {
	rdb    *redis.Client
	prefix string
	log    *logrus.Entry

	clientID string
	hbEvery  time.Duration
	hbTTL    time.Duration

	// 单调 ULID 生成器，保证同进程内 Append 的 key 严格递增
	ulidMu      sync.Mutex
	ulidEntropy *ulid.MonotonicEntropy

	// 断线删除注册表（本地镜像，Close 时执行）
	discMu   sync.Mutex
	discRegs map[string]discTarget

	// 连接存活信号
	connMu        sync.Mutex
	connected     bool
	connSubs      map[int]func(bool)
	connSubNextID int

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type discTarget struct {
	Path  string `json:"path"`
	Field string `json:"field"`
}

// New 创建 Redis 存储客户端并启动心跳/存活检测循环。
func New(rdb *redis.Client, opts Options, logger *logrus.Logger) *Client {
	if rdb == nil {
		panic("redis client cannot be nil for redisstate.Client")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "wt:"
	}
	if opts.ClientID == "" {
		panic("client id cannot be empty for redisstate.Client")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 30 * time.Second
	}

	c := &Client{
		rdb:         rdb,
		prefix:      opts.KeyPrefix,
		log:         logger.WithField("component", "redis_store"),
		clientID:    opts.ClientID,
		hbEvery:     opts.HeartbeatInterval,
		hbTTL:       opts.HeartbeatTTL,
		ulidEntropy: ulid.Monotonic(rand.Reader, 0),
		discRegs:    make(map[string]discTarget),
		connSubs:    make(map[int]func(bool)),
		// 初始视为在线：构造方已经 Ping 过
		connected: true,
		closed:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.heartbeatLoop()
	return c
}

// --- key/channel 映射 ---

func (c *Client) key(path string) string {
	return c.prefix + strings.ReplaceAll(path, "/", ":")
}

func (c *Client) pathOf(key string) string {
	return strings.ReplaceAll(strings.TrimPrefix(key, c.prefix), ":", "/")
}

func (c *Client) channel(path string) string {
	return c.prefix + "ch:" + path
}

func (c *Client) aliveKey(clientID string) string {
	return c.prefix + "alive:" + clientID
}

func (c *Client) discKey(clientID string) string {
	return c.prefix + "disc:" + clientID
}

// notify 在变更之后发布节点路径，唤醒该节点的所有订阅者。
// 发布失败只记日志：订阅方下一次通知到来时会重读到最新值。
func (c *Client) notify(ctx context.Context, path string) {
	if err := c.rdb.Publish(ctx, c.channel(path), path).Err(); err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Publish change notification failed")
	}
}

func marshalFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("redis store: marshal field %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

// --- store.Store ---

// Read 返回节点的完整当前值；节点不存在时返回空快照。
func (c *Client) Read(ctx context.Context, path string) (store.Snapshot, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: read %s: %w", path, err)
	}
	snap := make(store.Snapshot, len(m))
	for k, v := range m {
		snap[k] = json.RawMessage(v)
	}
	return snap, nil
}

func (c *Client) ReadField(ctx context.Context, path, field string) (json.RawMessage, error) {
	v, err := c.rdb.HGet(ctx, c.key(path), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrAbsent
		}
		return nil, fmt.Errorf("redis store: read %s/%s: %w", path, field, err)
	}
	return json.RawMessage(v), nil
}

// Write 整体替换：pipeline 里先 DEL 再 HSET，读者看不到中间态之外的
// 组合（Redis 按序执行同一连接上的命令，单个 HSET 本身是原子的）。
func (c *Client) Write(ctx context.Context, path string, fields map[string]any) error {
	enc, err := marshalFields(fields)
	if err != nil {
		return err
	}
	key := c.key(path)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(enc) > 0 {
		pipe.HSet(ctx, key, enc)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: write %s: %w", path, err)
	}
	c.notify(ctx, path)
	return nil
}

// Patch 只写给定字段，兄弟字段由 HSET 的字段粒度天然保留。
func (c *Client) Patch(ctx context.Context, path string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	enc, err := marshalFields(fields)
	if err != nil {
		return err
	}
	if err := c.rdb.HSet(ctx, c.key(path), enc).Err(); err != nil {
		return fmt.Errorf("redis store: patch %s: %w", path, err)
	}
	c.notify(ctx, path)
	return nil
}

func (c *Client) SetField(ctx context.Context, path, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis store: marshal %s/%s: %w", path, field, err)
	}
	if err := c.rdb.HSet(ctx, c.key(path), field, string(b)).Err(); err != nil {
		return fmt.Errorf("redis store: set %s/%s: %w", path, field, err)
	}
	c.notify(ctx, path)
	return nil
}

func (c *Client) DeleteField(ctx context.Context, path, field string) error {
	if err := c.rdb.HDel(ctx, c.key(path), field).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s/%s: %w", path, field, err)
	}
	c.notify(ctx, path)
	return nil
}

// Append 用单调 ULID 作为新子条目的 key：时间有序，字典序即到达顺序。
func (c *Client) Append(ctx context.Context, path string, value any) (string, error) {
	id := c.nextULID()
	if err := c.SetField(ctx, path, id, value); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) nextULID() string {
	c.ulidMu.Lock()
	defer c.ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.ulidEntropy).String()
}

func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.rdb.Del(ctx, c.key(path)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", path, err)
	}
	c.notify(ctx, path)
	return nil
}

// DeleteTree 扫描并删除前缀下的所有节点，每个被删节点都发通知，
// 让仍在订阅的客户端立即观察到清空后的快照。
func (c *Client) DeleteTree(ctx context.Context, prefix string) error {
	pattern := c.key(prefix) + ":*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis store: scan %s: %w", prefix, err)
		}
		for _, k := range keys {
			if err := c.rdb.Del(ctx, k).Err(); err != nil {
				return fmt.Errorf("redis store: delete tree %s: %w", prefix, err)
			}
			c.notify(ctx, c.pathOf(k))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	// 前缀本身也可能是一个节点
	return c.Delete(ctx, prefix)
}

// Subscribe 先投递一次当前快照，之后每收到该路径的变更通知就重读整个
// 节点并再次投递。回调内的 panic 被吞掉并记日志，监听继续。
func (c *Client) Subscribe(path string, h Handler) (*store.Subscription, error) {
	if h == nil {
		return nil, errors.New("redis store: subscribe handler cannot be nil")
	}
	ctx := context.Background()
	pubsub := c.rdb.Subscribe(ctx, c.channel(path))
	// 确认订阅已生效，避免初始快照和首批通知之间丢变更
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis store: subscribe %s: %w", path, err)
	}

	logCtx := c.log.WithField("path", path)
	go func() {
		c.deliver(path, h, logCtx)
		for range pubsub.Channel() {
			c.deliver(path, h, logCtx)
		}
		logCtx.Debug("Subscription loop exited")
	}()

	return store.NewSubscription(func() {
		if err := pubsub.Close(); err != nil {
			logCtx.WithError(err).Warn("Closing pubsub failed")
		}
	}), nil
}

// Handler 别名，避免调用方多一个 import。
type Handler = store.Handler

func (c *Client) deliver(path string, h Handler, logCtx *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			logCtx.Errorf("Subscription handler panicked: %v", r)
		}
	}()
	snap, err := c.Read(context.Background(), path)
	if err != nil {
		// 记录并继续监听，下一次通知会重试读取
		logCtx.WithError(err).Error("Failed to read node for subscription delivery")
		return
	}
	h(snap)
}

// Close 优雅关闭：执行所有断线删除、清掉注册表和心跳 key、停掉后台循环。
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.runDisconnectDeletes(ctx)
		if err := c.rdb.Del(ctx, c.discKey(c.clientID), c.aliveKey(c.clientID)).Err(); err != nil {
			c.log.WithError(err).Warn("Failed to remove disconnect registry on close")
		}
	})
	c.wg.Wait()
	return nil
}
