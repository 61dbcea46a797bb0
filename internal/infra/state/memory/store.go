// Package memorystate 是 store.Store 的进程内实现。
// 语义与 Redis 实现一致（全量快照订阅、字段粒度 patch、ULID 追加 key、
// 断线删除注册），外加两个测试钩子用来模拟连接断开/恢复。
// 服务层测试全部跑在它上面。
package memorystate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// Store 实现 store.Store 和 store.DisconnectSweeper。
type Store struct {
	mu    sync.Mutex
	nodes map[string]map[string]string // path -> field -> JSON

	subs      map[string]map[int]store.Handler
	subNextID int

	connSubs  map[int]func(bool)
	connected bool

	discRegs map[string]discReg
	// 模拟"已崩溃客户端"的注册，等待 SweepDisconnected 清理
	orphaned []discReg

	mutations map[string]int

	ulidEntropy *ulid.MonotonicEntropy
}

type discReg struct {
	path  string
	field string
}

// New 创建空的内存存储。
func New() *Store {
	return &Store{
		nodes:       make(map[string]map[string]string),
		subs:        make(map[string]map[int]store.Handler),
		connSubs:    make(map[int]func(bool)),
		connected:   true,
		discRegs:    make(map[string]discReg),
		mutations:   make(map[string]int),
		ulidEntropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *Store) snapshotLocked(path string) store.Snapshot {
	snap := make(store.Snapshot)
	for k, v := range s.nodes[path] {
		snap[k] = json.RawMessage(v)
	}
	return snap
}

// notifyLocked 收集订阅者和快照，调用方负责在解锁后投递。
func (s *Store) notifyLocked(path string) (handlers []store.Handler, snap store.Snapshot) {
	s.mutations[path]++
	for _, h := range s.subs[path] {
		handlers = append(handlers, h)
	}
	if len(handlers) > 0 {
		snap = s.snapshotLocked(path)
	}
	return handlers, snap
}

func deliver(handlers []store.Handler, snap store.Snapshot) {
	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(snap)
		}()
	}
}

func (s *Store) Read(_ context.Context, path string) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

func (s *Store) ReadField(_ context.Context, path, field string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodes[path][field]
	if !ok {
		return nil, store.ErrAbsent
	}
	return json.RawMessage(v), nil
}

func (s *Store) Write(_ context.Context, path string, fields map[string]any) error {
	enc, err := encode(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nodes[path] = enc
	handlers, snap := s.notifyLocked(path)
	s.mu.Unlock()
	deliver(handlers, snap)
	return nil
}

func (s *Store) Patch(_ context.Context, path string, fields map[string]any) error {
	enc, err := encode(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.nodes[path] == nil {
		s.nodes[path] = make(map[string]string)
	}
	for k, v := range enc {
		s.nodes[path][k] = v
	}
	handlers, snap := s.notifyLocked(path)
	s.mu.Unlock()
	deliver(handlers, snap)
	return nil
}

func (s *Store) SetField(_ context.Context, path, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.nodes[path] == nil {
		s.nodes[path] = make(map[string]string)
	}
	s.nodes[path][field] = string(b)
	handlers, snap := s.notifyLocked(path)
	s.mu.Unlock()
	deliver(handlers, snap)
	return nil
}

func (s *Store) DeleteField(_ context.Context, path, field string) error {
	s.mu.Lock()
	delete(s.nodes[path], field)
	handlers, snap := s.notifyLocked(path)
	s.mu.Unlock()
	deliver(handlers, snap)
	return nil
}

func (s *Store) Append(_ context.Context, path string, value any) (string, error) {
	s.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.ulidEntropy).String()
	s.mu.Unlock()
	if err := s.SetField(context.Background(), path, id, value); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.nodes, path)
	handlers, snap := s.notifyLocked(path)
	s.mu.Unlock()
	deliver(handlers, snap)
	return nil
}

func (s *Store) DeleteTree(ctx context.Context, prefix string) error {
	s.mu.Lock()
	var doomed []string
	for path := range s.nodes {
		if path == prefix || (len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/") {
			doomed = append(doomed, path)
		}
	}
	s.mu.Unlock()
	for _, path := range doomed {
		if err := s.Delete(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 同步投递当前快照，之后每次该路径变更时再投递。
func (s *Store) Subscribe(path string, h store.Handler) (*store.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("memory store: subscribe handler cannot be nil")
	}
	s.mu.Lock()
	id := s.subNextID
	s.subNextID++
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]store.Handler)
	}
	s.subs[path][id] = h
	snap := s.snapshotLocked(path)
	s.mu.Unlock()

	deliver([]store.Handler{h}, snap)

	return store.NewSubscription(func() {
		s.mu.Lock()
		delete(s.subs[path], id)
		s.mu.Unlock()
	}), nil
}

func (s *Store) SubscribeConnectivity(h func(connected bool)) *store.Subscription {
	s.mu.Lock()
	id := s.subNextID
	s.subNextID++
	s.connSubs[id] = h
	current := s.connected
	s.mu.Unlock()

	h(current)

	return store.NewSubscription(func() {
		s.mu.Lock()
		delete(s.connSubs, id)
		s.mu.Unlock()
	})
}

func (s *Store) OnDisconnectDelete(path, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discRegs[path+"\x00"+field] = discReg{path: path, field: field}
	return nil
}

// Close 执行已注册的断线删除（优雅关闭路径）。
func (s *Store) Close() error {
	s.runDisconnectDeletes()
	return nil
}

func (s *Store) runDisconnectDeletes() {
	s.mu.Lock()
	regs := make([]discReg, 0, len(s.discRegs))
	for _, r := range s.discRegs {
		regs = append(regs, r)
	}
	s.discRegs = make(map[string]discReg)
	s.mu.Unlock()
	for _, r := range regs {
		_ = s.DeleteField(context.Background(), r.path, r.field)
	}
}

// SweepDisconnected 清理"已崩溃客户端"留下的注册（见 Orphan 钩子）。
func (s *Store) SweepDisconnected(ctx context.Context) (int, error) {
	s.mu.Lock()
	orphans := s.orphaned
	s.orphaned = nil
	s.mu.Unlock()
	for _, r := range orphans {
		if err := s.DeleteField(ctx, r.path, r.field); err != nil {
			return 0, err
		}
	}
	if len(orphans) > 0 {
		return 1, nil
	}
	return 0, nil
}

// --- 测试钩子 ---

// SetConnected 模拟连接断开/恢复，触发连接存活信号的翻转。
func (s *Store) SetConnected(up bool) {
	s.mu.Lock()
	changed := s.connected != up
	s.connected = up
	var subs []func(bool)
	if changed {
		for _, fn := range s.connSubs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(up)
	}
}

// SimulateCrash 模拟客户端崩溃：已注册的断线删除不立即执行，
// 而是转成孤儿注册，等 SweepDisconnected 代为清理。
func (s *Store) SimulateCrash() {
	s.mu.Lock()
	for _, r := range s.discRegs {
		s.orphaned = append(s.orphaned, r)
	}
	s.discRegs = make(map[string]discReg)
	s.mu.Unlock()
}

// MutationCount 返回某路径被变更的次数（写节流测试用）。
func (s *Store) MutationCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations[path]
}

func encode(fields map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = string(b)
	}
	return out, nil
}
