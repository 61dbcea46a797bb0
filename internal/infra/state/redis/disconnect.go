package redisstate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vijayakanth06/watchtogether-vk/internal/store"
)

// 断线清理的实现方式：每个客户端把自己的断线删除注册镜像到
// disc:{clientID}，同时用带 TTL 的 alive:{clientID} 心跳 key 证明自己
// 还活着。优雅关闭时本地直接执行删除；崩溃/断网的客户端心跳过期后，
// 由后台 reaper 调 SweepDisconnected 代为执行。
// 心跳写入本身兼做连接存活探测：写失败即视为断线。

// heartbeatLoop 周期刷新心跳 key 并驱动连接存活信号的翻转。
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.hbEvery)
	defer ticker.Stop()

	c.beat()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.beat()
		}
	}
}

func (c *Client) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), c.hbEvery)
	defer cancel()
	err := c.rdb.Set(ctx, c.aliveKey(c.clientID), "1", c.hbTTL).Err()
	c.setConnected(err == nil)
	if err != nil {
		c.log.WithError(err).Warn("Heartbeat write failed, connection considered down")
	}
}

// setConnected 在状态翻转时通知所有连接信号订阅者。
func (c *Client) setConnected(up bool) {
	c.connMu.Lock()
	changed := c.connected != up
	c.connected = up
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(c.connSubs))
		for _, fn := range c.connSubs {
			subs = append(subs, fn)
		}
	}
	c.connMu.Unlock()

	if changed {
		c.log.WithField("connected", up).Info("Connectivity transition")
		for _, fn := range subs {
			c.safeConnNotify(fn, up)
		}
	}
}

func (c *Client) safeConnNotify(fn func(bool), up bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("Connectivity handler panicked: %v", r)
		}
	}()
	fn(up)
}

// SubscribeConnectivity 订阅连接存活信号；回调立即收到当前状态。
func (c *Client) SubscribeConnectivity(h func(connected bool)) *store.Subscription {
	c.connMu.Lock()
	id := c.connSubNextID
	c.connSubNextID++
	c.connSubs[id] = h
	current := c.connected
	c.connMu.Unlock()

	c.safeConnNotify(h, current)

	return store.NewSubscription(func() {
		c.connMu.Lock()
		delete(c.connSubs, id)
		c.connMu.Unlock()
	})
}

// OnDisconnectDelete 注册断线删除：本地记一份（Close 时执行），
// 同时镜像到 Redis 注册表（崩溃时由 reaper 执行）。
// 一次性触发器：重连后由上层在连接恢复的翻转里重新注册，重复注册幂等。
func (c *Client) OnDisconnectDelete(path, field string) error {
	t := discTarget{Path: path, Field: field}

	c.discMu.Lock()
	c.discRegs[path+"\x00"+field] = t
	c.discMu.Unlock()

	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.rdb.HSet(ctx, c.discKey(c.clientID), path+"\x00"+field, string(b)).Err(); err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Failed to mirror disconnect registration")
		return err
	}
	return nil
}

// runDisconnectDeletes 执行本地注册表里的全部删除（优雅关闭路径）。
func (c *Client) runDisconnectDeletes(ctx context.Context) {
	c.discMu.Lock()
	regs := make([]discTarget, 0, len(c.discRegs))
	for _, t := range c.discRegs {
		regs = append(regs, t)
	}
	c.discRegs = make(map[string]discTarget)
	c.discMu.Unlock()

	for _, t := range regs {
		if err := c.DeleteField(ctx, t.Path, t.Field); err != nil {
			c.log.WithError(err).WithField("path", t.Path).Warn("Disconnect delete failed on close")
		}
	}
}

// SweepDisconnected 实现 store.DisconnectSweeper：找出心跳已消失的
// 客户端，代为执行它们注册的断线删除并清掉注册表。
func (c *Client) SweepDisconnected(ctx context.Context) (int, error) {
	pattern := c.prefix + "disc:*"
	swept := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return swept, err
		}
		for _, regKey := range keys {
			clientID := strings.TrimPrefix(regKey, c.prefix+"disc:")
			alive, err := c.rdb.Exists(ctx, c.aliveKey(clientID)).Result()
			if err != nil {
				c.log.WithError(err).WithField("client_id", clientID).Warn("Sweep: liveness check failed")
				continue
			}
			if alive > 0 {
				continue
			}
			entries, err := c.rdb.HGetAll(ctx, regKey).Result()
			if err != nil {
				c.log.WithError(err).WithField("client_id", clientID).Warn("Sweep: failed to read disconnect registry")
				continue
			}
			for _, raw := range entries {
				var t discTarget
				if err := json.Unmarshal([]byte(raw), &t); err != nil {
					continue
				}
				if err := c.DeleteField(ctx, t.Path, t.Field); err != nil {
					c.log.WithError(err).WithField("path", t.Path).Warn("Sweep: disconnect delete failed")
				}
			}
			if err := c.rdb.Del(ctx, regKey).Err(); err != nil {
				c.log.WithError(err).WithField("client_id", clientID).Warn("Sweep: failed to drop registry")
				continue
			}
			swept++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return swept, nil
}
