// Package localcache 提供文件后端的本地会话缓存（store.SessionCache 实现）。
// 对应原型里的 localStorage：一个扁平 JSON 文件，带绝对过期时间。
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vijayakanth06/watchtogether-vk/internal/domain"
)

// FileCache 把最近一次会话存为单个 JSON 文件。
type FileCache struct {
	path string
	log  *logrus.Entry
}

// DefaultPath 返回用户缓存目录下的默认文件位置。
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("localcache: resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "watchtogether", "session.json"), nil
}

// NewFileCache 创建文件缓存；目录按需创建。
func NewFileCache(path string, logger *logrus.Logger) (*FileCache, error) {
	if path == "" {
		return nil, errors.New("localcache: path cannot be empty")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("localcache: create cache dir: %w", err)
	}
	return &FileCache{path: path, log: logger.WithField("component", "session_cache")}, nil
}

// Save 覆盖写入缓存的会话。
func (c *FileCache) Save(session domain.SavedSession) error {
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("localcache: marshal session: %w", err)
	}
	if err := os.WriteFile(c.path, b, 0o600); err != nil {
		return fmt.Errorf("localcache: write session: %w", err)
	}
	return nil
}

// Load 读取缓存的会话。过期或畸形条目静默丢弃并顺手从磁盘移除。
func (c *FileCache) Load(now time.Time) (domain.SavedSession, bool, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.SavedSession{}, false, nil
		}
		return domain.SavedSession{}, false, fmt.Errorf("localcache: read session: %w", err)
	}

	var s domain.SavedSession
	if err := json.Unmarshal(b, &s); err != nil || !s.Valid() {
		c.log.Debug("Discarding malformed cached session")
		_ = c.Clear()
		return domain.SavedSession{}, false, nil
	}
	if s.Expired(now) {
		c.log.Debug("Discarding expired cached session")
		_ = c.Clear()
		return domain.SavedSession{}, false, nil
	}
	return s, true, nil
}

// Clear 删除缓存文件；不存在不算错误。
func (c *FileCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localcache: clear session: %w", err)
	}
	return nil
}
