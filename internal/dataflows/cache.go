package dataflows

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache stores JSON values on disk for a fixed time to live.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

func NewCache(dir string, ttl time.Duration, enabled bool) *Cache {
	return &Cache{dir: dir, ttl: ttl, enabled: enabled && dir != "", now: time.Now}
}

func (c *Cache) path(namespace, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", namespace, hex.EncodeToString(sum[:8])))
}

// Get loads a fresh entry into v. Expired entries are removed.
func (c *Cache) Get(namespace, key string, v any) bool {
	if c == nil || !c.enabled {
		return false
	}
	p := c.path(namespace, key)
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	if c.now().Sub(info.ModTime()) > c.ttl {
		_ = os.Remove(p)
		return false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *Cache) Set(namespace, key string, v any) error {
	if c == nil || !c.enabled {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(namespace, key), data, 0o644)
}
