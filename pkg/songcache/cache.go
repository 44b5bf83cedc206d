package songcache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	kvFormat    = "%s => %s\n"
	kvSeparator = " => "
)

// ErrNotFound 缓存中没有该键
var ErrNotFound = errors.New("not found")

// Cache 媒体标题到歌曲信息的持久化映射，避免重复调用AI解析同一个标题。
// 文件每行一条 "key => value"，只追加不改写
type Cache struct {
	path    string
	entries sync.Map
	fileMu  sync.Mutex
}

// Open 打开（必要时创建）缓存文件并载入已有条目
func Open(path string) (*Cache, error) {
	c := &Cache{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), kvSeparator, 2)
		if len(kv) != 2 {
			continue
		}
		c.entries.Store(kv[0], kv[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cache file %s: %w", path, err)
	}

	return c, nil
}

// Add 添加条目。已存在的键不会被覆盖
func (c *Cache) Add(key, value string) error {
	key = sanitize(key)
	value = sanitize(value)
	if _, loaded := c.entries.LoadOrStore(key, value); loaded {
		return nil
	}

	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open cache file %s: %w", c.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, kvFormat, key, value); err != nil {
		return fmt.Errorf("failed to append to cache file %s: %w", c.path, err)
	}
	return nil
}

// Get 获取条目
func (c *Cache) Get(key string) (string, error) {
	v, ok := c.entries.Load(sanitize(key))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

// sanitize 去掉换行和分隔符，保证一行一条
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(strings.TrimSpace(s), kvSeparator, " -> ")
}
