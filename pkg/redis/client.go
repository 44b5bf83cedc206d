package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const dialTimeout = 5 * time.Second

// Client 歌词缓存和会话快照共用的 Redis 连接
type Client struct {
	rdb *redis.Client
}

// NewClient 连接失败时返回错误，调用方据此退回到无 Redis 模式
func NewClient(addr string, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// SetWithExpiration expiration 为 0 时不过期
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.rdb.Set(ctx, key, value, expiration).Err()
}

// Get 缺失的键返回 "" 而不是 redis.Nil
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	result, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

// GetBytes 缺失的键返回 nil
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	result, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return result, err
}

// Touch 重置键的过期时间，键不存在时返回 false
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return c.rdb.Persist(ctx, key).Result()
	}
	return c.rdb.Expire(ctx, key, ttl).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
