package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"singalong/internal/playback"

	"github.com/rs/zerolog/log"
)

const storeKeyPrefix = "singalong:session:"

// ErrNoSnapshot 没有保存过该会话
var ErrNoSnapshot = errors.New("session snapshot not found")

// Snapshot 可以恢复的会话内容。恢复后的会话总是暂停的
type Snapshot struct {
	ID           string    `json:"id"`
	Lyrics       []string  `json:"lyrics"`
	Index        int       `json:"index"`
	LineDuration float64   `json:"line_duration"`
	FontScale    float64   `json:"font_scale"`
	Song         Song      `json:"song"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store 会话快照存储
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, error)
}

// KV RedisStore 需要的 Redis 操作
type KV interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisStore 把快照以 JSON 存入 Redis
type RedisStore struct {
	kv  KV
	ttl time.Duration
}

func NewRedisStore(kv KV, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: kv, ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := r.kv.SetWithExpiration(ctx, storeKeyPrefix+snap.ID, data, r.ttl); err != nil {
		return fmt.Errorf("failed to save session %s: %w", snap.ID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (Snapshot, error) {
	data, err := r.kv.GetBytes(ctx, storeKeyPrefix+id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if data == nil {
		return Snapshot{}, ErrNoSnapshot
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	// 重新连接的会话续期
	if _, err := r.kv.Touch(ctx, storeKeyPrefix+id, r.ttl); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("Failed to refresh snapshot TTL")
	}
	return snap, nil
}

// NopStore Redis 不可用时使用，不保存任何内容
type NopStore struct{}

func (NopStore) Save(ctx context.Context, snap Snapshot) error { return nil }

func (NopStore) Load(ctx context.Context, id string) (Snapshot, error) {
	return Snapshot{}, ErrNoSnapshot
}

// Snapshot 当前会话的快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:           s.id,
		Lyrics:       append([]string(nil), s.state.Lyrics...),
		Index:        s.state.Index,
		LineDuration: s.state.LineDuration.Seconds(),
		FontScale:    s.fontScale,
		Song:         s.song,
		SavedAt:      s.now(),
	}
}

// restore 从快照重建会话，保持暂停且未计时
func restore(snap Snapshot, opts Options) *Session {
	opts.LineDuration = time.Duration(snap.LineDuration * float64(time.Second))
	if snap.FontScale > 0 {
		opts.FontScale = snap.FontScale
	}
	s := newSession(snap.ID, opts)
	if len(snap.Lyrics) > 0 {
		s.state.Lyrics = playback.LyricSet(snap.Lyrics)
		s.state = s.state.GoToLine(snap.Index)
	}
	s.song = snap.Song
	return s
}
