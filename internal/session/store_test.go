package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memKV 内存实现的 KV
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
	err  error

	touched []string
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (m *memKV) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value.([]byte)
	m.ttl[key] = expiration
	return nil
}

func (m *memKV) GetBytes(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func (m *memKV) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return false, nil
	}
	m.touched = append(m.touched, key)
	m.ttl[key] = ttl
	return true, nil
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewRedisStore(kv, 24*time.Hour)

	snap := Snapshot{
		ID:           "abc",
		Lyrics:       []string{"a", "b"},
		Index:        1,
		LineDuration: 4,
		FontScale:    1,
		Song:         Song{Title: "t", Artist: "a"},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if kv.ttl[storeKeyPrefix+"abc"] != 24*time.Hour {
		t.Errorf("unexpected ttl %v", kv.ttl[storeKeyPrefix+"abc"])
	}

	got, err := store.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Index != 1 || len(got.Lyrics) != 2 || got.Song.Title != "t" {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if len(kv.touched) != 1 || kv.touched[0] != storeKeyPrefix+"abc" {
		t.Errorf("loading should refresh the TTL, touched %v", kv.touched)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}

	kv.data[storeKeyPrefix+"broken"] = []byte("{")
	if _, err := store.Load(ctx, "broken"); err == nil || errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected decode error, got %v", err)
	}

	kv.err = errors.New("connection refused")
	if err := store.Save(ctx, snap); err == nil {
		t.Error("expected save error")
	}
}

func TestRestoreIgnoresOutOfRangeIndex(t *testing.T) {
	s := restore(Snapshot{ID: "x", Lyrics: []string{"a"}, Index: 7}, Options{})
	st := s.State()
	if st.Index != 0 || st.Playing || st.LineDuration != 4*time.Second {
		t.Errorf("unexpected restored state %+v", st)
	}
}
