package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnknownSession 会话既不在内存中也没有快照
var ErrUnknownSession = errors.New("unknown session")

// Registry 按 ID 管理所有活动会话
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    Store
	opts     Options
}

func NewRegistry(store Store, opts Options) *Registry {
	if store == nil {
		store = NopStore{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		opts:     opts,
	}
}

// Open 创建新会话
func (r *Registry) Open() *Session {
	s := newSession(uuid.NewString(), r.opts)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	log.Info().Str("session_id", s.id).Msg("Session opened")
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Attach 把接收者挂到会话上，不在内存中时从存储恢复。
// 查找和订阅在同一把锁内完成，不会挂到正在被 Release 关闭的会话上
func (r *Registry) Attach(ctx context.Context, id, subscriberID string, sink Sink) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, ErrUnknownSession)
	}
	if s, ok := r.subscribe(id, subscriberID, sink); ok {
		return s, nil
	}

	snap, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return nil, fmt.Errorf("%s: %w", id, ErrUnknownSession)
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 并发恢复同一个会话时以先到者为准
	s, ok := r.sessions[id]
	if !ok {
		s = restore(snap, r.opts)
		r.sessions[id] = s
		log.Info().Str("session_id", id).Int("lines", len(snap.Lyrics)).Msg("Session restored")
	}
	s.Subscribe(subscriberID, sink)
	return s, nil
}

func (r *Registry) subscribe(id, subscriberID string, sink Sink) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.Subscribe(subscriberID, sink)
	}
	return s, ok
}

// Save 保存会话快照
func (r *Registry) Save(ctx context.Context, s *Session) error {
	return r.persist(ctx, s.Snapshot())
}

// Release 移除接收者，没有剩余接收者时关闭会话并保存快照
func (r *Registry) Release(ctx context.Context, s *Session, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Unsubscribe(subscriberID) > 0 {
		return nil
	}
	if r.sessions[s.id] != s {
		return nil
	}
	return r.closeLocked(ctx, s)
}

// Close 无论是否还有接收者都关闭会话，用于退出
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return r.closeLocked(ctx, s)
}

// closeLocked 快照在锁内保存，随后的 Attach 读到的一定是最新状态
func (r *Registry) closeLocked(ctx context.Context, s *Session) error {
	delete(r.sessions, s.id)
	s.Close()
	log.Info().Str("session_id", s.id).Msg("Session closed")
	return r.persist(ctx, s.Snapshot())
}

// persist 没有歌词的会话不值得恢复，不写入存储
func (r *Registry) persist(ctx context.Context, snap Snapshot) error {
	if len(snap.Lyrics) == 0 {
		return nil
	}
	return r.store.Save(ctx, snap)
}

// CloseAll 关闭所有会话
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Failed to save session")
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
