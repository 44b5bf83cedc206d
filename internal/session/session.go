package session

import (
	"context"
	"sync"
	"time"

	"singalong/internal/playback"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Song 当前识别或选中的歌曲
type Song struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

// Frame 推送给客户端的一帧显示内容
type Frame struct {
	SessionID    string  `json:"session_id"`
	Previous     string  `json:"previous,omitempty"`
	Current      string  `json:"current"`
	Next         string  `json:"next,omitempty"`
	Line         int     `json:"line"`
	Total        int     `json:"total"`
	Elapsed      string  `json:"elapsed"`
	Duration     string  `json:"duration"`
	Playing      bool    `json:"playing"`
	FontScale    float64 `json:"font_scale"`
	LineDuration float64 `json:"line_duration"`
	Song         Song    `json:"song"`
}

// Sink 接收帧的回调，在会话锁内调用，不能回调会话
type Sink func(Frame)

// Options 会话参数
type Options struct {
	TickInterval time.Duration
	LineDuration time.Duration
	FontScale    float64
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	o.LineDuration = playback.ClampLineDuration(o.LineDuration)
	o.FontScale = playback.ClampFontScale(o.FontScale)
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session 持有一个播放状态，所有命令都在锁内用纯函数替换状态
type Session struct {
	id       string
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu          sync.Mutex
	state       playback.State
	fontScale   float64
	song        Song
	subscribers map[string]Sink
	lastFrame   Frame

	// 调度器控制
	schedulerCancel context.CancelFunc
	schedulerGen    uint64
	closed          bool
}

func newSession(id string, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:          id,
		interval:    opts.TickInterval,
		now:         opts.Now,
		logger:      log.With().Str("component", "session").Str("session_id", id).Logger(),
		state:       playback.NewState(opts.LineDuration),
		fontScale:   opts.FontScale,
		subscribers: make(map[string]Sink),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Subscribe 注册接收者并立即推送当前帧
func (s *Session) Subscribe(id string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = sink
	sink(s.frameLocked())
}

// Unsubscribe 移除接收者，返回剩余接收者数量
func (s *Session) Unsubscribe(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
	return len(s.subscribers)
}

// Frame 当前帧
func (s *Session) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// State 当前播放状态的副本
func (s *Session) State() playback.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Song() Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.song
}

// Load 加载歌词文本，失败时状态不变
func (s *Session) Load(raw string) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.state.Load(raw)
	if err != nil {
		return s.frameLocked(), err
	}
	s.state = next
	s.logger.Info().Int("lines", len(next.Lyrics)).Msg("Lyrics loaded")
	return s.emitLocked(), nil
}

// LoadSong 加载歌词并记录对应的歌曲
func (s *Session) LoadSong(raw string, song Song) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.state.Load(raw)
	if err != nil {
		return s.frameLocked(), err
	}
	s.state = next
	s.song = song
	s.logger.Info().Int("lines", len(next.Lyrics)).Str("title", song.Title).Str("artist", song.Artist).Msg("Song loaded")
	return s.emitLocked(), nil
}

// SetSong 只更新歌曲信息（例如选中视频但歌词尚未找到）
func (s *Session) SetSong(song Song) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.song = song
	return s.emitLocked()
}

// Start 从第一行开始播放并启动调度器
func (s *Session) Start() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.state.Start(s.now())
	s.startSchedulerLocked()
	return s.emitLocked()
}

func (s *Session) Pause() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.state.Pause()
	s.stopSchedulerLocked()
	return s.emitLocked()
}

func (s *Session) Stop() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.state.Stop()
	s.stopSchedulerLocked()
	return s.emitLocked()
}

// Reset 重新计时，不改变当前行
func (s *Session) Reset() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.state.Reset(s.now())
	return s.emitLocked()
}

func (s *Session) Next() Frame {
	return s.apply(playback.State.Next)
}

func (s *Session) Previous() Frame {
	return s.apply(playback.State.Previous)
}

// GoTo 跳到指定行，越界时忽略
func (s *Session) GoTo(index int) Frame {
	return s.apply(func(st playback.State) playback.State { return st.GoToLine(index) })
}

// UpdateSettings 调整每行时长和字体缩放，零值表示不修改
func (s *Session) UpdateSettings(lineDuration time.Duration, fontScale float64) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lineDuration > 0 {
		s.state = s.state.WithLineDuration(lineDuration)
	}
	if fontScale > 0 {
		s.fontScale = playback.ClampFontScale(fontScale)
	}
	return s.emitLocked()
}

// Tick 推进一次，调度器之外也可以手动调用
func (s *Session) Tick() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.state.Tick(s.now())
	return s.emitLocked()
}

func (s *Session) apply(op func(playback.State) playback.State) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = op(s.state)
	return s.emitLocked()
}

// Close 停止调度器并清空接收者
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopSchedulerLocked()
	s.subscribers = make(map[string]Sink)
	s.closed = true
}

func (s *Session) frameLocked() Frame {
	view := s.state.View()
	line, total := s.state.Progress()
	elapsed, duration := s.state.ElapsedDisplay(s.now())
	return Frame{
		SessionID:    s.id,
		Previous:     view.Previous,
		Current:      view.Current,
		Next:         view.Next,
		Line:         line,
		Total:        total,
		Elapsed:      elapsed,
		Duration:     duration,
		Playing:      s.state.Playing,
		FontScale:    s.fontScale,
		LineDuration: s.state.LineDuration.Seconds(),
		Song:         s.song,
	}
}

// emitLocked 推送当前帧给所有接收者
func (s *Session) emitLocked() Frame {
	frame := s.frameLocked()
	s.lastFrame = frame
	for _, sink := range s.subscribers {
		sink(frame)
	}
	return frame
}

func (s *Session) startSchedulerLocked() {
	if s.closed {
		return
	}
	s.stopSchedulerLocked()

	ctx, cancel := context.WithCancel(context.Background())
	s.schedulerGen++
	s.schedulerCancel = cancel
	go s.runScheduler(ctx, s.schedulerGen)
}

func (s *Session) stopSchedulerLocked() {
	if s.schedulerCancel != nil {
		s.schedulerCancel()
		s.schedulerCancel = nil
	}
}

// runScheduler 按固定间隔推进播放状态，帧变化时推送，播放结束后退出
func (s *Session) runScheduler(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug().Dur("interval", s.interval).Msg("Scheduler started")
	defer s.logger.Debug().Msg("Scheduler stopped")

	for {
		select {
		case <-ticker.C:
			if !s.step(ctx, gen) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// step 执行一次调度，返回是否继续
func (s *Session) step(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 已被新的调度器替换或取消
	if ctx.Err() != nil || gen != s.schedulerGen {
		return false
	}

	s.state = s.state.Tick(s.now())
	if frame := s.frameLocked(); frame != s.lastFrame {
		s.emitLocked()
	}

	if !s.state.Playing {
		s.logger.Info().Msg("Reached the last line, playback finished")
		s.schedulerCancel()
		s.schedulerCancel = nil
		return false
	}
	return true
}
