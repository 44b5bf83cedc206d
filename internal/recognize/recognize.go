package recognize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"singalong/internal/audio"
	"singalong/internal/lyrics"
	"singalong/pkg/acrcloud"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval 两次识曲之间的最短间隔
	DefaultInterval = 15 * time.Second
	// MinRecording 录音至少要这么长才送去识别
	MinRecording = 3 * time.Second
)

var (
	ErrTooFrequent = errors.New("recognition requested too frequently")
	ErrTooShort    = errors.New("recording too short")
	ErrNoMatch     = errors.New("no song recognized")
	ErrDisabled    = errors.New("audio recognition is not configured")
)

var logger = log.With().Str("component", "recognize").Logger()

// TooFrequentError 带有需要等待的时间
type TooFrequentError struct {
	Wait time.Duration
}

func (e *TooFrequentError) Error() string {
	return fmt.Sprintf("too many recognition attempts, retry in %d seconds", e.Seconds())
}

// Seconds 需要等待的秒数，向上取整
func (e *TooFrequentError) Seconds() int {
	return int(math.Ceil(e.Wait.Round(time.Millisecond).Seconds()))
}

func (e *TooFrequentError) Is(target error) bool {
	return target == ErrTooFrequent
}

// Fingerprinter 音频指纹识别（ACRCloud）
type Fingerprinter interface {
	Recognize(ctx context.Context, sample []byte) (acrcloud.Match, error)
}

// Transcriber 语音转文字（腾讯云 ASR）
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// SongGuesser 根据转写文本猜歌（AI）
type SongGuesser interface {
	GuessFromTranscript(ctx context.Context, transcript string) (lyrics.SongInfo, error)
}

// Source 识别结果的来源
type Source string

const (
	SourceTags        Source = "tags"
	SourceFingerprint Source = "fingerprint"
	SourceTranscript  Source = "transcript"
)

// Result 识别出的歌曲
type Result struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration,omitempty"` // 秒
	Source   Source  `json:"source"`
}

// Options 除 Fingerprinter 外的可选依赖
type Options struct {
	Transcriber Transcriber
	Guesser     SongGuesser
	Interval    time.Duration
	Now         func() time.Time
}

// Service 识曲服务：标签、指纹识别、转写猜歌依次尝试
type Service struct {
	fingerprinter Fingerprinter
	transcriber   Transcriber
	guesser       SongGuesser
	now           func() time.Time
	interval      time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New fingerprinter 可以为 nil，此时只能依靠标签和转写
func New(fingerprinter Fingerprinter, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		fingerprinter: fingerprinter,
		transcriber:   opts.Transcriber,
		guesser:       opts.Guesser,
		now:           opts.Now,
		interval:      opts.Interval,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Enabled 至少有一种识别方式可用
func (s *Service) Enabled() bool {
	return s.fingerprinter != nil || (s.transcriber != nil && s.guesser != nil)
}

// RecognizeFile 识别上传的音频文件，文件自带完整标签时直接使用。
// key 标识调用方（会话 ID），频率限制按 key 分别计算
func (s *Service) RecognizeFile(ctx context.Context, key string, file *audio.File) (Result, error) {
	if file.HasTags() {
		logger.Info().Str("path", file.Path).Str("title", file.Tags.Title).Msg("Using embedded tags")
		return Result{
			Title:  file.Tags.Title,
			Artist: file.Tags.Artist,
			Album:  file.Tags.Album,
			Source: SourceTags,
		}, nil
	}
	return s.recognize(ctx, key, file.Data, file.Data, file.Format)
}

// RecognizePCM 识别录音缓冲（16kHz 单声道 s16）
func (s *Service) RecognizePCM(ctx context.Context, key string, pcm []byte) (Result, error) {
	if len(pcm) < audio.PCMBytes(MinRecording) {
		return Result{}, fmt.Errorf("got %.1fs of audio, need at least %.0fs: %w",
			audio.PCMDuration(len(pcm)).Seconds(), MinRecording.Seconds(), ErrTooShort)
	}
	return s.recognize(ctx, key, audio.WAV(pcm), pcm, "pcm")
}

func (s *Service) recognize(ctx context.Context, key string, sample, speech []byte, format string) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrDisabled
	}
	if err := s.allow(key); err != nil {
		return Result{}, err
	}

	if s.fingerprinter != nil {
		match, err := s.fingerprinter.Recognize(ctx, sample)
		switch {
		case err == nil:
			logger.Info().Str("title", match.Title).Str("artist", match.Artist()).Msg("Fingerprint matched")
			return Result{
				Title:    match.Title,
				Artist:   match.Artist(),
				Album:    match.Album,
				Duration: match.Duration.Seconds(),
				Source:   SourceFingerprint,
			}, nil
		case errors.Is(err, acrcloud.ErrNoMatch):
			logger.Info().Msg("No fingerprint match, trying transcription")
		default:
			return Result{}, fmt.Errorf("fingerprint recognition failed: %w", err)
		}
	}

	return s.fromTranscript(ctx, speech, format)
}

// fromTranscript 转写跟唱内容后让AI猜歌
func (s *Service) fromTranscript(ctx context.Context, speech []byte, format string) (Result, error) {
	if s.transcriber == nil || s.guesser == nil {
		return Result{}, ErrNoMatch
	}

	transcript, err := s.transcriber.Transcribe(ctx, speech, format)
	if err != nil {
		logger.Warn().Err(err).Msg("Transcription failed")
		return Result{}, ErrNoMatch
	}
	if transcript == "" {
		return Result{}, ErrNoMatch
	}

	song, err := s.guesser.GuessFromTranscript(ctx, transcript)
	if err != nil {
		logger.Warn().Err(err).Str("transcript", transcript).Msg("Could not guess song from transcript")
		return Result{}, ErrNoMatch
	}
	return Result{Title: song.Title, Artist: song.Artist, Source: SourceTranscript}, nil
}

// allow 每个 key 每个间隔只允许一次外部识别
func (s *Service) allow(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	limiter, ok := s.limiters[key]
	if !ok {
		s.pruneLocked(now)
		limiter = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[key] = limiter
	}

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return ErrTooFrequent
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return &TooFrequentError{Wait: wait}
	}
	return nil
}

// pruneLocked 丢弃已经完全冷却的限流器，它们和新建的没有区别
func (s *Service) pruneLocked(now time.Time) {
	for key, limiter := range s.limiters {
		if limiter.TokensAt(now) >= 1 {
			delete(s.limiters, key)
		}
	}
}
