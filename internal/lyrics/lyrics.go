package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"singalong/pkg/ai"
	"singalong/pkg/fileutil"
	"singalong/pkg/music"
	"singalong/pkg/songcache"

	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix = "singalong:lyrics:"
	redisTTL       = 30 * 24 * time.Hour
	maxAIRetries   = 3
	lookupTimeout  = 20 * time.Second
)

var (
	// ErrNotFound 所有提供商都没有该歌曲的歌词
	ErrNotFound = errors.New("lyrics not found")
	// ErrNotASong 媒体标题不是一首歌
	ErrNotASong = errors.New("not a song")
)

var logger = log.With().Str("component", "lyrics").Logger()

var (
	filenameRe = regexp.MustCompile(`[\\/:*?"<>|]`)
	bracketRe  = regexp.MustCompile(`\s*[\(\[【（][^\)\]】）]*[\)\]】）]`)
)

// SongInfo 歌曲信息
type SongInfo struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"` // 歌曲时长（秒）
	IsSong   bool    `json:"is_song"`
}

func (s SongInfo) String() string {
	if s.Artist == "" {
		return s.Title
	}
	return s.Title + " - " + s.Artist
}

// KV 歌词的远程缓存（Redis）
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Provider 歌词提供者：先查缓存，再通过音乐API管理器获取
type Provider struct {
	cacheDir  string
	aiClient  ai.AiInterface
	manager   music.MusicManager
	kv        KV
	songCache *songcache.Cache

	retryDelay time.Duration
}

// Options 创建 Provider 的依赖，除 Manager 外都是可选的
type Options struct {
	CacheDir  string
	AI        ai.AiInterface
	Manager   music.MusicManager
	KV        KV
	SongCache *songcache.Cache
}

func NewProvider(opts Options) (*Provider, error) {
	if opts.Manager == nil {
		return nil, errors.New("lyrics provider requires a music manager")
	}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return &Provider{
		cacheDir:  opts.CacheDir,
		aiClient:  opts.AI,
		manager:   opts.Manager,
		kv:        opts.KV,
		songCache: opts.SongCache,

		retryDelay: time.Second,
	}, nil
}

func formatQuerySong(title string) string {
	return fmt.Sprintf(`Extract the song from this media title. Reply with JSON only, exactly in this form: {"is_song": true, "title": "song title", "artist": "performer"}. If the title does not contain a song, reply {"is_song": false}. Do not use markdown. The media title is: %s`, title)
}

func formatGuessSong(transcript string) string {
	return fmt.Sprintf(`The following text was transcribed from someone singing along to a song. Identify the song. Reply with JSON only, exactly in this form: {"is_song": true, "title": "song title", "artist": "performer"}. If you cannot identify it, reply {"is_song": false}. Do not use markdown. The transcription is: %s`, transcript)
}

// ResolveSong 把媒体标题（例如视频标题）解析为歌曲信息
func (p *Provider) ResolveSong(ctx context.Context, mediaTitle string) (SongInfo, error) {
	mediaTitle = strings.TrimSpace(mediaTitle)
	if mediaTitle == "" {
		return SongInfo{}, ErrNotASong
	}

	if p.songCache != nil {
		if cached, err := p.songCache.Get(mediaTitle); err == nil {
			title, artist, _ := strings.Cut(cached, "|")
			logger.Info().Str("media_title", mediaTitle).Msg("Song cache HIT")
			return SongInfo{Title: title, Artist: artist, IsSong: true}, nil
		}
	}

	var info SongInfo
	if p.aiClient == nil {
		info = guessFromTitle(mediaTitle)
	} else {
		var err error
		info, err = p.askAI(ctx, formatQuerySong(mediaTitle))
		if err != nil {
			logger.Warn().Err(err).Msg("AI title resolution failed, falling back to title heuristics")
			info = guessFromTitle(mediaTitle)
		}
	}

	if !info.IsSong || info.Title == "" {
		return SongInfo{}, fmt.Errorf("'%s': %w", mediaTitle, ErrNotASong)
	}

	if p.songCache != nil {
		if err := p.songCache.Add(mediaTitle, info.Title+"|"+info.Artist); err != nil {
			logger.Warn().Err(err).Msg("Failed to store song cache entry")
		}
	}
	return info, nil
}

// GuessFromTranscript 根据跟唱的转写文本猜测歌曲，需要配置AI
func (p *Provider) GuessFromTranscript(ctx context.Context, transcript string) (SongInfo, error) {
	if p.aiClient == nil {
		return SongInfo{}, errors.New("no AI client configured")
	}
	if strings.TrimSpace(transcript) == "" {
		return SongInfo{}, ErrNotASong
	}
	info, err := p.askAI(ctx, formatGuessSong(transcript))
	if err != nil {
		return SongInfo{}, err
	}
	if !info.IsSong || info.Title == "" {
		return SongInfo{}, ErrNotASong
	}
	return info, nil
}

func (p *Provider) askAI(ctx context.Context, prompt string) (SongInfo, error) {
	var raw string
	var err error
	for i := 0; i < maxAIRetries; i++ {
		raw, err = p.aiClient.HandleText(ctx, prompt)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", maxAIRetries).Str("ai", p.aiClient.Name()).Msg("AI query failed")
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return SongInfo{}, ctx.Err()
		}
	}
	if err != nil {
		return SongInfo{}, fmt.Errorf("failed to query %s after %d attempts: %w", p.aiClient.Name(), maxAIRetries, err)
	}

	var info SongInfo
	if err := json.Unmarshal([]byte(ai.StripCodeFence(raw)), &info); err != nil {
		return SongInfo{}, fmt.Errorf("failed to parse %s response: %w", p.aiClient.Name(), err)
	}
	info.Title = strings.TrimSpace(info.Title)
	info.Artist = strings.TrimSpace(info.Artist)
	return info, nil
}

// guessFromTitle 没有AI时的退路："Artist - Title (Official MV)" 形式
func guessFromTitle(mediaTitle string) SongInfo {
	cleaned := strings.TrimSpace(bracketRe.ReplaceAllString(mediaTitle, ""))
	cleaned = strings.Trim(cleaned, `'"‘’“”`)
	if cleaned == "" {
		return SongInfo{}
	}
	if artist, title, ok := strings.Cut(cleaned, " - "); ok {
		return SongInfo{
			Title:  strings.Trim(strings.TrimSpace(title), `'"‘’“”`),
			Artist: strings.TrimSpace(artist),
			IsSong: true,
		}
	}
	return SongInfo{Title: cleaned, IsSong: true}
}

// GetLyrics 获取歌词原文（可能是LRC），依次查 Redis、文件缓存和音乐API
func (p *Provider) GetLyrics(ctx context.Context, song SongInfo) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	key := cacheKey(song)
	if cached, ok := p.readCache(ctx, key); ok {
		return cached, nil
	}
	logger.Info().Str("song", song.String()).Msg("Cache MISS, fetching from API")

	lyrics, err := p.manager.GetLyricsByInfo(ctx, song.Title, song.Artist, song.Duration)
	if err != nil {
		if errors.Is(err, music.ErrNotFound) {
			return "", fmt.Errorf("'%s': %w", song, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get lyrics for '%s': %w", song, err)
	}

	p.writeCache(ctx, key, lyrics)
	return lyrics, nil
}

// GetPlainLyrics 获取去掉时间戳的纯文本歌词
func (p *Provider) GetPlainLyrics(ctx context.Context, song SongInfo) (string, error) {
	raw, err := p.GetLyrics(ctx, song)
	if err != nil {
		return "", err
	}
	return PlainText(raw), nil
}

func (p *Provider) readCache(ctx context.Context, key string) (string, bool) {
	if p.kv != nil {
		cached, err := p.kv.Get(ctx, redisKeyPrefix+key)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis lookup failed")
		} else if cached != "" {
			logger.Info().Str("key", key).Msg("Redis cache HIT")
			return cached, true
		}
	}

	if p.cacheDir != "" {
		path := filepath.Join(p.cacheDir, key+".lrc")
		if cached, err := os.ReadFile(path); err == nil && len(cached) > 0 {
			logger.Info().Str("path", path).Msg("File cache HIT")
			return string(cached), true
		}
	}
	return "", false
}

func (p *Provider) writeCache(ctx context.Context, key, lyrics string) {
	if p.kv != nil {
		if err := p.kv.SetWithExpiration(ctx, redisKeyPrefix+key, lyrics, redisTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to store lyrics in redis")
		}
	}
	if p.cacheDir != "" {
		path := filepath.Join(p.cacheDir, key+".lrc")
		if err := fileutil.WriteFileAtomic(path, []byte(lyrics), 0644); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Failed to write cache file")
		}
	}
}

func cacheKey(song SongInfo) string {
	return sanitizeFilename(strings.ToLower(song.Title + "-" + song.Artist))
}

func sanitizeFilename(name string) string {
	return filenameRe.ReplaceAllString(name, "-")
}
