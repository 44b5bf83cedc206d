package music

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Provider 歌词提供商类型
type Provider string

const (
	ProviderLRCLib  Provider = "lrclib"
	ProviderGenius  Provider = "genius"
	ProviderNetEase Provider = "netease"
)

var (
	logger = log.With().Str("component", "music-manager").Logger()

	errNoProviders = errors.New("no music providers available")
)

// Manager 按优先级依次尝试各个提供商，第一个返回非空结果的胜出
type Manager struct {
	providers []MusicAPI
}

var _ MusicManager = (*Manager)(nil)

func NewManager(providers []MusicAPI) *Manager {
	if len(providers) == 0 {
		logger.Warn().Msg("No music providers configured")
	} else {
		logger.Info().
			Strs("providers", providerNames(providers)).
			Msg("Lyrics provider chain ready")
	}
	return &Manager{providers: providers}
}

// failover 对每个提供商执行 op，空白结果视为 ErrNotFound
func (m *Manager) failover(ctx context.Context, what string, op func(MusicAPI) (string, error)) (string, error) {
	if len(m.providers) == 0 {
		return "", errNoProviders
	}

	var lastErr error
	for i, provider := range m.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		name := provider.GetProviderName()
		result, err := op(provider)
		if err == nil && strings.TrimSpace(result) == "" {
			err = ErrNotFound
		}
		if err == nil {
			logger.Debug().Str("provider", name).Str("lookup", what).Int("attempt", i+1).Msg("Provider served")
			return result, nil
		}

		logger.Warn().Str("provider", name).Str("lookup", what).Err(err).Msg("Provider failed")
		lastErr = err
	}
	return "", fmt.Errorf("all providers failed for %s, last error: %w", what, lastErr)
}

// SearchSong 返回第一个能找到该歌曲的提供商给出的 ID
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return m.failover(ctx, "search '"+songLabel(title, artist)+"'", func(p MusicAPI) (string, error) {
		return p.SearchSong(ctx, title, artist)
	})
}

// GetLyrics 歌曲 ID 与提供商相关，这里只在跨提供商共享 ID 时有意义
func (m *Manager) GetLyrics(ctx context.Context, songID string) (string, error) {
	return m.failover(ctx, "song "+songID, func(p MusicAPI) (string, error) {
		return p.GetLyrics(ctx, songID)
	})
}

// GetLyricsByInfo 每个提供商内部完成 搜索 + 取歌词
func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	return m.failover(ctx, "'"+songLabel(title, artist)+"'", func(p MusicAPI) (string, error) {
		return lyricsFrom(ctx, p, title, artist, duration)
	})
}

func lyricsFrom(ctx context.Context, provider MusicAPI, title, artist string, duration float64) (string, error) {
	if infoAPI, ok := provider.(InfoLyricsAPI); ok {
		return infoAPI.GetLyricsByInfo(ctx, title, artist, duration)
	}

	songID, err := provider.SearchSong(ctx, title, artist)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if songID == "" {
		return "", fmt.Errorf("search failed: %w", ErrNotFound)
	}

	text, err := provider.GetLyrics(ctx, songID)
	if err != nil {
		return "", fmt.Errorf("lyrics for song %s: %w", songID, err)
	}
	return text, nil
}

func songLabel(title, artist string) string {
	if artist == "" {
		return title
	}
	return title + " - " + artist
}

// GetProviderName 让 Manager 本身也满足 MusicAPI
func (m *Manager) GetProviderName() string {
	if len(m.providers) == 0 {
		return "Manager[No Providers]"
	}
	return fmt.Sprintf("Manager[Primary: %s]", m.providers[0].GetProviderName())
}

func (m *Manager) GetProviderNames() []string {
	return providerNames(m.providers)
}

func providerNames(providers []MusicAPI) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.GetProviderName()
	}
	return names
}
