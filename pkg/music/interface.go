package music

import (
	"context"
	"errors"
)

// ErrNotFound 提供商没有这首歌或者歌词为空
var ErrNotFound = errors.New("not found")

// MusicAPI 两步式歌词源：先按标题和歌手搜出 ID，再按 ID 取歌词
type MusicAPI interface {
	SearchSong(ctx context.Context, title, artist string) (string, error)
	GetLyrics(ctx context.Context, songID string) (string, error)
	GetProviderName() string
}

// InfoLyricsAPI 一步式歌词源，duration 为秒，0 表示未知
type InfoLyricsAPI interface {
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}

// MusicManager 由 Manager 实现，internal/lyrics 依赖这个接口以便测试替换
type MusicManager interface {
	MusicAPI
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}
