package search

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const DefaultLimit = 5

// ErrNoResults 搜索没有返回结果
var ErrNoResults = errors.New("no results")

// Candidate 搜索结果中的一首候选歌曲
type Candidate struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// Label 下拉列表中显示的文本
func (c Candidate) Label() string {
	return fmt.Sprintf("%s - %s", c.Title, c.Channel)
}

// Searcher 根据文本查询返回排好序的候选歌曲
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// YouTube 基于 YouTube Data API v3 的视频搜索
type YouTube struct {
	service *youtube.Service
	limit   int64
}

var _ Searcher = (*YouTube)(nil)

func NewYouTube(ctx context.Context, apiKey string, limit int64, opts ...option.ClientOption) (*YouTube, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &YouTube{service: service, limit: limit}, nil
}

func (y *YouTube) Search(ctx context.Context, query string) ([]Candidate, error) {
	resp, err := y.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		VideoCategoryId("10"). // Music
		MaxResults(y.limit).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      item.Id.VideoId,
			Title:   html.UnescapeString(item.Snippet.Title),
			Channel: html.UnescapeString(item.Snippet.ChannelTitle),
			URL:     WatchURL(item.Id.VideoId),
		})
	}

	log.Info().Str("query", query).Int("results", len(candidates)).Msg("YouTube search finished")

	if len(candidates) == 0 {
		return nil, fmt.Errorf("'%s': %w", query, ErrNoResults)
	}
	return candidates, nil
}

func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
