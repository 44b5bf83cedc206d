package genius

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"singalong/pkg/music"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const DefaultBaseURL = "https://api.genius.com"

var logger = log.With().Str("component", "genius").Logger()

var _ music.MusicAPI = (*Client)(nil)

var (
	sectionHeaderRe = regexp.MustCompile(`\[[^\]\n]*\]`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// DefaultExcludedTerms 搜索结果标题包含这些词时跳过
var DefaultExcludedTerms = []string{"(Remix)", "(Live)"}

type searchResponse struct {
	Meta struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"meta"`
	Response struct {
		Hits []struct {
			Type   string `json:"type"`
			Result struct {
				ID            int    `json:"id"`
				Title         string `json:"title"`
				URL           string `json:"url"`
				PrimaryArtist struct {
					Name string `json:"name"`
				} `json:"primary_artist"`
			} `json:"result"`
		} `json:"hits"`
	} `json:"response"`
}

// Client Genius 歌词客户端。搜索走官方API，歌词从歌曲页面提取
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	ExcludedTerms  []string
	RemoveSections bool
}

func NewClient(token string) *Client {
	return NewClientWithBaseURL(DefaultBaseURL, token)
}

func NewClientWithBaseURL(baseURL, token string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		ExcludedTerms:  DefaultExcludedTerms,
		RemoveSections: true,
	}
}

func (c *Client) GetProviderName() string {
	return "Genius"
}

// SearchSong 返回歌曲页面URL作为ID
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	params := url.Values{}
	params.Set("q", strings.TrimSpace(title+" "+artist))
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API request failed with status %d", resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	var fallback string
	for _, hit := range searchResp.Response.Hits {
		if hit.Type != "song" || hit.Result.URL == "" || c.excluded(hit.Result.Title) {
			continue
		}
		if !containsFold(hit.Result.Title, title) {
			continue
		}
		if artist == "" || containsFold(hit.Result.PrimaryArtist.Name, artist) {
			logger.Info().Str("title", hit.Result.Title).Str("artist", hit.Result.PrimaryArtist.Name).Msg("Found matching song")
			return hit.Result.URL, nil
		}
		if fallback == "" {
			fallback = hit.Result.URL
		}
	}
	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("no songs found for '%s - %s': %w", title, artist, music.ErrNotFound)
}

// GetLyrics 下载歌曲页面并提取歌词
func (c *Client) GetLyrics(ctx context.Context, songURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, songURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lyrics request: %w", err)
	}
	req.Header.Set("User-Agent", "singalong/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch lyrics page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lyrics page request failed with status %d", resp.StatusCode)
	}

	lyrics, err := ExtractLyrics(resp.Body)
	if err != nil {
		return "", err
	}
	if c.RemoveSections {
		lyrics = RemoveSectionHeaders(lyrics)
	}
	if lyrics == "" {
		return "", fmt.Errorf("no lyrics on page %s: %w", songURL, music.ErrNotFound)
	}
	return lyrics, nil
}

func (c *Client) excluded(title string) bool {
	for _, term := range c.ExcludedTerms {
		if containsFold(title, term) {
			return true
		}
	}
	return false
}

// ExtractLyrics 从 Genius 歌曲页面中提取所有 data-lyrics-container 的文本
func ExtractLyrics(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse lyrics page: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node, inContainer bool)
	walk = func(n *html.Node, inContainer bool) {
		if n.Type == html.ElementNode {
			if attr(n, "data-exclude-from-selection") == "true" {
				return
			}
			if !inContainer && attr(n, "data-lyrics-container") == "true" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				inContainer = true
			}
			if inContainer && n.Data == "br" {
				b.WriteString("\n")
			}
		}
		if inContainer && n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inContainer)
		}
	}
	walk(doc, false)

	return strings.TrimSpace(b.String()), nil
}

// RemoveSectionHeaders 去掉 [Chorus]、[Verse 1] 之类的段落标记
func RemoveSectionHeaders(lyrics string) string {
	lyrics = sectionHeaderRe.ReplaceAllString(lyrics, "")
	lines := strings.Split(lyrics, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	lyrics = blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(lyrics)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
