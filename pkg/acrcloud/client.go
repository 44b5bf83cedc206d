package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	identifyURI      = "/v1/identify"
	dataType         = "audio"
	signatureVersion = "1"

	StatusSuccess  = 0
	StatusNoResult = 1001
)

// ErrNoMatch 音频没有匹配到任何歌曲
var ErrNoMatch = errors.New("no match")

var logger = log.With().Str("component", "acrcloud").Logger()

// Config ACRCloud 项目凭证
type Config struct {
	Host         string
	AccessKey    string
	AccessSecret string
	Timeout      time.Duration
}

// Artist 演唱者
type Artist struct {
	Name string `json:"name"`
}

// Music 识别结果中的一首歌
type Music struct {
	Title      string   `json:"title"`
	Artists    []Artist `json:"artists"`
	DurationMS int      `json:"duration_ms"`
	Score      int      `json:"score"`
	Album      struct {
		Name string `json:"name"`
	} `json:"album"`
}

// Status 接口返回的状态
type Status struct {
	Msg     string `json:"msg"`
	Code    int    `json:"code"`
	Version string `json:"version"`
}

// Response identify 接口的返回
type Response struct {
	Status   Status `json:"status"`
	Metadata struct {
		Music []Music `json:"music"`
	} `json:"metadata"`
}

// Match 最佳匹配
type Match struct {
	Title    string
	Artists  []string
	Album    string
	Duration time.Duration
}

// Artist 多位演唱者用 ", " 连接
func (m Match) Artist() string {
	return strings.Join(m.Artists, ", ")
}

// StatusError ACRCloud 返回了非成功状态
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("acrcloud status %d: %s", e.Code, e.Msg)
}

// Client ACRCloud 听歌识曲客户端
type Client struct {
	httpClient *http.Client
	cfg        Config
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		now:        time.Now,
	}
}

// Recognize 上传一段音频（文件内容或带头的 WAV），返回最佳匹配
func (c *Client) Recognize(ctx context.Context, sample []byte) (Match, error) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := Sign(c.cfg.AccessSecret, http.MethodPost, identifyURI, c.cfg.AccessKey, dataType, signatureVersion, timestamp)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := [][2]string{
		{"access_key", c.cfg.AccessKey},
		{"data_type", dataType},
		{"signature_version", signatureVersion},
		{"signature", signature},
		{"sample_bytes", strconv.Itoa(len(sample))},
		{"timestamp", timestamp},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return Match{}, fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}
	part, err := writer.CreateFormFile("sample", "sample")
	if err != nil {
		return Match{}, fmt.Errorf("failed to create sample part: %w", err)
	}
	if _, err := part.Write(sample); err != nil {
		return Match{}, fmt.Errorf("failed to write sample: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Match{}, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), body)
	if err != nil {
		return Match{}, fmt.Errorf("failed to create identify request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("identify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Match{}, fmt.Errorf("identify request failed with status %d", resp.StatusCode)
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Match{}, fmt.Errorf("failed to decode identify response: %w", err)
	}

	logger.Info().Int("code", result.Status.Code).Str("msg", result.Status.Msg).Int("sample_bytes", len(sample)).Msg("Identify finished")

	switch {
	case result.Status.Code == StatusNoResult:
		return Match{}, ErrNoMatch
	case result.Status.Code != StatusSuccess:
		return Match{}, &StatusError{Code: result.Status.Code, Msg: result.Status.Msg}
	case len(result.Metadata.Music) == 0:
		return Match{}, ErrNoMatch
	}

	music := result.Metadata.Music[0]
	match := Match{
		Title:    music.Title,
		Album:    music.Album.Name,
		Duration: time.Duration(music.DurationMS) * time.Millisecond,
	}
	for _, a := range music.Artists {
		match.Artists = append(match.Artists, a.Name)
	}
	return match, nil
}

func (c *Client) endpoint() string {
	host := strings.TrimRight(c.cfg.Host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + identifyURI
}

// Sign 计算请求签名：base64(hmac-sha1(secret, 各字段以换行连接))
func Sign(secret, method, uri, accessKey, dataType, signatureVersion, timestamp string) string {
	stringToSign := strings.Join([]string{method, uri, accessKey, dataType, signatureVersion, timestamp}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
