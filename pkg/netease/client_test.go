package netease

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"singalong/pkg/music"
)

// TestClientRetry 测试重试机制
func TestClientRetry(t *testing.T) {
	requestCount := 0

	// 模拟间歇性失败
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":{"songs":[{"id":123,"name":"Test Song","artists":[{"name":"Test Artist"}]}]}}`))
	}))
	defer server.Close()

	client := &Client{
		httpClient:     &http.Client{Timeout: 1 * time.Second},
		maxRetries:     3,
		requestTimeout: 2 * time.Second,
		retryDelay:     time.Millisecond,
	}

	req, err := http.NewRequest("GET", server.URL, nil)
	if err != nil {
		t.Fatalf("创建请求失败: %v", err)
	}

	resp, err := client.doRequestWithRetry(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if requestCount != 3 {
		t.Errorf("预期重试次数为3，实际为%d", requestCount)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("预期状态码200，实际为%d", resp.StatusCode)
	}
}

// TestTimeout 测试超时机制
func TestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{
		httpClient:     &http.Client{Timeout: 1 * time.Second},
		maxRetries:     1,
		requestTimeout: 1 * time.Second,
		retryDelay:     time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
	if err != nil {
		t.Fatalf("创建请求失败: %v", err)
	}

	if _, err = client.doRequestWithRetry(req); err == nil {
		t.Error("预期请求超时失败，但请求成功了")
	}
}

func TestSearchAndGetLyrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search/get/web", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"songs":[
			{"id":1,"name":"Another","artists":[{"name":"Test Artist"}]},
			{"id":2,"name":"Test Song (Live)","artists":[{"name":"Cover Band"}]},
			{"id":3,"name":"Test Song","artists":[{"name":"Guest"},{"name":"Test Artist"}]}
		]}}`))
	})
	mux.HandleFunc("/api/song/lyric", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "3" {
			w.Write([]byte(`{"lrc":{"lyric":""}}`))
			return
		}
		w.Write([]byte(`{"lrc":{"lyric":"[00:01.00]hello"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClientWithBaseURL(server.URL)

	id, err := client.SearchSong(context.Background(), "Test Song", "Test Artist")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if id != "3" {
		t.Fatalf("expected song 3, got %s", id)
	}

	lyrics, err := client.GetLyrics(context.Background(), id)
	if err != nil || lyrics != "[00:01.00]hello" {
		t.Errorf("unexpected lyrics %q (err %v)", lyrics, err)
	}

	if _, err := client.GetLyrics(context.Background(), "1"); !errors.Is(err, music.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty lyrics, got %v", err)
	}
}

func TestSearchNoSongs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"songs":[]}}`))
	}))
	defer server.Close()

	_, err := NewClientWithBaseURL(server.URL).SearchSong(context.Background(), "x", "y")
	if !errors.Is(err, music.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
