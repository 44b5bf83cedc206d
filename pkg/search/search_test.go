package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func newTestYouTube(t *testing.T, handler http.HandlerFunc) *YouTube {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	yt, err := NewYouTube(context.Background(), "test-key", 0,
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return yt
}

func TestYouTubeSearch(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "blueming" || q.Get("type") != "video" || q.Get("maxResults") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"id":{"kind":"youtube#video","videoId":"abc123"},"snippet":{"title":"IU &#39;Blueming&#39; MV","channelTitle":"1theK"}},
			{"id":{"kind":"youtube#channel","channelId":"zzz"},"snippet":{"title":"channel","channelTitle":"x"}},
			{"id":{"kind":"youtube#video","videoId":"def456"},"snippet":{"title":"Blueming (Live)","channelTitle":"IU Official"}}
		]}`))
	})

	candidates, err := yt.Search(context.Background(), "blueming")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	first := candidates[0]
	if first.ID != "abc123" || first.Title != "IU 'Blueming' MV" || first.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("unexpected candidate %+v", first)
	}
	if first.Label() != "IU 'Blueming' MV - 1theK" {
		t.Errorf("unexpected label %q", first.Label())
	}
}

func TestYouTubeSearchNoResults(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	})

	if _, err := yt.Search(context.Background(), "nothing"); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestYouTubeSearchTransportError(t *testing.T) {
	yt := newTestYouTube(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded"}}`))
	})

	_, err := yt.Search(context.Background(), "anything")
	if err == nil || errors.Is(err, ErrNoResults) {
		t.Errorf("expected transport error, got %v", err)
	}
}
