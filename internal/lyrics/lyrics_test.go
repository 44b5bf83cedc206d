package lyrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"singalong/pkg/music"
	"singalong/pkg/songcache"
)

type mockAI struct {
	reply string
	err   error
	calls int
}

func (m *mockAI) Name() string { return "mock" }

func (m *mockAI) HandleText(ctx context.Context, msg string) (string, error) {
	m.calls++
	return m.reply, m.err
}

type mockManager struct {
	lyrics string
	err    error
	calls  int
}

func (m *mockManager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return "id", nil
}

func (m *mockManager) GetLyrics(ctx context.Context, songID string) (string, error) {
	return m.lyrics, m.err
}

func (m *mockManager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	m.calls++
	return m.lyrics, m.err
}

func (m *mockManager) GetProviderName() string { return "mock" }

type mockKV struct {
	data map[string]string
	err  error
}

func (m *mockKV) Get(ctx context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.data[key], nil
}

func (m *mockKV) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value.(string)
	return nil
}

func newTestProvider(t *testing.T, opts Options) *Provider {
	t.Helper()
	if opts.Manager == nil {
		opts.Manager = &mockManager{lyrics: "la la"}
	}
	p, err := NewProvider(opts)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	p.retryDelay = 0
	return p
}

func TestNewProviderRequiresManager(t *testing.T) {
	if _, err := NewProvider(Options{}); err == nil {
		t.Error("expected error without manager")
	}
}

func TestResolveSong(t *testing.T) {
	t.Run("AI", func(t *testing.T) {
		aiClient := &mockAI{reply: "```json\n{\"is_song\": true, \"title\": \" Blueming \", \"artist\": \"IU\"}\n```"}
		p := newTestProvider(t, Options{AI: aiClient})

		info, err := p.ResolveSong(context.Background(), "[MV] IU(아이유) _ Blueming(블루밍)")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Title != "Blueming" || info.Artist != "IU" {
			t.Errorf("unexpected song %+v", info)
		}
	})

	t.Run("AINotASong", func(t *testing.T) {
		p := newTestProvider(t, Options{AI: &mockAI{reply: `{"is_song": false}`}})
		if _, err := p.ResolveSong(context.Background(), "Cooking pasta at home"); !errors.Is(err, ErrNotASong) {
			t.Errorf("expected ErrNotASong, got %v", err)
		}
	})

	t.Run("AIFailureFallsBackToHeuristics", func(t *testing.T) {
		aiClient := &mockAI{err: errors.New("quota exceeded")}
		p := newTestProvider(t, Options{AI: aiClient})

		info, err := p.ResolveSong(context.Background(), "Queen - Bohemian Rhapsody (Official Video)")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if aiClient.calls != maxAIRetries {
			t.Errorf("expected %d AI attempts, got %d", maxAIRetries, aiClient.calls)
		}
		if info.Title != "Bohemian Rhapsody" || info.Artist != "Queen" {
			t.Errorf("unexpected song %+v", info)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		p := newTestProvider(t, Options{})
		if _, err := p.ResolveSong(context.Background(), "  "); !errors.Is(err, ErrNotASong) {
			t.Errorf("expected ErrNotASong, got %v", err)
		}
	})

	t.Run("SongCache", func(t *testing.T) {
		cache, err := songcache.Open(filepath.Join(t.TempDir(), "songs"))
		if err != nil {
			t.Fatalf("failed to open song cache: %v", err)
		}
		aiClient := &mockAI{reply: `{"is_song": true, "title": "Yesterday", "artist": "The Beatles"}`}
		p := newTestProvider(t, Options{AI: aiClient, SongCache: cache})

		for i := 0; i < 2; i++ {
			info, err := p.ResolveSong(context.Background(), "The Beatles - Yesterday (Remastered 2009)")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.Title != "Yesterday" || info.Artist != "The Beatles" {
				t.Errorf("unexpected song %+v", info)
			}
		}
		if aiClient.calls != 1 {
			t.Errorf("expected the second lookup to hit the cache, AI was called %d times", aiClient.calls)
		}
	})
}

func TestGuessFromTitle(t *testing.T) {
	cases := []struct {
		title      string
		wantTitle  string
		wantArtist string
	}{
		{"Adele - Hello (Official Music Video)", "Hello", "Adele"},
		{"周杰伦 - 晴天【歌词版】", "晴天", "周杰伦"},
		{"Imagine [Remastered]", "Imagine", ""},
		{`Nirvana - "Smells Like Teen Spirit"`, "Smells Like Teen Spirit", "Nirvana"},
	}
	for _, c := range cases {
		info := guessFromTitle(c.title)
		if !info.IsSong || info.Title != c.wantTitle || info.Artist != c.wantArtist {
			t.Errorf("guessFromTitle(%q) = %+v, want %s / %s", c.title, info, c.wantTitle, c.wantArtist)
		}
	}
	if info := guessFromTitle("(Live)"); info.IsSong {
		t.Errorf("expected no song for a title made only of brackets, got %+v", info)
	}
}

func TestGuessFromTranscript(t *testing.T) {
	p := newTestProvider(t, Options{})
	if _, err := p.GuessFromTranscript(context.Background(), "is this the real life"); err == nil {
		t.Error("expected error without AI client")
	}

	p = newTestProvider(t, Options{AI: &mockAI{reply: `{"is_song": true, "title": "Bohemian Rhapsody", "artist": "Queen"}`}})
	info, err := p.GuessFromTranscript(context.Background(), "is this the real life")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Title != "Bohemian Rhapsody" {
		t.Errorf("unexpected song %+v", info)
	}

	if _, err := p.GuessFromTranscript(context.Background(), ""); !errors.Is(err, ErrNotASong) {
		t.Errorf("expected ErrNotASong for empty transcript, got %v", err)
	}
}

func TestGetLyrics(t *testing.T) {
	song := SongInfo{Title: "Hello", Artist: "Adele", IsSong: true}

	t.Run("FetchesAndCaches", func(t *testing.T) {
		dir := t.TempDir()
		manager := &mockManager{lyrics: "[00:01.00]Hello, it's me"}
		kv := &mockKV{data: map[string]string{}}
		p := newTestProvider(t, Options{CacheDir: dir, Manager: manager, KV: kv})

		for i := 0; i < 2; i++ {
			lyrics, err := p.GetLyrics(context.Background(), song)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if lyrics != "[00:01.00]Hello, it's me" {
				t.Errorf("unexpected lyrics %q", lyrics)
			}
		}
		if manager.calls != 1 {
			t.Errorf("expected one API call, got %d", manager.calls)
		}
		if kv.data[redisKeyPrefix+"hello-adele"] == "" {
			t.Error("lyrics were not stored in redis")
		}
		if _, err := os.Stat(filepath.Join(dir, "hello-adele.lrc")); err != nil {
			t.Errorf("lyrics were not stored on disk: %v", err)
		}
	})

	t.Run("FileCacheWhenRedisFails", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "hello-adele.lrc"), []byte("cached"), 0644); err != nil {
			t.Fatal(err)
		}
		manager := &mockManager{lyrics: "fresh"}
		p := newTestProvider(t, Options{CacheDir: dir, Manager: manager, KV: &mockKV{err: errors.New("connection refused")}})

		lyrics, err := p.GetLyrics(context.Background(), song)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "cached" || manager.calls != 0 {
			t.Errorf("expected file cache hit, got %q after %d API calls", lyrics, manager.calls)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		p := newTestProvider(t, Options{Manager: &mockManager{err: music.ErrNotFound}})
		if _, err := p.GetLyrics(context.Background(), song); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("OtherError", func(t *testing.T) {
		p := newTestProvider(t, Options{Manager: &mockManager{err: errors.New("boom")}})
		_, err := p.GetLyrics(context.Background(), song)
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected a non-NotFound error, got %v", err)
		}
	})

	t.Run("Plain", func(t *testing.T) {
		p := newTestProvider(t, Options{Manager: &mockManager{lyrics: "[ar:Adele]\n[00:01.00]Hello\n[00:03.00]It's me"}})
		lyrics, err := p.GetPlainLyrics(context.Background(), song)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "Hello\nIt's me" {
			t.Errorf("unexpected plain lyrics %q", lyrics)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename(`AC/DC: "T.N.T"?`); got != "AC-DC- -T.N.T--" {
		t.Errorf("unexpected filename %q", got)
	}
}
