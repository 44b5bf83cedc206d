package app

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"singalong/internal/audio"
	"singalong/internal/config"
	"singalong/internal/ipc"
	"singalong/internal/lyrics"
	"singalong/internal/session"
	"singalong/pkg/search"
)

type fakeLyrics struct {
	songs map[string]string
}

func (f *fakeLyrics) ResolveSong(ctx context.Context, mediaTitle string) (lyrics.SongInfo, error) {
	title, artist, ok := strings.Cut(mediaTitle, " by ")
	if !ok {
		return lyrics.SongInfo{}, lyrics.ErrNotASong
	}
	return lyrics.SongInfo{Title: title, Artist: artist, IsSong: true}, nil
}

func (f *fakeLyrics) GetPlainLyrics(ctx context.Context, song lyrics.SongInfo) (string, error) {
	text, ok := f.songs[song.Title]
	if !ok {
		return "", lyrics.ErrNotFound
	}
	return text, nil
}

type fakeSearcher struct{}

func (fakeSearcher) Search(ctx context.Context, query string) ([]search.Candidate, error) {
	if query == "nothing" {
		return nil, search.ErrNoResults
	}
	return []search.Candidate{
		{ID: "v1", Title: "Hello by Adele", Channel: "AdeleVEVO", URL: search.WatchURL("v1")},
		{ID: "v2", Title: "Cooking show", Channel: "Food", URL: search.WatchURL("v2")},
	}, nil
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	return target + ":" + strings.ToUpper(text), nil
}

func startApp(t *testing.T, deps Deps) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "app")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.App.SocketPath = filepath.Join(dir, "s.sock")
	cfg.App.CacheDir = dir
	cfg.App.TickInterval = 10 * time.Millisecond

	if deps.Lyrics == nil {
		deps.Lyrics = &fakeLyrics{songs: map[string]string{"Hello": "Hello, it's me\nI was wondering"}}
	}
	a := newApp(cfg, deps)
	if err := a.Start(); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return cfg.App.SocketPath
}

type conn struct {
	net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, path string) *conn {
	t.Helper()
	c, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &conn{Conn: c, reader: bufio.NewReader(c)}
}

func (c *conn) send(t *testing.T, req ipc.Request) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(append(data, '\n')); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

type reply struct {
	Type       string        `json:"type"`
	Cmd        string        `json:"cmd"`
	Frame      session.Frame `json:"frame"`
	Message    string        `json:"message"`
	Candidates []Candidate   `json:"candidates"`
	Error      string        `json:"error"`
}

// until 读取回复直到满足条件
func (c *conn) until(t *testing.T, match func(reply) bool) reply {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var r reply
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("invalid reply %q: %v", line, err)
		}
		if match(r) {
			return r
		}
	}
}

func isError(r reply) bool { return r.Type == ipc.TypeError }

func frameWith(pred func(session.Frame) bool) func(reply) bool {
	return func(r reply) bool { return r.Type == ipc.TypeFrame && pred(r.Frame) }
}

func intPtr(i int) *int { return &i }

func TestPlaybackCommands(t *testing.T) {
	path := startApp(t, Deps{})
	c := dial(t, path)

	first := c.until(t, func(r reply) bool { return r.Type == ipc.TypeFrame })
	if first.Frame.SessionID == "" || first.Frame.Total != 0 {
		t.Fatalf("unexpected initial frame %+v", first.Frame)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdLoad, Text: "   "})
	if r := c.until(t, isError); r.Error != "Please enter some lyrics first" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdLoad, Text: "L0\nL1\n\nL2"})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "L0" && f.Total == 3 }))

	c.send(t, ipc.Request{Cmd: ipc.CmdGoto})
	if r := c.until(t, isError); r.Cmd != ipc.CmdGoto {
		t.Errorf("unexpected error reply %+v", r)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdGoto, Index: intPtr(2)})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "L2" && f.Previous == "L1" }))

	c.send(t, ipc.Request{Cmd: ipc.CmdPrevious})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "L1" }))

	c.send(t, ipc.Request{Cmd: ipc.CmdSettings, LineDuration: 2, FontScale: 1.5})
	c.until(t, frameWith(func(f session.Frame) bool { return f.LineDuration == 2 && f.FontScale == 1.5 }))

	c.send(t, ipc.Request{Cmd: ipc.CmdStart})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Playing && f.Current == "L0" }))

	c.send(t, ipc.Request{Cmd: ipc.CmdPause})
	c.until(t, frameWith(func(f session.Frame) bool { return !f.Playing }))

	c.send(t, ipc.Request{Cmd: ipc.CmdStatus})
	r := c.until(t, func(r reply) bool { return r.Type == ipc.TypeFrame })
	if r.Frame.SessionID != first.Frame.SessionID {
		t.Errorf("status returned a different session %s", r.Frame.SessionID)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdStop})
	c.until(t, frameWith(func(f session.Frame) bool { return !f.Playing && f.Current == "L0" && f.Elapsed == "0:00:00" }))

	c.send(t, ipc.Request{Cmd: "dance"})
	if r := c.until(t, isError); !strings.Contains(r.Error, "unknown command") {
		t.Errorf("unexpected error %q", r.Error)
	}
}

func TestLoadFile(t *testing.T) {
	path := startApp(t, Deps{})
	c := dial(t, path)

	lrc := filepath.Join(t.TempDir(), "song.lrc")
	if err := os.WriteFile(lrc, []byte("[ti:Song]\n[00:01.00]First\n[00:05.00]Second\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c.send(t, ipc.Request{Cmd: ipc.CmdLoadFile, Path: lrc})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "First" && f.Next == "Second" && f.Total == 2 }))

	c.send(t, ipc.Request{Cmd: ipc.CmdLoadFile, Path: filepath.Join(t.TempDir(), "missing.txt")})
	c.until(t, isError)
}

func TestSearchSelectFlow(t *testing.T) {
	path := startApp(t, Deps{Searcher: fakeSearcher{}})
	c := dial(t, path)

	c.send(t, ipc.Request{Cmd: ipc.CmdSelect, Index: intPtr(0)})
	if r := c.until(t, isError); r.Error != "search for a song first" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdSearch, Query: "nothing"})
	if r := c.until(t, isError); r.Error != "No songs found" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdSearch, Query: "hello adele"})
	r := c.until(t, func(r reply) bool { return r.Type == ipc.TypeCandidates })
	if len(r.Candidates) != 2 || r.Candidates[0].Label != "Hello by Adele - AdeleVEVO" {
		t.Fatalf("unexpected candidates %+v", r.Candidates)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdSelect, Index: intPtr(0)})
	f := c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "Hello, it's me" }))
	if f.Frame.Song.Title != "Hello" || f.Frame.Song.Artist != "Adele" || f.Frame.Song.VideoURL != search.WatchURL("v1") {
		t.Errorf("unexpected song %+v", f.Frame.Song)
	}
	if m := c.until(t, func(r reply) bool { return r.Type == ipc.TypeMessage }); !strings.Contains(m.Message, "Hello - Adele") {
		t.Errorf("unexpected message %q", m.Message)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdSelect, Index: intPtr(1)})
	if r := c.until(t, isError); r.Error != "That doesn't look like a song" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdSelect, Index: intPtr(9)})
	c.until(t, isError)
}

func TestLyricsAndTranslate(t *testing.T) {
	path := startApp(t, Deps{Translator: fakeTranslator{}})
	c := dial(t, path)

	c.send(t, ipc.Request{Cmd: ipc.CmdTranslate})
	if r := c.until(t, isError); r.Error != "no lyrics loaded" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdLyrics, Title: "Unknown"})
	if r := c.until(t, isError); !strings.HasPrefix(r.Error, "Lyrics not found") {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdLyrics, Title: "Hello", Artist: "Adele"})
	c.until(t, frameWith(func(f session.Frame) bool { return f.Current == "Hello, it's me" }))

	c.send(t, ipc.Request{Cmd: ipc.CmdTranslate, Target: "zh"})
	r := c.until(t, func(r reply) bool { return r.Type == ipc.TypeMessage && r.Cmd == ipc.CmdTranslate })
	if r.Message != "zh:HELLO, IT'S ME\nI WAS WONDERING" {
		t.Errorf("unexpected translation %q", r.Message)
	}
}

func TestRecording(t *testing.T) {
	path := startApp(t, Deps{})
	c := dial(t, path)

	c.send(t, ipc.Request{Cmd: ipc.CmdRecordChunk, Data: "AAAA"})
	if r := c.until(t, isError); r.Error != "no recording in progress" {
		t.Errorf("unexpected error %q", r.Error)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStart})
	c.until(t, func(r reply) bool { return r.Type == ipc.TypeMessage && r.Cmd == ipc.CmdRecordStart })

	c.send(t, ipc.Request{Cmd: ipc.CmdRecordChunk, Data: "not base64!"})
	c.until(t, isError)

	chunk := base64.StdEncoding.EncodeToString(make([]byte, 16000))
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordChunk, Data: chunk})
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStop})
	if r := c.until(t, isError); r.Cmd != ipc.CmdRecordStop || !strings.Contains(r.Error, "too short") {
		t.Errorf("unexpected error %+v", r)
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStop})
	if r := c.until(t, isError); r.Error != "no recording in progress" {
		t.Errorf("unexpected error %q", r.Error)
	}
}

func TestRecordStartDiscardsPreviousAudio(t *testing.T) {
	path := startApp(t, Deps{})
	c := dial(t, path)

	pcm := func(d time.Duration) string {
		return base64.StdEncoding.EncodeToString(make([]byte, audio.PCMBytes(d)))
	}

	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStart})
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordChunk, Data: pcm(2 * time.Second)})
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStart})
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordChunk, Data: pcm(2 * time.Second)})
	c.send(t, ipc.Request{Cmd: ipc.CmdRecordStop})

	// 两段加起来超过 3 秒，只有丢弃了第一段才会报太短
	if r := c.until(t, isError); !strings.Contains(r.Error, "too short") {
		t.Errorf("restarting the recording should drop earlier audio, got %q", r.Error)
	}
}

func TestRecordChunkLimit(t *testing.T) {
	a := &App{}
	st := &clientState{recording: &audio.Buffer{}}
	st.recording.Append(make([]byte, audio.MaxUploadBytes-8))

	if err := a.recordChunk(st, base64.StdEncoding.EncodeToString(make([]byte, 8))); err != nil {
		t.Fatalf("chunk up to the limit should be accepted, got %v", err)
	}
	err := a.recordChunk(st, base64.StdEncoding.EncodeToString(make([]byte, 2)))
	if !errors.Is(err, audio.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if st.recording.Len() != audio.MaxUploadBytes {
		t.Errorf("rejected chunk must not be buffered, have %d bytes", st.recording.Len())
	}
}

func TestLyricsWithoutLines(t *testing.T) {
	path := startApp(t, Deps{Lyrics: &fakeLyrics{songs: map[string]string{"Tags only": "  \n "}}})
	c := dial(t, path)

	c.send(t, ipc.Request{Cmd: ipc.CmdLyrics, Title: "Tags only", Artist: "Nobody"})
	r := c.until(t, isError)
	if !strings.HasPrefix(r.Error, "Lyrics not found") {
		t.Errorf("empty provider lyrics should read as not found, got %q", r.Error)
	}
}

func TestDisconnectKeepsSharedSession(t *testing.T) {
	path := startApp(t, Deps{})
	a := dial(t, path)
	b := dial(t, path)

	id := a.until(t, func(r reply) bool { return r.Type == ipc.TypeFrame }).Frame.SessionID
	a.send(t, ipc.Request{Cmd: ipc.CmdLoad, Text: "L0\nL1"})
	a.until(t, frameWith(func(f session.Frame) bool { return f.Total == 2 }))

	b.send(t, ipc.Request{Cmd: ipc.CmdAttach, SessionID: id})
	b.until(t, frameWith(func(f session.Frame) bool { return f.SessionID == id && f.Total == 2 }))

	a.Close()
	time.Sleep(50 * time.Millisecond)
	// b 仍然在会话上，命令继续生效并推送帧
	b.send(t, ipc.Request{Cmd: ipc.CmdNext})
	b.until(t, frameWith(func(f session.Frame) bool { return f.SessionID == id && f.Current == "L1" }))
	b.send(t, ipc.Request{Cmd: ipc.CmdStart})
	b.until(t, frameWith(func(f session.Frame) bool { return f.SessionID == id && f.Playing }))
}

func TestAttachSharesSession(t *testing.T) {
	path := startApp(t, Deps{})
	a := dial(t, path)
	first := a.until(t, func(r reply) bool { return r.Type == ipc.TypeFrame })
	id := first.Frame.SessionID

	a.send(t, ipc.Request{Cmd: ipc.CmdLoad, Text: "x\ny"})
	a.until(t, frameWith(func(f session.Frame) bool { return f.Current == "x" }))

	b := dial(t, path)
	b.until(t, func(r reply) bool { return r.Type == ipc.TypeFrame })
	b.send(t, ipc.Request{Cmd: ipc.CmdAttach, SessionID: id})
	b.until(t, frameWith(func(f session.Frame) bool { return f.SessionID == id && f.Current == "x" }))

	// 任一客户端的命令都会推送给所有客户端
	b.send(t, ipc.Request{Cmd: ipc.CmdNext})
	a.until(t, frameWith(func(f session.Frame) bool { return f.Current == "y" }))

	b.send(t, ipc.Request{Cmd: ipc.CmdAttach, SessionID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"})
	if r := b.until(t, isError); r.Error != "Session not found or expired" {
		t.Errorf("unexpected error %q", r.Error)
	}
}

func TestUserMessage(t *testing.T) {
	if got := userMessage(errors.New("plain")); got != "plain" {
		t.Errorf("unexpected message %q", got)
	}
	if got := userMessage(context.DeadlineExceeded); !strings.Contains(got, "timed out") {
		t.Errorf("unexpected message %q", got)
	}
}
