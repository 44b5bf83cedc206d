package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"singalong/internal/audio"
	"singalong/internal/ipc"
	"singalong/internal/lyrics"
	"singalong/internal/playback"
	"singalong/internal/player"
	"singalong/internal/recognize"
	"singalong/internal/session"
	"singalong/pkg/search"

	"github.com/rs/zerolog/log"
)

const (
	commandTimeout  = 60 * time.Second
	saveTimeout     = 2 * time.Second
	maxLyricsFile   = 1 << 20
	defaultLanguage = "en"
)

var (
	errNoSearch      = errors.New("song search is not configured")
	errNoTranslator  = errors.New("translation is not configured")
	errNotRecording  = errors.New("no recording in progress")
	errNoCandidates  = errors.New("search for a song first")
	errBadCandidate  = errors.New("no such search result")
	errMissingIndex  = errors.New("missing line index")
	errMissingField  = errors.New("missing required field")
	errUnknownCmd    = errors.New("unknown command")
	errNothingLoaded = errors.New("no lyrics loaded")
)

// Candidate 发给客户端的搜索结果
type Candidate struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Connected 每个新客户端分配一个新会话
func (a *App) Connected(c *ipc.Client) {
	s := a.registry.Open()

	a.mu.Lock()
	a.clients[c.ID()] = &clientState{session: s}
	a.mu.Unlock()

	s.Subscribe(c.ID(), a.sinkFor(c))
}

// Disconnected 最后一个客户端离开时关闭会话并保存快照
func (a *App) Disconnected(c *ipc.Client) {
	a.mu.Lock()
	state, ok := a.clients[c.ID()]
	delete(a.clients, c.ID())
	a.mu.Unlock()
	if !ok {
		return
	}
	a.detach(c, state.session)
}

func (a *App) detach(c *ipc.Client, s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := a.registry.Release(ctx, s, c.ID()); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID()).Msg("Failed to save session")
	}
}

func (a *App) sinkFor(c *ipc.Client) session.Sink {
	return func(f session.Frame) {
		if err := c.Send(ipc.FrameReply(f)); err != nil {
			log.Debug().Err(err).Str("client_id", c.ID()).Msg("Failed to push frame")
		}
		if a.deps.Statusbar != nil {
			if err := a.deps.Statusbar.Show(f.Current); err != nil {
				log.Debug().Err(err).Msg("Failed to update status bar")
			}
		}
	}
}

func (a *App) state(c *ipc.Client) *clientState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clients[c.ID()]
}

// Handle 执行一条命令。第三方调用的错误都转成 error 回复
func (a *App) Handle(ctx context.Context, c *ipc.Client, req ipc.Request) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	st := a.state(c)
	if st == nil {
		return
	}

	logger := log.With().Str("client_id", c.ID()).Str("cmd", req.Cmd).Logger()
	logger.Debug().Msg("Command received")

	if err := a.dispatch(ctx, c, st, req); err != nil {
		logger.Warn().Err(err).Msg("Command failed")
		if sendErr := c.Send(ipc.ErrorReply(req.Cmd, errors.New(userMessage(err)))); sendErr != nil {
			logger.Debug().Err(sendErr).Msg("Failed to send error reply")
		}
	}
}

func (a *App) dispatch(ctx context.Context, c *ipc.Client, st *clientState, req ipc.Request) error {
	s := st.session

	switch req.Cmd {
	case ipc.CmdAttach:
		return a.attach(ctx, c, st, req.SessionID)
	case ipc.CmdLoad:
		if _, err := s.Load(req.Text); err != nil {
			return err
		}
		a.save(s)
	case ipc.CmdLoadFile:
		return a.loadFile(s, req.Path)
	case ipc.CmdStart:
		s.Start()
	case ipc.CmdPause:
		s.Pause()
	case ipc.CmdStop:
		s.Stop()
	case ipc.CmdReset:
		s.Reset()
	case ipc.CmdNext:
		s.Next()
	case ipc.CmdPrevious:
		s.Previous()
	case ipc.CmdGoto:
		if req.Index == nil {
			return errMissingIndex
		}
		s.GoTo(*req.Index)
	case ipc.CmdSettings:
		s.UpdateSettings(time.Duration(req.LineDuration*float64(time.Second)), req.FontScale)
		a.save(s)
	case ipc.CmdStatus:
		return c.Send(ipc.FrameReply(s.Frame()))
	case ipc.CmdSearch:
		return a.search(ctx, c, st, req.Query)
	case ipc.CmdSelect:
		return a.selectCandidate(ctx, c, st, req.Index)
	case ipc.CmdLyrics:
		if strings.TrimSpace(req.Title) == "" {
			return fmt.Errorf("title: %w", errMissingField)
		}
		return a.loadLyrics(ctx, c, s, lyrics.SongInfo{Title: req.Title, Artist: req.Artist, IsSong: true}, "")
	case ipc.CmdRecognize:
		return a.recognizeFile(ctx, c, s, req.Path)
	case ipc.CmdRecordStart:
		if st.recording != nil {
			st.recording.Reset()
		} else {
			st.recording = &audio.Buffer{}
		}
		return c.Send(ipc.MessageReply(req.Cmd, "Recording started"))
	case ipc.CmdRecordChunk:
		return a.recordChunk(st, req.Data)
	case ipc.CmdRecordStop:
		return a.recordStop(ctx, c, st)
	case ipc.CmdNowPlaying:
		return a.nowPlaying(ctx, c, s)
	case ipc.CmdTranslate:
		return a.translate(ctx, c, s, req.Target)
	default:
		return fmt.Errorf("%q: %w", req.Cmd, errUnknownCmd)
	}
	return nil
}

func (a *App) attach(ctx context.Context, c *ipc.Client, st *clientState, id string) error {
	if id == st.session.ID() {
		return c.Send(ipc.FrameReply(st.session.Frame()))
	}
	next, err := a.registry.Attach(ctx, id, c.ID(), a.sinkFor(c))
	if err != nil {
		return err
	}

	prev := st.session
	a.mu.Lock()
	st.session = next
	a.mu.Unlock()

	a.detach(c, prev)
	return nil
}

func (a *App) save(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := a.registry.Save(ctx, s); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID()).Msg("Failed to save session")
	}
}

// loadFile 读取上传的歌词文件，LRC 时间戳会被去掉
func (a *App) loadFile(s *session.Session, path string) error {
	if path == "" {
		return fmt.Errorf("path: %w", errMissingField)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to open lyrics file: %w", err)
	}
	if info.Size() > maxLyricsFile {
		return fmt.Errorf("lyrics file is too large (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read lyrics file: %w", err)
	}
	if _, err := s.Load(lyrics.PlainText(string(data))); err != nil {
		return err
	}
	a.save(s)
	return nil
}

func (a *App) search(ctx context.Context, c *ipc.Client, st *clientState, query string) error {
	if a.deps.Searcher == nil {
		return errNoSearch
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query: %w", errMissingField)
	}

	results, err := a.deps.Searcher.Search(ctx, query)
	if err != nil {
		return err
	}
	st.candidates = results

	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{Index: i, Label: r.Label(), Title: r.Title, URL: r.URL}
	}
	return c.Send(ipc.CandidatesReply(out))
}

// selectCandidate 选中搜索结果：记录视频地址，解析歌名并加载歌词
func (a *App) selectCandidate(ctx context.Context, c *ipc.Client, st *clientState, index *int) error {
	if len(st.candidates) == 0 {
		return errNoCandidates
	}
	if index == nil {
		return errMissingIndex
	}
	if *index < 0 || *index >= len(st.candidates) {
		return fmt.Errorf("%d: %w", *index, errBadCandidate)
	}
	candidate := st.candidates[*index]

	s := st.session
	s.SetSong(session.Song{Title: candidate.Title, VideoURL: candidate.URL})

	info, err := a.deps.Lyrics.ResolveSong(ctx, candidate.Title)
	if err != nil {
		return err
	}
	return a.loadLyrics(ctx, c, s, info, candidate.URL)
}

func (a *App) loadLyrics(ctx context.Context, c *ipc.Client, s *session.Session, info lyrics.SongInfo, videoURL string) error {
	text, err := a.deps.Lyrics.GetPlainLyrics(ctx, info)
	if err != nil {
		return err
	}
	if _, err := s.LoadSong(text, session.Song{Title: info.Title, Artist: info.Artist, VideoURL: videoURL}); err != nil {
		// 只有时间标签的 LRC 去掉标签后为空
		if errors.Is(err, playback.ErrEmptyInput) {
			return fmt.Errorf("%s has no lyric lines: %w", info, lyrics.ErrNotFound)
		}
		return err
	}
	a.save(s)
	return c.Send(ipc.MessageReply(ipc.CmdLyrics, fmt.Sprintf("Loaded lyrics for %s", info)))
}

func (a *App) recognizeFile(ctx context.Context, c *ipc.Client, s *session.Session, path string) error {
	if path == "" {
		return fmt.Errorf("path: %w", errMissingField)
	}
	file, err := audio.OpenFile(path)
	if err != nil {
		return err
	}
	result, err := a.deps.Recognizer.RecognizeFile(ctx, s.ID(), file)
	if err != nil {
		return err
	}
	return a.loadRecognized(ctx, c, s, result)
}

func (a *App) recordChunk(st *clientState, data string) error {
	if st.recording == nil {
		return errNotRecording
	}
	chunk, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("invalid audio chunk: %w", err)
	}
	if st.recording.Len()+len(chunk) > audio.MaxUploadBytes {
		return fmt.Errorf("recording exceeds %d bytes: %w", audio.MaxUploadBytes, audio.ErrFileTooLarge)
	}
	st.recording.Append(chunk)
	return nil
}

func (a *App) recordStop(ctx context.Context, c *ipc.Client, st *clientState) error {
	if st.recording == nil {
		return errNotRecording
	}
	pcm := st.recording.Drain()
	st.recording = nil

	result, err := a.deps.Recognizer.RecognizePCM(ctx, st.session.ID(), pcm)
	if err != nil {
		return err
	}
	return a.loadRecognized(ctx, c, st.session, result)
}

func (a *App) loadRecognized(ctx context.Context, c *ipc.Client, s *session.Session, result recognize.Result) error {
	if err := c.Send(ipc.MessageReply(ipc.CmdRecognize, fmt.Sprintf("Recognized: %s - %s", result.Title, result.Artist))); err != nil {
		return err
	}
	info := lyrics.SongInfo{Title: result.Title, Artist: result.Artist, Duration: result.Duration, IsSong: true}
	return a.loadLyrics(ctx, c, s, info, "")
}

func (a *App) nowPlaying(ctx context.Context, c *ipc.Client, s *session.Session) error {
	track, err := player.CurrentTrack(ctx)
	if err != nil {
		return err
	}
	info := lyrics.SongInfo{Title: track.Title, Artist: track.Artist, Duration: track.Length, IsSong: true}
	return a.loadLyrics(ctx, c, s, info, "")
}

func (a *App) translate(ctx context.Context, c *ipc.Client, s *session.Session, target string) error {
	if a.deps.Translator == nil {
		return errNoTranslator
	}
	lines := s.State().Lyrics
	if len(lines) == 0 {
		return errNothingLoaded
	}
	if target == "" {
		target = defaultLanguage
	}
	translated, err := a.deps.Translator.Translate(ctx, strings.Join(lines, "\n"), target)
	if err != nil {
		return err
	}
	return c.Send(ipc.MessageReply(ipc.CmdTranslate, translated))
}

// userMessage 把内部错误转成给用户看的提示
func userMessage(err error) string {
	var tooFrequent *recognize.TooFrequentError
	switch {
	case errors.Is(err, playback.ErrEmptyInput):
		return "Please enter some lyrics first"
	case errors.As(err, &tooFrequent):
		return fmt.Sprintf("Please wait %d seconds before trying again", tooFrequent.Seconds())
	case errors.Is(err, recognize.ErrTooShort):
		return "Recording too short, please record at least 3 seconds"
	case errors.Is(err, recognize.ErrNoMatch):
		return "Could not recognize the song, try again with a clearer recording"
	case errors.Is(err, recognize.ErrDisabled):
		return "Audio recognition is not configured"
	case errors.Is(err, lyrics.ErrNotFound):
		return "Lyrics not found: " + err.Error()
	case errors.Is(err, lyrics.ErrNotASong):
		return "That doesn't look like a song"
	case errors.Is(err, search.ErrNoResults):
		return "No songs found"
	case errors.Is(err, session.ErrUnknownSession):
		return "Session not found or expired"
	case errors.Is(err, player.ErrNoPlayer):
		return "No music playing"
	case errors.Is(err, audio.ErrFileTooLarge):
		return "Audio is too large"
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out, please try again"
	}
	return err.Error()
}
