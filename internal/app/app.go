package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"singalong/internal/audio"
	"singalong/internal/config"
	"singalong/internal/ipc"
	"singalong/internal/lyrics"
	"singalong/internal/recognize"
	"singalong/internal/session"
	"singalong/internal/statusbar"
	"singalong/pkg/acrcloud"
	"singalong/pkg/ai"
	"singalong/pkg/ai/gemini"
	"singalong/pkg/ai/openai"
	"singalong/pkg/redis"
	"singalong/pkg/search"
	"singalong/pkg/songcache"
	"singalong/tencent"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// LyricsSource 歌词查询和媒体标题解析
type LyricsSource interface {
	ResolveSong(ctx context.Context, mediaTitle string) (lyrics.SongInfo, error)
	GetPlainLyrics(ctx context.Context, song lyrics.SongInfo) (string, error)
}

// Translator 歌词翻译
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// Deps 应用依赖，除 Lyrics 外都可以为 nil
type Deps struct {
	Lyrics     LyricsSource
	Searcher   search.Searcher
	Recognizer *recognize.Service
	Translator Translator
	Statusbar  *statusbar.Notifier
	Store      session.Store
}

// clientState 每个连接的状态
type clientState struct {
	session    *session.Session
	candidates []search.Candidate
	recording  *audio.Buffer
}

type App struct {
	cfg      *config.Config
	deps     Deps
	server   *ipc.Server
	registry *session.Registry
	closers  []func()

	mu      sync.Mutex
	clients map[string]*clientState
}

// New 按配置创建所有依赖，可选组件初始化失败时只记录警告
func New(cfg *config.Config) *App {
	// 设置 zerolog 的全局配置
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var closers []func()
	ctx := context.Background()

	var store session.Store = session.NopStore{}
	var kv lyrics.KV
	if redisClient, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, sessions will not survive restarts")
	} else {
		kv = redisClient
		store = session.NewRedisStore(redisClient, cfg.App.SessionTTL)
		closers = append(closers, func() { redisClient.Close() })
	}

	aiClient := newAIClient(ctx, cfg.AI, &closers)

	songCache, err := songcache.Open(filepath.Join(cfg.App.CacheDir, "songs"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open song cache")
		songCache = nil
	}

	manager, err := lyrics.CreateDefaultManager(lyrics.ManagerOptions{GeniusToken: cfg.Genius.Token})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create music manager")
	}
	log.Info().Strs("providers", manager.GetProviderNames()).Msg("Lyrics providers")

	lyricsProvider, err := lyrics.NewProvider(lyrics.Options{
		CacheDir:  filepath.Join(cfg.App.CacheDir, "lyrics"),
		AI:        aiClient,
		Manager:   manager,
		KV:        kv,
		SongCache: songCache,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create lyrics provider")
	}

	deps := Deps{Lyrics: lyricsProvider, Store: store}

	if cfg.YouTube.APIKey != "" {
		yt, err := search.NewYouTube(ctx, cfg.YouTube.APIKey, cfg.YouTube.Limit)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create YouTube search client")
		} else {
			deps.Searcher = yt
		}
	}

	var fingerprinter recognize.Fingerprinter
	if cfg.ACRCloud.Enabled() {
		fingerprinter = acrcloud.NewClient(acrcloud.Config{
			Host:         cfg.ACRCloud.Host,
			AccessKey:    cfg.ACRCloud.AccessKey,
			AccessSecret: cfg.ACRCloud.AccessSecret,
			Timeout:      cfg.ACRCloud.Timeout,
		})
	}
	recognizeOpts := recognize.Options{}
	if cfg.Tencent.Enabled() {
		tc, err := tencent.NewClient(cfg.Tencent.SecretID, cfg.Tencent.SecretKey)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Tencent Cloud client")
		} else {
			deps.Translator = tc
			recognizeOpts.Transcriber = tc
			if aiClient != nil {
				recognizeOpts.Guesser = lyricsProvider
			}
		}
	}
	deps.Recognizer = recognize.New(fingerprinter, recognizeOpts)

	if cfg.App.Statusbar {
		deps.Statusbar = statusbar.NewNotifier(statusbar.DefaultPath)
	}

	a := newApp(cfg, deps)
	a.closers = closers
	return a
}

func newAIClient(ctx context.Context, cfg config.AIConfig, closers *[]func()) ai.AiInterface {
	if cfg.APIKey == "" {
		log.Warn().Msg("No AI API key configured, media titles are resolved heuristically")
		return nil
	}
	if cfg.ModuleName == "gemini" {
		g, err := gemini.NewGemini(ctx, cfg.APIKey, "")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Gemini client")
			return nil
		}
		*closers = append(*closers, func() { g.Close() })
		return g
	}
	return openai.NewOpenAi(cfg.APIKey, cfg.ModuleName, cfg.BaseURL)
}

func newApp(cfg *config.Config, deps Deps) *App {
	if deps.Recognizer == nil {
		deps.Recognizer = recognize.New(nil, recognize.Options{})
	}
	a := &App{
		cfg:  cfg,
		deps: deps,
		registry: session.NewRegistry(deps.Store, session.Options{
			TickInterval: cfg.App.TickInterval,
			LineDuration: cfg.App.LineDuration,
			FontScale:    cfg.App.FontScale,
		}),
		clients: make(map[string]*clientState),
	}
	a.server = ipc.NewServer(cfg.App.SocketPath, a)
	return a
}

// Start 启动 IPC 服务和状态栏
func (a *App) Start() error {
	if err := a.server.Start(); err != nil {
		return err
	}
	if a.deps.Statusbar != nil {
		if err := a.deps.Statusbar.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start status bar notifier")
		}
	}
	return nil
}

// Shutdown 保存会话并释放资源
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.server.Broadcast(ipc.MessageReply("", "Server is shutting down"))
	a.server.Close()
	a.registry.CloseAll(ctx)

	if a.deps.Statusbar != nil {
		a.deps.Statusbar.Stop()
		a.deps.Statusbar.Remove()
	}
	for _, c := range a.closers {
		c()
	}
	log.Info().Msg("Shutdown complete")
}

// Run 阻塞直到收到 SIGINT 或 SIGTERM
func (a *App) Run() {
	if err := os.MkdirAll(a.cfg.App.CacheDir, 0755); err != nil {
		log.Fatal().Err(err).Str("cache_dir", a.cfg.App.CacheDir).Msg("Failed to create cache directory")
	}
	log.Info().Str("cache_dir", a.cfg.App.CacheDir).Msg("Cache directory")

	if err := a.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start IPC server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("Signal received, shutting down")
	a.Shutdown()
}
