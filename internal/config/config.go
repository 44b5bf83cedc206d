package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSocketPath   = "/tmp/singalong.sock"
	DefaultTickInterval = 500 * time.Millisecond
	DefaultLineDuration = 4 * time.Second
	DefaultFontScale    = 1.0
	DefaultSessionTTL   = 24 * time.Hour

	appName = "singalong"
)

func getDefaultCacheDir() string {
	// 优先使用 XDG_CACHE_HOME 环境变量
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// 获取不到用户主目录时回退到当前目录
		return appName + "_cache"
	}

	return filepath.Join(homeDir, ".cache", appName)
}

// TomlConfig TOML配置文件结构
type TomlConfig struct {
	App struct {
		SocketPath   string  `toml:"socket_path"`
		TickInterval string  `toml:"tick_interval"`
		CacheDir     string  `toml:"cache_dir"`
		LineDuration float64 `toml:"line_duration"`
		FontScale    float64 `toml:"font_scale"`
		SessionTTL   string  `toml:"session_ttl"`
		Statusbar    bool    `toml:"statusbar"`
	} `toml:"app"`

	AI struct {
		ModuleName string `toml:"module_name"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // for OpenAI
	} `toml:"ai"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	ACRCloud struct {
		Host         string `toml:"host"`
		AccessKey    string `toml:"access_key"`
		AccessSecret string `toml:"access_secret"`
		Timeout      string `toml:"timeout"`
	} `toml:"acrcloud"`

	Genius struct {
		Token string `toml:"token"`
	} `toml:"genius"`

	YouTube struct {
		APIKey string `toml:"api_key"`
		Limit  int64  `toml:"limit"`
	} `toml:"youtube"`

	Tencent struct {
		SecretID  string `toml:"secret_id"`
		SecretKey string `toml:"secret_key"`
	} `toml:"tencent"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath   string
	TickInterval time.Duration
	CacheDir     string
	LineDuration time.Duration
	FontScale    float64
	SessionTTL   time.Duration
	Statusbar    bool
}

// AIConfig AI配置
type AIConfig struct {
	ModuleName string
	APIKey     string
	BaseURL    string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ACRCloudConfig 听歌识曲配置
type ACRCloudConfig struct {
	Host         string
	AccessKey    string
	AccessSecret string
	Timeout      time.Duration
}

// Enabled 三项凭证齐全才启用识曲
func (c ACRCloudConfig) Enabled() bool {
	return c.Host != "" && c.AccessKey != "" && c.AccessSecret != ""
}

// GeniusConfig Genius歌词配置
type GeniusConfig struct {
	Token string
}

// YouTubeConfig 视频搜索配置
type YouTubeConfig struct {
	APIKey string
	Limit  int64
}

// TencentConfig 腾讯云（语音识别、翻译）配置
type TencentConfig struct {
	SecretID  string
	SecretKey string
}

func (c TencentConfig) Enabled() bool {
	return c.SecretID != "" && c.SecretKey != ""
}

// Config 主配置结构
type Config struct {
	App      AppConfig
	AI       AIConfig
	Redis    RedisConfig
	ACRCloud ACRCloudConfig
	Genius   GeniusConfig
	YouTube  YouTubeConfig
	Tencent  TencentConfig
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			SocketPath:   DefaultSocketPath,
			TickInterval: DefaultTickInterval,
			CacheDir:     getDefaultCacheDir(),
			LineDuration: DefaultLineDuration,
			FontScale:    DefaultFontScale,
			SessionTTL:   DefaultSessionTTL,
		},
		AI: AIConfig{
			ModuleName: "gemini",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		ACRCloud: ACRCloudConfig{
			Timeout: 10 * time.Second,
		},
		YouTube: YouTubeConfig{
			Limit: 5,
		},
	}
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot get user home directory")
		return "config.toml"
	}

	return filepath.Join(homeDir, ".config", appName, "config.toml")
}

// loadTomlConfig 加载TOML配置文件，文件不存在时返回空配置
func loadTomlConfig(configPath string) (*TomlConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info().Str("path", configPath).Msg("Config file not found, using defaults")
		return &TomlConfig{}, nil
	}

	var config TomlConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return nil, err
	}

	log.Info().Str("path", configPath).Msg("Loaded config")
	return &config, nil
}

// Load 从默认路径加载配置
func Load() *Config {
	return LoadFile(GetConfigPath())
}

// LoadFile 从指定文件加载配置，解析失败时使用默认配置
func LoadFile(configPath string) *Config {
	tomlConfig, err := loadTomlConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("Failed to load config file, using default configuration")
		tomlConfig = &TomlConfig{}
	}

	config := Default()
	apply(config, tomlConfig)

	if !config.ACRCloud.Enabled() {
		log.Warn().Msg("ACRCloud credentials are not configured; audio recognition is disabled")
	}
	if config.YouTube.APIKey == "" {
		log.Warn().Msg("No YouTube API key configured; song search is disabled")
	}

	return config
}

func parseDuration(field, value string, target *time.Duration) {
	if value == "" {
		return
	}
	duration, err := time.ParseDuration(value)
	if err != nil || duration <= 0 {
		log.Warn().Str("field", field).Str("value", value).Msg("Invalid duration, using default")
		return
	}
	*target = duration
}

// apply 用TOML中的非零值覆盖默认值
func apply(config *Config, t *TomlConfig) {
	if t.App.SocketPath != "" {
		config.App.SocketPath = t.App.SocketPath
	}
	parseDuration("app.tick_interval", t.App.TickInterval, &config.App.TickInterval)
	parseDuration("app.session_ttl", t.App.SessionTTL, &config.App.SessionTTL)
	if t.App.CacheDir != "" {
		config.App.CacheDir = t.App.CacheDir
	}
	if t.App.LineDuration != 0 {
		if t.App.LineDuration < 2 || t.App.LineDuration > 10 {
			log.Warn().Float64("line_duration", t.App.LineDuration).Msg("line_duration must be within [2, 10] seconds, using default")
		} else {
			config.App.LineDuration = time.Duration(t.App.LineDuration * float64(time.Second))
		}
	}
	if t.App.FontScale != 0 {
		if t.App.FontScale < 0.5 || t.App.FontScale > 2 {
			log.Warn().Float64("font_scale", t.App.FontScale).Msg("font_scale must be within [0.5, 2.0], using default")
		} else {
			config.App.FontScale = t.App.FontScale
		}
	}
	config.App.Statusbar = t.App.Statusbar

	if t.AI.ModuleName != "" {
		config.AI.ModuleName = t.AI.ModuleName
	}
	if t.AI.BaseURL != "" {
		config.AI.BaseURL = t.AI.BaseURL
	}
	if t.AI.APIKey != "" {
		config.AI.APIKey = t.AI.APIKey
	}

	if t.Redis.Addr != "" {
		config.Redis.Addr = t.Redis.Addr
	}
	if t.Redis.Password != "" {
		config.Redis.Password = t.Redis.Password
	}
	if t.Redis.DB != 0 {
		config.Redis.DB = t.Redis.DB
	}

	config.ACRCloud.Host = t.ACRCloud.Host
	config.ACRCloud.AccessKey = t.ACRCloud.AccessKey
	config.ACRCloud.AccessSecret = t.ACRCloud.AccessSecret
	parseDuration("acrcloud.timeout", t.ACRCloud.Timeout, &config.ACRCloud.Timeout)

	config.Genius.Token = t.Genius.Token

	config.YouTube.APIKey = t.YouTube.APIKey
	if t.YouTube.Limit > 0 {
		config.YouTube.Limit = t.YouTube.Limit
	}

	config.Tencent.SecretID = t.Tencent.SecretID
	config.Tencent.SecretKey = t.Tencent.SecretKey
}
