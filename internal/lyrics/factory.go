package lyrics

import (
	"fmt"
	"strings"

	"singalong/pkg/genius"
	"singalong/pkg/lrclib"
	"singalong/pkg/music"
	"singalong/pkg/netease"
)

// ManagerOptions 创建提供商所需的凭证
type ManagerOptions struct {
	GeniusToken string
}

// CreateProvider 创建音乐提供商客户端
func CreateProvider(provider music.Provider, opts ManagerOptions) (music.MusicAPI, error) {
	switch provider {
	case music.ProviderLRCLib:
		return lrclib.NewClient(), nil
	case music.ProviderGenius:
		if opts.GeniusToken == "" {
			return nil, fmt.Errorf("genius provider requires an access token")
		}
		return genius.NewClient(opts.GeniusToken), nil
	case music.ProviderNetEase:
		return netease.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown music provider: %s", provider)
	}
}

// CreateDefaultManager 按优先级创建音乐API管理器，无法创建的提供商会被跳过
func CreateDefaultManager(opts ManagerOptions) (*music.Manager, error) {
	var providers []music.MusicAPI
	for _, providerType := range GetAvailableProviders() {
		provider, err := CreateProvider(providerType, opts)
		if err != nil {
			logger.Warn().Str("provider", string(providerType)).Err(err).Msg("Failed to create provider")
			continue
		}
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers available")
	}
	return music.NewManager(providers), nil
}

// GetAvailableProviders 获取所有可用的提供商（按优先级）
func GetAvailableProviders() []music.Provider {
	return []music.Provider{
		music.ProviderLRCLib,
		music.ProviderGenius,
		music.ProviderNetEase,
	}
}

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (music.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lrclib":
		return music.ProviderLRCLib, nil
	case "genius":
		return music.ProviderGenius, nil
	case "netease", "网易云", "163":
		return music.ProviderNetEase, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s", name)
	}
}
