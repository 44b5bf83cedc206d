package ai

import (
	"context"
	"strings"
)

type AiInterface interface {
	Name() string
	HandleText(ctx context.Context, msg string) (string, error)
}

// StripCodeFence 去掉模型回复外层的 markdown 代码块
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
