package filter

import "strings"

// 遥测与统计类流量，目录生成与清理阶段跳过（原始捕获不受影响）
var defaultSkips = []string{
	"*google-analytics.com*",
	"*googletagmanager.com*",
	"*doubleclick.net*",
	"*/gen_204*",
	"*/log_event*",
	"*/telemetry/*",
	"*/beacon/*",
	"*sentry.io*",
	"*segment.io*",
	"*.woff", "*.woff2", "*.ttf",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.ico",
	"*.css",
}

type Noise struct {
	patterns []string
}

func NewNoise(extra ...string) *Noise {
	return &Noise{patterns: append(append([]string{}, defaultSkips...), extra...)}
}

// Skip 判断 URL 是否属于噪声流量
func (n *Noise) Skip(url string) bool {
	for _, p := range n.patterns {
		if glob(url, p) {
			return true
		}
	}
	return false
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
