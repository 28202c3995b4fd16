package cleanup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiatlas/internal/config"
	"apiatlas/internal/registry"
	"apiatlas/pkg/traffic"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func writeSessionLog(t *testing.T, cfg *config.Config, session string, exchanges []*traffic.Exchange) {
	t.Helper()
	require.NoError(t, cfg.EnsureAppDirs("shop"))
	f, err := os.Create(filepath.Join(cfg.CapturesDir("shop"), session+".jsonl"))
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for _, ex := range exchanges {
		require.NoError(t, enc.Encode(ex))
	}
	require.NoError(t, f.Close())
}

func readLogLines(t *testing.T, cfg *config.Config, session string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(cfg.CapturesDir("shop"), session+".jsonl"))
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func bodyExchange(url, body string) *traffic.Exchange {
	ex := traffic.NewExchange(traffic.KindRequestResponse)
	ex.Method = "GET"
	ex.URL = url
	ex.Status = 200
	ex.ResponseBody = body
	return ex
}

// 采样充分模式的正文在历史会话中被裁剪，当前会话不动
func TestTrimCaptures(t *testing.T) {
	cfg := testConfig(t)
	old := "2026-01-01T09-00"
	current := "2026-01-01T10-00"
	body := `{"data":"` + strings.Repeat("x", 100) + `"}`

	writeSessionLog(t, cfg, old, []*traffic.Exchange{
		bodyExchange("https://shop.example.com/api/products/1", body),
		bodyExchange("https://shop.example.com/api/rare", body),
	})
	writeSessionLog(t, cfg, current, []*traffic.Exchange{
		bodyExchange("https://shop.example.com/api/products/2", body),
	})

	wellSampled := map[string]struct{}{"GET /api/products/{id}": {}}
	require.NoError(t, TrimCaptures(cfg, "shop", current, wellSampled, nil))

	oldLines := readLogLines(t, cfg, old)
	require.Len(t, oldLines, 2)
	assert.Contains(t, oldLines[0], fmt.Sprintf("[trimmed: %d bytes]", len(body)))
	// 未充分采样的模式不裁剪
	assert.Contains(t, oldLines[1], `\"data\"`)
	assert.NotContains(t, oldLines[1], "[trimmed")

	// 当前会话原样保留
	curLines := readLogLines(t, cfg, current)
	assert.Contains(t, curLines[0], `\"data\"`)
	assert.NotContains(t, curLines[0], "[trimmed")
}

// 已裁剪过的行保持幂等
func TestTrimCapturesIdempotent(t *testing.T) {
	cfg := testConfig(t)
	old := "2026-01-01T09-00"
	writeSessionLog(t, cfg, old, []*traffic.Exchange{
		bodyExchange("https://shop.example.com/api/products/1", `{"a":1}`),
	})
	wellSampled := map[string]struct{}{"GET /api/products/{id}": {}}

	require.NoError(t, TrimCaptures(cfg, "shop", "2026-01-01T10-00", wellSampled, nil))
	first := readLogLines(t, cfg, old)
	require.NoError(t, TrimCaptures(cfg, "shop", "2026-01-01T10-00", wellSampled, nil))
	assert.Equal(t, first, readLogLines(t, cfg, old))
}

// 从未出现认证请求的域名被收缩，主域名始终保留
func TestCleanDomains(t *testing.T) {
	cfg := testConfig(t)
	reg := registry.New(cfg, nil)
	_, err := reg.Create("shop", "shop.example.com")
	require.NoError(t, err)
	require.NoError(t, reg.AddDomain("shop", "api.example.com"))
	require.NoError(t, reg.AddDomain("shop", "tracker.example.com"))

	authed := bodyExchange("https://api.example.com/v1/me", `{}`)
	authed.RequestHeaders.Set("Cookie", "session=abc")
	anon := bodyExchange("https://tracker.example.com/ping", `{}`)
	writeSessionLog(t, cfg, "2026-01-01T09-00", []*traffic.Exchange{authed, anon})

	require.NoError(t, CleanDomains(cfg, reg, "shop", nil))

	profile, err := reg.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.example.com", "api.example.com"}, profile.Domains)
}
