package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiatlas/internal/config"
	"apiatlas/pkg/traffic"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func readLines(t *testing.T, path string) []traffic.Exchange {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []traffic.Exchange
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ex traffic.Exchange
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ex))
		out = append(out, ex)
	}
	require.NoError(t, scanner.Err())
	return out
}

// 记录按到达顺序追加到同一会话文件
func TestSinkAppendsInOrder(t *testing.T) {
	cfg := testConfig(t)
	s := NewSink(cfg, nil)
	ts := s.BeginSession("shop")

	var ids []string
	for i := 0; i < 20; i++ {
		ex := traffic.NewExchange(traffic.KindRequestResponse)
		ex.URL = "https://shop.example.com/api"
		ids = append(ids, ex.ID)
		require.NoError(t, s.Accept(ex, "shop"))
	}

	lines := readLines(t, filepath.Join(cfg.CapturesDir("shop"), ts+".jsonl"))
	require.Len(t, lines, 20)
	for i, line := range lines {
		assert.Equal(t, ids[i], line.ID)
	}
}

func TestSinkSessionBoundary(t *testing.T) {
	cfg := testConfig(t)
	s := NewSink(cfg, nil)

	first := s.BeginSession("shop")
	ex := traffic.NewExchange(traffic.KindRequestResponse)
	ex.URL = "https://shop.example.com/a"
	require.NoError(t, s.Accept(ex, "shop"))

	s.EndSession("shop")
	second := s.BeginSession("shop")
	assert.Equal(t, second, s.CurrentSession("shop"))

	ex2 := traffic.NewExchange(traffic.KindRequestResponse)
	ex2.URL = "https://shop.example.com/b"
	require.NoError(t, s.Accept(ex2, "shop"))

	// 两条记录都已落盘
	lines := readLines(t, filepath.Join(cfg.CapturesDir("shop"), first+".jsonl"))
	total := len(lines)
	if second != first {
		lines = readLines(t, filepath.Join(cfg.CapturesDir("shop"), second+".jsonl"))
		total += len(lines)
	}
	assert.Equal(t, 2, total)
}

// 未显式开启会话时使用进程级兜底会话
func TestSinkDefaultSession(t *testing.T) {
	cfg := testConfig(t)
	s := NewSink(cfg, nil)

	ex := traffic.NewExchange(traffic.KindRequestResponse)
	ex.URL = "https://shop.example.com/a"
	require.NoError(t, s.Accept(ex, "shop"))

	entries, err := os.ReadDir(cfg.CapturesDir("shop"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.CurrentSession("shop")+".jsonl", entries[0].Name())
}
