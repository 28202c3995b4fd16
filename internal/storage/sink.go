package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// SessionTSFormat 会话日志文件名中的时间格式
const SessionTSFormat = "2006-01-02T15-04"

// Sink 捕获落盘：按应用与会话维护只追加的 JSONL 日志，
// 记录一经写入不会被改写或删除
type Sink struct {
	mu       sync.Mutex
	cfg      *config.Config
	log      logger.Logger
	defaults string                        // 进程启动时的兜底会话标识
	sessions map[domain.AppName]string     // 各应用当前会话标识
	closed   map[domain.AppName]struct{}   // 已显式结束会话的应用
}

// NewSink 创建捕获落盘
func NewSink(cfg *config.Config, l logger.Logger) *Sink {
	if l == nil {
		l = logger.NewNop()
	}
	return &Sink{
		cfg:      cfg,
		log:      l,
		defaults: time.Now().UTC().Format(SessionTSFormat),
		sessions: make(map[domain.AppName]string),
		closed:   make(map[domain.AppName]struct{}),
	}
}

// BeginSession 为应用开启新的会话日志边界，返回会话标识
func (s *Sink) BeginSession(app domain.AppName) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := time.Now().UTC().Format(SessionTSFormat)
	s.sessions[app] = ts
	delete(s.closed, app)
	s.log.Info("开启会话日志", "app", string(app), "session", ts)
	return ts
}

// EndSession 结束应用当前会话；已关闭的会话文件不会被重新打开
func (s *Sink) EndSession(app domain.AppName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, app)
	s.closed[app] = struct{}{}
	s.log.Info("结束会话日志", "app", string(app))
}

// CurrentSession 应用当前生效的会话标识
func (s *Sink) CurrentSession(app domain.AppName) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(app)
}

func (s *Sink) sessionLocked(app domain.AppName) string {
	if ts, ok := s.sessions[app]; ok {
		return ts
	}
	if _, ok := s.closed[app]; ok {
		// 显式结束后到来的记录进入新的兜底会话
		ts := time.Now().UTC().Format(SessionTSFormat)
		s.sessions[app] = ts
		delete(s.closed, app)
		return ts
	}
	return s.defaults
}

// Accept 将一条交换记录按到达顺序追加到应用当前会话日志。
// 写入失败向调用方报告，但不影响记录继续流向内存侧消费者
func (s *Sink) Accept(ex *traffic.Exchange, app domain.AppName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cfg.EnsureAppDirs(app); err != nil {
		return fmt.Errorf("ensure app dirs: %w", err)
	}
	ts := s.sessionLocked(app)
	path := filepath.Join(s.cfg.CapturesDir(app), ts+".jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(ex); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}
