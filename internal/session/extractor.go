package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// Extractor 会话提取器：独占维护每个应用唯一的最新会话快照。
// 快照是建议性状态而非审计日志，新值在键冲突时覆盖旧值
type Extractor struct {
	mu        sync.Mutex
	cfg       *config.Config
	log       logger.Logger
	snapshots map[domain.AppName]*domain.SessionSnapshot
}

// New 创建会话提取器
func New(cfg *config.Config, l logger.Logger) *Extractor {
	if l == nil {
		l = logger.NewNop()
	}
	return &Extractor{
		cfg:       cfg,
		log:       l,
		snapshots: make(map[domain.AppName]*domain.SessionSnapshot),
	}
}

// Inspect 检查一条交换记录中的凭据材料。存在信号时将应用快照
// 原子替换为新旧并集；没有任何信号则保持快照不变
func (e *Extractor) Inspect(ex *traffic.Exchange, app domain.AppName) error {
	if !e.hasSignal(ex) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.loadLocked(app)

	if host := hostOf(ex.URL); host != "" {
		snap.Domain = host
	}
	snap.CapturedAt = ex.Timestamp
	snap.UserAgent = e.cfg.Capture.UserAgent

	if cookie := ex.RequestHeaders.Get("cookie"); cookie != "" {
		for name, value := range traffic.ParseCookie(cookie) {
			snap.Cookies[name] = value
		}
	}
	for name, value := range ex.RequestHeaders {
		if e.isAuthHeader(name) {
			snap.AuthHeaders[name] = value
		}
	}
	for name, value := range ex.ResponseHeaders {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "csrf") || strings.Contains(lower, "xsrf") {
			snap.CSRFTokens[name] = value
		}
	}

	e.snapshots[app] = snap
	return e.persistLocked(app, snap)
}

// Snapshot 返回应用当前快照的副本
func (e *Extractor) Snapshot(app domain.AppName) *domain.SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.loadLocked(app)
	copied := *snap
	copied.Cookies = cloneMap(snap.Cookies)
	copied.AuthHeaders = cloneMap(snap.AuthHeaders)
	copied.CSRFTokens = cloneMap(snap.CSRFTokens)
	return &copied
}

// hasSignal 判断交换记录是否携带任何凭据信号
func (e *Extractor) hasSignal(ex *traffic.Exchange) bool {
	if ex.Kind == traffic.KindCookieSnapshot {
		return ex.RequestHeaders.Get("cookie") != ""
	}
	return traffic.HasAuthSignal(ex.RequestHeaders, e.cfg.Capture.AuthHeaderPrefix)
}

func (e *Extractor) isAuthHeader(name string) bool {
	return traffic.IsCredentialHeader(name, e.cfg.Capture.AuthHeaderPrefix)
}

// loadLocked 读取应用快照，优先缓存，其次磁盘，最后新建
func (e *Extractor) loadLocked(app domain.AppName) *domain.SessionSnapshot {
	if snap, ok := e.snapshots[app]; ok {
		return snap
	}
	snap := domain.NewSessionSnapshot()
	raw, err := os.ReadFile(e.path(app))
	if err == nil {
		_ = json.Unmarshal(raw, snap)
		if snap.Cookies == nil {
			snap.Cookies = make(map[string]string)
		}
		if snap.AuthHeaders == nil {
			snap.AuthHeaders = make(map[string]string)
		}
		if snap.CSRFTokens == nil {
			snap.CSRFTokens = make(map[string]string)
		}
	}
	e.snapshots[app] = snap
	return snap
}

// persistLocked 全量覆盖写入 latest.json，临时文件加改名保证原子性
func (e *Extractor) persistLocked(app domain.AppName, snap *domain.SessionSnapshot) error {
	if err := e.cfg.EnsureAppDirs(app); err != nil {
		return fmt.Errorf("ensure app dirs: %w", err)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	path := e.path(app)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (e *Extractor) path(app domain.AppName) string {
	return filepath.Join(e.cfg.SessionsDir(app), "latest.json")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
