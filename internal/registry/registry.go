package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	"apiatlas/pkg/domain"
)

var (
	// ErrInvalidName 应用名不符合 [a-z0-9-]+ 约束
	ErrInvalidName = errors.New("invalid application name")
	// ErrUnknownApp 应用不存在
	ErrUnknownApp = errors.New("unknown application")
	// ErrAppExists 应用已注册
	ErrAppExists = errors.New("application already registered")
)

var namePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Registry 应用档案注册表，负责 apps/<name>/config.json 的读写
type Registry struct {
	mu  sync.RWMutex
	cfg *config.Config
	log logger.Logger
}

// New 创建注册表
func New(cfg *config.Config, l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{cfg: cfg, log: l}
}

// NormalizeName 对名称做允许范围内的规整：仅转小写并去除首尾空白。
// 规整后仍不合法则拒绝，不做进一步强制转换
func NormalizeName(name string) (domain.AppName, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !namePattern.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return domain.AppName(n), nil
}

// Create 注册新应用并落盘档案；重复注册返回 ErrAppExists
func (r *Registry) Create(name domain.AppName, primaryDomain string) (*domain.AppProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.profilePath(name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAppExists, name)
	}
	if err := r.cfg.EnsureAppDirs(name); err != nil {
		return nil, fmt.Errorf("create app dirs: %w", err)
	}

	profile := &domain.AppProfile{
		Name:    name,
		Domains: []string{primaryDomain},
		Created: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.writeProfile(profile); err != nil {
		return nil, err
	}
	r.log.Info("注册新应用", "app", string(name), "domain", primaryDomain)
	return profile, nil
}

// AddDomain 为已有应用追加域名；域名只增不减
func (r *Registry) AddDomain(name domain.AppName, d string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, err := r.readProfile(name)
	if err != nil {
		return err
	}
	for _, existing := range profile.Domains {
		if existing == d {
			return nil
		}
	}
	profile.Domains = append(profile.Domains, d)
	if err := r.writeProfile(profile); err != nil {
		return err
	}
	r.log.Info("应用追加域名", "app", string(name), "domain", d)
	return nil
}

// UpdateLastSession 记录应用最近一次会话标识
func (r *Registry) UpdateLastSession(name domain.AppName, sessionTS string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, err := r.readProfile(name)
	if err != nil {
		return err
	}
	profile.LastSession = sessionTS
	return r.writeProfile(profile)
}

// Get 读取单个应用档案
func (r *Registry) Get(name domain.AppName) (*domain.AppProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readProfile(name)
}

// List 列出全部应用名（按名称排序）
func (r *Registry) List() []domain.AppName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.cfg.AppsDir())
	if err != nil {
		return nil
	}
	var names []domain.AppName
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := domain.AppName(e.Name())
		// 只有带档案的目录才算已注册应用，未归属桶等裸目录不计
		if _, err := os.Stat(r.profilePath(name)); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Details 列出全部应用及其域名
func (r *Registry) Details() []domain.AppDetail {
	var out []domain.AppDetail
	for _, name := range r.List() {
		profile, err := r.Get(name)
		if err != nil {
			continue
		}
		out = append(out, domain.AppDetail{Name: profile.Name, Domains: profile.Domains})
	}
	return out
}

// DomainMap 汇总域名到应用的映射，供路由器初始化
func (r *Registry) DomainMap() map[string]domain.AppName {
	out := make(map[string]domain.AppName)
	for _, name := range r.List() {
		profile, err := r.Get(name)
		if err != nil {
			continue
		}
		for _, d := range profile.Domains {
			out[d] = name
		}
	}
	return out
}

// ReplaceDomains 覆盖应用域名列表（仅供清理流程收缩从未认证的域名）
func (r *Registry) ReplaceDomains(name domain.AppName, domains []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, err := r.readProfile(name)
	if err != nil {
		return err
	}
	profile.Domains = domains
	return r.writeProfile(profile)
}

func (r *Registry) profilePath(name domain.AppName) string {
	return filepath.Join(r.cfg.AppDir(name), "config.json")
}

func (r *Registry) readProfile(name domain.AppName) (*domain.AppProfile, error) {
	raw, err := os.ReadFile(r.profilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownApp, name)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var profile domain.AppProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

func (r *Registry) writeProfile(profile *domain.AppProfile) error {
	raw, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.WriteFile(r.profilePath(profile.Name), raw, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
