package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"apiatlas/pkg/domain"
)

// 默认 UA：写入会话快照，供外部回放工具使用
const fallbackUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DataDir string `yaml:"dataDir"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
	} `yaml:"log"`

	Capture struct {
		UserAgent        string `yaml:"userAgent"`
		AuthHeaderPrefix string `yaml:"authHeaderPrefix"`
		DevToolsURL      string `yaml:"devToolsURL"`
	} `yaml:"capture"`

	Buffer struct {
		ProbeIntervalMS  int `yaml:"probeIntervalMS"`
		GraceWindowSec   int `yaml:"graceWindowSec"`
		BacklogWarnCount int `yaml:"backlogWarnCount"`
	} `yaml:"buffer"`

	Router struct {
		BatchWindowMS int `yaml:"batchWindowMS"`
	} `yaml:"router"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg.DataDir = filepath.Join(home, ".apiatlas")
	cfg.Sqlite.Dsn = "index.db"
	cfg.Sqlite.Prefix = "apiatlas_"
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Capture.UserAgent = fallbackUserAgent
	cfg.Capture.AuthHeaderPrefix = "x-auth"
	cfg.Capture.DevToolsURL = "http://127.0.0.1:9222"
	cfg.Buffer.ProbeIntervalMS = 50
	cfg.Buffer.GraceWindowSec = 30
	cfg.Buffer.BacklogWarnCount = 2000
	cfg.Router.BatchWindowMS = 1000
	return cfg
}

// Load 从数据目录读取配置，不存在时返回默认值
func Load(dataDir string) (*Config, error) {
	cfg := NewConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	raw, err := os.ReadFile(filepath.Join(cfg.DataDir, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// Save 将配置写回数据目录
func (c *Config) Save() error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, "config.yaml"), raw, 0o644)
}

// AppsDir 应用根目录
func (c *Config) AppsDir() string {
	return filepath.Join(c.DataDir, "apps")
}

// AppDir 单个应用目录
func (c *Config) AppDir(name domain.AppName) string {
	return filepath.Join(c.AppsDir(), string(name))
}

// CapturesDir 应用的会话日志目录
func (c *Config) CapturesDir(name domain.AppName) string {
	return filepath.Join(c.AppDir(name), "captures")
}

// SessionsDir 应用的会话快照目录
func (c *Config) SessionsDir(name domain.AppName) string {
	return filepath.Join(c.AppDir(name), "sessions")
}

// SqlitePath 交换索引库路径
func (c *Config) SqlitePath() string {
	if filepath.IsAbs(c.Sqlite.Dsn) {
		return c.Sqlite.Dsn
	}
	return filepath.Join(c.DataDir, c.Sqlite.Dsn)
}

// LogFile 日志文件路径
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", "apiatlas.log")
}

// EnsureAppDirs 确保单个应用的目录结构存在
func (c *Config) EnsureAppDirs(name domain.AppName) error {
	if err := os.MkdirAll(c.CapturesDir(name), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.SessionsDir(name), 0o755)
}
