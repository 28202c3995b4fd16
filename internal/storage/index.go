package storage

import (
	"fmt"
	"net/url"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// ExchangeRecord 交换索引行：记录元数据供展示层查询，正文仍在 JSONL 中
type ExchangeRecord struct {
	ID            uint   `gorm:"primaryKey"`
	ExchangeID    string `gorm:"size:36;uniqueIndex"`
	App           string `gorm:"size:64;index"`
	Session       string `gorm:"size:32;index"`
	Kind          string `gorm:"size:32"`
	Method        string `gorm:"size:16"`
	Host          string `gorm:"size:255;index"`
	URL           string
	PatternKey    string `gorm:"size:512;index"`
	Status        int
	RequestBytes  int
	ResponseBytes int
	DurationMS    float64
	Timestamp     string `gorm:"size:40"`
}

// Index 基于 SQLite 的交换索引
type Index struct {
	db  *gorm.DB
	log logger.Logger
}

// NewIndex 打开（或创建）索引库并完成迁移
func NewIndex(cfg *config.Config, l logger.Logger) (*Index, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(cfg.SqlitePath()), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.Sqlite.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if err := db.AutoMigrate(&ExchangeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate index db: %w", err)
	}
	return &Index{db: db, log: l}, nil
}

// Record 为一条已接收的交换记录写入索引行；失败不致命
func (ix *Index) Record(ex *traffic.Exchange, app domain.AppName, session, patternKey string) error {
	host := ""
	if u, err := url.Parse(ex.URL); err == nil {
		host = u.Hostname()
	}
	rec := ExchangeRecord{
		ExchangeID:    ex.ID,
		App:           string(app),
		Session:       session,
		Kind:          string(ex.Kind),
		Method:        ex.Method,
		Host:          host,
		URL:           ex.URL,
		PatternKey:    patternKey,
		Status:        ex.Status,
		RequestBytes:  len(ex.RequestBody),
		ResponseBytes: len(ex.ResponseBody),
		DurationMS:    ex.DurationMillis,
		Timestamp:     ex.Timestamp,
	}
	if err := ix.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("index exchange: %w", err)
	}
	return nil
}

// CountByApp 统计应用的索引行数
func (ix *Index) CountByApp(app domain.AppName) (int64, error) {
	var n int64
	err := ix.db.Model(&ExchangeRecord{}).Where("app = ?", string(app)).Count(&n).Error
	return n, err
}

// Close 关闭底层连接
func (ix *Index) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
