package api

import (
	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	"apiatlas/internal/service"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// SubmitExchange 提交一条交换记录，永不阻塞
	SubmitExchange(ex *traffic.Exchange)

	// RegisterApplication 注册应用并归属主域名
	RegisterApplication(name, primaryDomain string) error

	// ResolveDomain 把域名归属到已注册应用
	ResolveDomain(d, appName string) error

	// SetActiveApplication 设置当前浏览应用
	SetActiveApplication(name string) error

	// BeginSession 开启会话日志边界
	BeginSession(name string) error

	// EndSession 结束当前会话并落盘目录
	EndSession(name string) error

	// GenerateCatalogs 按需落盘应用目录
	GenerateCatalogs(name string) error

	// GetApplications 列出已注册应用名
	GetApplications() []string

	// GetApplicationDetails 列出应用及其域名
	GetApplicationDetails() []domain.AppDetail

	// GetSessionSnapshot 获取应用最新会话快照
	GetSessionSnapshot(name string) (*domain.SessionSnapshot, error)

	// SubscribeEscalations 订阅域名升级请求
	SubscribeEscalations() <-chan domain.Escalation

	// Close 排空缓冲并关闭服务
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) Service {
	return service.New(cfg, l)
}
