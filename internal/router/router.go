package router

import (
	"net/url"
	"sync"
	"time"

	"github.com/bep/debounce"

	"apiatlas/internal/logger"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// Decision 路由结果
type Decision struct {
	App     domain.AppName
	Pending bool // 域名尚未归属，记录暂入 unassigned 桶
}

// Router 域名路由器：维护域名到应用的映射，未知域名走两段升级协议。
// 每个域名的状态机为 unknown → pending → resolved，进入 pending 至多一次
type Router struct {
	mu       sync.Mutex
	mapping  map[string]domain.AppName
	pending  map[string]struct{}
	buffered map[string][]*traffic.Exchange
	batch    []string

	debounced  func(f func())
	events     chan domain.Escalation
	currentApp domain.AppName // 浏览中的应用，新域名自动归属
	log        logger.Logger
}

// New 创建路由器；mapping 为注册表载入的已知映射
func New(mapping map[string]domain.AppName, batchWindow time.Duration, l logger.Logger) *Router {
	if l == nil {
		l = logger.NewNop()
	}
	if mapping == nil {
		mapping = make(map[string]domain.AppName)
	}
	if batchWindow <= 0 {
		batchWindow = time.Second
	}
	return &Router{
		mapping:   mapping,
		pending:   make(map[string]struct{}),
		buffered:  make(map[string][]*traffic.Exchange),
		debounced: debounce.New(batchWindow),
		events:    make(chan domain.Escalation, 16),
		log:       l,
	}
}

// Events 升级请求通道，由宿主消费
func (r *Router) Events() <-chan domain.Escalation {
	return r.events
}

// SetCurrentApp 设置当前浏览应用；其后出现的未知域名自动归属该应用
func (r *Router) SetCurrentApp(name domain.AppName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentApp = name
}

// Route 为一条交换记录确定归属应用。未知域名按类型触发阻塞式或
// 批量式升级，并把记录缓冲在域名名下等待归属
func (r *Router) Route(ex *traffic.Exchange) Decision {
	host := hostOf(ex.URL)
	if host == "" {
		return Decision{App: domain.Unassigned, Pending: false}
	}

	r.mu.Lock()
	if app, ok := r.mapping[host]; ok {
		r.mu.Unlock()
		return Decision{App: app}
	}

	// 浏览中应用的新域名直接自动归属，不升级
	if r.currentApp != "" {
		app := r.currentApp
		r.mapping[host] = app
		r.mu.Unlock()
		r.log.Info("新域名自动归属当前应用", "domain", host, "app", string(app))
		return Decision{App: app}
	}

	_, already := r.pending[host]
	r.pending[host] = struct{}{}
	r.buffered[host] = append(r.buffered[host], ex)

	var fire func()
	if !already {
		if ex.Kind == traffic.KindNavigation {
			// 导航交换：阻塞式升级，导航被宿主挂起等待命名
			r.mu.Unlock()
			r.emit(domain.Escalation{
				Kind:      domain.EscalationNameDomain,
				Domains:   []string{host},
				Timestamp: time.Now().UnixMilli(),
			})
			r.log.Info("未知域名触发阻塞式升级", "domain", host)
			return Decision{App: domain.Unassigned, Pending: true}
		}
		r.batch = append(r.batch, host)
		fire = r.fireBatch
	}
	r.mu.Unlock()

	if fire != nil {
		r.debounced(fire)
	}
	return Decision{App: domain.Unassigned, Pending: true}
}

// Resolve 由外部决策把域名归属到应用；返回该域名在 pending 期间
// 缓冲的全部记录，交由调用方补录
func (r *Router) Resolve(host string, app domain.AppName) []*traffic.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mapping[host] = app
	delete(r.pending, host)
	buffered := r.buffered[host]
	delete(r.buffered, host)
	r.log.Info("域名归属已确定", "domain", host, "app", string(app), "flushed", len(buffered))
	return buffered
}

// PendingDomains 当前等待归属的域名
func (r *Router) PendingDomains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for d := range r.pending {
		out = append(out, d)
	}
	return out
}

// fireBatch 去抖窗口结束后发出一条覆盖所有累积域名的批量升级
func (r *Router) fireBatch() {
	r.mu.Lock()
	domains := r.batch
	r.batch = nil
	r.mu.Unlock()

	if len(domains) == 0 {
		return
	}
	r.emit(domain.Escalation{
		Kind:      domain.EscalationAssignDomains,
		Domains:   domains,
		Timestamp: time.Now().UnixMilli(),
	})
	r.log.Info("批量升级已发出", "domains", domains)
}

// emit 非阻塞发送升级事件
func (r *Router) emit(esc domain.Escalation) {
	select {
	case r.events <- esc:
	default:
		r.log.Warn("升级事件通道已满，事件被丢弃", "kind", string(esc.Kind))
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
