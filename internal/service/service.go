package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"apiatlas/internal/buffer"
	"apiatlas/internal/cleanup"
	"apiatlas/internal/config"
	"apiatlas/internal/filter"
	"apiatlas/internal/infer"
	"apiatlas/internal/logger"
	"apiatlas/internal/registry"
	"apiatlas/internal/router"
	"apiatlas/internal/session"
	"apiatlas/internal/storage"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// 每接收多少条交换记录落盘一次目录
const catalogFlushInterval = 50

// Service 捕获与推断管道的组装与协调：交换记录经投递缓冲串行化后，
// 依次路由、落盘、提取会话、归并目录、写入索引
type Service struct {
	cfg *config.Config
	log logger.Logger

	reg       *registry.Registry
	router    *router.Router
	sink      *storage.Sink
	extractor *session.Extractor
	noise     *filter.Noise
	buf       *buffer.Buffer

	indexMu sync.Mutex
	index   *storage.Index

	inferMu   sync.Mutex
	endpoints map[domain.AppName]*infer.EndpointInferencer
	auths     map[domain.AppName]*infer.AuthInferencer

	ready    atomic.Bool
	accepted atomic.Uint64
	closed   atomic.Bool
}

// New 组装管道并异步完成存储冷启动
func New(cfg *config.Config, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	reg := registry.New(cfg, l)
	s := &Service{
		cfg:       cfg,
		log:       l,
		reg:       reg,
		router:    router.New(reg.DomainMap(), time.Duration(cfg.Router.BatchWindowMS)*time.Millisecond, l),
		sink:      storage.NewSink(cfg, l),
		extractor: session.New(cfg, l),
		noise:     filter.NewNoise(),
		endpoints: make(map[domain.AppName]*infer.EndpointInferencer),
		auths:     make(map[domain.AppName]*infer.AuthInferencer),
	}
	s.buf = buffer.New(s.probe, s.process, buffer.Options{
		ProbeInterval: time.Duration(cfg.Buffer.ProbeIntervalMS) * time.Millisecond,
		GraceWindow:   time.Duration(cfg.Buffer.GraceWindowSec) * time.Second,
		BacklogWarn:   cfg.Buffer.BacklogWarnCount,
	}, l)

	go s.openStorage()
	return s
}

// openStorage 存储冷启动：建目录、打开交换索引，完成后管道就绪
func (s *Service) openStorage() {
	if err := os.MkdirAll(s.cfg.AppsDir(), 0o755); err != nil {
		s.log.Err(err, "创建数据目录失败", "dir", s.cfg.AppsDir())
		return
	}
	ix, err := storage.NewIndex(s.cfg, s.log)
	if err != nil {
		// 索引缺失只降低查询能力，不阻止捕获
		s.log.Err(err, "打开交换索引失败，索引功能关闭")
	} else {
		s.indexMu.Lock()
		s.index = ix
		s.indexMu.Unlock()
	}
	s.ready.Store(true)
	s.log.Info("捕获管道就绪", "dataDir", s.cfg.DataDir)
}

func (s *Service) probe() bool {
	return s.ready.Load()
}

// SubmitExchange 接收一条交换记录；永不阻塞、永不报错
func (s *Service) SubmitExchange(ex *traffic.Exchange) {
	if ex == nil || s.closed.Load() {
		return
	}
	s.buf.Enqueue(ex)
}

// process 投递缓冲的单点消费：按到达顺序对每条记录同步扇出
func (s *Service) process(ex *traffic.Exchange) {
	dec := s.router.Route(ex)

	// 落盘失败只影响持久化，记录仍流向内存侧消费者
	if err := s.sink.Accept(ex, dec.App); err != nil {
		s.log.Err(err, "追加会话日志失败", "app", string(dec.App), "url", ex.URL)
	}

	if dec.Pending {
		// 未归属流量进入 unassigned 桶；归属确定后由 Resolve 补录
		return
	}
	s.consume(ex, dec.App)

	if n := s.accepted.Add(1); n%catalogFlushInterval == 0 {
		s.flushAllCatalogs()
	}
}

// consume 对一条已归属的记录执行内存侧消费与索引
func (s *Service) consume(ex *traffic.Exchange, app domain.AppName) {
	if err := s.extractor.Inspect(ex, app); err != nil {
		s.log.Err(err, "写入会话快照失败", "app", string(app))
	}

	ep, auth := s.inferencersFor(app)
	auth.Observe(ex)
	if !s.noise.Skip(ex.URL) {
		ep.Observe(ex)
	}

	key, _, _ := infer.PatternKey(ex.Method, ex.URL)
	s.indexMu.Lock()
	ix := s.index
	s.indexMu.Unlock()
	if ix != nil {
		if err := ix.Record(ex, app, s.sink.CurrentSession(app), key); err != nil {
			s.log.Err(err, "写入交换索引失败", "app", string(app))
		}
	}
}

// inferencersFor 获取应用的推断器，惰性创建并重放历史日志恢复状态。
// 当前会话文件不参与重放：其中的记录由在线消费路径归并，重放会重复计数
func (s *Service) inferencersFor(app domain.AppName) (*infer.EndpointInferencer, *infer.AuthInferencer) {
	s.inferMu.Lock()
	defer s.inferMu.Unlock()

	if ep, ok := s.endpoints[app]; ok {
		return ep, s.auths[app]
	}
	ep := infer.NewEndpointInferencer()
	ep.SetAuthHeaderPrefix(s.cfg.Capture.AuthHeaderPrefix)
	auth := infer.NewAuthInferencer()

	current := s.sink.CurrentSession(app) + ".jsonl"
	entries, err := os.ReadDir(s.cfg.CapturesDir(app))
	if err == nil {
		var files []string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".jsonl") && e.Name() != current {
				files = append(files, e.Name())
			}
		}
		sort.Strings(files)
		for _, name := range files {
			if err := infer.ReplayLog(filepath.Join(s.cfg.CapturesDir(app), name), ep, auth, s.noise.Skip); err != nil {
				s.log.Err(err, "重放历史日志失败", "app", string(app), "file", name)
			}
		}
	}

	s.endpoints[app] = ep
	s.auths[app] = auth
	return ep, auth
}

// RegisterApplication 注册新应用并把主域名归属到它。
// 名称只做小写规整，仍不合法则拒绝
func (s *Service) RegisterApplication(name, primaryDomain string) error {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}
	if primaryDomain == "" {
		return fmt.Errorf("register %s: empty primary domain", appName)
	}
	if _, err := s.reg.Create(appName, primaryDomain); err != nil {
		return err
	}
	s.flushResolved(primaryDomain, appName)
	return nil
}

// ResolveDomain 由外部决策把域名归属到已注册应用
func (s *Service) ResolveDomain(d, appName string) error {
	name, err := registry.NormalizeName(appName)
	if err != nil {
		return err
	}
	if err := s.reg.AddDomain(name, d); err != nil {
		return err
	}
	s.flushResolved(d, name)
	return nil
}

// flushResolved 更新路由映射并补录 pending 期间缓冲的记录
func (s *Service) flushResolved(d string, app domain.AppName) {
	buffered := s.router.Resolve(d, app)
	for _, ex := range buffered {
		if err := s.sink.Accept(ex, app); err != nil {
			s.log.Err(err, "补录会话日志失败", "app", string(app), "url", ex.URL)
		}
		s.consume(ex, app)
	}
}

// SetActiveApplication 设置当前浏览中的应用；其后出现的未知域名
// 自动归属该应用而不再升级
func (s *Service) SetActiveApplication(name string) error {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}
	if _, err := s.reg.Get(appName); err != nil {
		return err
	}
	s.router.SetCurrentApp(appName)
	return nil
}

// BeginSession 为应用开启新的会话日志边界
func (s *Service) BeginSession(name string) error {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}
	if _, err := s.reg.Get(appName); err != nil {
		return err
	}
	ts := s.sink.BeginSession(appName)
	return s.reg.UpdateLastSession(appName, ts)
}

// EndSession 结束应用当前会话，落盘目录并执行历史正文裁剪
func (s *Service) EndSession(name string) error {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}
	if _, err := s.reg.Get(appName); err != nil {
		return err
	}
	current := s.sink.CurrentSession(appName)
	s.sink.EndSession(appName)
	return s.GenerateCatalogsByName(appName, current)
}

// GenerateCatalogs 按需重建并落盘应用目录
func (s *Service) GenerateCatalogs(name string) error {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}
	return s.GenerateCatalogsByName(appName, s.sink.CurrentSession(appName))
}

// GenerateCatalogsByName 落盘目录并执行清理
func (s *Service) GenerateCatalogsByName(app domain.AppName, currentSession string) error {
	ep, _ := s.inferencersFor(app)
	if err := s.persistCatalogs(app); err != nil {
		return err
	}
	if err := cleanup.TrimCaptures(s.cfg, app, currentSession, ep.WellSampled(cleanup.WellSampledThreshold), s.log); err != nil {
		s.log.Err(err, "裁剪历史正文失败", "app", string(app))
	}
	if err := cleanup.CleanDomains(s.cfg, s.reg, app, s.log); err != nil {
		s.log.Err(err, "收缩域名列表失败", "app", string(app))
	}
	return nil
}

// persistCatalogs 将应用的两个目录写入磁盘
func (s *Service) persistCatalogs(app domain.AppName) error {
	s.inferMu.Lock()
	ep, ok := s.endpoints[app]
	auth := s.auths[app]
	s.inferMu.Unlock()
	if !ok {
		return nil
	}
	if err := s.cfg.EnsureAppDirs(app); err != nil {
		return fmt.Errorf("ensure app dirs: %w", err)
	}
	if err := writeJSON(filepath.Join(s.cfg.AppDir(app), "endpoints.json"), ep.Catalog()); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.cfg.AppDir(app), "auth.json"), auth.Catalog())
}

// flushAllCatalogs 周期性落盘全部已知应用的目录
func (s *Service) flushAllCatalogs() {
	s.inferMu.Lock()
	apps := make([]domain.AppName, 0, len(s.endpoints))
	for app := range s.endpoints {
		apps = append(apps, app)
	}
	s.inferMu.Unlock()

	for _, app := range apps {
		if err := s.persistCatalogs(app); err != nil {
			s.log.Err(err, "落盘目录失败", "app", string(app))
		}
	}
}

// GetApplications 列出全部已注册应用名
func (s *Service) GetApplications() []string {
	names := s.reg.List()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n))
	}
	return out
}

// GetApplicationDetails 列出全部应用及其域名
func (s *Service) GetApplicationDetails() []domain.AppDetail {
	return s.reg.Details()
}

// GetSessionSnapshot 返回应用当前会话快照
func (s *Service) GetSessionSnapshot(name string) (*domain.SessionSnapshot, error) {
	appName, err := registry.NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.extractor.Snapshot(appName), nil
}

// SubscribeEscalations 返回升级请求通道
func (s *Service) SubscribeEscalations() <-chan domain.Escalation {
	return s.router.Events()
}

// Close 排空缓冲、落盘目录并关闭索引
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.buf.Close()
	s.flushAllCatalogs()

	s.indexMu.Lock()
	ix := s.index
	s.index = nil
	s.indexMu.Unlock()
	if ix != nil {
		return ix.Close()
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
