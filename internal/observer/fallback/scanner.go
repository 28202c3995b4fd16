package fallback

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"apiatlas/internal/logger"
	"apiatlas/internal/observer"
	"apiatlas/pkg/traffic"
)

// 读取页面资源计时表的表达式，只取地址与耗时
const scanExpr = `JSON.stringify(performance.getEntriesByType('resource').map(function(e){return {name: e.name, duration: e.duration}}))`

// Evaluator 在页面上下文执行表达式，由 CDP 观察者提供
type Evaluator func(ctx context.Context, expr string) (json.RawMessage, error)

// Scanner 兜底观察者：主观察路径漏掉的请求通过资源计时表补录。
// 已捕获地址的去重集合由 Scanner 自己持有
type Scanner struct {
	eval Evaluator
	emit observer.Emitter
	log  logger.Logger

	interval time.Duration
	cancel   context.CancelFunc

	mu   sync.Mutex
	seen map[string]struct{}
}

// New 创建兜底扫描器
func New(eval Evaluator, emit observer.Emitter, interval time.Duration, l logger.Logger) *Scanner {
	if l == nil {
		l = logger.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scanner{
		eval:     eval,
		emit:     emit,
		log:      l,
		interval: interval,
		seen:     make(map[string]struct{}),
	}
}

// MarkCaptured 登记一条已由其他观察者捕获的地址，扫描时跳过
func (s *Scanner) MarkCaptured(url string) {
	s.mu.Lock()
	s.seen[url] = struct{}{}
	s.mu.Unlock()
}

// Start 启动周期扫描
func (s *Scanner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
	return nil
}

// Stop 停止扫描
func (s *Scanner) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Scanner) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.Scan(ctx); err != nil {
			s.log.Debug("资源计时扫描失败", "error", err)
		}
	}
}

// Scan 执行一次扫描，补录表中未见过的地址
func (s *Scanner) Scan(ctx context.Context) error {
	raw, err := s.eval(ctx, scanExpr)
	if err != nil {
		return err
	}
	var packed string
	if err := json.Unmarshal(raw, &packed); err != nil {
		return err
	}
	var entries []struct {
		Name     string  `json:"name"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal([]byte(packed), &entries); err != nil {
		return err
	}

	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		s.mu.Lock()
		_, dup := s.seen[e.Name]
		if !dup {
			s.seen[e.Name] = struct{}{}
		}
		s.mu.Unlock()
		if dup {
			continue
		}
		// 计时表只有地址与耗时，补录记录不含头与正文
		ex := traffic.NewExchange(traffic.KindRequestResponse)
		ex.Method = "GET"
		ex.URL = e.Name
		ex.DurationMillis = e.Duration
		s.emit(ex)
	}
	return nil
}
