package buffer

import (
	"sync"
	"time"

	"apiatlas/internal/logger"
	"apiatlas/pkg/traffic"
)

// Options 投递缓冲配置
type Options struct {
	ProbeInterval time.Duration // 就绪探测间隔
	GraceWindow   time.Duration // 就绪等待上限，超时后放弃投递
	BacklogWarn   int           // 积压告警阈值
}

// Deliver 下游投递函数，按入队顺序逐条调用
type Deliver func(ex *traffic.Exchange)

// Probe 下游就绪探测
type Probe func() bool

// Buffer 有序投递缓冲：Enqueue 永不阻塞调用方，内部以单一
// 工作协程严格按到达顺序消费，是整个管道的串行化点
type Buffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*traffic.Exchange
	closed    bool
	ready     bool
	abandoned bool
	warned    bool

	probe   Probe
	deliver Deliver
	opts    Options
	log     logger.Logger
	done    chan struct{}
}

// New 创建投递缓冲并启动消费协程
func New(probe Probe, deliver Deliver, opts Options, l logger.Logger) *Buffer {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 50 * time.Millisecond
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 30 * time.Second
	}
	if opts.BacklogWarn <= 0 {
		opts.BacklogWarn = 2000
	}
	b := &Buffer{
		probe:   probe,
		deliver: deliver,
		opts:    opts,
		log:     l,
		done:    make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Enqueue 入队一条交换记录；并发安全，永不阻塞、永不报错。
// 入队顺序即全局投递顺序
func (b *Buffer) Enqueue(ex *traffic.Exchange) {
	if ex == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ex)
	n := len(b.queue)
	warn := !b.ready && !b.warned && n >= b.opts.BacklogWarn
	if warn {
		b.warned = true
	}
	b.cond.Signal()
	b.mu.Unlock()

	if warn {
		b.log.Warn("投递缓冲积压超过阈值", "backlog", n, "threshold", b.opts.BacklogWarn)
	}
}

// Len 当前积压数量
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// run 先等待下游就绪，再按顺序消费
func (b *Buffer) run() {
	defer close(b.done)

	if !b.waitReady() {
		b.mu.Lock()
		b.abandoned = true
		n := len(b.queue)
		b.mu.Unlock()
		b.log.Warn("下游在宽限期内未就绪，放弃投递，缓冲仅驻留内存", "buffered", n)
		return
	}

	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		ex := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(ex)
	}
}

// waitReady 按固定间隔探测下游就绪状态，直到宽限期结束。
// 关闭过程中仍先做一次探测：下游已就绪时照常转入排空，
// 只有宽限期内始终探测不到就绪才放弃积压
func (b *Buffer) waitReady() bool {
	if b.probe == nil || b.probe() {
		return true
	}
	deadline := time.Now().Add(b.opts.GraceWindow)
	ticker := time.NewTicker(b.opts.ProbeInterval)
	defer ticker.Stop()
	for range ticker.C {
		if b.probe() {
			return true
		}
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed || time.Now().After(deadline) {
			return false
		}
	}
	return false
}

// Close 停止接收并等待已入队记录投递完成
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}
