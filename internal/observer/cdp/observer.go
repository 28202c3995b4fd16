package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"apiatlas/internal/logger"
	"apiatlas/internal/observer"
	"apiatlas/pkg/traffic"
)

// Options 观察者配置
type Options struct {
	// DevToolsURL 浏览器调试端点，如 http://127.0.0.1:9222
	DevToolsURL string
	// CookieInterval 周期采样 document.cookie 的间隔，0 关闭采样
	CookieInterval time.Duration
}

// Observer 被动 CDP 观察者：只订阅 Network 与 Page 域事件，
// 不启用 Fetch 拦截，被观测流量不被改写
type Observer struct {
	opts Options
	emit observer.Emitter
	log  logger.Logger

	// captured 每条 request-response 记录发出后的回调，供去重集合使用
	captured func(url string)

	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[network.RequestID]*pendingExchange
	wsURLs  map[network.RequestID]string

	// 主框架当前地址，cookie 快照以它为归属依据
	currentURL atomic.Value
}

// pendingExchange 尚未完成的请求，loadingFinished 时发出
type pendingExchange struct {
	ex    *traffic.Exchange
	start network.MonotonicTime
}

// New 创建 CDP 观察者
func New(opts Options, emit observer.Emitter, l logger.Logger) *Observer {
	if l == nil {
		l = logger.NewNop()
	}
	return &Observer{
		opts:    opts,
		emit:    emit,
		log:     l,
		pending: make(map[network.RequestID]*pendingExchange),
		wsURLs:  make(map[network.RequestID]string),
	}
}

// SetCapturedHook 设置捕获回调，须在 Start 之前调用
func (o *Observer) SetCapturedHook(fn func(url string)) {
	o.captured = fn
}

// Start 附加到第一个页面目标并开始消费网络事件
func (o *Observer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.ctx = ctx
	o.cancel = cancel

	dt := devtool.New(o.opts.DevToolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		if targets[i].Type == devtool.Page {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		cancel()
		return fmt.Errorf("no page target at %s", o.opts.DevToolsURL)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial target: %w", err)
	}
	o.conn = conn
	o.client = cdp.NewClient(conn)

	if err := o.client.Network.Enable(ctx, nil); err != nil {
		cancel()
		return fmt.Errorf("enable network domain: %w", err)
	}
	if err := o.client.Page.Enable(ctx); err != nil {
		cancel()
		return fmt.Errorf("enable page domain: %w", err)
	}

	go o.consumeRequests()
	go o.consumeResponses()
	go o.consumeFinished()
	go o.consumeFailed()
	go o.consumeWebSockets()
	go o.consumeNavigations()
	if o.opts.CookieInterval > 0 {
		go o.cookieLoop()
	}

	o.log.Info("CDP 观察者已附加", "target", sel.Title, "url", sel.URL)
	return nil
}

// Stop 断开连接并停止全部消费循环
func (o *Observer) Stop() error {
	if o.cancel != nil {
		o.cancel()
	}
	if o.conn != nil {
		return o.conn.Close()
	}
	return nil
}

// Evaluate 在页面上下文执行表达式并返回按值序列化的结果
func (o *Observer) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	if o.client == nil {
		return nil, fmt.Errorf("not attached")
	}
	reply, err := o.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return nil, err
	}
	return reply.Result.Value, nil
}

func (o *Observer) consumeRequests() {
	st, err := o.client.Network.RequestWillBeSent(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅请求事件流失败")
		return
	}
	defer st.Close()
	for {
		ev, err := st.Recv()
		if err != nil {
			return
		}
		ex := traffic.NewExchange(traffic.KindRequestResponse)
		ex.Method = ev.Request.Method
		ex.URL = ev.Request.URL
		ex.RequestHeaders = decodeHeaders(ev.Request.Headers)
		if ev.Request.PostData != nil {
			ex.RequestBody = traffic.CapBody(*ev.Request.PostData)
		}
		o.mu.Lock()
		o.pending[ev.RequestID] = &pendingExchange{ex: ex, start: ev.Timestamp}
		o.mu.Unlock()
	}
}

func (o *Observer) consumeResponses() {
	st, err := o.client.Network.ResponseReceived(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅响应事件流失败")
		return
	}
	defer st.Close()
	for {
		ev, err := st.Recv()
		if err != nil {
			return
		}
		o.mu.Lock()
		p, ok := o.pending[ev.RequestID]
		if ok {
			p.ex.Status = ev.Response.Status
			p.ex.StatusText = ev.Response.StatusText
			p.ex.ResponseHeaders = decodeHeaders(ev.Response.Headers)
			if !p.ex.ResponseHeaders.Has("content-type") && ev.Response.MimeType != "" {
				p.ex.ResponseHeaders.Set("content-type", ev.Response.MimeType)
			}
		}
		o.mu.Unlock()
	}
}

func (o *Observer) consumeFinished() {
	st, err := o.client.Network.LoadingFinished(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅加载完成事件流失败")
		return
	}
	defer st.Close()
	for {
		ev, err := st.Recv()
		if err != nil {
			return
		}
		o.mu.Lock()
		p, ok := o.pending[ev.RequestID]
		delete(o.pending, ev.RequestID)
		o.mu.Unlock()
		if !ok {
			continue
		}
		p.ex.DurationMillis = float64(ev.Timestamp-p.start) * 1000
		p.ex.ResponseBody = traffic.CapBody(o.fetchBody(ev.RequestID))
		o.emit(p.ex)
		if o.captured != nil {
			o.captured(p.ex.URL)
		}
	}
}

func (o *Observer) consumeFailed() {
	st, err := o.client.Network.LoadingFailed(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅加载失败事件流失败")
		return
	}
	defer st.Close()
	for {
		ev, err := st.Recv()
		if err != nil {
			return
		}
		o.mu.Lock()
		p, ok := o.pending[ev.RequestID]
		delete(o.pending, ev.RequestID)
		o.mu.Unlock()
		if !ok {
			continue
		}
		// 失败请求以零状态码记录，错误文本进 statusText
		p.ex.Status = 0
		p.ex.StatusText = ev.ErrorText
		o.emit(p.ex)
	}
}

// fetchBody 尽力获取响应体；失败返回空串不阻断记录
func (o *Observer) fetchBody(id network.RequestID) string {
	ctx, cancel := context.WithTimeout(o.ctx, 3*time.Second)
	defer cancel()
	reply, err := o.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(id))
	if err != nil {
		return ""
	}
	if reply.Base64Encoded {
		raw, err := base64.StdEncoding.DecodeString(reply.Body)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return reply.Body
}

// consumeWebSockets 订阅 WebSocket 三类事件：建立与双向帧
func (o *Observer) consumeWebSockets() {
	created, err := o.client.Network.WebSocketCreated(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅 WebSocket 建立事件流失败")
		return
	}
	defer created.Close()
	recv, err := o.client.Network.WebSocketFrameReceived(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅 WebSocket 接收帧事件流失败")
		return
	}
	defer recv.Close()
	sent, err := o.client.Network.WebSocketFrameSent(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅 WebSocket 发送帧事件流失败")
		return
	}
	defer sent.Close()

	go func() {
		for {
			ev, err := recv.Recv()
			if err != nil {
				return
			}
			o.emitFrame(ev.RequestID, traffic.KindStreamMsgIn, ev.Response.PayloadData)
		}
	}()
	go func() {
		for {
			ev, err := sent.Recv()
			if err != nil {
				return
			}
			o.emitFrame(ev.RequestID, traffic.KindStreamMsgOut, ev.Response.PayloadData)
		}
	}()

	for {
		ev, err := created.Recv()
		if err != nil {
			return
		}
		o.mu.Lock()
		o.wsURLs[ev.RequestID] = ev.URL
		o.mu.Unlock()
		ex := traffic.NewExchange(traffic.KindStreamOpen)
		ex.URL = ev.URL
		o.emit(ex)
	}
}

func (o *Observer) emitFrame(id network.RequestID, kind traffic.Kind, payload string) {
	o.mu.Lock()
	url := o.wsURLs[id]
	o.mu.Unlock()
	if url == "" {
		return
	}
	ex := traffic.NewExchange(kind)
	ex.URL = url
	if kind == traffic.KindStreamMsgOut {
		ex.RequestBody = traffic.CapBody(payload)
	} else {
		ex.ResponseBody = traffic.CapBody(payload)
	}
	o.emit(ex)
}

// consumeNavigations 主框架导航转换为 navigation 记录，
// 子框架（iframe 等）导航忽略
func (o *Observer) consumeNavigations() {
	st, err := o.client.Page.FrameNavigated(o.ctx)
	if err != nil {
		o.log.Err(err, "订阅导航事件流失败")
		return
	}
	defer st.Close()
	for {
		ev, err := st.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID != nil {
			continue
		}
		o.currentURL.Store(ev.Frame.URL)
		ex := traffic.NewExchange(traffic.KindNavigation)
		ex.URL = ev.Frame.URL
		o.emit(ex)
		o.log.Debug("主框架导航", "url", ev.Frame.URL)
	}
}

// cookieLoop 周期采样 document.cookie，发出 cookie 快照记录。
// 快照以当前主框架地址归属，导航前不采样
func (o *Observer) cookieLoop() {
	ticker := time.NewTicker(o.opts.CookieInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}
		cur, _ := o.currentURL.Load().(string)
		if cur == "" {
			continue
		}
		raw, err := o.Evaluate(o.ctx, "document.cookie")
		if err != nil {
			o.log.Debug("采样 document.cookie 失败", "error", err)
			continue
		}
		var val string
		if err := json.Unmarshal(raw, &val); err != nil || val == "" {
			continue
		}
		ex := traffic.NewExchange(traffic.KindCookieSnapshot)
		ex.URL = cur
		ex.RequestHeaders.Set("cookie", val)
		o.emit(ex)
	}
}

// decodeHeaders 把 CDP 头部对象转为小写键的 Header
func decodeHeaders(raw network.Headers) traffic.Header {
	out := make(traffic.Header)
	if len(raw) == 0 {
		return out
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}
