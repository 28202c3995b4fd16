package httptrip

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"apiatlas/internal/observer"
	"apiatlas/pkg/traffic"
)

// Transport 包装 http.RoundTripper 的观察者：请求与响应逐字节透传，
// 每次往返生成一条 request-response 记录。传输失败时以零状态码记录，
// 原始错误原样返回给调用方
type Transport struct {
	base http.RoundTripper
	emit observer.Emitter
}

// Wrap 包装底层 RoundTripper；base 为 nil 时使用 http.DefaultTransport
func Wrap(base http.RoundTripper, emit observer.Emitter) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, emit: emit}
}

// RoundTrip 实现 http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ex := traffic.NewExchange(traffic.KindRequestResponse)
	ex.Method = req.Method
	ex.URL = req.URL.String()
	for k := range req.Header {
		ex.RequestHeaders.Set(k, req.Header.Get(k))
	}

	// 读取请求体后原样放回，保证透传不改变字节
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		ex.RequestBody = traffic.CapBody(string(raw))
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	ex.DurationMillis = float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		ex.Status = 0
		ex.StatusText = err.Error()
		t.emit(ex)
		return nil, err
	}

	ex.Status = resp.StatusCode
	ex.StatusText = http.StatusText(resp.StatusCode)
	for k := range resp.Header {
		ex.ResponseHeaders.Set(k, resp.Header.Get(k))
	}
	if resp.Body != nil {
		raw, rerr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if rerr != nil {
			// 读体失败：记录已有部分，错误交还调用方
			ex.ResponseBody = traffic.CapBody(string(raw))
			t.emit(ex)
			return nil, rerr
		}
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		ex.ResponseBody = traffic.CapBody(string(raw))
	}
	t.emit(ex)
	return resp, nil
}
