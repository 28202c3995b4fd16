package traffic

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind 交换事件类型
type Kind string

const (
	KindRequestResponse Kind = "request-response"
	KindStreamOpen      Kind = "stream-open"
	KindStreamMsgIn     Kind = "stream-message-in"
	KindStreamMsgOut    Kind = "stream-message-out"
	KindNavigation      Kind = "navigation"
	KindCookieSnapshot  Kind = "document-cookie-snapshot"
)

// BodyCap 捕获体的最大字节数，超出部分被截断
const BodyCap = 500_000

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Has 判断指定 Header 是否存在
func (h Header) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Clone 复制 Header
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Exchange 一次被观测到的网络事件，生成后不可变；
// 后续变化（如流消息）以新的 Exchange 表示，不修改已有记录
type Exchange struct {
	ID              string  `json:"id"`
	Kind            Kind    `json:"kind"`
	Method          string  `json:"method,omitempty"`
	URL             string  `json:"url"`
	RequestHeaders  Header  `json:"requestHeaders,omitempty"`
	RequestBody     string  `json:"requestBody,omitempty"`
	Status          int     `json:"status"`
	StatusText      string  `json:"statusText,omitempty"`
	ResponseHeaders Header  `json:"responseHeaders,omitempty"`
	ResponseBody    string  `json:"responseBody,omitempty"`
	DurationMillis  float64 `json:"durationMillis,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

// NewExchange 创建初始化交换记录
func NewExchange(kind Kind) *Exchange {
	return &Exchange{
		ID:              uuid.NewString(),
		Kind:            kind,
		RequestHeaders:  make(Header),
		ResponseHeaders: make(Header),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// CapBody 按 BodyCap 截断正文
func CapBody(body string) string {
	if len(body) <= BodyCap {
		return body
	}
	return body[:BodyCap] + fmt.Sprintf("[truncated: %d bytes]", len(body))
}

// ParseCookie 解析 Cookie 头为键值对
func ParseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
