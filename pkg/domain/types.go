package domain

import "encoding/json"

// AppName 逻辑应用标识（小写，仅允许 [a-z0-9-]）
type AppName string

// Unassigned 未归属域名的隐式收容桶
const Unassigned AppName = "unassigned"

// SessionSnapshot 单个应用的最新会话凭据快照，整体覆盖更新
type SessionSnapshot struct {
	Domain      string            `json:"domain"`
	CapturedAt  string            `json:"capturedAt"`
	Cookies     map[string]string `json:"cookies"`
	AuthHeaders map[string]string `json:"authHeaders"`
	CSRFTokens  map[string]string `json:"csrfTokens"`
	UserAgent   string            `json:"userAgent"`
}

// NewSessionSnapshot 创建初始化快照
func NewSessionSnapshot() *SessionSnapshot {
	return &SessionSnapshot{
		Cookies:     make(map[string]string),
		AuthHeaders: make(map[string]string),
		CSRFTokens:  make(map[string]string),
	}
}

// EndpointPattern 由具体 URL 泛化而来的去重端点模式
type EndpointPattern struct {
	MethodAndPathPattern string          `json:"methodAndPathPattern"`
	QueryParamNames      []string        `json:"queryParamNames"`
	ResponseContentType  string          `json:"responseContentType,omitempty"`
	ResponseShapeSample  json.RawMessage `json:"responseShapeSample,omitempty"`
	AuthRequired         bool            `json:"authRequired"`
	TimesSeen            int             `json:"timesSeen"`
	LastSeen             string          `json:"lastSeen"`
}

// EndpointCatalog 端点目录，按模式去重
type EndpointCatalog struct {
	Endpoints []EndpointPattern `json:"endpoints"`
}

// 认证机制类型
const (
	AuthTypeCookie = "cookie"
	AuthTypeHeader = "header"
)

// AuthMechanism 识别出的认证机制描述；cookie 型携带 Names/Domain，
// header 型携带 Name/Pattern
type AuthMechanism struct {
	Type    string   `json:"type"`
	Names   []string `json:"names,omitempty"`
	Domain  string   `json:"domain,omitempty"`
	Name    string   `json:"name,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// AuthCatalog 认证机制目录
type AuthCatalog struct {
	Mechanisms []AuthMechanism `json:"mechanisms"`
}

// AppProfile 应用档案；Domains 只增不减，首个为主域名
type AppProfile struct {
	Name        AppName  `json:"name"`
	Domains     []string `json:"domains"`
	Created     string   `json:"created"`
	LastSession string   `json:"lastSession,omitempty"`
}

// AppDetail 应用概要（供宿主读取）
type AppDetail struct {
	Name    AppName  `json:"name"`
	Domains []string `json:"domains"`
}

// EscalationKind 升级请求类型
type EscalationKind string

const (
	// EscalationNameDomain 阻塞式：导航前需要为域名命名应用
	EscalationNameDomain EscalationKind = "name-domain"
	// EscalationAssignDomains 批量式：一批域名等待归属
	EscalationAssignDomains EscalationKind = "assign-domains"
)

// Escalation 核心向宿主发出的异步升级请求
type Escalation struct {
	Kind      EscalationKind `json:"kind"`
	Domains   []string       `json:"domains"`
	Timestamp int64          `json:"timestamp"`
}
