package infer

import (
	"sort"
	"sync"

	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// EndpointInferencer 端点推断器：把无界的交换流收敛为按路由形态
// 去重的有界目录。目录大小只随不同路由形态增长，与流量规模无关
type EndpointInferencer struct {
	mu         sync.Mutex
	patterns   map[string]*domain.EndpointPattern
	authPrefix string
}

// NewEndpointInferencer 创建端点推断器
func NewEndpointInferencer() *EndpointInferencer {
	return &EndpointInferencer{
		patterns:   make(map[string]*domain.EndpointPattern),
		authPrefix: traffic.DefaultAuthHeaderPrefix,
	}
}

// SetAuthHeaderPrefix 覆盖自定义凭据头前缀，需在投喂记录前调用
func (e *EndpointInferencer) SetAuthHeaderPrefix(prefix string) {
	e.mu.Lock()
	e.authPrefix = prefix
	e.mu.Unlock()
}

// Observe 归并一条请求/响应类交换记录。首次出现的模式创建条目；
// 已有模式递增计数、并集合并查询参数；形状样本仅在新样本字段
// 严格更多时替换，authRequired 一旦为真不再回退
func (e *EndpointInferencer) Observe(ex *traffic.Exchange) {
	if ex.Kind != traffic.KindRequestResponse {
		return
	}
	key, queryParams, ok := PatternKey(ex.Method, ex.URL)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ep, exists := e.patterns[key]
	if !exists {
		ep = &domain.EndpointPattern{MethodAndPathPattern: key}
		e.patterns[key] = ep
	}

	ep.TimesSeen++
	ep.LastSeen = ex.Timestamp
	ep.QueryParamNames = mergeSorted(ep.QueryParamNames, queryParams)

	if ct := ex.ResponseHeaders.Get("content-type"); ct != "" && ep.ResponseContentType == "" {
		ep.ResponseContentType = ct
	}

	if shape := ExtractShape(ex.ResponseBody); shape != nil {
		if FieldCount(shape) > FieldCount(ep.ResponseShapeSample) {
			ep.ResponseShapeSample = shape
		}
	}

	if traffic.HasAuthSignal(ex.RequestHeaders, e.authPrefix) {
		ep.AuthRequired = true
	}
}

// Catalog 输出确定性排序的目录：先按出现次数降序，再按模式升序。
// 同一有序交换序列重放必然得到字节一致的目录
func (e *EndpointInferencer) Catalog() domain.EndpointCatalog {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.EndpointPattern, 0, len(e.patterns))
	for _, ep := range e.patterns {
		copied := *ep
		copied.QueryParamNames = append([]string(nil), ep.QueryParamNames...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimesSeen != out[j].TimesSeen {
			return out[i].TimesSeen > out[j].TimesSeen
		}
		return out[i].MethodAndPathPattern < out[j].MethodAndPathPattern
	})
	return domain.EndpointCatalog{Endpoints: out}
}

// WellSampled 返回出现次数超过阈值的模式集合，供清理流程使用
func (e *EndpointInferencer) WellSampled(threshold int) map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]struct{})
	for key, ep := range e.patterns {
		if ep.TimesSeen > threshold {
			out[key] = struct{}{}
		}
	}
	return out
}

// mergeSorted 有序去重合并
func mergeSorted(dst, add []string) []string {
	if len(add) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(add))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
