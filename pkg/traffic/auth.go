package traffic

import "strings"

// DefaultAuthHeaderPrefix 自定义凭据头的默认前缀
const DefaultAuthHeaderPrefix = "x-auth"

// 固定凭据头集合，自定义凭据头通过前缀匹配补充。
// 会话提取与端点推断共用同一套判定
var credentialHeaders = map[string]struct{}{
	"authorization": {},
	"x-csrf-token":  {},
	"x-xsrf-token":  {},
}

// IsCredentialHeader 判断请求头名是否属于凭据头。prefix 为空时
// 只按固定集合判定
func IsCredentialHeader(name, prefix string) bool {
	lower := strings.ToLower(name)
	if _, ok := credentialHeaders[lower]; ok {
		return true
	}
	return prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix))
}

// HasAuthSignal 判断请求头集合是否携带凭据，Cookie 也算
func HasAuthSignal(h Header, prefix string) bool {
	for name := range h {
		if strings.ToLower(name) == "cookie" || IsCredentialHeader(name, prefix) {
			return true
		}
	}
	return false
}
