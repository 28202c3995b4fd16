package infer

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// 凭据类 Cookie 名的子串特征
var authCookiePatterns = []string{"session", "sid", "token", "auth", "csrf", "xsrf", "jwt"}

// AuthInferencer 认证机制推断器：从交换流中识别反复出现的凭据头
// 与凭据 Cookie，归类为机制描述。机制集合只增不减
type AuthInferencer struct {
	mu      sync.Mutex
	cookies map[string]map[string]struct{} // domain -> cookie 名集合
	headers map[string]string              // header 名 -> 泛化后的值模式
}

// NewAuthInferencer 创建认证机制推断器
func NewAuthInferencer() *AuthInferencer {
	return &AuthInferencer{
		cookies: make(map[string]map[string]struct{}),
		headers: make(map[string]string),
	}
}

// Observe 归并一条交换记录中的凭据特征
func (a *AuthInferencer) Observe(ex *traffic.Exchange) {
	host := ""
	if u, err := url.Parse(ex.URL); err == nil {
		host = u.Hostname()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cookie := ex.RequestHeaders.Get("cookie"); cookie != "" && host != "" {
		for name := range traffic.ParseCookie(cookie) {
			if !isAuthCookieName(name) {
				continue
			}
			set, ok := a.cookies[host]
			if !ok {
				set = make(map[string]struct{})
				a.cookies[host] = set
			}
			set[name] = struct{}{}
		}
	}

	// 机制目录只收录固定凭据头；前缀匹配的自定义头参与
	// authRequired 判定，但不构成命名机制
	for name, value := range ex.RequestHeaders {
		lower := strings.ToLower(name)
		if !traffic.IsCredentialHeader(lower, "") {
			continue
		}
		if _, ok := a.headers[lower]; !ok {
			a.headers[lower] = GeneralizeValue(value)
		}
	}
}

// Catalog 输出确定性排序的机制目录：cookie 机制按域名升序，
// header 机制按名称升序
func (a *AuthInferencer) Catalog() domain.AuthCatalog {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuthMechanism

	cookieDomains := make([]string, 0, len(a.cookies))
	for d := range a.cookies {
		cookieDomains = append(cookieDomains, d)
	}
	sort.Strings(cookieDomains)
	for _, d := range cookieDomains {
		names := make([]string, 0, len(a.cookies[d]))
		for n := range a.cookies[d] {
			names = append(names, n)
		}
		sort.Strings(names)
		out = append(out, domain.AuthMechanism{
			Type:   domain.AuthTypeCookie,
			Names:  names,
			Domain: d,
		})
	}

	headerNames := make([]string, 0, len(a.headers))
	for n := range a.headers {
		headerNames = append(headerNames, n)
	}
	sort.Strings(headerNames)
	for _, n := range headerNames {
		out = append(out, domain.AuthMechanism{
			Type:    domain.AuthTypeHeader,
			Name:    n,
			Pattern: a.headers[n],
		})
	}

	return domain.AuthCatalog{Mechanisms: out}
}

// GeneralizeValue 将凭据头的值泛化为模式模板：保留起始的方案词，
// 其余部分中纯数字串替换为 {timestamp}、字母数字串替换为 {hash}，
// 分隔符原样保留；没有方案词的值归为 opaque
func GeneralizeValue(v string) string {
	sp := strings.IndexByte(v, ' ')
	if sp <= 0 {
		return "opaque"
	}
	var b strings.Builder
	b.WriteString(v[:sp])
	b.WriteByte(' ')

	rest := v[sp+1:]
	i := 0
	for i < len(rest) {
		c := rest[i]
		if isAlnumByte(c) {
			j := i
			digitsOnly := true
			for j < len(rest) && isAlnumByte(rest[j]) {
				if rest[j] < '0' || rest[j] > '9' {
					digitsOnly = false
				}
				j++
			}
			if digitsOnly {
				b.WriteString("{timestamp}")
			} else {
				b.WriteString("{hash}")
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isAuthCookieName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range authCookiePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isAlnumByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
