package infer

import (
	"net/url"
	"sort"
	"strings"
)

// 路径段识别为标识符的阈值（直接决定目录粒度，可按需调整）：
// 纯数字；≥32 位十六进制加连字符（UUID 形态）；≥20 位十六进制；
// ≥24 位且含数字的字母数字串（不透明 token）
const (
	uuidSegmentMinLen   = 32
	hexSegmentMinLen    = 20
	opaqueSegmentMinLen = 24
)

const idPlaceholder = "{id}"

// NormalizePath 将路径中疑似标识符的段替换为占位符
func NormalizePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if isIdentifierSegment(seg) {
			segs[i] = idPlaceholder
		}
	}
	return strings.Join(segs, "/")
}

// PatternKey 由方法与 URL 生成端点模式键，并返回查询参数名
func PatternKey(method, rawURL string) (key string, queryParams []string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", nil, false
	}
	if method == "" {
		method = "GET"
	}
	for name := range u.Query() {
		queryParams = append(queryParams, name)
	}
	sort.Strings(queryParams)
	return method + " " + NormalizePath(u.Path), queryParams, true
}

func isIdentifierSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if allDigits(seg) {
		return true
	}
	if len(seg) >= uuidSegmentMinLen && allHexOrDash(seg) {
		return true
	}
	if len(seg) >= hexSegmentMinLen && allHex(seg) {
		return true
	}
	if len(seg) >= opaqueSegmentMinLen && allAlnum(seg) && hasDigit(seg) {
		return true
	}
	return false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return false
		}
	}
	return true
}

func allHexOrDash(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) && s[i] != '-' {
			return false
		}
	}
	return true
}

func allAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func hasDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
