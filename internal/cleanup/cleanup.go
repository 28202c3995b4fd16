package cleanup

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"apiatlas/internal/config"
	"apiatlas/internal/infer"
	"apiatlas/internal/logger"
	"apiatlas/internal/registry"
	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// WellSampledThreshold 模式出现次数超过该值后，历史会话中的正文可被裁剪
const WellSampledThreshold = 3

// TrimCaptures 对非当前会话日志裁剪采样充分模式的正文，
// 以 [trimmed: N bytes] 替换并保留全部元数据。逐文件临时写入
// 后改名，避免中途失败破坏日志
func TrimCaptures(cfg *config.Config, app domain.AppName, currentSession string, wellSampled map[string]struct{}, l logger.Logger) error {
	if l == nil {
		l = logger.NewNop()
	}
	if len(wellSampled) == 0 {
		return nil
	}

	entries, err := os.ReadDir(cfg.CapturesDir(app))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read captures dir: %w", err)
	}

	current := currentSession + ".jsonl"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") || name == current {
			continue
		}
		path := filepath.Join(cfg.CapturesDir(app), name)
		if err := trimFile(path, wellSampled); err != nil {
			l.Err(err, "裁剪会话日志失败", "app", string(app), "file", name)
		}
	}
	return nil
}

// trimFile 裁剪单个日志文件中采样充分模式的正文
func trimFile(path string, wellSampled map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	var out []string
	modified := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed, changed := trimLine(line, wellSampled)
		out = append(out, trimmed)
		modified = modified || changed
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return scanErr
	}
	if !modified {
		return nil
	}

	tmp := path + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, line := range out {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			w.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// trimLine 对单行记录裁剪正文；返回可能被修改后的行
func trimLine(line string, wellSampled map[string]struct{}) (string, bool) {
	rawURL := gjson.Get(line, "url").String()
	if rawURL == "" {
		return line, false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return line, false
	}
	method := gjson.Get(line, "method").String()
	if method == "" {
		method = "GET"
	}
	key := method + " " + infer.NormalizePath(u.Path)
	if _, ok := wellSampled[key]; !ok {
		return line, false
	}

	changed := false
	for _, field := range []string{"responseBody", "requestBody"} {
		body := gjson.Get(line, field)
		if !body.Exists() || body.Str == "" || strings.HasPrefix(body.Str, "[trimmed") {
			continue
		}
		replaced, err := sjson.Set(line, field, fmt.Sprintf("[trimmed: %d bytes]", len(body.Str)))
		if err != nil {
			continue
		}
		line = replaced
		changed = true
	}
	return line, changed
}

// CleanDomains 收缩应用档案中从未出现过认证请求的域名，
// 始终保留首个（用户注册时命名的）域名
func CleanDomains(cfg *config.Config, reg *registry.Registry, app domain.AppName, l logger.Logger) error {
	if l == nil {
		l = logger.NewNop()
	}
	profile, err := reg.Get(app)
	if err != nil {
		return err
	}
	if len(profile.Domains) <= 1 {
		return nil
	}

	authed, err := authedDomains(cfg.CapturesDir(app), cfg.Capture.AuthHeaderPrefix)
	if err != nil {
		return err
	}
	authed[profile.Domains[0]] = struct{}{}

	kept := make([]string, 0, len(profile.Domains))
	for _, d := range profile.Domains {
		if _, ok := authed[d]; ok {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(profile.Domains) {
		return nil
	}
	l.Info("收缩应用域名列表", "app", string(app), "before", len(profile.Domains), "after", len(kept))
	return reg.ReplaceDomains(app, kept)
}

// authedDomains 扫描全部捕获，收集出现过认证请求的域名
func authedDomains(capturesDir, authPrefix string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	entries, err := os.ReadDir(capturesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(capturesDir, entry.Name()))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			kind := gjson.Get(line, "kind").String()
			if kind != "" && kind != "request-response" {
				continue
			}
			rawURL := gjson.Get(line, "url").String()
			u, err := url.Parse(rawURL)
			if err != nil || u.Hostname() == "" {
				continue
			}
			if lineHasAuth(line, authPrefix) {
				out[u.Hostname()] = struct{}{}
			}
		}
		f.Close()
	}
	return out, nil
}

func lineHasAuth(line, authPrefix string) bool {
	headers := gjson.Get(line, "requestHeaders")
	if !headers.IsObject() {
		return false
	}
	found := false
	headers.ForEach(func(key, _ gjson.Result) bool {
		name := key.String()
		if strings.ToLower(name) == "cookie" || traffic.IsCredentialHeader(name, authPrefix) {
			found = true
			return false
		}
		return true
	})
	return found
}
