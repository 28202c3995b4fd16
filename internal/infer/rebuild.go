package infer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"apiatlas/pkg/domain"
	"apiatlas/pkg/traffic"
)

// ReplayLog 按顺序重放一个会话日志，把其中每条记录喂给给定的
// 推断器。格式错误的行跳过，不中断重放。skip 与在线消费路径
// 使用同一个噪声判定：命中的 URL 不进入端点推断，凭据推断不受
// 其影响。重放与增量维护只有共用同一判定才能得到一致的目录
func ReplayLog(path string, ep *EndpointInferencer, auth *AuthInferencer, skip func(url string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// 正文上限 500KB，整行可能远超默认缓冲
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ex traffic.Exchange
		if err := json.Unmarshal(line, &ex); err != nil {
			continue
		}
		if skip == nil || !skip(ex.URL) {
			ep.Observe(&ex)
		}
		auth.Observe(&ex)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan session log: %w", err)
	}
	return nil
}

// RebuildFromLog 在全新的推断器中重建两个目录。推断过程对有序
// 输入是确定性的，重放得到的目录与增量维护的目录完全一致
func RebuildFromLog(path string, skip func(url string) bool) (domain.EndpointCatalog, domain.AuthCatalog, error) {
	ep := NewEndpointInferencer()
	auth := NewAuthInferencer()
	if err := ReplayLog(path, ep, auth, skip); err != nil {
		return ep.Catalog(), auth.Catalog(), err
	}
	return ep.Catalog(), auth.Catalog(), nil
}
