package observer

import (
	"context"

	"apiatlas/pkg/traffic"
)

// Emitter 观察者向管道提交交换记录的回调，实现方保证永不阻塞
type Emitter func(ex *traffic.Exchange)

// NetworkObserver 传输观察者：附着在某种传输机制上，
// 把观测到的网络活动转换为交换记录提交给管道
type NetworkObserver interface {
	// Start 开始观测，失败返回错误
	Start(ctx context.Context) error

	// Stop 停止观测并释放资源
	Stop() error
}
