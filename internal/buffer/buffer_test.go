package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiatlas/pkg/traffic"
)

func numbered(n int) *traffic.Exchange {
	ex := traffic.NewExchange(traffic.KindRequestResponse)
	ex.URL = fmt.Sprintf("https://api.example.com/items/%d", n)
	return ex
}

// 入队顺序即投递顺序
func TestBufferPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	b := New(nil, func(ex *traffic.Exchange) {
		mu.Lock()
		got = append(got, ex.URL)
		mu.Unlock()
	}, Options{}, nil)

	var want []string
	for i := 0; i < 200; i++ {
		ex := numbered(i)
		want = append(want, ex.URL)
		b.Enqueue(ex)
	}
	b.Close()

	require.Equal(t, want, got)
}

// 下游未就绪期间入队不阻塞，就绪后按顺序全部投递
func TestBufferHoldsUntilReady(t *testing.T) {
	var ready atomic.Bool
	var mu sync.Mutex
	var got []string
	b := New(ready.Load, func(ex *traffic.Exchange) {
		mu.Lock()
		got = append(got, ex.URL)
		mu.Unlock()
	}, Options{ProbeInterval: 5 * time.Millisecond, GraceWindow: time.Second}, nil)

	var want []string
	for i := 0; i < 50; i++ {
		ex := numbered(i)
		want = append(want, ex.URL)
		b.Enqueue(ex)
	}

	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()
	assert.Equal(t, 50, b.Len())

	ready.Store(true)
	b.Close()
	require.Equal(t, want, got)
}

// 就绪探测期间关闭：下游已就绪则排空全部积压，不得丢弃
func TestBufferCloseDuringProbeDrainsWhenReady(t *testing.T) {
	var ready atomic.Bool
	var mu sync.Mutex
	var got []string
	b := New(ready.Load, func(ex *traffic.Exchange) {
		mu.Lock()
		got = append(got, ex.URL)
		mu.Unlock()
	}, Options{ProbeInterval: 5 * time.Millisecond, GraceWindow: time.Second}, nil)

	var want []string
	for i := 0; i < 10; i++ {
		ex := numbered(i)
		want = append(want, ex.URL)
		b.Enqueue(ex)
	}

	ready.Store(true)
	b.Close()
	require.Equal(t, want, got)
}

// 关闭时仍未就绪：立即放弃，不等满整个宽限期
func TestBufferCloseWhileUnreadyReturnsPromptly(t *testing.T) {
	var delivered atomic.Int64
	b := New(func() bool { return false }, func(*traffic.Exchange) {
		delivered.Add(1)
	}, Options{ProbeInterval: 5 * time.Millisecond, GraceWindow: time.Minute}, nil)

	b.Enqueue(numbered(1))
	start := time.Now()
	b.Close()
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, delivered.Load())
}

// 宽限期内未就绪：放弃投递，入队调用依旧立即返回
func TestBufferAbandonsAfterGraceWindow(t *testing.T) {
	var delivered atomic.Int64
	b := New(func() bool { return false }, func(*traffic.Exchange) {
		delivered.Add(1)
	}, Options{ProbeInterval: 5 * time.Millisecond, GraceWindow: 30 * time.Millisecond}, nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		b.Enqueue(numbered(i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	b.Close()
	assert.Zero(t, delivered.Load())
}

func TestBufferEnqueueAfterCloseDropped(t *testing.T) {
	var delivered atomic.Int64
	b := New(nil, func(*traffic.Exchange) { delivered.Add(1) }, Options{}, nil)
	b.Enqueue(numbered(1))
	b.Close()
	b.Enqueue(numbered(2))
	assert.Equal(t, int64(1), delivered.Load())
}
