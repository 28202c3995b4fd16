package httptrip

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiatlas/pkg/traffic"
)

type collector struct {
	mu  sync.Mutex
	got []*traffic.Exchange
}

func (c *collector) emit(ex *traffic.Exchange) {
	c.mu.Lock()
	c.got = append(c.got, ex)
	c.mu.Unlock()
}

// 往返逐字节透传，同时生成一条完整的 request-response 记录
func TestTransportPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"echo":"` + string(body) + `"}`))
	}))
	defer srv.Close()

	c := &collector{}
	client := &http.Client{Transport: Wrap(nil, c.emit)}

	resp, err := client.Post(srv.URL+"/api/orders", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"echo":"hello"}`, string(body))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Len(t, c.got, 1)
	ex := c.got[0]
	assert.Equal(t, traffic.KindRequestResponse, ex.Kind)
	assert.Equal(t, "POST", ex.Method)
	assert.Equal(t, srv.URL+"/api/orders", ex.URL)
	assert.Equal(t, "hello", ex.RequestBody)
	assert.Equal(t, `{"echo":"hello"}`, ex.ResponseBody)
	assert.Equal(t, http.StatusCreated, ex.Status)
	assert.Equal(t, "application/json", ex.ResponseHeaders.Get("content-type"))
	assert.GreaterOrEqual(t, ex.DurationMillis, 0.0)
}

type failingRT struct{ err error }

func (f *failingRT) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

// 传输失败：零状态码记录，原始错误原样返回
func TestTransportFailure(t *testing.T) {
	want := errors.New("connection refused")
	c := &collector{}
	tr := Wrap(&failingRT{err: want}, c.emit)

	req, err := http.NewRequest("GET", "https://down.example.com/api", nil)
	require.NoError(t, err)
	resp, err := tr.RoundTrip(req)
	assert.Nil(t, resp)
	assert.Equal(t, want, err)

	require.Len(t, c.got, 1)
	assert.Equal(t, 0, c.got[0].Status)
	assert.Equal(t, "connection refused", c.got[0].StatusText)
}
