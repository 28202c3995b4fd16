package wstap

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
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

func (c *collector) kinds() []traffic.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]traffic.Kind, 0, len(c.got))
	for _, ex := range c.got {
		out = append(out, ex.Kind)
	}
	return out
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestConnObservesFrames(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	raw, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	c := &collector{}
	conn := Wrap(raw, wsURL, c.emit)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"sub"}`)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, `{"op":"sub"}`, string(data))

	kinds := c.kinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, traffic.KindStreamOpen, kinds[0])
	assert.Equal(t, traffic.KindStreamMsgOut, kinds[1])
	assert.Equal(t, traffic.KindStreamMsgIn, kinds[2])

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, wsURL, c.got[0].URL)
	assert.Equal(t, `{"op":"sub"}`, c.got[1].RequestBody)
	assert.Equal(t, `{"op":"sub"}`, c.got[2].ResponseBody)
}
