package wstap

import (
	"github.com/gorilla/websocket"

	"apiatlas/internal/observer"
	"apiatlas/pkg/traffic"
)

// Conn 包装 gorilla/websocket 连接的观察者：包装时发出一条
// stream-open 记录，此后每读写一帧各发一条消息记录，帧内容透传
type Conn struct {
	*websocket.Conn
	url  string
	emit observer.Emitter
}

// Wrap 包装一条已建立的连接并发出 stream-open 记录
func Wrap(c *websocket.Conn, rawURL string, emit observer.Emitter) *Conn {
	ex := traffic.NewExchange(traffic.KindStreamOpen)
	ex.URL = rawURL
	emit(ex)
	return &Conn{Conn: c, url: rawURL, emit: emit}
}

// ReadMessage 读取一帧并记录为 stream-message-in
func (c *Conn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.Conn.ReadMessage()
	if err != nil {
		return mt, data, err
	}
	ex := traffic.NewExchange(traffic.KindStreamMsgIn)
	ex.URL = c.url
	ex.ResponseBody = traffic.CapBody(string(data))
	c.emit(ex)
	return mt, data, nil
}

// WriteMessage 记录为 stream-message-out 并写出一帧
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if err := c.Conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	ex := traffic.NewExchange(traffic.KindStreamMsgOut)
	ex.URL = c.url
	ex.RequestBody = traffic.CapBody(string(data))
	c.emit(ex)
	return nil
}
