package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/bizdir/internal/protocol"
)

// Conn is one live relay connection.
type Conn interface {
	Emit(event string, data any) error
	Receive() (*protocol.Envelope, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the relay over a websocket.
type WSDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *wsConn) Emit(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Receive() (*protocol.Envelope, error) {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		env, err := protocol.Parse(frame)
		if err != nil {
			// skip frames that are not envelopes
			continue
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func decode(env *protocol.Envelope, v any) error {
	return json.Unmarshal(env.Data, v)
}
