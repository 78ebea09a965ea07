package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/middleware"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the directory UI is served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. userID is owned by the hub goroutine.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID string

	// The user id the connection authenticated as; register must match it.
	authID string

	// Outbound frames; closed by the hub.
	send chan []byte

	// Refusals for this connection, written by readPump.
	errs chan []byte
}

// ServeWs upgrades an authenticated request and attaches the connection to
// the hub. The connection receives nothing until it sends a register event
// for the user its token names.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.NewString(),
		authID: claims.UserID,
		send:   make(chan []byte, 256),
		errs:   make(chan []byte, 8),
	}
	if !post(hub, hub.register, client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		post(c.hub, c.hub.unregister, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := c.hub.log.With(logging.Conn(c.id))
	var userID string
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", logging.Err(err))
			}
			return
		}
		env, err := protocol.Parse(frame)
		if err != nil {
			c.refuse(protocol.ErrCodeInvalidMsg, "malformed frame")
			continue
		}

		switch env.Event {
		case protocol.EventRegister:
			var id string
			if err := json.Unmarshal(env.Data, &id); err != nil || id == "" {
				c.refuse(protocol.ErrCodeInvalidMsg, "register needs a user id")
				continue
			}
			if id != c.authID {
				log.Warn("register refused", logging.UserID(id), slog.String("token_user", c.authID))
				c.refuse(protocol.ErrCodeForbidden, "register must name the authenticated user")
				continue
			}
			userID = id
			log = log.With(logging.UserID(id))
			if !post(c.hub, c.hub.identify, identification{client: c, userID: id}) {
				return
			}
		case protocol.EventPrivateMessage:
			if userID == "" {
				c.refuse(protocol.ErrCodeNotRegistered, "register before sending")
				continue
			}
			var pm models.PrivateMessage
			if err := json.Unmarshal(env.Data, &pm); err != nil {
				c.refuse(protocol.ErrCodeInvalidMsg, "malformed private message")
				continue
			}
			if code := c.hub.validate(userID, &pm); code != "" {
				c.hub.metrics.Dropped.WithLabelValues(code).Inc()
				log.Debug("message refused", slog.String("code", code))
				c.refuse(code, "message refused")
				continue
			}
			if !post(c.hub, c.hub.broadcast, pm) {
				return
			}
		default:
			log.Debug("ignoring event", slog.String("event", env.Event))
		}
	}
}

func (c *Client) refuse(code, message string) {
	frame, err := protocol.Encode(protocol.EventError, protocol.ErrorMessage{Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case c.errs <- frame:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case message := <-c.errs:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
