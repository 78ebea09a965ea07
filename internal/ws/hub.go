package ws

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/protocol"
	"github.com/pliu/bizdir/internal/store"
)

type identification struct {
	client *Client
	userID string
}

type presenceQuery struct {
	userID string
	reply  chan int
}

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Clients by the user id they registered with.
	users map[string]map[*Client]bool

	// Inbound messages from the clients.
	broadcast chan models.PrivateMessage

	// Messages fanned out by the broker, to deliver locally.
	deliver chan models.PrivateMessage

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	identify chan identification
	presence chan presenceQuery

	// Closed when Run returns.
	done chan struct{}

	store   store.Store
	broker  Broker
	limiter *limiterPool
	metrics *Metrics
	log     *slog.Logger
}

type HubOption func(*Hub)

// WithBroker fans delivery out through b instead of delivering in-process.
func WithBroker(b Broker) HubOption {
	return func(h *Hub) { h.broker = b }
}

// WithRateLimit caps private messages per sender.
func WithRateLimit(rps float64, burst int) HubOption {
	return func(h *Hub) {
		if rps > 0 {
			h.limiter = newLimiterPool(rps, burst)
		}
	}
}

func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

func NewHub(store store.Store, opts ...HubOption) *Hub {
	h := &Hub{
		broadcast:  make(chan models.PrivateMessage),
		deliver:    make(chan models.PrivateMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		identify:   make(chan identification),
		presence:   make(chan presenceQuery),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		store:      store,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Run owns the client maps until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.broker != nil {
		go func() {
			err := h.broker.Subscribe(ctx, func(pm models.PrivateMessage) {
				select {
				case h.deliver <- pm:
				case <-ctx.Done():
				}
			})
			if err != nil && ctx.Err() == nil {
				h.log.Error("broker subscription ended", logging.Err(err))
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.metrics.Connections.Inc()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case id := <-h.identify:
			h.bind(id.client, id.userID)
		case q := <-h.presence:
			q.reply <- len(h.users[q.userID])
		case message := <-h.broadcast:
			rec := &models.ChatRecord{
				SenderID:   message.SenderID,
				ReceiverID: message.ReceiverID,
				BusinessID: message.BusinessID,
				Message:    message.Message,
			}
			if err := h.store.SaveMessage(rec); err != nil {
				h.log.Error("saving message failed", logging.UserID(message.SenderID), logging.Err(err))
				h.metrics.Dropped.WithLabelValues("store").Inc()
				continue
			}
			if h.broker != nil {
				err := h.broker.Publish(ctx, message)
				if err == nil {
					continue
				}
				h.log.Warn("broker publish failed, delivering locally", logging.Err(err))
			}
			h.deliverLocal(message)
		case message := <-h.deliver:
			h.deliverLocal(message)
		}
	}
}

func (h *Hub) bind(client *Client, userID string) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	if client.userID != "" {
		delete(h.users[client.userID], client)
	}
	client.userID = userID
	set := h.users[userID]
	if set == nil {
		set = make(map[*Client]bool)
		h.users[userID] = set
	}
	set[client] = true
	h.log.Debug("client registered", logging.UserID(userID), logging.Conn(client.id))
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	if set := h.users[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.users, client.userID)
		}
	}
	close(client.send)
	h.metrics.Connections.Dec()
}

// deliverLocal sends message to every connection of its receiver on this
// instance.
func (h *Hub) deliverLocal(message models.PrivateMessage) {
	set := h.users[message.ReceiverID]
	if len(set) == 0 {
		h.metrics.Dropped.WithLabelValues("offline").Inc()
		return
	}
	frame, err := protocol.Encode(protocol.EventPrivateMessage, message)
	if err != nil {
		h.log.Error("encoding message failed", logging.Err(err))
		return
	}
	for client := range set {
		select {
		case client.send <- frame:
			h.metrics.Delivered.Inc()
		default:
			h.log.Warn("slow client dropped", logging.UserID(client.userID), logging.Conn(client.id))
			h.drop(client)
		}
	}
}

// Connected returns the number of live connections registered for userID.
func (h *Hub) Connected(ctx context.Context, userID string) int {
	q := presenceQuery{userID: userID, reply: make(chan int, 1)}
	select {
	case h.presence <- q:
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
	select {
	case n := <-q.reply:
		return n
	case <-ctx.Done():
		return 0
	}
}

// validate stamps the sender and reports the refusal code, if any.
func (h *Hub) validate(userID string, pm *models.PrivateMessage) string {
	pm.SenderID = userID
	pm.Message = strings.TrimSpace(pm.Message)
	if pm.ReceiverID == "" || pm.Message == "" {
		return protocol.ErrCodeInvalidMsg
	}
	if h.limiter != nil && !h.limiter.allow(userID) {
		return protocol.ErrCodeRateLimited
	}
	return ""
}

// post hands v to the hub goroutine unless the hub has stopped.
func post[T any](h *Hub, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}
