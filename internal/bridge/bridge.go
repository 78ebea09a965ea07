// Package bridge keeps one open chat thread in sync with the relay: it
// registers the local user, sends messages optimistically, appends routed
// inbound messages and seeds the thread from persisted history.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/protocol"
)

// SelfLabel is the sender label of messages written by the local user.
const SelfLabel = "You"

var (
	ErrNoIdentity     = errors.New("bridge: no signed-in identity")
	ErrEmptyMessage   = errors.New("bridge: empty message")
	ErrNotConnected   = errors.New("bridge: not connected")
	ErrNoThread       = errors.New("bridge: no open thread")
	ErrClosed         = errors.New("bridge: closed")
	ErrAlreadyStarted = errors.New("bridge: already connected")
	// ErrSuperseded is returned by Open when another thread was opened, or the
	// bridge closed, while history was loading. The result was discarded.
	ErrSuperseded = errors.New("bridge: thread superseded")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateDelivering
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateDelivering:
		return "delivering"
	}
	return "disconnected"
}

// HistoryFunc loads the persisted messages of a thread, oldest first.
type HistoryFunc func(ctx context.Context, thread models.ThreadKey) ([]models.ChatRecord, error)

type Option func(*Bridge)

func WithRoster(r Roster) Option {
	return func(b *Bridge) { b.roster = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// OnChange is called with a copy of the thread after every update.
func OnChange(fn func([]models.ChatMessage)) Option {
	return func(b *Bridge) { b.onChange = fn }
}

// OnUnrouted receives inbound messages that do not belong to the open thread.
func OnUnrouted(fn func(models.PrivateMessage)) Option {
	return func(b *Bridge) { b.onUnrouted = fn }
}

func OnStateChange(fn func(State)) Option {
	return func(b *Bridge) { b.onState = fn }
}

type Bridge struct {
	dialer Dialer
	self   models.Identity
	roster Roster
	log    *slog.Logger

	onChange   func([]models.ChatMessage)
	onUnrouted func(models.PrivateMessage)
	onState    func(State)

	mu       sync.Mutex
	state    State
	conn     Conn
	done     chan struct{}
	closed   bool
	thread   *models.ThreadKey
	gen      uint64
	seeding  bool
	pending  []models.PrivateMessage
	messages []models.ChatMessage

	// set while the listener runs a callback
	dispatching atomic.Bool
}

func New(d Dialer, self models.Identity, opts ...Option) (*Bridge, error) {
	if self.ID == "" {
		return nil, ErrNoIdentity
	}
	b := &Bridge{dialer: d, self: self, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Connect dials the relay, registers the local user and starts delivering
// inbound messages. There is no reconnection; after a transport failure the
// bridge is disconnected and Connect may be called again.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = StateConnecting
	b.mu.Unlock()
	b.notifyState(StateConnecting)

	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		b.log.Warn("relay dial failed", logging.UserID(b.self.ID), logging.Err(err))
		b.setState(StateDisconnected)
		return err
	}
	if err := conn.Emit(protocol.EventRegister, b.self.ID); err != nil {
		b.log.Warn("relay register failed", logging.UserID(b.self.ID), logging.Err(err))
		conn.Close()
		b.setState(StateDisconnected)
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	b.conn = conn
	b.done = make(chan struct{})
	b.state = StateRegistered
	done := b.done
	b.mu.Unlock()

	ready := make(chan struct{})
	go b.listen(conn, done, ready)
	<-ready
	b.log.Debug("relay connected", logging.UserID(b.self.ID))
	return nil
}

// listen owns every state notification after registration, so observers
// see registered, delivering and disconnected in that order.
func (b *Bridge) listen(conn Conn, done, ready chan struct{}) {
	defer close(done)
	b.announce(conn, ready)
	for {
		env, err := conn.Receive()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			if b.conn == conn {
				b.conn = nil
				b.state = StateDisconnected
			}
			b.mu.Unlock()
			if !closed {
				b.log.Warn("relay connection lost", logging.UserID(b.self.ID), logging.Err(err))
			}
			b.dispatch(func() { b.notifyState(StateDisconnected) })
			return
		}
		switch env.Event {
		case protocol.EventPrivateMessage:
			var pm models.PrivateMessage
			if err := decode(env, &pm); err != nil {
				b.log.Debug("dropping malformed message", logging.Err(err))
				continue
			}
			b.receive(pm)
		case protocol.EventError:
			var em protocol.ErrorMessage
			_ = decode(env, &em)
			b.log.Warn("relay refused message", slog.String("code", em.Code), slog.String("message", em.Message))
		}
	}
}

func (b *Bridge) announce(conn Conn, ready chan struct{}) {
	defer close(ready)
	for _, s := range []State{StateRegistered, StateDelivering} {
		b.mu.Lock()
		current := b.conn == conn && !b.closed
		if current {
			b.state = s
		}
		b.mu.Unlock()
		if !current {
			return
		}
		b.dispatch(func() { b.notifyState(s) })
	}
}

func (b *Bridge) dispatch(fn func()) {
	b.dispatching.Store(true)
	defer b.dispatching.Store(false)
	fn()
}

func (b *Bridge) receive(pm models.PrivateMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if pm.SenderID == b.self.ID {
		// the relay echoes our own sends; Send already appended them
		b.mu.Unlock()
		return
	}
	if !b.routed(pm) {
		b.mu.Unlock()
		if b.onUnrouted != nil {
			b.dispatch(func() { b.onUnrouted(pm) })
		}
		return
	}
	if b.seeding {
		b.pending = append(b.pending, pm)
		b.mu.Unlock()
		return
	}
	b.messages = append(b.messages, b.entry(pm.SenderID, pm.Message))
	snap := b.snapshot()
	b.mu.Unlock()
	b.dispatch(func() { b.changed(snap) })
}

// routed reports whether pm belongs to the open thread. Callers hold b.mu.
func (b *Bridge) routed(pm models.PrivateMessage) bool {
	if b.thread == nil || pm.SenderID != b.thread.CounterpartID {
		return false
	}
	return pm.BusinessID == "" || pm.BusinessID == b.thread.BusinessID
}

func (b *Bridge) entry(senderID, text string) models.ChatMessage {
	if senderID == b.self.ID {
		return models.ChatMessage{Sender: SelfLabel, Text: text, Self: true}
	}
	return models.ChatMessage{Sender: b.label(senderID), Text: text}
}

func (b *Bridge) label(id string) string {
	if b.roster != nil {
		if l, ok := b.roster.Label(id); ok {
			return l
		}
	}
	return id
}

// Send emits text to the counterpart of the open thread and appends it to
// the thread without waiting for the relay. A message sent while history
// loads is held like live traffic and kept after the history is seeded.
func (b *Bridge) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrClosed
	case b.conn == nil:
		b.mu.Unlock()
		return ErrNotConnected
	case b.thread == nil:
		b.mu.Unlock()
		return ErrNoThread
	}
	conn := b.conn
	pm := models.PrivateMessage{
		SenderID:   b.self.ID,
		ReceiverID: b.thread.CounterpartID,
		Message:    text,
		BusinessID: b.thread.BusinessID,
	}
	b.messages = append(b.messages, b.entry(b.self.ID, text))
	if b.seeding {
		b.pending = append(b.pending, pm)
	}
	snap := b.snapshot()
	b.mu.Unlock()
	b.changed(snap)

	if err := conn.Emit(protocol.EventPrivateMessage, pm); err != nil {
		b.log.Warn("send failed", logging.UserID(b.self.ID), logging.Err(err))
		return err
	}
	return nil
}

// Open makes thread the active thread and replaces its messages with the
// persisted history. Live messages arriving while history loads are kept
// and appended after it unless the history already has them.
func (b *Bridge) Open(ctx context.Context, thread models.ThreadKey, fetch HistoryFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.gen++
	gen := b.gen
	t := thread
	b.thread = &t
	b.messages = nil
	b.pending = nil
	b.seeding = true
	b.mu.Unlock()
	b.changed(nil)

	records, err := fetch(ctx, thread)

	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		b.log.Debug("discarding stale history", logging.Thread(thread.String()))
		return ErrSuperseded
	}
	pending := b.pending
	b.pending = nil
	b.seeding = false
	if err != nil {
		records = nil
	}
	b.messages = b.seed(records, pending)
	snap := b.snapshot()
	b.mu.Unlock()
	b.changed(snap)
	return err
}

// seed maps history and appends the held messages it does not already
// contain. A held message is already persisted when it matches one of its
// sender's last n records, n being how many messages that sender has held.
// Callers hold b.mu.
func (b *Bridge) seed(records []models.ChatRecord, pending []models.PrivateMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(records)+len(pending))
	for _, r := range records {
		out = append(out, b.entry(r.SenderID, r.Message))
	}

	held := make(map[string]int)
	for _, pm := range pending {
		held[pm.SenderID]++
	}
	window := make(map[string][]int)
	for i := len(records) - 1; i >= 0; i-- {
		id := records[i].SenderID
		if len(window[id]) < held[id] {
			window[id] = append(window[id], i)
		}
	}
	used := make(map[int]bool)
	for _, pm := range pending {
		dup := false
		for _, i := range window[pm.SenderID] {
			if !used[i] && records[i].Message == pm.Message {
				used[i] = true
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, b.entry(pm.SenderID, pm.Message))
		}
	}
	return out
}

// Thread returns the active thread.
func (b *Bridge) Thread() (models.ThreadKey, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.thread == nil {
		return models.ThreadKey{}, false
	}
	return *b.thread, true
}

func (b *Bridge) Messages() []models.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close disconnects and stops the listener. Messages in flight are dropped
// and no callback fires for inbound traffic once Close returns. Called from
// inside a callback, Close does not wait for the listener, which is running
// that callback and stops once it returns.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.gen++
	conn, done := b.conn, b.done
	b.conn = nil
	b.thread = nil
	b.pending = nil
	wasUp := b.state != StateDisconnected
	b.state = StateDisconnected
	b.mu.Unlock()

	if conn == nil {
		if wasUp {
			b.notifyState(StateDisconnected)
		}
		return nil
	}
	// the listener reports the disconnect
	err := conn.Close()
	if !b.dispatching.Load() {
		<-done
	}
	return err
}

func (b *Bridge) snapshot() []models.ChatMessage {
	if len(b.messages) == 0 {
		return nil
	}
	out := make([]models.ChatMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.state = s
	b.mu.Unlock()
	b.notifyState(s)
}

func (b *Bridge) notifyState(s State) {
	if b.onState != nil {
		b.onState(s)
	}
}

func (b *Bridge) changed(snap []models.ChatMessage) {
	if b.onChange != nil {
		b.onChange(snap)
	}
}
