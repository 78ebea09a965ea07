package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/bizdir/internal/models"
	"github.com/pliu/bizdir/internal/protocol"
)

type emitted struct {
	event string
	data  any
}

// fakeConn is an in-memory relay connection.
type fakeConn struct {
	mu      sync.Mutex
	sent    []emitted
	inbound chan *protocol.Envelope
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan *protocol.Envelope, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Emit(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, emitted{event, data})
	return nil
}

func (c *fakeConn) Receive() (*protocol.Envelope, error) {
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, pm models.PrivateMessage) {
	t.Helper()
	frame, err := protocol.Encode(protocol.EventPrivateMessage, pm)
	if err != nil {
		t.Fatal(err)
	}
	env, _ := protocol.Parse(frame)
	c.inbound <- env
}

func (c *fakeConn) emitted() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.sent...)
}

type fakeDialer struct{ conn *fakeConn }

func (d fakeDialer) Dial(context.Context) (Conn, error) { return d.conn, nil }

var (
	alice = models.Identity{ID: "u-alice", Username: "alice", Role: models.RoleUser}
	shop  = models.ThreadKey{BusinessID: "b1", CounterpartID: "u-owner"}
)

func noHistory(context.Context, models.ThreadKey) ([]models.ChatRecord, error) { return nil, nil }

func connected(t *testing.T, opts ...Option) (*Bridge, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	b, err := New(fakeDialer{conn}, alice, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, conn
}

func waitFor(t *testing.T, ch <-chan []models.ChatMessage, n int) []models.ChatMessage {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			if len(msgs) == n {
				return msgs
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %d messages", n)
			return nil
		}
	}
}

func TestNewRequiresIdentity(t *testing.T) {
	if _, err := New(fakeDialer{newFakeConn()}, models.Identity{}); err != ErrNoIdentity {
		t.Errorf("Expected ErrNoIdentity, got %v", err)
	}
}

func TestConnectRegistersFirst(t *testing.T) {
	var states []State
	var mu sync.Mutex
	b, conn := connected(t, OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	sent := conn.emitted()
	if len(sent) != 1 || sent[0].event != protocol.EventRegister || sent[0].data != alice.ID {
		t.Fatalf("Expected a single register(%q), got %+v", alice.ID, sent)
	}
	if b.State() != StateDelivering {
		t.Errorf("Expected delivering, got %v", b.State())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateRegistered, StateDelivering}
	if len(states) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: got %v want %v", i, states[i], want[i])
		}
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	b, conn := connected(t)
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"", "   ", "\n\t"} {
		if err := b.Send(text); err != ErrEmptyMessage {
			t.Errorf("Send(%q): expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if got := len(conn.emitted()); got != 1 {
		t.Errorf("Expected only the register frame, got %d frames", got)
	}
	if len(b.Messages()) != 0 {
		t.Errorf("Expected no messages, got %v", b.Messages())
	}
}

func TestSendIsOptimistic(t *testing.T) {
	b, conn := connected(t)
	if err := b.Send("hi"); err != ErrNoThread {
		t.Errorf("Expected ErrNoThread, got %v", err)
	}
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}
	if err := b.Send("  hello there "); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs := b.Messages()
	if len(msgs) != 1 || msgs[0] != (models.ChatMessage{Sender: SelfLabel, Text: "hello there", Self: true}) {
		t.Errorf("Unexpected thread %+v", msgs)
	}
	sent := conn.emitted()
	last := sent[len(sent)-1]
	pm, ok := last.data.(models.PrivateMessage)
	if last.event != protocol.EventPrivateMessage || !ok {
		t.Fatalf("Expected a private message frame, got %+v", last)
	}
	want := models.PrivateMessage{SenderID: alice.ID, ReceiverID: shop.CounterpartID, Message: "hello there", BusinessID: shop.BusinessID}
	if pm != want {
		t.Errorf("got %+v want %+v", pm, want)
	}
}

func TestReceiveDropsEchoAndLabels(t *testing.T) {
	roster := NewDirectory()
	roster.AddBusinesses(models.BusinessRef{ID: "b1", OwnerID: "u-owner", Name: "Corner Bakery"})
	changes := make(chan []models.ChatMessage, 16)
	b, conn := connected(t, WithRoster(roster), OnChange(func(m []models.ChatMessage) { changes <- m }))
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}

	conn.push(t, models.PrivateMessage{SenderID: alice.ID, ReceiverID: "u-owner", Message: "echo", BusinessID: "b1"})
	conn.push(t, models.PrivateMessage{SenderID: "u-owner", ReceiverID: alice.ID, Message: "welcome", BusinessID: "b1"})

	msgs := waitFor(t, changes, 1)
	if msgs[0] != (models.ChatMessage{Sender: "Corner Bakery", Text: "welcome"}) {
		t.Errorf("Unexpected message %+v", msgs[0])
	}
	if got := b.Messages(); len(got) != 1 {
		t.Errorf("Expected the echo to be dropped, got %+v", got)
	}
}

func TestReceiveUnrouted(t *testing.T) {
	unrouted := make(chan models.PrivateMessage, 4)
	b, conn := connected(t, OnUnrouted(func(pm models.PrivateMessage) { unrouted <- pm }))
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}

	conn.push(t, models.PrivateMessage{SenderID: "u-other", ReceiverID: alice.ID, Message: "psst"})
	conn.push(t, models.PrivateMessage{SenderID: "u-owner", ReceiverID: alice.ID, Message: "wrong shop", BusinessID: "b2"})

	for _, want := range []string{"psst", "wrong shop"} {
		select {
		case pm := <-unrouted:
			if pm.Message != want {
				t.Errorf("got %q want %q", pm.Message, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	if len(b.Messages()) != 0 {
		t.Errorf("Expected the open thread to stay empty, got %+v", b.Messages())
	}
}

func TestOpenSeedsFromHistory(t *testing.T) {
	b, _ := connected(t)
	b.Send("ignored") // no thread yet

	history := []models.ChatRecord{
		{SenderID: alice.ID, ReceiverID: "u-owner", Message: "is it open?"},
		{SenderID: "u-owner", ReceiverID: alice.ID, Message: "until 6"},
	}
	err := b.Open(context.Background(), shop, func(_ context.Context, k models.ThreadKey) ([]models.ChatRecord, error) {
		if k != shop {
			t.Errorf("fetch for %v, want %v", k, shop)
		}
		return history, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	msgs := b.Messages()
	want := []models.ChatMessage{
		{Sender: SelfLabel, Text: "is it open?", Self: true},
		{Sender: "u-owner", Text: "until 6"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %+v want %+v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d: got %+v want %+v", i, msgs[i], want[i])
		}
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	b, _ := connected(t)
	release := make(chan struct{})
	started := make(chan struct{})
	first := models.ThreadKey{BusinessID: "b1", CounterpartID: "u-slow"}

	errc := make(chan error, 1)
	go func() {
		errc <- b.Open(context.Background(), first, func(context.Context, models.ThreadKey) ([]models.ChatRecord, error) {
			close(started)
			<-release
			return []models.ChatRecord{{SenderID: "u-slow", Message: "late"}}, nil
		})
	}()
	<-started

	if err := b.Open(context.Background(), shop, func(context.Context, models.ThreadKey) ([]models.ChatRecord, error) {
		return []models.ChatRecord{{SenderID: "u-owner", Message: "current"}}, nil
	}); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-errc; err != ErrSuperseded {
		t.Errorf("Expected ErrSuperseded, got %v", err)
	}
	msgs := b.Messages()
	if len(msgs) != 1 || msgs[0].Text != "current" {
		t.Errorf("Expected only the current thread's history, got %+v", msgs)
	}
	if k, _ := b.Thread(); k != shop {
		t.Errorf("Expected active thread %v, got %v", shop, k)
	}
}

func TestLiveMessagesDuringSeed(t *testing.T) {
	unrouted := make(chan models.PrivateMessage, 1)
	b, conn := connected(t, OnUnrouted(func(pm models.PrivateMessage) { unrouted <- pm }))
	started := make(chan struct{})
	release := make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		errc <- b.Open(context.Background(), shop, func(context.Context, models.ThreadKey) ([]models.ChatRecord, error) {
			close(started)
			<-release
			return []models.ChatRecord{
				{SenderID: "u-owner", Message: "old"},
				{SenderID: "u-owner", Message: "persisted already"},
			}, nil
		})
	}()
	<-started

	conn.push(t, models.PrivateMessage{SenderID: "u-owner", Message: "persisted already", BusinessID: "b1"})
	conn.push(t, models.PrivateMessage{SenderID: "u-owner", Message: "brand new", BusinessID: "b1"})
	// a marker routed elsewhere proves both messages above were consumed
	conn.push(t, models.PrivateMessage{SenderID: "u-marker", Message: "marker"})
	select {
	case <-unrouted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for marker")
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	var texts []string
	for _, m := range b.Messages() {
		texts = append(texts, m.Text)
	}
	if got, want := strings.Join(texts, "|"), "old|persisted already|brand new"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

// blockedOpen starts Open on shop with a fetch that returns history once
// release is closed.
func blockedOpen(b *Bridge, history []models.ChatRecord) (started, release chan struct{}, errc chan error) {
	started = make(chan struct{})
	release = make(chan struct{})
	errc = make(chan error, 1)
	go func() {
		errc <- b.Open(context.Background(), shop, func(context.Context, models.ThreadKey) ([]models.ChatRecord, error) {
			close(started)
			<-release
			return history, nil
		})
	}()
	return started, release, errc
}

func TestSendDuringSeedIsKept(t *testing.T) {
	b, _ := connected(t)
	started, release, errc := blockedOpen(b, []models.ChatRecord{
		{SenderID: "u-owner", Message: "old"},
		{SenderID: alice.ID, Message: "first"},
	})
	<-started

	for _, text := range []string{"first", "second"} {
		if err := b.Send(text); err != nil {
			t.Fatalf("Send(%q) failed: %v", text, err)
		}
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	want := []models.ChatMessage{
		{Sender: "u-owner", Text: "old"},
		{Sender: SelfLabel, Text: "first", Self: true},
		{Sender: SelfLabel, Text: "second", Self: true},
	}
	msgs := b.Messages()
	if len(msgs) != len(want) {
		t.Fatalf("got %+v want %+v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d: got %+v want %+v", i, msgs[i], want[i])
		}
	}
}

func TestSeedMatchesHeldMessagesPerSender(t *testing.T) {
	unrouted := make(chan models.PrivateMessage, 1)
	b, conn := connected(t, OnUnrouted(func(pm models.PrivateMessage) { unrouted <- pm }))
	started, release, errc := blockedOpen(b, []models.ChatRecord{
		{SenderID: "u-owner", Message: "hi"},
		{SenderID: alice.ID, Message: "reply"},
	})
	<-started

	conn.push(t, models.PrivateMessage{SenderID: "u-owner", Message: "hi", BusinessID: "b1"})
	conn.push(t, models.PrivateMessage{SenderID: "u-marker", Message: "marker"})
	select {
	case <-unrouted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for marker")
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	var texts []string
	for _, m := range b.Messages() {
		texts = append(texts, m.Text)
	}
	if got, want := strings.Join(texts, "|"), "hi|reply"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCloseFromCallback(t *testing.T) {
	var b *Bridge
	result := make(chan error, 1)
	b, conn := connected(t, OnChange(func(m []models.ChatMessage) {
		if len(m) == 1 {
			result <- b.Close()
		}
	}))
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}

	conn.push(t, models.PrivateMessage{SenderID: "u-owner", Message: "bye", BusinessID: "b1"})
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close from a callback deadlocked")
	}
	if b.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %v", b.State())
	}
}

func TestStateOrderWhenConnectionDropsAtOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		states := make(chan State, 8)
		conn := newFakeConn()
		conn.Close()
		b, err := New(fakeDialer{conn}, alice, OnStateChange(func(s State) { states <- s }))
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Connect(context.Background()); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}

		want := []State{StateConnecting, StateRegistered, StateDelivering, StateDisconnected}
		for j, w := range want {
			select {
			case s := <-states:
				if s != w {
					t.Fatalf("run %d transition %d: got %v want %v", i, j, s, w)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("run %d: timed out waiting for %v", i, w)
			}
		}
		b.Close()
	}
}

func TestCloseStopsUpdates(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	b, conn := connected(t, OnChange(func([]models.ChatMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	before := calls
	mu.Unlock()

	b.receive(models.PrivateMessage{SenderID: "u-owner", Message: "after close", BusinessID: "b1"})
	if err := b.Send("too late"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := b.Open(context.Background(), shop, noHistory); err != ErrClosed {
		t.Errorf("Expected ErrClosed from Open, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != before {
		t.Errorf("Expected no updates after Close, got %d more", calls-before)
	}
	if b.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %v", b.State())
	}
	select {
	case <-conn.closed:
	default:
		t.Error("Expected the transport to be closed")
	}
}

func TestLostConnection(t *testing.T) {
	b, conn := connected(t)
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for b.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("bridge never noticed the lost connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := b.Send("hello"); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestWSDialerAgainstRelay(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan protocol.Envelope, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var env protocol.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
			if env.Event == protocol.EventPrivateMessage {
				reply, _ := protocol.Encode(protocol.EventPrivateMessage, models.PrivateMessage{
					SenderID: "u-owner", ReceiverID: alice.ID, Message: "got it", BusinessID: "b1",
				})
				ws.WriteMessage(websocket.TextMessage, reply)
			}
		}
	}))
	defer srv.Close()

	changes := make(chan []models.ChatMessage, 8)
	b, err := New(WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, alice,
		OnChange(func(m []models.ChatMessage) { changes <- m }))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	reg := <-frames
	var id string
	json.Unmarshal(reg.Data, &id)
	if reg.Event != protocol.EventRegister || id != alice.ID {
		t.Errorf("Expected register(%q), got %s(%s)", alice.ID, reg.Event, reg.Data)
	}

	if err := b.Open(context.Background(), shop, noHistory); err != nil {
		t.Fatal(err)
	}
	if err := b.Send("order #12"); err != nil {
		t.Fatal(err)
	}
	msgs := waitFor(t, changes, 2)
	if !msgs[0].Self || msgs[1].Text != "got it" {
		t.Errorf("Unexpected thread %+v", msgs)
	}
}
