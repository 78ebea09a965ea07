package gateway

import (
	"fmt"
	"io"
	"sync"
)

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	}
	return "info"
}

// Notification is a transient, non-blocking message for the user.
type Notification struct {
	Level Level
	Text  string
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Notification) {})

// WriterNotifier prints one line per notification.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

func (w *WriterNotifier) Notify(n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.W, "[%s] %s\n", n.Level, n.Text)
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}
