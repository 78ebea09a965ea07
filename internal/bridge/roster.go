package bridge

import (
	"sync"

	"github.com/pliu/bizdir/internal/models"
)

// Roster resolves a sender id to the label shown in a thread.
type Roster interface {
	Label(userID string) (string, bool)
}

// Directory is a Roster built from what the views already loaded: chat heads
// name customers, business refs name owners by their listing.
type Directory struct {
	mu     sync.RWMutex
	labels map[string]string
}

func NewDirectory() *Directory {
	return &Directory{labels: make(map[string]string)}
}

func (d *Directory) Label(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.labels[userID]
	return l, ok
}

func (d *Directory) Put(userID, label string) {
	if userID == "" || label == "" {
		return
	}
	d.mu.Lock()
	d.labels[userID] = label
	d.mu.Unlock()
}

func (d *Directory) AddHeads(heads []models.ChatHead) {
	for _, h := range heads {
		label := h.Sender.Username
		if label == "" {
			label = h.Sender.Email
		}
		d.Put(h.ID, label)
	}
}

func (d *Directory) AddBusinesses(refs ...models.BusinessRef) {
	for _, r := range refs {
		d.Put(r.OwnerID, r.Name)
	}
}
