package store

import (
	"time"

	"github.com/pliu/bizdir/internal/models"
)

type Store interface {
	// User operations
	UpsertUser(user models.Owner) error

	// Message operations
	SaveMessage(msg *models.ChatRecord) error
	GetThread(businessID, userID, counterpartID string) ([]models.ChatRecord, error)
	GetChatHeads(businessID, userID string) ([]models.ChatHead, error)
	PurgeBefore(cutoff time.Time) (int64, error)

	Close() error
}
