package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/bizdir/internal/models"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		business_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS messages_thread ON messages (business_id, sender_id, receiver_id);
	CREATE INDEX IF NOT EXISTS messages_created ON messages (created_at);
	`

	if s.driverName == "postgres" {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) UpsertUser(user models.Owner) error {
	query := s.rebind(`INSERT INTO users (id, username, email) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, email = excluded.email`)
	_, err := s.db.Exec(query, user.ID, user.Username, user.Email)
	return err
}

// SaveMessage assigns the id and timestamps and persists msg.
func (s *SQLStore) SaveMessage(msg *models.ChatRecord) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.CreatedAt

	query := s.rebind("INSERT INTO messages (id, business_id, sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.db.Exec(query, msg.ID, msg.BusinessID, msg.SenderID, msg.ReceiverID, msg.Message, msg.CreatedAt)
	return err
}

// GetThread returns the messages exchanged between two users about a
// business, oldest first.
func (s *SQLStore) GetThread(businessID, userID, counterpartID string) ([]models.ChatRecord, error) {
	query := s.rebind(`SELECT id, business_id, sender_id, receiver_id, content, created_at FROM messages
		WHERE business_id = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY seq ASC`)
	rows, err := s.db.Query(query, businessID, userID, counterpartID, counterpartID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChatRecord{}
	for rows.Next() {
		var m models.ChatRecord
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.SenderID, &m.ReceiverID, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt = m.CreatedAt
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetChatHeads returns, for every user that exchanged messages with userID
// about a business, the latest message of that conversation. Newest first.
func (s *SQLStore) GetChatHeads(businessID, userID string) ([]models.ChatHead, error) {
	query := s.rebind(`SELECT m.counterpart, COALESCE(u.username, ''), COALESCE(u.email, ''), m.content
		FROM (
			SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart, content, seq
			FROM messages WHERE business_id = ? AND (sender_id = ? OR receiver_id = ?)
		) m
		LEFT JOIN users u ON u.id = m.counterpart
		WHERE m.seq = (
			SELECT MAX(x.seq) FROM messages x WHERE x.business_id = ? AND
				((x.sender_id = ? AND x.receiver_id = m.counterpart) OR (x.receiver_id = ? AND x.sender_id = m.counterpart))
		)
		ORDER BY m.seq DESC`)
	rows, err := s.db.Query(query, userID, businessID, userID, userID, businessID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	heads := []models.ChatHead{}
	for rows.Next() {
		var h models.ChatHead
		if err := rows.Scan(&h.ID, &h.Sender.Username, &h.Sender.Email, &h.Message); err != nil {
			return nil, err
		}
		h.Sender.ID = h.ID
		if h.Sender.Username == "" {
			h.Sender.Username = h.ID
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

func (s *SQLStore) PurgeBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(s.rebind("DELETE FROM messages WHERE created_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
