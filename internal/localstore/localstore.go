// Package localstore persists client-side state between runs. It is the
// terminal counterpart of browser local storage: a flat key/value table in a
// SQLite file, with values optionally sealed under a local key.
package localstore

import (
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/chacha20poly1305"
)

// TokenKey is the only key the client persists.
const TokenKey = "token"

var ErrNotFound = errors.New("localstore: key not found")

type Store struct {
	db     *sql.DB
	sealer *sealer
}

// Open opens (or creates) the store at path. When keyFile is non-empty the
// values are sealed with XChaCha20-Poly1305 under the key it holds; the key
// file is generated on first use.
func Open(path, keyFile string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if keyFile != "" {
		key, err := loadOrCreateKey(keyFile)
		if err != nil {
			db.Close()
			return nil, err
		}
		if s.sealer, err = newSealer(key); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM local_storage WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if s.sealer == nil {
		return value, nil
	}
	return s.sealer.open(key, value)
}

func (s *Store) Set(key, value string) error {
	if s.sealer != nil {
		sealed, err := s.sealer.seal(key, value)
		if err != nil {
			return err
		}
		value = sealed
	}
	_, err := s.db.Exec(`
		INSERT INTO local_storage (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *Store) Remove(key string) error {
	_, err := s.db.Exec("DELETE FROM local_storage WHERE key = ?", key)
	return err
}

type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid storage key: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal binds the ciphertext to its key name so a value cannot be moved to a
// different key.
func (s *sealer) seal(key, value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *sealer) open(key, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("corrupt value for %q: %w", key, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("corrupt value for %q", key)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("cannot unseal value for %q: %w", key, err)
	}
	return string(plain), nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("storage key file %s is malformed", path)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read storage key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write storage key: %w", err)
	}
	return key, nil
}
