// Package session owns the signed-in state of the process: the persisted
// bearer credential and the identity fetched with it. Views receive the
// Session instead of reading the credential from storage themselves.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/localstore"
	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/models"
)

var ErrNotBound = errors.New("session: no authenticator bound")

// Storage is the persisted client state; *localstore.Store implements it.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Authenticator is the identity part of the remote API.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	Profile(ctx context.Context) (models.Identity, error)
}

// Resetter is the query cache as seen by sign-out.
type Resetter interface {
	Reset()
}

type Session struct {
	mu       sync.RWMutex
	storage  Storage
	auth     Authenticator
	cache    Resetter
	token    string
	identity *models.Identity
	loading  bool
	now      func() time.Time
}

func New(storage Storage) *Session {
	return &Session{storage: storage, now: time.Now}
}

// Bind attaches the API the session signs in against and the cache it
// clears on sign-out. The API usually sends requests through a gateway that
// reads its credential from this same session, hence the two-step setup.
func (s *Session) Bind(auth Authenticator, cache Resetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
	s.cache = cache
}

// Init reads the persisted credential and, when one is present, loads the
// profile. An expired JWT is removed instead of being used. A credential the
// server rejects with 401 is removed as well.
func (s *Session) Init(ctx context.Context) error {
	log := logging.FromContext(ctx)

	token, err := s.storage.Get(localstore.TokenKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if expired(token, s.now()) {
		log.Info("stored credential expired; clearing")
		return s.storage.Remove(localstore.TokenKey)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := s.loadProfile(ctx); err != nil {
		if gateway.StatusCode(err) == http.StatusUnauthorized {
			log.Info("stored credential rejected; clearing")
			return s.clear()
		}
		return err
	}
	return nil
}

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	s.mu.RLock()
	auth := s.auth
	s.mu.RUnlock()
	if auth == nil {
		return ErrNotBound
	}

	token, err := auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.storage.Set(localstore.TokenKey, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.loadProfile(ctx)
}

// SignOut removes the credential, forgets the identity and empties the
// query cache.
func (s *Session) SignOut() error {
	return s.clear()
}

func (s *Session) clear() error {
	s.mu.Lock()
	s.token = ""
	s.identity = nil
	cache := s.cache
	s.mu.Unlock()

	if cache != nil {
		cache.Reset()
	}
	return s.storage.Remove(localstore.TokenKey)
}

func (s *Session) loadProfile(ctx context.Context) error {
	s.mu.Lock()
	auth := s.auth
	if auth == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	s.loading = true
	s.mu.Unlock()

	id, err := auth.Profile(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return err
	}
	s.identity = &id
	logging.FromContext(ctx).Debug("profile loaded", logging.UserID(id.ID), slog.String("role", string(id.Role)))
	return nil
}

// Token implements gateway.Credentials.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) HasCredential() bool {
	return s.Token() != ""
}

func (s *Session) Identity() (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return models.Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) LoggedIn() bool {
	_, ok := s.Identity()
	return ok
}

func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// expired reports whether token is a JWT whose exp lies before now. Tokens
// that are not JWTs never expire client-side.
func expired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.Before(now)
}
