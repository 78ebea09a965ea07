package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pliu/bizdir/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims shared with the directory API.
type Claims struct {
	UserID   string      `json:"id"`
	Username string      `json:"username,omitempty"`
	Email    string      `json:"email,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Owner() models.Owner {
	return models.Owner{ID: c.UserID, Username: c.Username, Email: c.Email}
}

// Signer issues and verifies HS256 bearer tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Issue(id models.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		Email:    id.Email,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) Verify(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
