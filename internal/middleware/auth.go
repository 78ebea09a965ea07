package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pliu/bizdir/internal/auth"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// Verifier checks a bearer token; *auth.Signer implements it.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Bearer rejects requests without a valid "Authorization: Bearer" token and
// stores the verified claims in the request context.
func Bearer(v Verifier) func(http.Handler) http.Handler {
	return authenticate(v, false)
}

// SocketBearer is Bearer for websocket upgrades: browsers cannot set headers
// on a websocket, so a "token" query parameter is accepted as well.
func SocketBearer(v Verifier) func(http.Handler) http.Handler {
	return authenticate(v, true)
}

func bearerToken(r *http.Request, allowQuery bool) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func authenticate(v Verifier, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r, allowQuery)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return c, ok
}
