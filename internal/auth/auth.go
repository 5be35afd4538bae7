package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a bearer token doesn't match the configured hash.
var ErrInvalidToken = errors.New("invalid token")

// ErrTokenTooShort is returned by HashToken for tokens under MinTokenLength bytes.
var ErrTokenTooShort = errors.New("token too short")

// MinTokenLength is the shortest token HashToken accepts.
const MinTokenLength = 12

// TokenGuard protects routes with a single shared bearer token stored as a bcrypt hash.
// An empty Hash leaves routes open.
type TokenGuard struct {
	Hash string
}

// Enabled reports whether requests are checked at all.
func (g TokenGuard) Enabled() bool {
	return strings.TrimSpace(g.Hash) != ""
}

// Check compares token against the hash.
func (g TokenGuard) Check(token string) error {
	if !g.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(g.Hash)), []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Require rejects requests without a valid Authorization: Bearer header with 401.
func (g TokenGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(bearerToken(r)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="qasynth"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashToken returns the bcrypt hash to put in status_token_hash.
func HashToken(token string) (string, error) {
	if len(token) < MinTokenLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrTokenTooShort, MinTokenLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hashed), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		// EventSource can't set headers, so the stream also accepts ?token=.
		return r.URL.Query().Get("token")
	}
	return strings.TrimSpace(token)
}
