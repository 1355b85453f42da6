// Package identity provides anonymous per-browser session identity.
//
// A session is an opaque token stored in a long-lived cookie, created
// lazily the first time a browser talks to the service and reused on
// every later request. There is no account behind it: clearing the
// cookie simply yields a fresh identity (abuse resistance is out of
// scope).
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookieName is the cookie carrying the anonymous session token.
	SessionCookieName = "skywriter_anon_id"

	sessionCookieMaxAge = 365 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// SessionIDFromContext extracts the session ID from the request context.
// Returns "" outside the identity middleware.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying the given session ID.
// Exposed for wiring non-HTTP callers (and tests) into the same
// identity plumbing the middleware uses.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidSessionID reports whether id is a well-formed persisted token.
// Ephemeral fallback tokens (plain UUIDs) do not match.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func setSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateSessionID reads the persisted token, minting and persisting
// a fresh one when it is absent or malformed. Existing tokens get their
// cookie lifetime extended so an active browser never expires.
func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(SessionCookieName); err == nil && IsValidSessionID(c.Value) {
		setSessionCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	setSessionCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous session identity into the request
// context. Identity failures degrade to an ephemeral per-request token
// rather than failing the request: reactions made under an ephemeral
// token are simply not recognized as "mine" on the next visit.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := getOrCreateSessionID(w, r, isDev)
			if err != nil {
				sessionID = uuid.NewString()
				slog.Warn("Session identity unavailable, using ephemeral token", "error", err)
			}

			ctx := WithSessionID(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
