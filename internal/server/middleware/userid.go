package middleware

import (
	"context"
	"net/http"
	"regexp"
)

// UserIDHeader lets a client present its own anonymous identifier.
const UserIDHeader = "X-User-ID"

type ctxKey int

const (
	userIDContextKey ctxKey = iota
	requestIDContextKey
)

var validUserID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UserID returns middleware that attaches the caller's identifier to the
// request context: the X-User-ID header when it is well formed, otherwise
// defaultID.
func UserID(defaultID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := defaultID
			if h := r.Header.Get(UserIDHeader); validUserID.MatchString(h) {
				id = h
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns a copy of ctx carrying id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}

// UserIDFromContext returns the identifier set by UserID, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}
