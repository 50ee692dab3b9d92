package domain

import (
	"context"
	"time"
)

// KeyValueStore is opaque string-keyed persistent storage. Get returns
// ErrNotFound when key has never been written.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// AuditEntry is one recorded market event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	MarketID  string         `json:"market_id"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditLog is an append-only history of market events.
type AuditLog interface {
	Log(ctx context.Context, event, marketID string, detail map[string]any) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}
