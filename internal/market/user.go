package market

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// DefaultUserKey is the storage key holding the anonymous user identifier.
const DefaultUserKey = "prediction-user-id"

// LoadOrCreateUserID returns the identifier persisted under key, creating and
// persisting a fresh one when none exists. Storage failures are logged and
// never returned: a generated identifier is still usable for the session.
func LoadOrCreateUserID(ctx context.Context, kv domain.KeyValueStore, key string, logger *slog.Logger) string {
	id, err := kv.Get(ctx, key)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.WarnContext(ctx, "market: read user id failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	id = NewUserID()
	if err := kv.Set(ctx, key, id); err != nil {
		logger.WarnContext(ctx, "market: persist user id failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return id
}
