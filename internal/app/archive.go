package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/crowdsignal/internal/blob/s3"
	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/market"
)

const archiveLockKey = "archive"

// snapshotStore is the part of s3blob.Archiver used by the snapshotter.
type snapshotStore interface {
	Archive(ctx context.Context, payload []byte, at time.Time) (string, error)
	Latest(ctx context.Context) ([]byte, s3blob.Snapshot, error)
	Prune(ctx context.Context) (int, error)
}

// snapshotter copies the persisted market collection to object storage and
// back. It reads the raw stored payload rather than the in-memory store so
// that archive mode can run as a separate process next to a server.
type snapshotter struct {
	kv       domain.KeyValueStore
	key      string
	archive  snapshotStore
	lock     domain.LockManager
	interval time.Duration
	clock    domain.Clock
	logger   *slog.Logger

	last string
}

func newSnapshotter(
	kv domain.KeyValueStore,
	key string,
	archive snapshotStore,
	lock domain.LockManager,
	interval time.Duration,
	logger *slog.Logger,
) *snapshotter {
	return &snapshotter{
		kv:       kv,
		key:      key,
		archive:  archive,
		lock:     lock,
		interval: interval,
		clock:    market.SystemClock,
		logger:   logger.With(slog.String("component", "snapshotter")),
	}
}

// Run archives once immediately and then every interval until ctx is done.
// Tick failures are logged and retried on the next tick.
func (s *snapshotter) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "snapshotter started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "snapshot failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick uploads the stored collection when it changed since the last upload.
// It reports whether a snapshot was written. Another process holding the
// archive lock makes tick a no-op.
func (s *snapshotter) tick(ctx context.Context) (bool, error) {
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, archiveLockKey, s.lockTTL())
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "snapshot skipped, lock held elsewhere")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("snapshot: acquire lock: %w", err)
		}
		defer unlock()
	}

	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshot: read %s: %w", s.key, err)
	}
	if raw == s.last {
		return false, nil
	}
	markets, err := market.Decode([]byte(raw))
	if err != nil {
		return false, fmt.Errorf("snapshot: stored payload: %w", err)
	}

	path, err := s.archive.Archive(ctx, []byte(raw), s.clock.Now())
	if err != nil {
		return false, err
	}
	s.last = raw
	s.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Int("markets", len(markets)),
	)

	pruned, err := s.archive.Prune(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		s.logger.InfoContext(ctx, "old snapshots pruned", slog.Int("count", pruned))
	}
	return true, nil
}

// restore writes the newest snapshot back under the markets key.
func (s *snapshotter) restore(ctx context.Context) (s3blob.Snapshot, int, error) {
	payload, snap, err := s.archive.Latest(ctx)
	if err != nil {
		return s3blob.Snapshot{}, 0, err
	}
	markets, err := market.Decode(payload)
	if err != nil {
		return snap, 0, fmt.Errorf("restore: snapshot %s: %w", snap.Path, err)
	}
	if err := s.kv.Set(ctx, s.key, string(payload)); err != nil {
		return snap, 0, fmt.Errorf("restore: write %s: %w", s.key, err)
	}
	s.last = string(payload)
	return snap, len(markets), nil
}

func (s *snapshotter) lockTTL() time.Duration {
	if s.interval > 0 && s.interval < time.Minute {
		return s.interval
	}
	return time.Minute
}
