package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dbPath
}

func mustCount(t *testing.T, s *Store) int64 {
	t.Helper()
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_Set_Upserts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "crowd-signal-markets-v3", "[]"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "crowd-signal-markets-v3", `[{"id":"m1"}]`); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}

	// one row per key
	if got := mustCount(t, s); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
	got, err := s.Get(ctx, "crowd-signal-markets-v3")
	if err != nil || got != `[{"id":"m1"}]` {
		t.Fatalf("Get = %q, %v", got, err)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "prediction-user-id", "user_abc12345"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got, err := reopened.Get(ctx, "prediction-user-id"); err != nil || got != "user_abc12345" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}
