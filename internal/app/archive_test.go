package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	s3blob "github.com/alanyoungcy/crowdsignal/internal/blob/s3"
	"github.com/alanyoungcy/crowdsignal/internal/cache/local"
	"github.com/alanyoungcy/crowdsignal/internal/config"
	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/kv/memory"
	"github.com/alanyoungcy/crowdsignal/internal/market"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bucket is an in-memory object store for the snapshot archiver.
type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newBucket() *bucket { return &bucket{objects: make(map[string][]byte)} }

func (b *bucket) Put(_ context.Context, p string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = raw
	return nil
}

func (b *bucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *bucket) Delete(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, p)
	return nil
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// stepClock advances by one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func encodeMarkets(t *testing.T, questions ...string) string {
	t.Helper()
	ms := make([]domain.Market, len(questions))
	for i, q := range questions {
		ms[i] = domain.Market{ID: q, Question: q, Category: "General", CreatedAt: 1}
	}
	raw, err := market.Encode(ms)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(raw)
}

func newTestSnapshotter(kv domain.KeyValueStore, b *bucket, keep int, lock domain.LockManager) *snapshotter {
	arch := s3blob.NewArchiver(b, b, "snapshots").WithRetention(b, keep)
	s := newSnapshotter(kv, market.DefaultMarketsKey, arch, lock, time.Minute, discardLogger())
	s.clock = &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return s
}

func TestSnapshotterTickUploadsOnChange(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	b := newBucket()
	s := newTestSnapshotter(kv, b, 0, local.NewLockManager())

	// Nothing stored yet.
	if wrote, err := s.tick(ctx); err != nil || wrote {
		t.Fatalf("empty tick = %v, %v", wrote, err)
	}

	_ = kv.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, "a"))
	if wrote, err := s.tick(ctx); err != nil || !wrote {
		t.Fatalf("first tick = %v, %v", wrote, err)
	}
	if wrote, err := s.tick(ctx); err != nil || wrote {
		t.Fatalf("unchanged tick = %v, %v", wrote, err)
	}

	_ = kv.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, "a", "b"))
	if wrote, err := s.tick(ctx); err != nil || !wrote {
		t.Fatalf("changed tick = %v, %v", wrote, err)
	}
	if got := b.len(); got != 2 {
		t.Errorf("snapshots = %d, want 2", got)
	}
}

func TestSnapshotterTickRejectsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	b := newBucket()
	s := newTestSnapshotter(kv, b, 0, nil)

	_ = kv.Set(ctx, market.DefaultMarketsKey, `{"not":"a list"}`)
	if _, err := s.tick(ctx); err == nil {
		t.Fatal("expected error for corrupt payload")
	}
	if b.len() != 0 {
		t.Error("corrupt payload should not be archived")
	}
}

func TestSnapshotterTickSkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	b := newBucket()
	lock := local.NewLockManager()
	s := newTestSnapshotter(kv, b, 0, lock)

	_ = kv.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, "a"))

	unlock, err := lock.Acquire(ctx, archiveLockKey, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if wrote, err := s.tick(ctx); err != nil || wrote {
		t.Fatalf("locked tick = %v, %v", wrote, err)
	}
	unlock()

	if wrote, err := s.tick(ctx); err != nil || !wrote {
		t.Fatalf("unlocked tick = %v, %v", wrote, err)
	}
}

func TestSnapshotterPrunes(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	b := newBucket()
	s := newTestSnapshotter(kv, b, 2, nil)

	for _, qs := range [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}, {"d"}} {
		_ = kv.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, qs...))
		if _, err := s.tick(ctx); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if got := b.len(); got != 2 {
		t.Errorf("snapshots after prune = %d, want 2", got)
	}
}

func TestSnapshotterRestore(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	b := newBucket()
	s := newTestSnapshotter(src, b, 0, nil)

	want := encodeMarkets(t, "x", "y")
	_ = src.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, "old"))
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	_ = src.Set(ctx, market.DefaultMarketsKey, want)
	if _, err := s.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	dst := memory.New()
	r := newTestSnapshotter(dst, b, 0, nil)
	snap, count, err := r.restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if snap.Path == "" {
		t.Error("empty snapshot path")
	}
	got, err := dst.Get(ctx, market.DefaultMarketsKey)
	if err != nil || got != want {
		t.Fatalf("restored = %q, %v", got, err)
	}

	// The restored payload is not archived again.
	if wrote, err := r.tick(ctx); err != nil || wrote {
		t.Errorf("tick after restore = %v, %v", wrote, err)
	}
}

func TestSnapshotterRestoreEmptyBucket(t *testing.T) {
	s := newTestSnapshotter(memory.New(), newBucket(), 0, nil)
	_, _, err := s.restore(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotterRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	kv := memory.New()
	b := newBucket()
	_ = kv.Set(ctx, market.DefaultMarketsKey, encodeMarkets(t, "a"))
	s := newTestSnapshotter(kv, b, 0, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for b.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if b.len() != 1 {
		t.Errorf("snapshots = %d, want 1 from the immediate tick", b.len())
	}
}

func TestRestoreModeRequiresArchiver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeRestore
	a := New(&cfg, discardLogger())
	err := a.RestoreMode(context.Background(), &Dependencies{KV: memory.New()})
	if err == nil {
		t.Fatal("expected error without archiver")
	}
}

func TestRestoreModeWritesLatest(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	payload := encodeMarkets(t, "restored")
	path := s3blob.SnapshotPath("snapshots", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	_ = b.Put(ctx, path, strings.NewReader(payload), "application/json")

	cfg := config.Defaults()
	cfg.Mode = config.ModeRestore
	kv := memory.New()
	deps := &Dependencies{
		KV:          kv,
		LockManager: local.NewLockManager(),
		Archiver:    s3blob.NewArchiver(b, b, cfg.Archive.Prefix),
	}

	if err := New(&cfg, discardLogger()).RestoreMode(ctx, deps); err != nil {
		t.Fatalf("RestoreMode: %v", err)
	}
	got, err := kv.Get(ctx, cfg.Storage.MarketsKey)
	if err != nil || got != payload {
		t.Fatalf("kv = %q, %v", got, err)
	}
}
