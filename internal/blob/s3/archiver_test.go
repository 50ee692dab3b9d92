package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// memBucket is an in-memory stand-in for an S3 bucket.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Put(_ context.Context, p string, data io.Reader, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[p] = raw
	return nil
}

func (b *memBucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var infos []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			infos = append(infos, domain.BlobInfo{Path: p, Size: int64(len(raw))})
		}
	}
	return infos, nil
}

func (b *memBucket) Delete(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, p)
	return nil
}

func TestSnapshotPath(t *testing.T) {
	at := time.Date(2025, time.March, 7, 23, 30, 0, 0, time.UTC)
	got := SnapshotPath("snapshots", at)
	want := "snapshots/2025/03/07/markets-1741390200000.json"
	if got != want {
		t.Fatalf("SnapshotPath = %q, want %q", got, want)
	}
}

func TestArchiveAndLatest(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "/backups/")
	ctx := context.Background()

	t0 := time.UnixMilli(1_760_000_000_000)
	if _, err := a.Archive(ctx, []byte(`[{"id":"old"}]`), t0); err != nil {
		t.Fatalf("Archive old: %v", err)
	}
	p, err := a.Archive(ctx, []byte(`[{"id":"new"}]`), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Archive new: %v", err)
	}
	if !strings.HasPrefix(p, "backups/") {
		t.Fatalf("path %q should be under trimmed prefix", p)
	}
	bucket.objects["backups/README.txt"] = []byte("ignored")

	data, snap, err := a.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if string(data) != `[{"id":"new"}]` {
		t.Fatalf("Latest data = %s", data)
	}
	if snap.Path != p {
		t.Fatalf("Latest path = %q, want %q", snap.Path, p)
	}
	if !snap.Taken.Equal(t0.Add(time.Hour)) {
		t.Fatalf("Latest taken = %v", snap.Taken)
	}
}

func TestLatestEmpty(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "")

	_, _, err := a.Latest(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Latest err = %v, want ErrNotFound", err)
	}
}

func TestArchiveUploadError(t *testing.T) {
	bucket := newMemBucket()
	bucket.putErr = errors.New("boom")
	a := NewArchiver(bucket, bucket, "")

	if _, err := a.Archive(context.Background(), []byte("[]"), time.Now()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestPrune(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "").WithRetention(bucket, 2)
	ctx := context.Background()

	base := time.UnixMilli(1_760_000_000_000)
	for i := 0; i < 5; i++ {
		if _, err := a.Archive(ctx, []byte("[]"), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Archive %d: %v", i, err)
		}
	}

	removed, err := a.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	snaps, err := a.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("remaining = %d, want 2", len(snaps))
	}
	if !snaps[1].Taken.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("newest snapshot was pruned: %+v", snaps)
	}
}

// batchBucket records DeleteMany calls and fails after failAfter deletions.
type batchBucket struct {
	*memBucket
	batches   [][]string
	failAfter int
}

func (b *batchBucket) DeleteMany(ctx context.Context, paths []string) (int, error) {
	b.batches = append(b.batches, append([]string(nil), paths...))
	for i, p := range paths {
		if b.failAfter >= 0 && i == b.failAfter {
			return i, errors.New("access denied")
		}
		_ = b.memBucket.Delete(ctx, p)
	}
	return len(paths), nil
}

func TestPruneUsesBatchDelete(t *testing.T) {
	bucket := &batchBucket{memBucket: newMemBucket(), failAfter: -1}
	a := NewArchiver(bucket, bucket, "").WithRetention(bucket, 1)
	ctx := context.Background()

	base := time.UnixMilli(1_760_000_000_000)
	for i := 0; i < 4; i++ {
		if _, err := a.Archive(ctx, []byte("[]"), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Archive %d: %v", i, err)
		}
	}

	removed, err := a.Prune(ctx)
	if err != nil || removed != 3 {
		t.Fatalf("Prune = %d, %v; want 3, nil", removed, err)
	}
	if len(bucket.batches) != 1 || len(bucket.batches[0]) != 3 {
		t.Fatalf("batches = %v, want one batch of 3", bucket.batches)
	}
	if bucket.batches[0][0] != SnapshotPath(DefaultPrefix, base) {
		t.Errorf("oldest snapshot should be deleted first, got %s", bucket.batches[0][0])
	}
}

func TestPruneBatchFailure(t *testing.T) {
	bucket := &batchBucket{memBucket: newMemBucket(), failAfter: 1}
	a := NewArchiver(bucket, bucket, "").WithRetention(bucket, 1)
	ctx := context.Background()

	base := time.UnixMilli(1_760_000_000_000)
	for i := 0; i < 4; i++ {
		_, _ = a.Archive(ctx, []byte("[]"), base.Add(time.Duration(i)*time.Second))
	}

	removed, err := a.Prune(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestPruneDisabled(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "")

	if _, err := a.Archive(context.Background(), []byte("[]"), time.Now()); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	removed, err := a.Prune(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("Prune = %d, %v; want 0, nil", removed, err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"minio.internal", false, "http://minio.internal"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://already.example.com", false, "https://already.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
