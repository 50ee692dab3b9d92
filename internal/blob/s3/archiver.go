package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "snapshots"

const snapshotContentType = "application/json"

// Snapshot describes one archived copy of the market collection.
type Snapshot struct {
	Path  string
	Taken time.Time
	Size  int64
}

// Archiver uploads serialized market collections under
// {prefix}/YYYY/MM/DD/markets-{unixms}.json and reads them back.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	prefix  string
	keep    int
}

// NewArchiver creates an Archiver. An empty prefix uses DefaultPrefix.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Archiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archiver{writer: writer, reader: reader, prefix: prefix}
}

// WithRetention makes Prune keep only the newest keep snapshots. A
// non-positive keep disables pruning.
func (a *Archiver) WithRetention(deleter domain.BlobDeleter, keep int) *Archiver {
	a.deleter = deleter
	a.keep = keep
	return a
}

// SnapshotPath returns the object key for a snapshot taken at at.
func SnapshotPath(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/markets-%d.json",
		prefix, at.Year(), int(at.Month()), at.Day(), at.UnixMilli())
}

// Archive uploads payload as the snapshot taken at at and returns its path.
func (a *Archiver) Archive(ctx context.Context, payload []byte, at time.Time) (string, error) {
	p := SnapshotPath(a.prefix, at)
	if err := a.writer.Put(ctx, p, bytes.NewReader(payload), snapshotContentType); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	return p, nil
}

// List returns all snapshots under the prefix, oldest first. Objects whose
// names do not follow the snapshot pattern are ignored.
func (a *Archiver) List(ctx context.Context) ([]Snapshot, error) {
	infos, err := a.reader.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
	}

	snaps := make([]Snapshot, 0, len(infos))
	for _, info := range infos {
		ms, ok := snapshotMillis(info.Path)
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:  info.Path,
			Taken: time.UnixMilli(ms).UTC(),
			Size:  info.Size,
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Taken.Equal(snaps[j].Taken) {
			return snaps[i].Path < snaps[j].Path
		}
		return snaps[i].Taken.Before(snaps[j].Taken)
	})
	return snaps, nil
}

// Latest downloads the newest snapshot. It returns an error wrapping
// domain.ErrNotFound when the prefix holds none.
func (a *Archiver) Latest(ctx context.Context) ([]byte, Snapshot, error) {
	snaps, err := a.List(ctx)
	if err != nil {
		return nil, Snapshot{}, err
	}
	if len(snaps) == 0 {
		return nil, Snapshot{}, fmt.Errorf("s3blob: latest snapshot under %s: %w", a.prefix, domain.ErrNotFound)
	}

	latest := snaps[len(snaps)-1]
	body, err := a.reader.Get(ctx, latest.Path)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("s3blob: fetch snapshot: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("s3blob: read snapshot %s: %w", latest.Path, err)
	}
	return data, latest, nil
}

// Prune deletes all but the newest snapshots according to the retention set
// by WithRetention, and returns how many were removed.
func (a *Archiver) Prune(ctx context.Context) (int, error) {
	if a.deleter == nil || a.keep <= 0 {
		return 0, nil
	}

	snaps, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) <= a.keep {
		return 0, nil
	}

	stale := snaps[:len(snaps)-a.keep]
	if bd, ok := a.deleter.(batchDeleter); ok {
		paths := make([]string, len(stale))
		for i, s := range stale {
			paths[i] = s.Path
		}
		n, err := bd.DeleteMany(ctx, paths)
		if err != nil {
			return n, fmt.Errorf("s3blob: prune snapshots: %w", err)
		}
		return n, nil
	}
	for i, s := range stale {
		if err := a.deleter.Delete(ctx, s.Path); err != nil {
			return i, fmt.Errorf("s3blob: prune snapshot: %w", err)
		}
	}
	return len(stale), nil
}

// batchDeleter is implemented by deleters that can remove many objects per
// request, such as Reader.
type batchDeleter interface {
	DeleteMany(ctx context.Context, paths []string) (int, error)
}

// snapshotMillis extracts the unix-millisecond stamp from a snapshot key.
func snapshotMillis(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "markets-") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "markets-"), ".json")
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
