package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// testClient connects to the server named by CROWDSIGNAL_TEST_REDIS_ADDR
// under a namespace unique to the test, and removes the namespace afterwards.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CROWDSIGNAL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CROWDSIGNAL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "cstest-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		iter := c.rdb.Scan(ctx, 0, c.Prefix()+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = c.rdb.Del(ctx, iter.Val()).Err()
		}
		_ = c.Close()
	})
	return c
}

func TestKVStoreIntegration(t *testing.T) {
	c := testClient(t)
	kv := NewKVStore(c)
	ctx := context.Background()

	tests := []struct {
		name   string
		key    string
		writes []string
		want   string
		found  bool
	}{
		{name: "missing key", key: "absent"},
		{name: "stored value", key: "markets", writes: []string{`[]`}, want: `[]`, found: true},
		{name: "last write wins", key: "user", writes: []string{"user_a", "user_b"}, want: "user_b", found: true},
		{name: "empty value", key: "blank", writes: []string{""}, want: "", found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.writes {
				if err := kv.Set(ctx, tt.key, w); err != nil {
					t.Fatalf("Set: %v", err)
				}
			}

			got, err := kv.Get(ctx, tt.key)
			if !tt.found {
				if !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("Get err = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Get = %q, want %q", got, tt.want)
			}
		})
	}

	raw, err := c.rdb.Get(ctx, c.Key("kv:markets")).Result()
	if err != nil || raw != `[]` {
		t.Fatalf("raw key = %q, %v; want value under the kv namespace", raw, err)
	}
}

func TestKVStoreNamespacesAreIsolated(t *testing.T) {
	a := NewKVStore(testClient(t))
	b := NewKVStore(testClient(t))
	ctx := context.Background()

	if err := a.Set(ctx, "markets", "from-a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := b.Get(ctx, "markets"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("other namespace Get err = %v, want ErrNotFound", err)
	}
}
