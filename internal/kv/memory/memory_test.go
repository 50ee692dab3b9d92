package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v2" {
		t.Fatalf("Get = %q, %v; want v2", got, err)
	}
}

func TestStore_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	s := New()
	s.SetErr = boom
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Fatalf("Set error = %v, want %v", err, boom)
	}
	s.SetErr = nil
	s.GetErr = boom
	if _, err := s.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("Get error = %v, want %v", err, boom)
	}
}
