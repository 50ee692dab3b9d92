package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alanyoungcy/crowdsignal/internal/cache/local"
	"github.com/alanyoungcy/crowdsignal/internal/config"
	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/kv/file"
	"github.com/alanyoungcy/crowdsignal/internal/kv/memory"
	"github.com/alanyoungcy/crowdsignal/internal/kv/sqlite"
	"github.com/alanyoungcy/crowdsignal/internal/market"
)

func TestWireMemoryBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = config.BackendMemory

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.KV.(*memory.Store); !ok {
		t.Errorf("KV = %T, want *memory.Store", deps.KV)
	}
	if deps.Audit != nil {
		t.Errorf("Audit = %T, want nil", deps.Audit)
	}
	if deps.Store == nil {
		t.Fatal("Store not wired")
	}
	if _, ok := deps.SignalBus.(*local.SignalBus); !ok {
		t.Errorf("SignalBus = %T, want *local.SignalBus", deps.SignalBus)
	}
	if _, ok := deps.RateLimiter.(*local.RateLimiter); !ok {
		t.Errorf("RateLimiter = %T, want *local.RateLimiter", deps.RateLimiter)
	}
	if _, ok := deps.LockManager.(*local.LockManager); !ok {
		t.Errorf("LockManager = %T, want *local.LockManager", deps.LockManager)
	}
	if deps.Archiver != nil {
		t.Error("serve mode should not wire the archiver")
	}
	if deps.Notifier == nil || deps.Notifier.Enabled() {
		t.Error("notifier should exist and be disabled without senders")
	}
	if len(deps.HealthChecks) != 0 {
		t.Errorf("health checks = %v, want none", deps.HealthChecks)
	}
}

func TestWireFileBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.FilePath = filepath.Join(t.TempDir(), "state", "markets.json")

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.KV.(*file.Store); !ok {
		t.Errorf("KV = %T, want *file.Store", deps.KV)
	}
}

func TestWireSQLiteBackendProvidesAudit(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "crowdsignal.db")

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.KV.(*sqlite.Store); !ok {
		t.Errorf("KV = %T, want *sqlite.Store", deps.KV)
	}
	if deps.Audit == nil {
		t.Fatal("sqlite backend should provide the audit log")
	}

	ctx := context.Background()
	deps.Store.Initialize(ctx)
	if len(deps.Store.Markets()) != 1 {
		t.Errorf("markets = %d, want seed collection", len(deps.Store.Markets()))
	}

	// A vote whose request was already cancelled still reaches the database.
	reqCtx, cancel := context.WithCancel(ctx)
	cancel()
	if _, ok := deps.Store.CastVote(reqCtx, market.SeedMarketID, "u1", domain.BallotYes); !ok {
		t.Fatal("vote not applied")
	}
	reloaded := market.NewStore(deps.KV, market.SystemClock, market.Config{
		MarketsKey: cfg.Storage.MarketsKey,
	}, discardLogger())
	reloaded.Initialize(ctx)
	if m, ok := reloaded.Get(market.SeedMarketID); !ok || m.Votes["u1"] != domain.BallotYes {
		t.Fatalf("reloaded votes = %+v, want u1=yes", m.Votes)
	}
}

func TestWireNotifierEnabledWithSender(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if !deps.Notifier.Enabled() {
		t.Error("notifier should be enabled with a discord webhook")
	}
}

func TestWireUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = "etcd"

	if _, _, err := Wire(context.Background(), &cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
