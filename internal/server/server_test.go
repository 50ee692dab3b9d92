package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/cache/local"
	"github.com/alanyoungcy/crowdsignal/internal/kv/memory"
	"github.com/alanyoungcy/crowdsignal/internal/market"
	"github.com/alanyoungcy/crowdsignal/internal/server/handler"
	"github.com/alanyoungcy/crowdsignal/internal/server/middleware"
	"github.com/alanyoungcy/crowdsignal/internal/service"
)

var testNow = time.UnixMilli(1_760_000_000_000)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type testServer struct {
	handler http.Handler
	clock   *fixedClock
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fixedClock{t: testNow}
	seq := 0
	store := market.NewStore(memory.New(), clock, market.Config{
		NewID: func(time.Time) string {
			seq++
			return fmt.Sprintf("m_test%d", seq)
		},
	}, logger)
	store.Initialize(context.Background())

	svc := service.NewMarketService(store, local.NewSignalBus(), nil, nil, logger)
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = "user_local01"
	}
	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		User:    handler.NewUserHandler(),
		Markets: handler.NewMarketHandler(svc, logger),
	}, nil, nil, logger)
	return &testServer{handler: srv.Handler(), clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestHealthAndUser(t *testing.T) {
	ts := newTestServer(t, Config{})

	code, body := ts.do(t, http.MethodGet, "/api/health", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/user", "")
	if body["user_id"] != "user_local01" {
		t.Fatalf("user = %v", body)
	}
	_, body = ts.do(t, http.MethodGet, "/api/user", "", middleware.UserIDHeader, "user_other")
	if body["user_id"] != "user_other" {
		t.Fatalf("user with header = %v", body)
	}
}

func TestMarketLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})

	code, body := ts.do(t, http.MethodPost, "/api/markets",
		`{"question":"  Will the demo work?  ","category":"Tech","expiry_days":1}`)
	if code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}
	id, _ := body["id"].(string)
	if id != "m_test1" || body["question"] != "Will the demo work?" || body["time_left"] != "1d 0h left" {
		t.Fatalf("created = %v", body)
	}

	code, body = ts.do(t, http.MethodPost, "/api/markets/"+id+"/vote", `{"ballot":"yes"}`)
	if code != http.StatusOK || body["user_vote"] != "yes" || body["yes_percent"] != float64(100) {
		t.Fatalf("vote = %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodGet, "/api/markets?category=Tech", "")
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if body["count"] != float64(2) || body["total_votes"] != float64(1) {
		t.Fatalf("list totals = %v", body)
	}
	if ms := body["markets"].([]any); len(ms) != 1 {
		t.Fatalf("filtered markets = %v", ms)
	}

	ts.clock.t = testNow.Add(25 * time.Hour)
	code, body = ts.do(t, http.MethodPost, "/api/markets/"+id+"/vote", `{"ballot":"no"}`)
	if code != http.StatusConflict {
		t.Fatalf("vote on expired = %d %v", code, body)
	}

	code, body = ts.do(t, http.MethodPost, "/api/markets/"+id+"/resolve", `{"outcome":"yes"}`)
	if code != http.StatusOK || body["resolved"] != "yes" || body["locked"] != true {
		t.Fatalf("resolve = %d %v", code, body)
	}

	code, _ = ts.do(t, http.MethodDelete, "/api/markets/"+id, "")
	if code != http.StatusBadRequest {
		t.Fatalf("delete without confirm = %d", code)
	}
	code, _ = ts.do(t, http.MethodDelete, "/api/markets/"+id, `{"confirm":"Delete"}`)
	if code != http.StatusOK {
		t.Fatalf("delete with body confirm = %d", code)
	}
	code, _ = ts.do(t, http.MethodGet, "/api/markets/"+id, "")
	if code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", code)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"blank question", http.MethodPost, "/api/markets", `{"question":"   "}`, http.StatusBadRequest},
		{"long question", http.MethodPost, "/api/markets", `{"question":"` + strings.Repeat("x", 201) + `"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/markets", `{"question":`, http.StatusBadRequest},
		{"bad ballot", http.MethodPost, "/api/markets/m1/vote", `{"ballot":"maybe"}`, http.StatusBadRequest},
		{"unknown vote", http.MethodPost, "/api/markets/nope/vote", `{"ballot":"yes"}`, http.StatusNotFound},
		{"bad outcome", http.MethodPost, "/api/markets/m1/resolve", `{"outcome":"draw"}`, http.StatusBadRequest},
		{"unknown resolve", http.MethodPost, "/api/markets/nope/resolve", `{"outcome":"no"}`, http.StatusNotFound},
		{"unknown delete", http.MethodDelete, "/api/markets/nope?confirm=delete", "", http.StatusNotFound},
		{"unknown get", http.MethodGet, "/api/markets/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", code, tt.want, body)
			}
			if body["error"] == nil {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestExpiryDaysAsString(t *testing.T) {
	ts := newTestServer(t, Config{})

	_, body := ts.do(t, http.MethodPost, "/api/markets", `{"question":"Q","expiry_days":"3 days"}`)
	if body["time_left"] != "3d 0h left" {
		t.Fatalf("time_left = %v", body["time_left"])
	}
	_, body = ts.do(t, http.MethodPost, "/api/markets", `{"question":"Q","expiry_days":"0"}`)
	if body["expires_at"] != nil {
		t.Fatalf("expires_at = %v, want null", body["expires_at"])
	}
}

func TestAPIKeyProtectsAllButHealth(t *testing.T) {
	ts := newTestServer(t, Config{APIKey: "k"})

	if code, _ := ts.do(t, http.MethodGet, "/api/health", ""); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/markets", ""); code != http.StatusUnauthorized {
		t.Fatalf("markets without key = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/markets", "", "X-API-Key", "k"); code != http.StatusOK {
		t.Fatalf("markets with key = %d", code)
	}
}

func TestEventsWithoutAuditLog(t *testing.T) {
	ts := newTestServer(t, Config{})

	code, body := ts.do(t, http.MethodGet, "/api/events?limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("events = %d", code)
	}
	if events := body["events"].([]any); len(events) != 0 {
		t.Fatalf("events = %v", events)
	}
}

func TestConfigAddr(t *testing.T) {
	if got := (Config{Host: "127.0.0.1", Port: 8080}).Addr(); got != "127.0.0.1:8080" {
		t.Fatalf("Addr = %q", got)
	}
}
