// Package market owns the collection of prediction markets: it loads the
// persisted collection at startup, applies the four mutations (create, vote,
// delete, resolve) and writes the whole collection back after each one.
//
// Persistence is best-effort client caching. Read failures fall back to a
// seed collection and write failures are logged and dropped; neither is
// reported to callers.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// DefaultMarketsKey is the versioned storage key for the market collection.
// Bumping the version abandons data stored under the previous key.
const DefaultMarketsKey = "crowd-signal-markets-v3"

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Observer is called after every applied mutation. It runs on the caller's
// goroutine after the store lock is released.
type Observer func(ctx context.Context, ev domain.MarketEvent)

// Config holds the optional parameters of a Store.
type Config struct {
	MarketsKey   string
	SeedQuestion string
	SeedCategory string
	// NewID overrides market id generation; defaults to NewMarketID.
	NewID func(now time.Time) string
}

// NewMarket is the caller's input to CreateMarket. ExpiryDays is the raw text
// the user typed; only a positive integer prefix sets an expiry.
type NewMarket struct {
	Question   string
	Category   string
	ExpiryDays string
}

// Store is the owned, passed-by-reference state container for markets. The
// zero value is not usable; construct with NewStore.
type Store struct {
	kv     domain.KeyValueStore
	clock  domain.Clock
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	markets   []domain.Market
	observers []Observer
}

// NewStore creates a Store over kv and clock. Call Initialize before use.
func NewStore(kv domain.KeyValueStore, clock domain.Clock, cfg Config, logger *slog.Logger) *Store {
	if cfg.MarketsKey == "" {
		cfg.MarketsKey = DefaultMarketsKey
	}
	if cfg.SeedQuestion == "" {
		cfg.SeedQuestion = DefaultSeedQuestion
	}
	if cfg.SeedCategory == "" {
		cfg.SeedCategory = DefaultSeedCategory
	}
	if cfg.NewID == nil {
		cfg.NewID = NewMarketID
	}
	return &Store{
		kv:     kv,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "market_store")),
	}
}

// Initialize loads the persisted collection. An absent, unreadable or
// malformed payload is replaced by the seed collection; no error is returned
// in any case. The seed is written back unless the read itself failed, since
// a failed read may hide a valid payload.
func (s *Store) Initialize(ctx context.Context) {
	markets, err := s.load(ctx)
	seeded := err != nil
	if seeded {
		markets = seedMarkets(s.cfg.SeedQuestion, s.cfg.SeedCategory, s.clock.Now())
	}

	s.mu.Lock()
	s.markets = markets
	if seeded && !errors.Is(err, errReadFailed) {
		s.persist(ctx, markets)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "market store initialized",
		slog.Int("markets", len(markets)),
		slog.Bool("seeded", seeded),
	)
}

var errReadFailed = errors.New("market: read failed")

func (s *Store) load(ctx context.Context) ([]domain.Market, error) {
	raw, err := s.kv.Get(ctx, s.cfg.MarketsKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		s.logger.WarnContext(ctx, "market store: read failed, using seed",
			slog.String("key", s.cfg.MarketsKey),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", errReadFailed, err)
	}
	markets, err := Decode([]byte(raw))
	if err != nil {
		s.logger.WarnContext(ctx, "market store: stored payload unusable, using seed",
			slog.String("key", s.cfg.MarketsKey),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return markets, nil
}

// Subscribe registers obs to be called after every applied mutation.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Markets returns a deep copy of the collection, newest-created first.
func (s *Store) Markets() []domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.markets)
}

// Get returns a copy of the market with the given id.
func (s *Store) Get(id string) (domain.Market, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.markets[i].Clone(), true
	}
	return domain.Market{}, false
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// CreateMarket prepends a new market built from in. The question is trimmed
// and must be non-empty: callers are expected to reject blank questions
// first, and the store returns domain.ErrEmptyQuestion rather than storing
// one.
func (s *Store) CreateMarket(ctx context.Context, in NewMarket) (domain.Market, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return domain.Market{}, domain.ErrEmptyQuestion
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = domain.DefaultCategory
	}

	now := s.clock.Now()
	m := domain.Market{
		ID:        s.cfg.NewID(now),
		Question:  question,
		Category:  category,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: expiryFrom(in.ExpiryDays, now),
		Votes:     map[string]domain.Ballot{},
	}

	s.mu.Lock()
	next := make([]domain.Market, 0, len(s.markets)+1)
	next = append(next, m)
	next = append(next, s.markets...)
	snap := s.commit(ctx, next)
	s.mu.Unlock()

	created := m.Clone()
	s.emit(ctx, domain.MarketEvent{Kind: domain.EventMarketCreated, MarketID: m.ID, Market: &created, Snapshot: snap})
	return m.Clone(), nil
}

// CastVote records ballot for userID on the market, toggling it off when the
// user already holds the same ballot. It is a no-op, reporting false, when the
// market does not exist, is locked, or ballot is not a valid value.
func (s *Store) CastVote(ctx context.Context, marketID, userID string, ballot domain.Ballot) (domain.Market, bool) {
	if !ballot.Valid() {
		return domain.Market{}, false
	}

	s.mu.Lock()
	i := s.indexOf(marketID)
	if i < 0 || domain.IsLocked(s.markets[i], s.clock.Now()) {
		s.mu.Unlock()
		return domain.Market{}, false
	}

	updated := s.markets[i].Clone()
	if updated.Votes[userID] == ballot {
		delete(updated.Votes, userID)
	} else {
		updated.Votes[userID] = ballot
	}
	next := s.replaceAt(i, updated)
	snap := s.commit(ctx, next)
	s.mu.Unlock()

	out := updated.Clone()
	s.emit(ctx, domain.MarketEvent{Kind: domain.EventVoteCast, MarketID: marketID, Market: &out, Snapshot: snap})
	return updated.Clone(), true
}

// DeleteMarket removes the market with the given id. Authorization (the
// typed confirmation word) is the caller's concern; every request that
// reaches the store is honoured. It reports whether a market was removed.
func (s *Store) DeleteMarket(ctx context.Context, marketID string) bool {
	s.mu.Lock()
	i := s.indexOf(marketID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]domain.Market, 0, len(s.markets)-1)
	next = append(next, s.markets[:i]...)
	next = append(next, s.markets[i+1:]...)
	snap := s.commit(ctx, next)
	s.mu.Unlock()

	s.emit(ctx, domain.MarketEvent{Kind: domain.EventMarketDeleted, MarketID: marketID, Snapshot: snap})
	return true
}

// ResolveMarket records outcome on the market regardless of its current
// resolution or expiry. Overwriting an earlier outcome is allowed but logged.
// It reports false when the market does not exist or outcome is invalid.
func (s *Store) ResolveMarket(ctx context.Context, marketID string, outcome domain.Outcome) (domain.Market, bool) {
	if !outcome.Valid() {
		return domain.Market{}, false
	}

	s.mu.Lock()
	i := s.indexOf(marketID)
	if i < 0 {
		s.mu.Unlock()
		return domain.Market{}, false
	}

	updated := s.markets[i].Clone()
	if prev := updated.Resolved; prev != nil && *prev != outcome {
		// TODO: require an unresolved market once an admin override exists.
		s.logger.WarnContext(ctx, "market store: overwriting resolved outcome",
			slog.String("market_id", marketID),
			slog.String("previous", string(*prev)),
			slog.String("outcome", string(outcome)),
		)
	}
	o := outcome
	updated.Resolved = &o
	next := s.replaceAt(i, updated)
	snap := s.commit(ctx, next)
	s.mu.Unlock()

	out := updated.Clone()
	s.emit(ctx, domain.MarketEvent{Kind: domain.EventMarketResolved, MarketID: marketID, Market: &out, Snapshot: snap})
	return updated.Clone(), true
}

// commit installs next as the collection, persists it and returns a snapshot
// for observers. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, next []domain.Market) []domain.Market {
	s.markets = next
	s.persist(ctx, next)
	return cloneAll(next)
}

// persist writes the whole collection. The write is detached from ctx
// cancellation because the mutation is already applied in memory. Storage
// failures leave durable storage stale until the next successful write and are
// not retried.
func (s *Store) persist(ctx context.Context, markets []domain.Market) {
	data, err := Encode(markets)
	if err != nil {
		s.logger.ErrorContext(ctx, "market store: encode failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.kv.Set(context.WithoutCancel(ctx), s.cfg.MarketsKey, string(data)); err != nil {
		s.logger.WarnContext(ctx, "market store: persist failed",
			slog.String("key", s.cfg.MarketsKey),
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) emit(ctx context.Context, ev domain.MarketEvent) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(ctx, ev)
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.markets {
		if s.markets[i].ID == id {
			return i
		}
	}
	return -1
}

// replaceAt returns a new slice with element i swapped for m. Other markets
// are shared, never mutated.
func (s *Store) replaceAt(i int, m domain.Market) []domain.Market {
	next := make([]domain.Market, len(s.markets))
	copy(next, s.markets)
	next[i] = m
	return next
}

func cloneAll(markets []domain.Market) []domain.Market {
	out := make([]domain.Market, len(markets))
	for i, m := range markets {
		out[i] = m.Clone()
	}
	return out
}

// expiryFrom returns now + days when raw starts with a positive integer, the
// way a browser's parseInt reads a number input. Anything else, including
// values that would overflow, means no expiry.
func expiryFrom(raw string, now time.Time) *int64 {
	days, ok := parseLeadingInt(raw)
	if !ok || days <= 0 {
		return nil
	}
	nowMs := now.UnixMilli()
	if days > (math.MaxInt64-nowMs)/dayMillis {
		return nil
	}
	at := nowMs + days*dayMillis
	return &at
}

func parseLeadingInt(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
