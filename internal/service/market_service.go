// Package service puts request validation and event fan-out in front of
// the market store.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/market"
)

// MarketsChannel is the SignalBus channel carrying market events.
const MarketsChannel = "markets"

// notifyTimeout bounds one asynchronous notification.
const notifyTimeout = 15 * time.Second

// EventNotifier receives market events for out-of-band delivery.
type EventNotifier interface {
	NotifyMarketEvent(ctx context.Context, ev domain.MarketEvent) error
}

// EventMessage is the JSON published on MarketsChannel.
type EventMessage struct {
	Type     domain.EventKind `json:"type"`
	MarketID string           `json:"market_id"`
	Market   *MarketView      `json:"market,omitempty"`
	At       int64            `json:"at"`
}

// MarketService validates requests against the market store and fans store
// events out to the bus, the notifier and the audit log. Any of those three
// may be nil.
type MarketService struct {
	store    *market.Store
	bus      domain.SignalBus
	notifier EventNotifier
	audit    domain.AuditLog
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewMarketService creates a MarketService and subscribes it to store events.
func NewMarketService(
	store *market.Store,
	bus domain.SignalBus,
	notifier EventNotifier,
	audit domain.AuditLog,
	logger *slog.Logger,
) *MarketService {
	s := &MarketService{
		store:    store,
		bus:      bus,
		notifier: notifier,
		audit:    audit,
		logger:   logger.With(slog.String("component", "market_service")),
	}
	store.Subscribe(s.onEvent)
	return s
}

// List returns the markets in category as seen by userID.
func (s *MarketService) List(userID, category string) MarketList {
	return NewMarketList(s.store.Markets(), category, userID, s.store.Now())
}

// Get returns a single market as seen by userID.
func (s *MarketService) Get(id, userID string) (MarketView, error) {
	m, ok := s.store.Get(id)
	if !ok {
		return MarketView{}, fmt.Errorf("market_service: get %q: %w", id, domain.ErrNotFound)
	}
	return NewMarketView(m, userID, s.store.Now()), nil
}

// Create validates and stores a new market. The question is trimmed and
// must hold between 1 and domain.MaxQuestionLength characters.
func (s *MarketService) Create(ctx context.Context, in market.NewMarket, userID string) (MarketView, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return MarketView{}, domain.ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > domain.MaxQuestionLength {
		return MarketView{}, fmt.Errorf("market_service: %d characters: %w",
			utf8.RuneCountInString(question), domain.ErrQuestionTooLong)
	}
	in.Question = question

	m, err := s.store.CreateMarket(ctx, in)
	if err != nil {
		return MarketView{}, fmt.Errorf("market_service: create: %w", err)
	}
	return NewMarketView(m, userID, s.store.Now()), nil
}

// Vote casts (or toggles off) userID's ballot on market id.
func (s *MarketService) Vote(ctx context.Context, id, userID, ballot string) (MarketView, error) {
	b := domain.Ballot(strings.ToLower(strings.TrimSpace(ballot)))
	if !b.Valid() {
		return MarketView{}, fmt.Errorf("market_service: ballot %q: %w", ballot, domain.ErrInvalidBallot)
	}

	m, ok := s.store.CastVote(ctx, id, userID, b)
	if !ok {
		return MarketView{}, s.explainRejection(id)
	}
	return NewMarketView(m, userID, s.store.Now()), nil
}

// Resolve records the final outcome of market id.
func (s *MarketService) Resolve(ctx context.Context, id, outcome, userID string) (MarketView, error) {
	o := domain.Outcome(strings.ToLower(strings.TrimSpace(outcome)))
	if !o.Valid() {
		return MarketView{}, fmt.Errorf("market_service: outcome %q: %w", outcome, domain.ErrInvalidOutcome)
	}

	m, ok := s.store.ResolveMarket(ctx, id, o)
	if !ok {
		return MarketView{}, fmt.Errorf("market_service: resolve %q: %w", id, domain.ErrNotFound)
	}
	return NewMarketView(m, userID, s.store.Now()), nil
}

// Delete removes market id once confirm holds the confirmation word.
func (s *MarketService) Delete(ctx context.Context, id, confirm string) error {
	if !domain.DeleteConfirmed(confirm) {
		return domain.ErrConfirmationRequired
	}
	if !s.store.DeleteMarket(ctx, id) {
		return fmt.Errorf("market_service: delete %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// History returns the newest audit entries, or nil when no audit log is
// configured.
func (s *MarketService) History(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: history: %w", err)
	}
	return entries, nil
}

// Wait blocks until in-flight notifications finish.
func (s *MarketService) Wait() {
	s.wg.Wait()
}

// explainRejection maps a refused vote to the reason it was refused.
func (s *MarketService) explainRejection(id string) error {
	m, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("market_service: vote %q: %w", id, domain.ErrNotFound)
	}
	if domain.IsLocked(m, s.store.Now()) {
		return fmt.Errorf("market_service: vote %q: %w", id, domain.ErrMarketLocked)
	}
	return fmt.Errorf("market_service: vote %q rejected", id)
}

// onEvent runs after every store mutation, on the mutating goroutine.
func (s *MarketService) onEvent(ctx context.Context, ev domain.MarketEvent) {
	now := s.store.Now()
	// The mutation has happened; a cancelled request must not drop its record.
	dctx := context.WithoutCancel(ctx)

	if s.bus != nil {
		msg := EventMessage{Type: ev.Kind, MarketID: ev.MarketID, At: now.UnixMilli()}
		if ev.Market != nil {
			v := NewMarketView(*ev.Market, "", now)
			msg.Market = &v
		}
		payload, err := json.Marshal(msg)
		if err == nil {
			err = s.bus.Publish(dctx, MarketsChannel, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "market_service: publish event failed",
				slog.String("type", string(ev.Kind)),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(dctx, string(ev.Kind), ev.MarketID, auditDetail(ev)); err != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("type", string(ev.Kind)),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			nctx, cancel := context.WithTimeout(dctx, notifyTimeout)
			defer cancel()
			if err := s.notifier.NotifyMarketEvent(nctx, ev); err != nil {
				s.logger.WarnContext(nctx, "market_service: notify failed",
					slog.String("type", string(ev.Kind)),
					slog.String("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

func auditDetail(ev domain.MarketEvent) map[string]any {
	if ev.Market == nil {
		return nil
	}
	detail := map[string]any{
		"question":    ev.Market.Question,
		"category":    ev.Market.Category,
		"total_votes": domain.TotalVotes(ev.Market.Votes),
		"yes_percent": domain.YesPercent(ev.Market.Votes),
	}
	if ev.Market.Resolved != nil {
		detail["resolved"] = string(*ev.Market.Resolved)
	}
	return detail
}
