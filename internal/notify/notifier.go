// Package notify forwards market events to chat channels (Telegram,
// Discord), filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{
	string(domain.EventMarketCreated),
	string(domain.EventMarketResolved),
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to its senders. Notify forwards only
// allowed event types; an empty allow list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, allowing only the listed event
// types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyMarketEvent renders ev and sends it through Notify.
func (n *Notifier) NotifyMarketEvent(ctx context.Context, ev domain.MarketEvent) error {
	title, message := FormatEvent(ev)
	return n.Notify(ctx, string(ev.Kind), title, message)
}

// FormatEvent builds the title and body announcing ev.
func FormatEvent(ev domain.MarketEvent) (title, message string) {
	question := ev.MarketID
	category := ""
	if ev.Market != nil {
		question = ev.Market.Question
		category = ev.Market.Category
	}

	switch ev.Kind {
	case domain.EventMarketCreated:
		title = "New market"
		message = question
		if category != "" {
			message = fmt.Sprintf("[%s] %s", category, question)
		}
	case domain.EventMarketResolved:
		outcome := "?"
		if ev.Market != nil && ev.Market.Resolved != nil {
			outcome = strings.ToUpper(string(*ev.Market.Resolved))
		}
		title = "Market resolved " + outcome
		message = question
		if ev.Market != nil {
			message = fmt.Sprintf("%s\nCrowd said YES %d%% of %d votes",
				question, domain.YesPercent(ev.Market.Votes), domain.TotalVotes(ev.Market.Votes))
		}
	case domain.EventVoteCast:
		title = "Vote cast"
		message = question
		if ev.Market != nil {
			message = fmt.Sprintf("%s\nYES %d%% (%d votes)",
				question, domain.YesPercent(ev.Market.Votes), domain.TotalVotes(ev.Market.Votes))
		}
	case domain.EventMarketDeleted:
		title = "Market deleted"
		message = ev.MarketID
	default:
		title = string(ev.Kind)
		message = question
	}
	return title, message
}

// dispatch sends to every sender. One failing sender does not stop the rest;
// all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
