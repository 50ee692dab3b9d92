package domain

// EventKind names a market mutation.
type EventKind string

const (
	EventMarketCreated  EventKind = "market_created"
	EventVoteCast       EventKind = "vote_cast"
	EventMarketDeleted  EventKind = "market_deleted"
	EventMarketResolved EventKind = "market_resolved"
)

// MarketEvent is emitted after every applied mutation. Market is nil for
// deletions. Snapshot is the full collection after the mutation and must be
// treated as read-only.
type MarketEvent struct {
	Kind     EventKind `json:"type"`
	MarketID string    `json:"market_id"`
	Market   *Market   `json:"market,omitempty"`
	Snapshot []Market  `json:"-"`
}
