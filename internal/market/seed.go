package market

import (
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

const (
	SeedMarketID        = "m1"
	DefaultSeedQuestion = "Is this presentation going well so far?"
	DefaultSeedCategory = "Live"
)

// seedMarkets is the collection used when nothing usable is persisted.
func seedMarkets(question, category string, now time.Time) []domain.Market {
	return []domain.Market{{
		ID:        SeedMarketID,
		Question:  question,
		Category:  category,
		CreatedAt: now.UnixMilli(),
		Votes:     map[string]domain.Ballot{},
	}}
}
