package service

import (
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// MarketView is a market together with the figures a client renders.
type MarketView struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Category   string          `json:"category"`
	CreatedAt  int64           `json:"created_at"`
	ExpiresAt  *int64          `json:"expires_at"`
	Resolved   *domain.Outcome `json:"resolved"`
	YesPercent int             `json:"yes_percent"`
	YesCount   int             `json:"yes_count"`
	NoCount    int             `json:"no_count"`
	TotalVotes int             `json:"total_votes"`
	Expired    bool            `json:"expired"`
	Locked     bool            `json:"locked"`
	TimeLeft   string          `json:"time_left,omitempty"`
	UserVote   domain.Ballot   `json:"user_vote,omitempty"`
}

// MarketList is the response for a (possibly filtered) market listing. Count
// and TotalVotes always cover the whole collection.
type MarketList struct {
	Markets    []MarketView `json:"markets"`
	Categories []string     `json:"categories"`
	Count      int          `json:"count"`
	TotalVotes int          `json:"total_votes"`
}

// NewMarketView derives the view of m at now. userID may be empty, in which
// case UserVote is left blank.
func NewMarketView(m domain.Market, userID string, now time.Time) MarketView {
	v := MarketView{
		ID:         m.ID,
		Question:   m.Question,
		Category:   m.Category,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		Resolved:   m.Resolved,
		YesPercent: domain.YesPercent(m.Votes),
		YesCount:   domain.YesCount(m.Votes),
		NoCount:    domain.NoCount(m.Votes),
		TotalVotes: domain.TotalVotes(m.Votes),
		Expired:    domain.IsExpired(m, now),
		Locked:     domain.IsLocked(m, now),
		TimeLeft:   domain.FormatTimeLeft(m.ExpiresAt, now),
	}
	if userID != "" {
		v.UserVote = m.UserVote(userID)
	}
	return v
}

// NewMarketList builds the listing for category out of the full collection.
func NewMarketList(markets []domain.Market, category, userID string, now time.Time) MarketList {
	filtered := domain.FilterByCategory(markets, category)
	views := make([]MarketView, 0, len(filtered))
	for _, m := range filtered {
		views = append(views, NewMarketView(m, userID, now))
	}
	return MarketList{
		Markets:    views,
		Categories: domain.Categories(markets),
		Count:      len(markets),
		TotalVotes: domain.CollectionTotalVotes(markets),
	}
}
