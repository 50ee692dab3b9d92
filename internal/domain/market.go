package domain

import (
	"fmt"
	"strings"
	"time"
)

// Ballot is a single user's vote on a market.
type Ballot string

const (
	BallotYes Ballot = "yes"
	BallotNo  Ballot = "no"
)

// Valid reports whether b is one of the two accepted ballots.
func (b Ballot) Valid() bool {
	return b == BallotYes || b == BallotNo
}

// Outcome is the final result of a resolved market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is one of the two accepted outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// DefaultCategory is applied when a market is created without a category.
const DefaultCategory = "General"

// MaxQuestionLength is the conventional upper bound on question length. The
// store does not enforce it; the HTTP layer does.
const MaxQuestionLength = 200

// Market is a yes/no question open for voting.
//
// ExpiresAt and Resolved are nil when the market never expires or is still
// unresolved. CreatedAt and ExpiresAt are milliseconds since the Unix epoch.
type Market struct {
	ID        string            `json:"id"`
	Question  string            `json:"question"`
	Category  string            `json:"category"`
	CreatedAt int64             `json:"createdAt"`
	ExpiresAt *int64            `json:"expiresAt"`
	Resolved  *Outcome          `json:"resolved"`
	Votes     map[string]Ballot `json:"votes"`
}

// Clone returns a deep copy of m so callers can never alias the store's state.
func (m Market) Clone() Market {
	out := m
	if m.ExpiresAt != nil {
		v := *m.ExpiresAt
		out.ExpiresAt = &v
	}
	if m.Resolved != nil {
		v := *m.Resolved
		out.Resolved = &v
	}
	out.Votes = make(map[string]Ballot, len(m.Votes))
	for k, v := range m.Votes {
		out.Votes[k] = v
	}
	return out
}

// IsResolved reports whether an outcome has been recorded.
func (m Market) IsResolved() bool {
	return m.Resolved != nil
}

// UserVote returns the ballot recorded for userID, or "" when none.
func (m Market) UserVote(userID string) Ballot {
	return m.Votes[userID]
}

// YesCount returns the number of "yes" ballots.
func YesCount(votes map[string]Ballot) int {
	n := 0
	for _, v := range votes {
		if v == BallotYes {
			n++
		}
	}
	return n
}

// TotalVotes returns the number of ballots cast.
func TotalVotes(votes map[string]Ballot) int {
	return len(votes)
}

// NoCount returns every ballot that is not "yes".
func NoCount(votes map[string]Ballot) int {
	return TotalVotes(votes) - YesCount(votes)
}

// YesPercent returns the share of "yes" ballots rounded half-up to a whole
// percent, or 50 when nobody has voted.
func YesPercent(votes map[string]Ballot) int {
	total := TotalVotes(votes)
	if total == 0 {
		return 50
	}
	// Integer half-up rounding: floor((200*yes + total) / (2*total)).
	return (200*YesCount(votes) + total) / (2 * total)
}

// IsExpired reports whether m has an expiry that is at or before now.
func IsExpired(m Market, now time.Time) bool {
	return m.ExpiresAt != nil && now.UnixMilli() >= *m.ExpiresAt
}

// IsLocked reports whether voting on m is closed.
func IsLocked(m Market, now time.Time) bool {
	return m.IsResolved() || IsExpired(m, now)
}

// FormatTimeLeft renders the remaining lifetime of a market in the compact
// form shown next to its category, e.g. "2d 4h left". It returns "" for
// markets without an expiry.
func FormatTimeLeft(expiresAt *int64, now time.Time) string {
	if expiresAt == nil {
		return ""
	}
	diff := *expiresAt - now.UnixMilli()
	if diff <= 0 {
		return "Expired"
	}
	const (
		minute = int64(time.Minute / time.Millisecond)
		hour   = int64(time.Hour / time.Millisecond)
		day    = 24 * hour
	)
	days := diff / day
	hours := (diff % day) / hour
	mins := (diff % hour) / minute
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh left", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm left", hours, mins)
	default:
		return fmt.Sprintf("%dm left", mins)
	}
}

// AllCategories is the pseudo-category that matches every market.
const AllCategories = "All"

// Categories returns AllCategories followed by every distinct category in
// the order it first appears in markets.
func Categories(markets []Market) []string {
	seen := make(map[string]bool, len(markets))
	out := []string{AllCategories}
	for _, m := range markets {
		if seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		out = append(out, m.Category)
	}
	return out
}

// FilterByCategory returns the markets whose category equals category. An
// empty category or AllCategories returns markets unchanged.
func FilterByCategory(markets []Market, category string) []Market {
	if category == "" || category == AllCategories {
		return markets
	}
	out := make([]Market, 0, len(markets))
	for _, m := range markets {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

// CollectionTotalVotes sums the ballots across every market.
func CollectionTotalVotes(markets []Market) int {
	total := 0
	for _, m := range markets {
		total += TotalVotes(m.Votes)
	}
	return total
}

// DeleteConfirmWord must be typed by the user before a market is deleted.
const DeleteConfirmWord = "delete"

// DeleteConfirmed reports whether text is the delete confirmation word,
// ignoring case and surrounding whitespace.
func DeleteConfirmed(text string) bool {
	return strings.ToLower(strings.TrimSpace(text)) == DeleteConfirmWord
}
