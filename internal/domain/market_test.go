package domain

import (
	"testing"
	"time"
)

func votes(pairs ...string) map[string]Ballot {
	out := make(map[string]Ballot, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = Ballot(pairs[i+1])
	}
	return out
}

func TestYesPercent(t *testing.T) {
	tests := []struct {
		name  string
		votes map[string]Ballot
		want  int
	}{
		{"nil", nil, 50},
		{"empty", map[string]Ballot{}, 50},
		{"single yes", votes("u1", "yes"), 100},
		{"single no", votes("u1", "no"), 0},
		{"two thirds", votes("a", "yes", "b", "yes", "c", "no"), 67},
		{"one third", votes("a", "yes", "b", "no", "c", "no"), 33},
		{"half up", votes("a", "yes", "b", "no", "c", "no", "d", "no", "e", "no", "f", "no", "g", "no", "h", "no"), 13},
		{"even", votes("a", "yes", "b", "no"), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := YesPercent(tt.votes); got != tt.want {
				t.Fatalf("YesPercent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	v := votes("a", "yes", "b", "no", "c", "yes")
	if got := YesCount(v); got != 2 {
		t.Fatalf("YesCount = %d, want 2", got)
	}
	if got := NoCount(v); got != 1 {
		t.Fatalf("NoCount = %d, want 1", got)
	}
	if got := TotalVotes(v); got != 3 {
		t.Fatalf("TotalVotes = %d, want 3", got)
	}
	if got := TotalVotes(nil); got != 0 {
		t.Fatalf("TotalVotes(nil) = %d, want 0", got)
	}
}

func TestLockState(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	past := now.UnixMilli() - 1000
	future := now.UnixMilli() + 1000
	exact := now.UnixMilli()
	yes := OutcomeYes

	tests := []struct {
		name        string
		m           Market
		wantExpired bool
		wantLocked  bool
	}{
		{"open no expiry", Market{}, false, false},
		{"open future expiry", Market{ExpiresAt: &future}, false, false},
		{"expired", Market{ExpiresAt: &past}, true, true},
		{"expires exactly now", Market{ExpiresAt: &exact}, true, true},
		{"resolved", Market{Resolved: &yes}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.m, now); got != tt.wantExpired {
				t.Errorf("IsExpired = %v, want %v", got, tt.wantExpired)
			}
			if got := IsLocked(tt.m, now); got != tt.wantLocked {
				t.Errorf("IsLocked = %v, want %v", got, tt.wantLocked)
			}
		})
	}
}

func TestFormatTimeLeft(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	at := func(d time.Duration) *int64 {
		v := now.Add(d).UnixMilli()
		return &v
	}
	tests := []struct {
		name string
		exp  *int64
		want string
	}{
		{"no expiry", nil, ""},
		{"past", at(-time.Second), "Expired"},
		{"now", at(0), "Expired"},
		{"days", at(2*24*time.Hour + 3*time.Hour + 10*time.Minute), "2d 3h left"},
		{"hours", at(5*time.Hour + 7*time.Minute), "5h 7m left"},
		{"minutes", at(42*time.Minute + 30*time.Second), "42m left"},
		{"under a minute", at(20 * time.Second), "0m left"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimeLeft(tt.exp, now); got != tt.want {
				t.Fatalf("FormatTimeLeft = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategoriesAndFilter(t *testing.T) {
	markets := []Market{
		{ID: "a", Category: "Live"},
		{ID: "b", Category: "General"},
		{ID: "c", Category: "Live"},
	}
	got := Categories(markets)
	want := []string{"All", "Live", "General"}
	if len(got) != len(want) {
		t.Fatalf("Categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Categories = %v, want %v", got, want)
		}
	}

	live := FilterByCategory(markets, "Live")
	if len(live) != 2 || live[0].ID != "a" || live[1].ID != "c" {
		t.Fatalf("FilterByCategory(Live) = %+v", live)
	}
	if all := FilterByCategory(markets, AllCategories); len(all) != 3 {
		t.Fatalf("FilterByCategory(All) returned %d markets", len(all))
	}
	if none := FilterByCategory(markets, "Sports"); len(none) != 0 {
		t.Fatalf("FilterByCategory(Sports) returned %d markets", len(none))
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	exp := int64(5)
	m := Market{ID: "m1", ExpiresAt: &exp, Votes: votes("u1", "yes")}
	c := m.Clone()
	c.Votes["u2"] = BallotNo
	*c.ExpiresAt = 9
	if len(m.Votes) != 1 {
		t.Fatalf("clone shares votes map")
	}
	if *m.ExpiresAt != 5 {
		t.Fatalf("clone shares expiry pointer")
	}
	if (Market{}).Clone().Votes == nil {
		t.Fatalf("clone of empty market should have a non-nil votes map")
	}
}

func TestDeleteConfirmed(t *testing.T) {
	for in, want := range map[string]bool{
		"delete":     true,
		"  DELETE  ": true,
		"Delete":     true,
		"":           false,
		"del":        false,
		"deleted":    false,
	} {
		if got := DeleteConfirmed(in); got != want {
			t.Errorf("DeleteConfirmed(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnums(t *testing.T) {
	if !BallotYes.Valid() || !BallotNo.Valid() || Ballot("maybe").Valid() || Ballot("").Valid() {
		t.Fatal("Ballot.Valid misclassified")
	}
	if !OutcomeYes.Valid() || !OutcomeNo.Valid() || Outcome("YES").Valid() {
		t.Fatal("Outcome.Valid misclassified")
	}
}
