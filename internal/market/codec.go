package market

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// errNotList is returned by Decode when the payload is valid JSON but not an
// array of markets.
var errNotList = errors.New("market: payload is not a list")

// Encode serializes markets into the persisted text format: a JSON array of
// records with literal field names. A nil votes map is written as {} so that
// Encode(Decode(Encode(ms))) is byte-identical to Encode(ms).
func Encode(markets []domain.Market) ([]byte, error) {
	out := make([]domain.Market, len(markets))
	for i, m := range markets {
		if m.Votes == nil {
			m.Votes = map[string]domain.Ballot{}
		}
		out[i] = m
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("market: encode: %w", err)
	}
	return data, nil
}

// Decode parses a persisted payload. It fails when the payload is not JSON,
// its top-level value is not an array, or a record has an empty or repeated
// id.
func Decode(data []byte) ([]domain.Market, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotList
	}
	var markets []domain.Market
	if err := json.Unmarshal(trimmed, &markets); err != nil {
		return nil, fmt.Errorf("market: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(markets))
	for i := range markets {
		id := markets[i].ID
		if id == "" {
			return nil, fmt.Errorf("market: decode: record %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("market: decode: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if markets[i].Votes == nil {
			markets[i].Votes = map[string]domain.Ballot{}
		}
	}
	return markets, nil
}
