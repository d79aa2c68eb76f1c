package resolver

import (
	"strings"

	apperrors "bizgraph/backend/pkg/errors"
)

// Strategy decides which record of a cluster wins.
type Strategy string

const (
	KeepFirst           Strategy = "KEEP_FIRST"
	KeepNewest          Strategy = "KEEP_NEWEST"
	AuthoritativeSource Strategy = "AUTHORITATIVE_SOURCE"
	Manual              Strategy = "MANUAL"
)

// ParseStrategy accepts a strategy name in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case KeepFirst, KeepNewest, AuthoritativeSource, Manual:
		return st, nil
	}
	return "", apperrors.NewInvalidArgument("strategy", s, "expected KEEP_FIRST, KEEP_NEWEST, AUTHORITATIVE_SOURCE or MANUAL")
}

// Resolution is the outcome of MergeContacts. Under MANUAL the winner is only tentative
// and NeedsReview is set.
type Resolution struct {
	Strategy    Strategy       `json:"strategy"`
	Winner      SourceRecord   `json:"winner"`
	Others      []SourceRecord `json:"others"`
	NeedsReview bool           `json:"needs_review"`
}

// MergeContacts picks the winning record of a cluster.
//
//   - KEEP_FIRST: the first record.
//   - KEEP_NEWEST: the latest UpdatedAt; ties keep the earlier record.
//   - AUTHORITATIVE_SOURCE: the first record from the highest-priority provider present,
//     falling back to KEEP_NEWEST when no listed provider is present.
//   - MANUAL: the first record, flagged for human review.
func MergeContacts(records []SourceRecord, strategy Strategy, providerPriority []string) (Resolution, error) {
	if len(records) == 0 {
		return Resolution{}, apperrors.NewInvalidArgument("records", "", "at least one record is required")
	}

	var winner int
	needsReview := false
	switch strategy {
	case KeepFirst:
		winner = 0
	case KeepNewest:
		winner = newest(records)
	case AuthoritativeSource:
		winner = authoritative(records, providerPriority)
	case Manual:
		winner = 0
		needsReview = true
	default:
		return Resolution{}, apperrors.NewInvalidArgument("strategy", string(strategy), "unknown strategy")
	}

	others := make([]SourceRecord, 0, len(records)-1)
	for i, r := range records {
		if i != winner {
			others = append(others, r)
		}
	}
	return Resolution{
		Strategy:    strategy,
		Winner:      records[winner],
		Others:      others,
		NeedsReview: needsReview,
	}, nil
}

func newest(records []SourceRecord) int {
	best := 0
	for i := 1; i < len(records); i++ {
		if records[i].UpdatedAt.After(records[best].UpdatedAt) {
			best = i
		}
	}
	return best
}

func authoritative(records []SourceRecord, priority []string) int {
	for _, provider := range priority {
		for i, r := range records {
			if strings.EqualFold(r.Provider, provider) {
				return i
			}
		}
	}
	return newest(records)
}
