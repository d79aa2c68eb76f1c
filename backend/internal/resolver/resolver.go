// Package resolver clusters records arriving from several ingestion sources into canonical
// identities and picks a winning record per cluster.
//
// Clustering compares every pair, so it is meant for ingestion batches. Population-wide
// matching goes through the candidates package, which blocks before scoring.
package resolver

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"bizgraph/backend/internal/similarity"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

const (
	DefaultNameThreshold = 0.85
	ClusterIDPrefix      = "resolved:"
)

// SourceRecord is one record as delivered by a provider.
type SourceRecord struct {
	SourceID  string    `json:"source_id"`
	Provider  string    `json:"provider"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResolvedRecord is a source record tagged with its cluster.
type ResolvedRecord struct {
	SourceRecord
	ResolvedEntityID string `json:"resolved_entity_id"`
}

// Cluster is the set of records resolved to one identity, in input order.
type Cluster struct {
	ID      string           `json:"id"`
	Records []ResolvedRecord `json:"records"`
}

// Options controls the match rules.
type Options struct {
	// NameThreshold is the minimum name similarity for the soft rule.
	NameThreshold float64
	// PhoneMatchOverride links records whose phones match regardless of name.
	PhoneMatchOverride bool
	CountryCode        string
}

func DefaultOptions() Options {
	return Options{
		NameThreshold:      DefaultNameThreshold,
		PhoneMatchOverride: true,
		CountryCode:        similarity.DefaultCountryCode,
	}
}

// ResolveEntities links records that share a phone (hard rule) or whose names are at least
// NameThreshold similar (soft rule), and gives each connected group the id "resolved:{n}",
// numbered by the position of the group's first record.
func ResolveEntities(records []SourceRecord, opts Options) ([]ResolvedRecord, error) {
	if opts.NameThreshold < 0 || opts.NameThreshold > 1 {
		return nil, apperrors.NewInvalidArgument("name_threshold", strconv.FormatFloat(opts.NameThreshold, 'f', -1, 64), "must be within [0, 1]")
	}

	start := time.Now()
	phones := similarity.NewPhoneNormalizer(opts.CountryCode)
	normalized := make([]string, len(records))
	for i, r := range records {
		if p, ok := phones.Normalize(r.Phone); ok {
			normalized[i] = p
		}
	}

	set := NewDisjointSet(len(records))
	var comparisons, phoneLinks, nameLinks int
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if set.Connected(i, j) {
				continue
			}
			comparisons++
			if opts.PhoneMatchOverride && normalized[i] != "" && normalized[i] == normalized[j] {
				set.Union(i, j)
				phoneLinks++
				continue
			}
			if similarity.NameSimilarity(records[i].Name, records[j].Name) >= opts.NameThreshold {
				set.Union(i, j)
				nameLinks++
			}
		}
	}

	ids := make(map[int]string, set.Sets())
	out := make([]ResolvedRecord, len(records))
	for i, r := range records {
		root := set.Find(i)
		id, ok := ids[root]
		if !ok {
			id = fmt.Sprintf("%s%d", ClusterIDPrefix, len(ids)+1)
			ids[root] = id
		}
		out[i] = ResolvedRecord{SourceRecord: r, ResolvedEntityID: id}
	}

	logger.Named("resolver").Info("Entity resolution finished",
		zap.Int("records", len(records)),
		zap.Int("clusters", len(ids)),
		zap.Int("comparisons", comparisons),
		zap.Int("phone_links", phoneLinks),
		zap.Int("name_links", nameLinks),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// Clusters groups resolved records by cluster id in order of first appearance.
func Clusters(resolved []ResolvedRecord) []Cluster {
	index := map[string]int{}
	var out []Cluster
	for _, r := range resolved {
		i, ok := index[r.ResolvedEntityID]
		if !ok {
			i = len(out)
			index[r.ResolvedEntityID] = i
			out = append(out, Cluster{ID: r.ResolvedEntityID})
		}
		out[i].Records = append(out[i].Records, r)
	}
	return out
}

// SourceRecords returns the plain source records of a cluster.
func (c Cluster) SourceRecords() []SourceRecord {
	out := make([]SourceRecord, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.SourceRecord
	}
	return out
}
