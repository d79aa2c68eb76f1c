// Package candidates finds likely duplicate nodes of one label. Entities are blocked by
// name prefix so only entities sharing a bucket are compared, then every compared pair is
// scored and the ones above a confidence threshold are ranked.
package candidates

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bizgraph/backend/internal/graph"
	"bizgraph/backend/internal/ontology"
	"bizgraph/backend/internal/scoring"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

const (
	DefaultMinConfidence = 0.8
	DefaultLimit         = 100
	DefaultBlockSize     = 1
	DefaultWorkers       = 4
)

// MatchCandidate is a scored pair of entities. EntityAID sorts before EntityBID.
type MatchCandidate struct {
	EntityAID  string             `json:"entity_a_id"`
	EntityBID  string             `json:"entity_b_id"`
	Confidence float64            `json:"confidence"`
	Reasons    map[string]float64 `json:"reasons"`
}

// Query selects the population and thresholds of one search.
// BlockSize 0 compares every pair.
type Query struct {
	Label         string
	MinConfidence float64
	Limit         int
	BlockSize     int
}

// NewQuery returns a query for label with default thresholds.
func NewQuery(label string) Query {
	return Query{
		Label:         label,
		MinConfidence: DefaultMinConfidence,
		Limit:         DefaultLimit,
		BlockSize:     DefaultBlockSize,
	}
}

// Options tunes a Generator.
type Options struct {
	Workers      int
	DefaultLimit int
}

// Generator produces ranked match candidates from the graph store.
type Generator struct {
	store    graph.Store
	registry ontology.Registry
	scorer   *scoring.Scorer
	workers  int
	limit    int
	logger   *zap.Logger
}

func NewGenerator(store graph.Store, registry ontology.Registry, scorer *scoring.Scorer, opts Options) *Generator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	return &Generator{
		store:    store,
		registry: registry,
		scorer:   scorer,
		workers:  opts.Workers,
		limit:    opts.DefaultLimit,
		logger:   logger.Named("candidates"),
	}
}

func (g *Generator) validate(q Query) error {
	if !g.registry.IsValidLabel(q.Label) {
		return apperrors.NewInvalidArgument("label", q.Label, "not an allowed node label")
	}
	if q.MinConfidence < 0 || q.MinConfidence > 1 {
		return apperrors.NewInvalidArgument("min_confidence", strconv.FormatFloat(q.MinConfidence, 'f', -1, 64), "must be within [0, 1]")
	}
	if q.Limit < 0 {
		return apperrors.NewInvalidArgument("limit", strconv.Itoa(q.Limit), "must not be negative")
	}
	if q.BlockSize < 0 {
		return apperrors.NewInvalidArgument("block_size", strconv.Itoa(q.BlockSize), "must not be negative")
	}
	return nil
}

// FindCandidates returns pairs scoring at least q.MinConfidence, best first.
// Two duplicates whose names differ within the first BlockSize characters are never compared.
func (g *Generator) FindCandidates(ctx context.Context, q Query) ([]MatchCandidate, error) {
	if err := g.validate(q); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = g.limit
	}

	start := time.Now()
	entities, err := g.store.FetchEntities(ctx, q.Label)
	if err != nil {
		return nil, err
	}

	buckets := Block(entities, q.BlockSize)
	results, comparisons, err := g.scoreBuckets(ctx, buckets, q.MinConfidence)
	if err != nil {
		return nil, err
	}

	Rank(results)
	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	g.logger.Info("Candidate search finished",
		zap.String("label", q.Label),
		zap.Int("entities", len(entities)),
		zap.Int("buckets", len(buckets)),
		zap.Int64("comparisons", comparisons),
		zap.Int("matches", total),
		zap.Int("returned", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// scoreBuckets compares every intra-bucket pair. Each row of a bucket is one task so a
// single large bucket still spreads across workers.
func (g *Generator) scoreBuckets(ctx context.Context, buckets [][]graph.Entity, minConfidence float64) ([]MatchCandidate, int64, error) {
	type task struct {
		bucket int
		row    int
	}
	var tasks []task
	for b, bucket := range buckets {
		for i := 0; i < len(bucket)-1; i++ {
			tasks = append(tasks, task{bucket: b, row: i})
		}
	}

	found := make([][]MatchCandidate, len(tasks))
	var comparisons atomic.Int64

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for idx, t := range tasks {
		idx, t := idx, t
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			bucket := buckets[t.bucket]
			a := bucket[t.row]
			var local []MatchCandidate
			for _, b := range bucket[t.row+1:] {
				if a.ID == b.ID {
					continue
				}
				comparisons.Add(1)
				res := g.scorer.Score(fields(a), fields(b))
				if res.Score >= minConfidence {
					local = append(local, newCandidate(a.ID, b.ID, res))
				}
			}
			found[idx] = local
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("candidate scoring stopped: %w", err)
	}

	var out []MatchCandidate
	for _, f := range found {
		out = append(out, f...)
	}
	if out == nil {
		out = []MatchCandidate{}
	}
	return out, comparisons.Load(), nil
}

// Block groups entities by the lowercase first blockSize runes of their trimmed name,
// or of their id when the name is blank. blockSize 0 yields one bucket with everything.
// Buckets come back in key order and buckets of one entity are dropped.
func Block(entities []graph.Entity, blockSize int) [][]graph.Entity {
	if blockSize <= 0 {
		if len(entities) < 2 {
			return nil
		}
		all := make([]graph.Entity, len(entities))
		copy(all, entities)
		return [][]graph.Entity{all}
	}

	byKey := map[string][]graph.Entity{}
	for _, e := range entities {
		k := BlockKey(e, blockSize)
		byKey[k] = append(byKey[k], e)
	}
	keys := make([]string, 0, len(byKey))
	for k, members := range byKey {
		if len(members) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([][]graph.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

// BlockKey is the bucket an entity falls into.
func BlockKey(e graph.Entity, blockSize int) string {
	source := strings.TrimSpace(e.Name)
	if source == "" {
		source = e.ID
	}
	runes := []rune(strings.ToLower(source))
	if len(runes) > blockSize {
		runes = runes[:blockSize]
	}
	return string(runes)
}

// Rank orders by confidence descending, then by the pair ids.
func Rank(cs []MatchCandidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].EntityAID != cs[j].EntityAID {
			return cs[i].EntityAID < cs[j].EntityAID
		}
		return cs[i].EntityBID < cs[j].EntityBID
	})
}

func newCandidate(idA, idB string, res scoring.Result) MatchCandidate {
	if idB < idA {
		idA, idB = idB, idA
	}
	return MatchCandidate{EntityAID: idA, EntityBID: idB, Confidence: res.Score, Reasons: res.Reasons}
}

func fields(e graph.Entity) scoring.Fields {
	return scoring.Fields{Name: e.Name, Phone: e.Phone, Address: e.Address}
}
