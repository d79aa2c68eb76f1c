// Package api exposes candidate search, merge, unmerge, merge history and batch
// resolution over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bizgraph/backend/internal/candidates"
	"bizgraph/backend/internal/ledger"
	"bizgraph/backend/internal/merge"
	"bizgraph/backend/internal/resolver"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

// DefaultActor is recorded as undone_by when an unmerge request names no one.
const DefaultActor = "api"

// Merger is the merge service as the API uses it.
type Merger interface {
	Merge(ctx context.Context, req merge.MergeRequest) (string, error)
	Unmerge(ctx context.Context, ledgerID, actor string) error
	History(ctx context.Context, f ledger.Filter) ([]ledger.MergeRecord, error)
}

// CandidateFinder searches one label for likely duplicates.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, q candidates.Query) ([]candidates.MatchCandidate, error)
}

// Defaults fill query parameters a request leaves out.
type Defaults struct {
	MinConfidence float64
	Limit         int
	BlockSize     int
	CountryCode   string
}

// Handler serves the /api routes.
type Handler struct {
	merger   Merger
	finder   CandidateFinder
	defaults Defaults
	logger   *zap.Logger
}

func NewHandler(merger Merger, finder CandidateFinder, defaults Defaults) *Handler {
	return &Handler{
		merger:   merger,
		finder:   finder,
		defaults: defaults,
		logger:   logger.Named("api"),
	}
}

// Register mounts the handler's routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/merge", h.merge)
	r.POST("/unmerge", h.unmerge)
	r.GET("/candidates", h.candidates)
	r.GET("/merge-history", h.history)
	r.POST("/resolve", h.resolve)
}

type mergeRequest struct {
	MergedID   string   `json:"merged_id"`
	SurvivorID string   `json:"survivor_id"`
	Label      string   `json:"label"`
	MergedBy   string   `json:"merged_by"`
	Confidence *float64 `json:"confidence"`
}

func (h *Handler) merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, bindError(err))
		return
	}

	id, err := h.merger.Merge(c.Request.Context(), merge.MergeRequest(req))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ledger_id": id})
}

type unmergeRequest struct {
	LedgerID string `json:"ledger_id" binding:"required"`
	UndoneBy string `json:"undone_by"`
}

func (h *Handler) unmerge(c *gin.Context) {
	var req unmergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, bindError(err))
		return
	}
	actor := strings.TrimSpace(req.UndoneBy)
	if actor == "" {
		actor = DefaultActor
	}

	if err := h.merger.Unmerge(c.Request.Context(), req.LedgerID, actor); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "undone", "ledger_id": req.LedgerID})
}

func (h *Handler) candidates(c *gin.Context) {
	q := candidates.Query{
		Label:         c.Query("label"),
		MinConfidence: h.defaults.MinConfidence,
		Limit:         h.defaults.Limit,
		BlockSize:     h.defaults.BlockSize,
	}
	var err error
	if q.MinConfidence, err = queryFloat(c, "min_confidence", q.MinConfidence); err != nil {
		h.writeError(c, err)
		return
	}
	if q.Limit, err = queryInt(c, "limit", q.Limit); err != nil {
		h.writeError(c, err)
		return
	}
	if q.BlockSize, err = queryInt(c, "block_size", q.BlockSize); err != nil {
		h.writeError(c, err)
		return
	}

	found, err := h.finder.FindCandidates(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": found, "count": len(found)})
}

func (h *Handler) history(c *gin.Context) {
	f := ledger.Filter{
		Label:      c.Query("label"),
		MergedID:   c.Query("merged_id"),
		SurvivorID: c.Query("survivor_id"),
	}
	if raw, ok := c.GetQuery("undone"); ok {
		undone, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, apperrors.NewInvalidArgument("undone", raw, "must be a boolean"))
			return
		}
		f.Undone = &undone
	}
	var err error
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		h.writeError(c, err)
		return
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		h.writeError(c, err)
		return
	}

	records, err := h.merger.History(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

type resolveRequest struct {
	Records            []resolver.SourceRecord `json:"records" binding:"required"`
	NameThreshold      *float64                `json:"name_threshold"`
	PhoneMatchOverride *bool                   `json:"phone_match_override"`
	Strategy           string                  `json:"strategy"`
	ProviderPriority   []string                `json:"provider_priority"`
}

type resolvedCluster struct {
	resolver.Cluster
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
}

// resolve clusters a batch of source records and, when a strategy is given, picks a
// winner per cluster.
func (h *Handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, bindError(err))
		return
	}

	opts := resolver.DefaultOptions()
	if h.defaults.CountryCode != "" {
		opts.CountryCode = h.defaults.CountryCode
	}
	if req.NameThreshold != nil {
		opts.NameThreshold = *req.NameThreshold
	}
	if req.PhoneMatchOverride != nil {
		opts.PhoneMatchOverride = *req.PhoneMatchOverride
	}

	var strategy resolver.Strategy
	if req.Strategy != "" {
		s, err := resolver.ParseStrategy(req.Strategy)
		if err != nil {
			h.writeError(c, err)
			return
		}
		strategy = s
	}

	resolved, err := resolver.ResolveEntities(req.Records, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}

	clusters := resolver.Clusters(resolved)
	out := make([]resolvedCluster, 0, len(clusters))
	for _, cl := range clusters {
		rc := resolvedCluster{Cluster: cl}
		if strategy != "" {
			res, err := resolver.MergeContacts(cl.SourceRecords(), strategy, req.ProviderPriority)
			if err != nil {
				h.writeError(c, err)
				return
			}
			rc.Resolution = &res
		}
		out = append(out, rc)
	}
	c.JSON(http.StatusOK, gin.H{"records": resolved, "clusters": out})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidArgument(key, raw, "must be an integer")
	}
	return n, nil
}

func queryFloat(c *gin.Context, key string, def float64) (float64, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.NewInvalidArgument(key, raw, "must be a number")
	}
	return f, nil
}
