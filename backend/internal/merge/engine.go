// Package merge folds a duplicate node into its survivor and reverses such merges.
// Both directions are planned as a graph.UnitOfWork and committed in one transaction.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizgraph/backend/internal/graph"
	"bizgraph/backend/internal/ontology"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

// Reasons a relationship is left behind by a merge.
const (
	SkipUnknownType     = "relationship type not in ontology"
	SkipMissingEndpoint = "endpoint has no id"
)

// MergeRequest names the two nodes of a merge. MergedID is deleted, SurvivorID is kept.
type MergeRequest struct {
	MergedID   string   `json:"merged_id"`
	SurvivorID string   `json:"survivor_id"`
	Label      string   `json:"label"`
	MergedBy   string   `json:"merged_by"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Details is everything needed to reverse a merge. It is stored as the ledger record's details.
type Details struct {
	MergedProps          graph.Properties      `json:"merged_props"`
	MovedRelationships   []MovedRelationship   `json:"moved_relationships"`
	SkippedRelationships []SkippedRelationship `json:"skipped_relationships,omitempty"`
}

// MovedRelationship is a relationship as it was before the merge, with its original endpoints.
type MovedRelationship struct {
	FromID    string           `json:"from_id"`
	ToID      string           `json:"to_id"`
	Type      string           `json:"type"`
	Props     graph.Properties `json:"props"`
	FromLabel string           `json:"from_label,omitempty"`
	ToLabel   string           `json:"to_label,omitempty"`
}

// SkippedRelationship was deleted with the merged node and cannot be restored.
type SkippedRelationship struct {
	Type   string `json:"type"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Reason string `json:"reason"`
}

// RestoreRequest is the graph half of an unmerge.
type RestoreRequest struct {
	MergedID   string
	SurvivorID string
	Label      string
	Details    Details
}

// EngineOptions tunes an Engine.
type EngineOptions struct {
	// StrictRelationshipTypes fails a merge on any relationship type outside the ontology
	// instead of skipping it.
	StrictRelationshipTypes bool
}

// Engine plans and commits merges against a graph.Store.
type Engine struct {
	store    graph.Store
	registry ontology.Registry
	strict   bool
	logger   *zap.Logger
}

func NewEngine(store graph.Store, registry ontology.Registry, opts EngineOptions) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		strict:   opts.StrictRelationshipTypes,
		logger:   logger.Named("merge"),
	}
}

func (e *Engine) validate(label, mergedID, survivorID string) error {
	if !e.registry.IsValidLabel(label) {
		return apperrors.NewInvalidArgument("label", label, "not in ontology")
	}
	if strings.TrimSpace(mergedID) == "" {
		return apperrors.NewInvalidArgument("merged_id", mergedID, "required")
	}
	if strings.TrimSpace(survivorID) == "" {
		return apperrors.NewInvalidArgument("survivor_id", survivorID, "required")
	}
	if mergedID == survivorID {
		return apperrors.NewInvalidArgument("survivor_id", survivorID, "must differ from merged_id")
	}
	return nil
}

// MergeNodes moves every relationship of the merged node onto the survivor, tagging each
// with merged_from_id, and deletes the merged node. Nothing is written unless the whole
// plan commits.
func (e *Engine) MergeNodes(ctx context.Context, req MergeRequest) (*Details, error) {
	if err := e.validate(req.Label, req.MergedID, req.SurvivorID); err != nil {
		return nil, err
	}

	snap, err := e.store.Snapshot(ctx, req.Label, req.MergedID)
	if err != nil {
		return nil, err
	}
	exists, err := e.store.NodeExists(ctx, req.Label, req.SurvivorID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NewNotFound("node", req.SurvivorID, req.Label)
	}

	uow, details, err := e.planMerge(req, snap)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if _, err := e.store.Commit(ctx, uow); err != nil {
		e.logger.Warn("Merge commit failed",
			zap.String("merged_id", req.MergedID),
			zap.String("survivor_id", req.SurvivorID),
			zap.String("label", req.Label),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("Nodes merged",
		zap.String("merged_id", req.MergedID),
		zap.String("survivor_id", req.SurvivorID),
		zap.String("label", req.Label),
		zap.Int("moved", len(details.MovedRelationships)),
		zap.Int("skipped", len(details.SkippedRelationships)),
		zap.Duration("duration", time.Since(start)),
	)
	return details, nil
}

func (e *Engine) planMerge(req MergeRequest, snap *graph.NodeSnapshot) (*graph.UnitOfWork, *Details, error) {
	self := graph.NodeRef{ID: req.MergedID, Label: req.Label}
	survivor := graph.NodeRef{ID: req.SurvivorID, Label: req.Label}

	details := &Details{
		MergedProps:        snap.Props.Clone(),
		MovedRelationships: []MovedRelationship{},
	}
	uow := graph.NewUnitOfWork()
	var deletes []graph.Mutation
	remaining := map[string]bool{}

	for _, rel := range snap.Relationships {
		skip := ""
		switch {
		case !e.registry.IsValidRelationshipType(rel.Type):
			if e.strict {
				return nil, nil, apperrors.NewInvalidArgument("relationship_type", rel.Type, "not in ontology")
			}
			skip = SkipUnknownType
		case rel.From.ID == "" || rel.To.ID == "":
			skip = SkipMissingEndpoint
		}
		if skip != "" {
			e.logger.Warn("Skipping relationship",
				zap.String("merged_id", req.MergedID),
				zap.String("type", rel.Type),
				zap.String("from_id", rel.From.ID),
				zap.String("to_id", rel.To.ID),
				zap.String("reason", skip),
			)
			details.SkippedRelationships = append(details.SkippedRelationships, SkippedRelationship{
				Type:   rel.Type,
				FromID: rel.From.ID,
				ToID:   rel.To.ID,
				Reason: skip,
			})
			remaining[rel.Type] = true
			continue
		}

		from := e.endpointRef(rel.From, self)
		to := e.endpointRef(rel.To, self)
		details.MovedRelationships = append(details.MovedRelationships, MovedRelationship{
			FromID:    from.ID,
			ToID:      to.ID,
			Type:      rel.Type,
			Props:     rel.Props.Clone(),
			FromLabel: from.Label,
			ToLabel:   to.Label,
		})

		uow.Add(graph.MergeRelationship{
			Type:         rel.Type,
			From:         substitute(from, self, survivor),
			To:           substitute(to, self, survivor),
			Props:        rel.Props,
			MergedFromID: req.MergedID,
		})
		relProps := rel.Props.Clone()
		deletes = append(deletes, graph.DeleteRelationship{
			ElementID:     rel.ElementID,
			Type:          rel.Type,
			Owner:         self,
			ExpectedProps: &relProps,
		})
	}

	allowed := make([]string, 0, len(remaining))
	for t := range remaining {
		allowed = append(allowed, t)
	}
	sort.Strings(allowed)

	uow.Add(deletes...)
	// The snapshot was read outside the write transaction; deleting only what it saw
	// keeps the ledger copy identical to what the graph loses.
	nodeProps := snap.Props.Clone()
	uow.Add(graph.DeleteNode{Node: self, AllowedRemaining: allowed, ExpectedProps: &nodeProps})
	return uow, details, nil
}

// endpointRef addresses one end of a snapshotted relationship. The merged node keeps its
// label; other nodes keep their first label the ontology knows, or match by id alone.
func (e *Engine) endpointRef(ep graph.Endpoint, self graph.NodeRef) graph.NodeRef {
	if ep.ID == self.ID && containsLabel(ep.Labels, self.Label) {
		return self
	}
	for _, l := range ep.Labels {
		if e.registry.IsValidLabel(l) {
			return graph.NodeRef{ID: ep.ID, Label: l}
		}
	}
	return graph.NodeRef{ID: ep.ID}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func substitute(ref, merged, survivor graph.NodeRef) graph.NodeRef {
	if ref == merged {
		return survivor
	}
	return ref
}

// Restore recreates the merged node with its recorded properties and relationships and
// removes the tagged copies the merge left on the survivor, in one transaction. It fails
// with a Conflict if a node with the merged id already exists.
func (e *Engine) Restore(ctx context.Context, req RestoreRequest) error {
	if err := e.validate(req.Label, req.MergedID, req.SurvivorID); err != nil {
		return err
	}
	uow, err := e.planRestore(req)
	if err != nil {
		return err
	}

	res, err := e.store.Commit(ctx, uow)
	if err != nil {
		e.logger.Warn("Restore commit failed",
			zap.String("merged_id", req.MergedID),
			zap.String("survivor_id", req.SurvivorID),
			zap.Error(err),
		)
		return err
	}

	e.logger.Info("Merge reversed",
		zap.String("merged_id", req.MergedID),
		zap.String("survivor_id", req.SurvivorID),
		zap.String("label", req.Label),
		zap.Int("restored", len(req.Details.MovedRelationships)),
		zap.Int("affected", res.Total()),
	)
	return nil
}

func (e *Engine) planRestore(req RestoreRequest) (*graph.UnitOfWork, error) {
	self := graph.NodeRef{ID: req.MergedID, Label: req.Label}
	survivor := graph.NodeRef{ID: req.SurvivorID, Label: req.Label}

	uow := graph.NewUnitOfWork().Add(graph.CreateNode{
		Node:  self,
		Props: req.Details.MergedProps.Without(graph.PropID),
	})

	var untag []graph.Mutation
	seen := map[string]bool{}
	for i, rel := range req.Details.MovedRelationships {
		if rel.Type == "" || rel.FromID == "" || rel.ToID == "" {
			return nil, apperrors.NewInvalidArgument("details", fmt.Sprintf("moved_relationships[%d]", i), "type and endpoints are required")
		}
		from := graph.NodeRef{ID: rel.FromID, Label: rel.FromLabel}
		to := graph.NodeRef{ID: rel.ToID, Label: rel.ToLabel}
		uow.Add(graph.CreateRelationship{Type: rel.Type, From: from, To: to, Props: rel.Props})

		tagged := graph.DeleteTaggedRelationships{
			Type:         rel.Type,
			From:         substitute(from, self, survivor),
			To:           substitute(to, self, survivor),
			MergedFromID: req.MergedID,
		}
		if key := tagged.String(); !seen[key] {
			seen[key] = true
			untag = append(untag, tagged)
		}
	}
	uow.Add(untag...)
	return uow, nil
}
