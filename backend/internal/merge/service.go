package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bizgraph/backend/internal/ledger"
	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

// Service records every merge in the ledger and reverses merges from their ledger record.
type Service struct {
	engine *Engine
	ledger ledger.Repo
	logger *zap.Logger
}

func NewService(engine *Engine, repo ledger.Repo) *Service {
	return &Service{
		engine: engine,
		ledger: repo,
		logger: logger.Named("merge_service"),
	}
}

// Merge merges the nodes and appends a ledger record, returning its id. A failed ledger
// insert after a committed merge is an InconsistentState; the details are logged so the
// record can be written by hand.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (string, error) {
	if strings.TrimSpace(req.MergedBy) == "" {
		return "", apperrors.NewInvalidArgument("merged_by", req.MergedBy, "required")
	}
	if c := req.Confidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return "", apperrors.NewInvalidArgument("confidence", strconv.FormatFloat(*c, 'f', -1, 64), "must be within [0, 1]")
	}

	details, err := s.engine.MergeNodes(ctx, req)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return "", s.mergeInconsistent(req, nil, fmt.Errorf("failed to encode merge details: %w", err))
	}

	id, err := s.ledger.Insert(ctx, ledger.NewRecord{
		MergedID:   req.MergedID,
		SurvivorID: req.SurvivorID,
		Label:      req.Label,
		MergedBy:   req.MergedBy,
		Confidence: req.Confidence,
		Details:    datatypes.JSON(payload),
	})
	if err != nil {
		return "", s.mergeInconsistent(req, payload, err)
	}
	return id, nil
}

func (s *Service) mergeInconsistent(req MergeRequest, payload []byte, err error) error {
	s.logger.Error("Graph merged but ledger record not written",
		zap.Bool("alert", true),
		zap.String("merged_id", req.MergedID),
		zap.String("survivor_id", req.SurvivorID),
		zap.String("label", req.Label),
		zap.String("merged_by", req.MergedBy),
		zap.ByteString("details", payload),
		zap.Error(err),
	)
	return apperrors.NewInconsistentState("", "merge",
		fmt.Sprintf("node %s merged into %s without a ledger record", req.MergedID, req.SurvivorID), err)
}

// Unmerge reverses the merge recorded under ledgerID and marks the record undone. A record
// can be undone once; later calls fail with AlreadyUndone and change nothing. If the graph
// is restored but the record cannot be marked, the result is an InconsistentState that must
// be reconciled by hand; retrying would restore twice.
func (s *Service) Unmerge(ctx context.Context, ledgerID, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return apperrors.NewInvalidArgument("undone_by", actor, "required")
	}

	rec, err := s.ledger.Get(ctx, ledgerID)
	if err != nil {
		return err
	}
	if rec.Undone() {
		var by string
		if rec.UndoneBy != nil {
			by = *rec.UndoneBy
		}
		return apperrors.NewAlreadyUndone(rec.ID, *rec.UndoneAt, by)
	}

	var details Details
	if err := json.Unmarshal(rec.Details, &details); err != nil {
		return apperrors.NewInconsistentState(rec.ID, "unmerge", "ledger details are unreadable", err)
	}

	if err := s.engine.Restore(ctx, RestoreRequest{
		MergedID:   rec.MergedID,
		SurvivorID: rec.SurvivorID,
		Label:      rec.Label,
		Details:    details,
	}); err != nil {
		return err
	}

	if err := s.ledger.MarkUndone(ctx, rec.ID, actor); err != nil {
		s.logger.Error("Graph restored but ledger record still active",
			zap.Bool("alert", true),
			zap.String("ledger_id", rec.ID),
			zap.String("merged_id", rec.MergedID),
			zap.String("survivor_id", rec.SurvivorID),
			zap.String("undone_by", actor),
			zap.Error(err),
		)
		return apperrors.NewInconsistentState(rec.ID, "unmerge", "graph restored but ledger record not marked undone", err)
	}
	return nil
}

// History lists ledger records, newest first.
func (s *Service) History(ctx context.Context, f ledger.Filter) ([]ledger.MergeRecord, error) {
	return s.ledger.List(ctx, f)
}

// Record returns one ledger record.
func (s *Service) Record(ctx context.Context, ledgerID string) (*ledger.MergeRecord, error) {
	return s.ledger.Get(ctx, ledgerID)
}
