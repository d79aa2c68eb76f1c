package ledger

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "bizgraph/backend/pkg/errors"
	"bizgraph/backend/pkg/logger"
)

const storeName = "ledger"

// Repo is the ledger's storage contract.
type Repo interface {
	Insert(ctx context.Context, rec NewRecord) (string, error)
	Get(ctx context.Context, id string) (*MergeRecord, error)
	List(ctx context.Context, f Filter) ([]MergeRecord, error)
	// MarkUndone sets the undone fields of an active record. A missing record yields
	// NotFound and an already undone one yields AlreadyUndone; neither changes anything.
	MarkUndone(ctx context.Context, id, actor string) error
}

type repo struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewRepo(db *gorm.DB) Repo {
	return &repo{
		db:  db,
		log: logger.Named("ledger"),
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (r *repo) Insert(ctx context.Context, rec NewRecord) (string, error) {
	switch {
	case rec.MergedID == "":
		return "", apperrors.NewInvalidArgument("merged_id", "", "required")
	case rec.SurvivorID == "":
		return "", apperrors.NewInvalidArgument("survivor_id", "", "required")
	case rec.Label == "":
		return "", apperrors.NewInvalidArgument("label", "", "required")
	case rec.MergedBy == "":
		return "", apperrors.NewInvalidArgument("merged_by", "", "required")
	case len(rec.Details) == 0 || !json.Valid(rec.Details):
		return "", apperrors.NewInvalidArgument("details", string(rec.Details), "must be a JSON document")
	}

	row := MergeRecord{
		ID:         uuid.NewString(),
		MergedID:   rec.MergedID,
		SurvivorID: rec.SurvivorID,
		Label:      rec.Label,
		MergedAt:   r.now(),
		MergedBy:   rec.MergedBy,
		Confidence: rec.Confidence,
		Details:    rec.Details,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", classify("insert", true, err)
	}

	r.log.Info("Merge recorded",
		zap.String("ledger_id", row.ID),
		zap.String("merged_id", row.MergedID),
		zap.String("survivor_id", row.SurvivorID),
		zap.String("label", row.Label),
	)
	return row.ID, nil
}

func (r *repo) Get(ctx context.Context, id string) (*MergeRecord, error) {
	if id == "" {
		return nil, apperrors.NewInvalidArgument("ledger_id", id, "required")
	}
	var row MergeRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("merge_record", id, "")
	}
	if err != nil {
		return nil, classify("get", false, err)
	}
	return &row, nil
}

func (r *repo) List(ctx context.Context, f Filter) ([]MergeRecord, error) {
	if f.Limit < 0 {
		return nil, apperrors.NewInvalidArgument("limit", strconv.Itoa(f.Limit), "must not be negative")
	}
	if f.Offset < 0 {
		return nil, apperrors.NewInvalidArgument("offset", strconv.Itoa(f.Offset), "must not be negative")
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := r.db.WithContext(ctx).Model(&MergeRecord{})
	if f.Label != "" {
		q = q.Where("label = ?", f.Label)
	}
	if f.MergedID != "" {
		q = q.Where("merged_id = ?", f.MergedID)
	}
	if f.SurvivorID != "" {
		q = q.Where("survivor_id = ?", f.SurvivorID)
	}
	if f.Undone != nil {
		if *f.Undone {
			q = q.Where("undone_at IS NOT NULL")
		} else {
			q = q.Where("undone_at IS NULL")
		}
	}

	out := []MergeRecord{}
	if err := q.Order("merged_at DESC").Order("id").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, classify("list", false, err)
	}
	return out, nil
}

func (r *repo) MarkUndone(ctx context.Context, id, actor string) error {
	if id == "" {
		return apperrors.NewInvalidArgument("ledger_id", id, "required")
	}
	if actor == "" {
		return apperrors.NewInvalidArgument("undone_by", actor, "required")
	}

	res := r.db.WithContext(ctx).
		Model(&MergeRecord{}).
		Where("id = ? AND undone_at IS NULL", id).
		Updates(map[string]any{"undone_at": r.now(), "undone_by": actor})
	if res.Error != nil {
		return classify("mark_undone", true, res.Error)
	}
	if res.RowsAffected == 1 {
		r.log.Info("Merge marked undone", zap.String("ledger_id", id), zap.String("undone_by", actor))
		return nil
	}

	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	var by string
	if existing.UndoneBy != nil {
		by = *existing.UndoneBy
	}
	var at time.Time
	if existing.UndoneAt != nil {
		at = *existing.UndoneAt
	}
	return apperrors.NewAlreadyUndone(id, at, by)
}

// classify wraps database failures. Only connectivity and deadline failures are transient;
// a transient write the driver cannot prove unsent may or may not have been applied.
func classify(op string, write bool, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	if isTransient(err) {
		return apperrors.NewTransientStore(storeName, op, write && !pgconn.SafeToRetry(err), err)
	}
	return fmt.Errorf("ledger %s failed: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
