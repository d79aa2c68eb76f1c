// Package ledger is the append-only record of graph merges. Each record carries enough
// detail to reverse its merge, and the only permitted update is the single transition
// to undone.
package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// MergeRecord is one merge. UndoneAt and UndoneBy are set together, exactly once.
type MergeRecord struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	MergedID   string         `gorm:"column:merged_id;not null;index:idx_merge_records_merged_id" json:"merged_id"`
	SurvivorID string         `gorm:"column:survivor_id;not null;index:idx_merge_records_survivor_id" json:"survivor_id"`
	Label      string         `gorm:"column:label;not null;index:idx_merge_records_label_merged_at,priority:1" json:"label"`
	MergedAt   time.Time      `gorm:"column:merged_at;not null;index:idx_merge_records_label_merged_at,priority:2,sort:desc" json:"merged_at"`
	MergedBy   string         `gorm:"column:merged_by;not null" json:"merged_by"`
	Confidence *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	Details    datatypes.JSON `gorm:"column:details;not null" json:"details"`
	UndoneAt   *time.Time     `gorm:"column:undone_at;index:idx_merge_records_active,where:undone_at IS NULL" json:"undone_at,omitempty"`
	UndoneBy   *string        `gorm:"column:undone_by" json:"undone_by,omitempty"`
}

func (MergeRecord) TableName() string { return "merge_records" }

// Undone reports whether the merge has been reversed.
func (r *MergeRecord) Undone() bool { return r.UndoneAt != nil }

// NewRecord is the caller-supplied part of a MergeRecord.
type NewRecord struct {
	MergedID   string
	SurvivorID string
	Label      string
	MergedBy   string
	Confidence *float64
	Details    datatypes.JSON
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	Label      string
	MergedID   string
	SurvivorID string
	Undone     *bool
	Limit      int
	Offset     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)
