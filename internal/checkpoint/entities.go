// Package checkpoint persists migration progress in a local sqlite database
// so an interrupted run resumes where it stopped instead of starting over.
// The unit of progress is the batch: a batch that reached done is never
// reprocessed, and everything else is retried on resume.
package checkpoint

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of one migration run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// BatchStatus is the state of one batch within a run. Transitions are
// pending -> in_progress -> done or failed; failed batches go back to
// in_progress when retried.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusDone       BatchStatus = "done"
	BatchStatusFailed     BatchStatus = "failed"
)

// PhaseStatus is one entry in a run's phase trail: the phase name and how far
// it got. Statuses are "running", "done", "failed" or "cancelled".
type PhaseStatus struct {
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

// Run is one migration run. Phase holds the phase currently (or last)
// executing; PhaseStatuses is the JSON-encoded trail of every phase the run
// entered, in order.
type Run struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Name          string    `gorm:"size:128"`
	Status        RunStatus `gorm:"type:varchar(20);not null;index"`
	Phase         string    `gorm:"size:32"`
	PhaseStatuses string    `gorm:"column:phase_statuses;type:text"`
	DryRun        bool      `gorm:"column:dry_run"`
	ErrorMessage  string    `gorm:"type:text"`
	StartedAt     time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (Run) TableName() string { return "migration_runs" }

// Active reports whether the run can still make progress.
func (r *Run) Active() bool { return r.Status == RunStatusRunning }

// PhaseTrail decodes the per-phase status trail, nil when none was recorded.
func (r *Run) PhaseTrail() []PhaseStatus {
	if r.PhaseStatuses == "" {
		return nil
	}
	var trail []PhaseStatus
	if err := json.Unmarshal([]byte(r.PhaseStatuses), &trail); err != nil {
		return nil
	}
	return trail
}

// Batch is one checkpointed unit of work: a page of source records for one
// entity type. StartCursor is the source id the page started after and
// EndCursor the last source id it contained, so resume knows where to read.
type Batch struct {
	ID               uint        `gorm:"primaryKey;autoIncrement"`
	RunID            string      `gorm:"size:36;not null;uniqueIndex:idx_run_entity_batch,priority:1"`
	EntityType       string      `gorm:"size:32;not null;uniqueIndex:idx_run_entity_batch,priority:2"`
	BatchNumber      int         `gorm:"not null;uniqueIndex:idx_run_entity_batch,priority:3"`
	Status           BatchStatus `gorm:"type:varchar(20);not null;index"`
	StartCursor      int64       `gorm:"column:start_cursor"`
	EndCursor        int64       `gorm:"column:end_cursor"`
	RecordCount      int
	QuarantinedCount int
	SkippedCount     int
	Attempts         int
	ErrorMessage     string `gorm:"type:text"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (Batch) TableName() string { return "migration_batches" }

// QuarantineRow records one source record excluded from migration, with the
// validation reasons, so operators can review and fix the source data.
type QuarantineRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"size:36;not null;index"`
	EntityType  string `gorm:"size:32"`
	SourceTable string `gorm:"size:64"`
	SourceID    int64  `gorm:"column:source_id"`
	Reasons     string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (QuarantineRow) TableName() string { return "migration_quarantine" }

// DraftSnapshot preserves one patient draft across process restarts so the
// deduplicator can keep matching later batches against everything the run has
// already seen. Payload is the JSON-encoded draft as it looked before any
// merge touched it.
type DraftSnapshot struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"size:36;not null;uniqueIndex:idx_run_draft,priority:1"`
	NaturalKey string    `gorm:"column:natural_key;size:64;not null;uniqueIndex:idx_run_draft,priority:2"`
	Payload    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (DraftSnapshot) TableName() string { return "migration_draft_snapshots" }
