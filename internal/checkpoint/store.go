package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrNoRun indicates no run matches the query.
	ErrNoRun = errors.NewStd("no migration run found")

	// ErrBatchDone indicates a start was attempted on a batch that already
	// completed. Done batches are never reprocessed.
	ErrBatchDone = errors.NewStd("batch already done")

	// ErrInvalidTransition indicates a batch or run state transition that the
	// state machine does not allow.
	ErrInvalidTransition = errors.NewStd("invalid state transition")
)

// Store is the durable checkpoint database. State transitions use atomic
// conditional updates so a concurrent or crashed process can never corrupt
// the state machine.
type Store struct {
	db *gorm.DB
	mu sync.RWMutex
}

// Open opens (or creates) the checkpoint database at the configured path.
func Open(settings *conf.CheckpointSettings) (*Store, error) {
	dir, fileName := filepath.Split(settings.Path)
	path := filepath.Join(conf.GetBasePath(dir), fileName)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, errors.New(err).
			Component("checkpoint").
			Category(errors.CategoryCheckpoint).
			Context("path", path).
			Build()
	}
	return NewStore(db)
}

// NewStore wraps an already-open GORM handle, used by tests.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Run{}, &Batch{}, &QuarantineRow{}, &DraftSnapshot{}); err != nil {
		return nil, errors.New(err).
			Component("checkpoint").
			Category(errors.CategoryCheckpoint).
			Build()
	}
	return &Store{db: db}, nil
}

// BeginRun creates a new run in the running state.
func (s *Store) BeginRun(name string, dryRun bool) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    RunStatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, s.wrap(err, "begin-run")
	}
	return run, nil
}

// ResumableRun returns the most recent run still in the running state, which
// means a previous process was interrupted mid-run. ErrNoRun when there is
// nothing to resume.
func (s *Store) ResumableRun() (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run Run
	err := s.db.Where("status = ?", RunStatusRunning).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, s.wrap(err, "resumable-run")
	}
	return &run, nil
}

// LatestRun returns the most recently started run regardless of status.
func (s *Store) LatestRun() (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run Run
	err := s.db.Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, s.wrap(err, "latest-run")
	}
	return &run, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run Run
	err := s.db.First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, s.wrap(err, "get-run")
	}
	return &run, nil
}

// SetRunPhase records the phase a running run is currently in and advances
// its phase trail: the previously running phase is marked done, the new one
// running. Re-entering an earlier phase, as a resume does, restarts the trail
// from that phase.
func (s *Store) SetRunPhase(runID, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run Run
	err := s.db.Where("id = ? AND status = ?", runID, RunStatusRunning).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: run %s is not running", ErrInvalidTransition, runID)
	}
	if err != nil {
		return s.wrap(err, "set-run-phase")
	}

	payload, merr := json.Marshal(advanceTrail(run.PhaseTrail(), phase))
	if merr != nil {
		return s.wrap(merr, "set-run-phase")
	}
	result := s.db.Model(&Run{}).
		Where("id = ? AND status = ?", runID, RunStatusRunning).
		Updates(map[string]any{"phase": phase, "phase_statuses": string(payload)})
	if result.Error != nil {
		return s.wrap(result.Error, "set-run-phase")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s is not running", ErrInvalidTransition, runID)
	}
	return nil
}

// advanceTrail moves the trail to the given phase. Finished phases stay done;
// a phase seen before truncates everything after it.
func advanceTrail(trail []PhaseStatus, phase string) []PhaseStatus {
	for i := range trail {
		if trail[i].Status == "running" {
			trail[i].Status = "done"
		}
	}
	for i := range trail {
		if trail[i].Phase == phase {
			trail[i].Status = "running"
			return trail[:i+1]
		}
	}
	return append(trail, PhaseStatus{Phase: phase, Status: "running"})
}

// CompleteRun transitions a running run to completed.
func (s *Store) CompleteRun(runID string) error {
	return s.finishRun(runID, RunStatusCompleted, "")
}

// FailRun transitions a running run to failed with the given message.
func (s *Store) FailRun(runID, message string) error {
	return s.finishRun(runID, RunStatusFailed, message)
}

// CancelRun transitions a running run to cancelled.
func (s *Store) CancelRun(runID string) error {
	return s.finishRun(runID, RunStatusCancelled, "")
}

func (s *Store) finishRun(runID string, status RunStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var run Run
	err := s.db.Where("id = ? AND status = ?", runID, RunStatusRunning).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: run %s is not running", ErrInvalidTransition, runID)
	}
	if err != nil {
		return s.wrap(err, "finish-run")
	}

	terminal := "done"
	switch status {
	case RunStatusFailed:
		terminal = "failed"
	case RunStatusCancelled:
		terminal = "cancelled"
	}
	trail := run.PhaseTrail()
	for i := range trail {
		if trail[i].Status == "running" {
			trail[i].Status = terminal
		}
	}
	payload, merr := json.Marshal(trail)
	if merr != nil {
		return s.wrap(merr, "finish-run")
	}

	now := time.Now()
	result := s.db.Model(&Run{}).
		Where("id = ? AND status = ?", runID, RunStatusRunning).
		Updates(map[string]any{
			"status":         status,
			"error_message":  message,
			"completed_at":   &now,
			"phase_statuses": string(payload),
		})
	if result.Error != nil {
		return s.wrap(result.Error, "finish-run")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s is not running", ErrInvalidTransition, runID)
	}
	return nil
}

// StartBatch claims a batch for processing. A new batch is created pending
// and immediately moved to in_progress; a previously failed batch is retried
// with its attempt counter bumped. ErrBatchDone when the batch already
// completed, which tells the caller to skip it.
func (s *Store) StartBatch(runID string, entityType entity.Type, batchNumber int, startCursor int64) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch Batch
	err := s.db.Where("run_id = ? AND entity_type = ? AND batch_number = ?",
		runID, string(entityType), batchNumber).First(&batch).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now()
		batch = Batch{
			RunID:       runID,
			EntityType:  string(entityType),
			BatchNumber: batchNumber,
			Status:      BatchStatusInProgress,
			StartCursor: startCursor,
			Attempts:    1,
			StartedAt:   &now,
		}
		if err := s.db.Create(&batch).Error; err != nil {
			return nil, s.wrap(err, "start-batch")
		}
		return &batch, nil
	case err != nil:
		return nil, s.wrap(err, "start-batch")
	}

	if batch.Status == BatchStatusDone {
		return &batch, ErrBatchDone
	}

	now := time.Now()
	result := s.db.Model(&Batch{}).
		Where("id = ? AND status IN ?", batch.ID, []BatchStatus{BatchStatusPending, BatchStatusFailed, BatchStatusInProgress}).
		Updates(map[string]any{
			"status":        BatchStatusInProgress,
			"start_cursor":  startCursor,
			"attempts":      gorm.Expr("attempts + 1"),
			"error_message": "",
			"started_at":    &now,
		})
	if result.Error != nil {
		return nil, s.wrap(result.Error, "start-batch")
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: batch %d is %s", ErrInvalidTransition, batch.ID, batch.Status)
	}
	return s.getBatch(batch.ID)
}

// BatchCounts summarizes one processed batch for checkpointing.
type BatchCounts struct {
	Records     int
	Quarantined int
	Skipped     int
}

// CompleteBatch transitions an in-progress batch to done, recording the end
// cursor the next batch reads after.
func (s *Store) CompleteBatch(batchID uint, endCursor int64, counts BatchCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result := s.db.Model(&Batch{}).
		Where("id = ? AND status = ?", batchID, BatchStatusInProgress).
		Updates(map[string]any{
			"status":            BatchStatusDone,
			"end_cursor":        endCursor,
			"record_count":      counts.Records,
			"quarantined_count": counts.Quarantined,
			"skipped_count":     counts.Skipped,
			"completed_at":      &now,
		})
	if result.Error != nil {
		return s.wrap(result.Error, "complete-batch")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: batch %d is not in progress", ErrInvalidTransition, batchID)
	}
	return nil
}

// FailBatch transitions an in-progress batch to failed. The batch stays in
// the checkpoint store and is retried on the next run or resume.
func (s *Store) FailBatch(batchID uint, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&Batch{}).
		Where("id = ? AND status = ?", batchID, BatchStatusInProgress).
		Updates(map[string]any{
			"status":        BatchStatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return s.wrap(result.Error, "fail-batch")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: batch %d is not in progress", ErrInvalidTransition, batchID)
	}
	return nil
}

// ResumePoint is where processing of one entity type picks up after a resume.
type ResumePoint struct {
	NextBatchNumber int
	Cursor          int64
}

// ResumePoint computes, from the done batches of a run, the next batch number
// and the cursor to continue reading after for the given entity type.
func (s *Store) ResumePoint(runID string, entityType entity.Type) (ResumePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last Batch
	err := s.db.Where("run_id = ? AND entity_type = ? AND status = ?",
		runID, string(entityType), BatchStatusDone).
		Order("batch_number DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ResumePoint{NextBatchNumber: 1, Cursor: 0}, nil
	}
	if err != nil {
		return ResumePoint{}, s.wrap(err, "resume-point")
	}
	return ResumePoint{NextBatchNumber: last.BatchNumber + 1, Cursor: last.EndCursor}, nil
}

// FailedBatches returns the failed batches of a run, oldest first.
func (s *Store) FailedBatches(runID string) ([]Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var batches []Batch
	if err := s.db.Where("run_id = ? AND status = ?", runID, BatchStatusFailed).
		Order("entity_type, batch_number").
		Find(&batches).Error; err != nil {
		return nil, s.wrap(err, "failed-batches")
	}
	return batches, nil
}

// RunBatches returns every batch of a run, ordered for reporting.
func (s *Store) RunBatches(runID string) ([]Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var batches []Batch
	if err := s.db.Where("run_id = ?", runID).
		Order("entity_type, batch_number").
		Find(&batches).Error; err != nil {
		return nil, s.wrap(err, "run-batches")
	}
	return batches, nil
}

// SaveQuarantine persists quarantined records for operator review.
func (s *Store) SaveQuarantine(rows []QuarantineRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Create(&rows).Error; err != nil {
		return s.wrap(err, "save-quarantine")
	}
	return nil
}

// QuarantineCount returns the number of quarantined records in a run.
func (s *Store) QuarantineCount(runID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	if err := s.db.Model(&QuarantineRow{}).
		Where("run_id = ?", runID).
		Count(&count).Error; err != nil {
		return 0, s.wrap(err, "quarantine-count")
	}
	return count, nil
}

// SaveDraftSnapshots persists patient drafts so run-scoped dedup state
// survives a process restart. Snapshots upsert on natural key within the run,
// so a retried batch replaces its earlier payloads instead of duplicating
// them.
func (s *Store) SaveDraftSnapshots(runID string, drafts []*entity.Draft) error {
	if len(drafts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]DraftSnapshot, 0, len(drafts))
	for _, draft := range drafts {
		payload, err := json.Marshal(draft)
		if err != nil {
			return s.wrap(err, "save-draft-snapshots")
		}
		rows = append(rows, DraftSnapshot{
			RunID:      runID,
			NaturalKey: draft.NaturalKey,
			Payload:    string(payload),
		})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "natural_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return s.wrap(err, "save-draft-snapshots")
	}
	return nil
}

// DraftSnapshots returns the drafts snapshotted for a run, oldest first.
func (s *Store) DraftSnapshots(runID string) ([]*entity.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []DraftSnapshot
	if err := s.db.Where("run_id = ?", runID).Order("id").Find(&rows).Error; err != nil {
		return nil, s.wrap(err, "draft-snapshots")
	}
	drafts := make([]*entity.Draft, 0, len(rows))
	for _, row := range rows {
		var draft entity.Draft
		if err := json.Unmarshal([]byte(row.Payload), &draft); err != nil {
			return nil, s.wrap(err, "draft-snapshots")
		}
		drafts = append(drafts, &draft)
	}
	return drafts, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) getBatch(id uint) (*Batch, error) {
	var batch Batch
	if err := s.db.First(&batch, id).Error; err != nil {
		return nil, s.wrap(err, "get-batch")
	}
	return &batch, nil
}

func (s *Store) wrap(err error, operation string) error {
	return errors.New(err).
		Component("checkpoint").
		Category(errors.CategoryCheckpoint).
		Context("operation", operation).
		Build()
}
