package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/clinsync/clinsync-go/internal/checkpoint"
	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/dedup"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/enrich"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/legacy"
	"github.com/clinsync/clinsync-go/internal/loader"
	"github.com/clinsync/clinsync-go/internal/logging"
	"github.com/clinsync/clinsync-go/internal/observability"
	"github.com/clinsync/clinsync-go/internal/targetstore"
	"github.com/clinsync/clinsync-go/internal/transform"
	"github.com/clinsync/clinsync-go/internal/validate"
)

// sourceTables maps each entity type to the legacy table it is extracted
// from. Profiles and practice members both derive from auth_user.
var sourceTables = map[entity.Type]legacy.Table{
	entity.TypePractice:       legacy.TableOffice,
	entity.TypeProfile:        legacy.TableUser,
	entity.TypePracticeMember: legacy.TableUser,
	entity.TypePatient:        legacy.TablePatient,
	entity.TypeCase:           legacy.TableInstruction,
	entity.TypeOrder:          legacy.TableOrder,
}

// Orchestrator owns one migration run end to end.
type Orchestrator struct {
	settings   *conf.Settings
	logger     *slog.Logger
	reader     *legacy.Reader
	target     *targetstore.Store
	checkpoint *checkpoint.Store

	metrics  *observability.Metrics
	enricher *enrich.Enricher

	validator   *validate.Validator
	transformer *transform.Transformer
	deduper     *dedup.Deduper
	loader      *loader.Loader
	retry       loader.RetryPolicy

	run    *checkpoint.Run
	report *Report

	// Run-scoped dedup state. The pool holds every patient draft seen so far
	// so later batches can merge against earlier ones; rewrites accumulate the
	// absorbed-key mapping applied to dependent drafts. The pool is rebuilt
	// from checkpoint snapshots on resume, so a restart keeps matching against
	// patients processed by the previous process.
	patientPool  []*entity.Draft
	poolKeys     map[string]bool
	rewrites     map[string]string
	seenWarnings map[string]bool
}

// New wires an orchestrator over already-open stores.
func New(settings *conf.Settings, reader *legacy.Reader, target *targetstore.Store, cp *checkpoint.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.ForService("orchestrator")
	}
	return &Orchestrator{
		settings:     settings,
		logger:       logger,
		reader:       reader,
		target:       target,
		checkpoint:   cp,
		validator:    validate.New(&settings.Migration, logger),
		deduper:      dedup.New(&settings.Dedup, logger),
		loader:       loader.New(target, &settings.Migration, logger),
		retry:        loader.NewRetryPolicy(settings.Migration.Retry),
		poolKeys:     make(map[string]bool),
		rewrites:     make(map[string]string),
		seenWarnings: make(map[string]bool),
	}
}

// SetMetrics attaches optional metric collectors.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// SetEnricher attaches the optional enrichment phase.
func (o *Orchestrator) SetEnricher(e *enrich.Enricher) { o.enricher = e }

// Run executes the migration: resume an interrupted run if one exists,
// otherwise start fresh. The report is returned even when the run fails.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	startedAt := time.Now()

	if err := o.beginOrResume(); err != nil {
		return nil, err
	}
	o.report = newReport(o.run.ID, o.run.Name, o.run.DryRun)

	err := o.execute(ctx)
	switch {
	case err == nil:
		o.report.finalize(OutcomeCompleted, startedAt)
		if ferr := o.checkpoint.CompleteRun(o.run.ID); ferr != nil {
			o.logger.Error("failed to mark run completed", "error", ferr)
		}
	case errors.Is(err, context.Canceled):
		o.report.finalize(OutcomeCancelled, startedAt)
		if ferr := o.checkpoint.CancelRun(o.run.ID); ferr != nil {
			o.logger.Error("failed to mark run cancelled", "error", ferr)
		}
	default:
		o.report.Errors = append(o.report.Errors, err.Error())
		o.report.finalize(OutcomeFailed, startedAt)
		if ferr := o.checkpoint.FailRun(o.run.ID, err.Error()); ferr != nil {
			o.logger.Error("failed to mark run failed", "error", ferr)
		}
	}

	o.logger.Info("migration run finished",
		"run_id", o.run.ID, "outcome", string(o.report.Outcome), "duration", o.report.Duration)
	return o.report, err
}

func (o *Orchestrator) beginOrResume() error {
	existing, err := o.checkpoint.ResumableRun()
	switch {
	case err == nil:
		o.logger.Info("resuming interrupted run", "run_id", existing.ID, "phase", existing.Phase)
		o.run = existing
		return nil
	case errors.Is(err, checkpoint.ErrNoRun):
		run, err := o.checkpoint.BeginRun(o.settings.Main.Name, o.settings.Migration.DryRun)
		if err != nil {
			return err
		}
		o.logger.Info("starting new run", "run_id", run.ID, "dry_run", run.DryRun)
		o.run = run
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) execute(ctx context.Context) error {
	if err := o.phaseInit(ctx); err != nil {
		return err
	}
	if err := o.phasePrepare(ctx); err != nil {
		return err
	}
	if err := o.phaseMigrate(ctx); err != nil {
		return err
	}
	if err := o.phaseEnrich(ctx); err != nil {
		return err
	}
	o.enterPhase(PhaseReport)
	return nil
}

// enterPhase records the phase on the run and the current-phase gauge.
func (o *Orchestrator) enterPhase(phase Phase) {
	o.logger.Info("entering phase", "phase", string(phase))
	if err := o.checkpoint.SetRunPhase(o.run.ID, string(phase)); err != nil {
		o.logger.Warn("failed to record run phase", "phase", string(phase), "error", err)
	}
	if o.metrics != nil {
		o.metrics.Migration.SetCurrentPhase(phase.Ordinal())
	}
}

// phaseInit verifies the source schema before anything is read.
func (o *Orchestrator) phaseInit(ctx context.Context) error {
	o.enterPhase(PhaseInit)
	start := time.Now()
	defer o.observePhase(PhaseInit, start)

	return o.retry.Do(ctx, o.logger, "verify-schema", o.reader.VerifySchema)
}

// phasePrepare loads the reference tables into the join index the
// transformer resolves against.
func (o *Orchestrator) phasePrepare(ctx context.Context) error {
	o.enterPhase(PhasePrepare)
	start := time.Now()
	defer o.observePhase(PhasePrepare, start)

	index := transform.NewJoinIndex()
	if !o.skipPhase("prepare") {
		for _, table := range []legacy.Table{
			legacy.TableUser,
			legacy.TableOffice,
			legacy.TablePatient,
			legacy.TableInstruction,
			legacy.TableTemplate,
		} {
			if err := o.readAll(ctx, table, func(record legacy.Record) {
				index.Add(record)
			}); err != nil {
				return err
			}
		}
	}
	o.transformer = transform.New(index)
	return nil
}

// phaseMigrate runs the per-entity pipeline in dependency order.
func (o *Orchestrator) phaseMigrate(ctx context.Context) error {
	if o.skipPhase("extract") || o.skipPhase("transform") {
		o.logger.Warn("extract or transform skipped, no entities will be migrated")
		return nil
	}
	o.enterPhase(PhaseExtract)
	if err := o.restoreDedupState(ctx); err != nil {
		return err
	}

	for _, entityType := range entity.LoadOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.skipEntity(entityType) {
			o.logger.Info("skipping entity type by configuration", "entity_type", string(entityType))
			o.loader.MarkTypeLoaded(entityType)
			continue
		}

		err := o.processEntityType(ctx, entityType)
		if err == nil {
			o.loader.MarkTypeLoaded(entityType)
			continue
		}
		if errors.Is(err, context.Canceled) || errors.IsFatal(err) || !o.settings.Migration.ContinueOnError {
			return err
		}

		// Non-fatal failure with continue-on-error: the entity type is marked
		// failed in the report, dependents load with NULL links.
		er := o.report.entityReport(entityType)
		er.Failed = true
		er.FailureCause = err.Error()
		o.report.Errors = append(o.report.Errors, fmt.Sprintf("%s: %v", entityType, err))
		o.logger.Error("entity type failed, continuing", "entity_type", string(entityType), "error", err)
		o.loader.MarkTypeLoaded(entityType)
	}
	return nil
}

// processEntityType streams the source table batch by batch from the
// checkpointed resume point.
func (o *Orchestrator) processEntityType(ctx context.Context, entityType entity.Type) error {
	table := sourceTables[entityType]
	point, err := o.checkpoint.ResumePoint(o.run.ID, entityType)
	if err != nil {
		return err
	}
	cursor := point.Cursor
	batchNumber := point.NextBatchNumber
	pageSize := o.settings.Migration.BatchSize

	o.logger.Info("processing entity type",
		"entity_type", string(entityType), "from_batch", batchNumber, "cursor", cursor)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var records []legacy.Record
		var next int64
		err := o.retry.Do(ctx, o.logger, fmt.Sprintf("read-%s", table), func() error {
			var rerr error
			records, next, rerr = o.readPage(ctx, table, cursor, pageSize)
			return rerr
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		batch, err := o.checkpoint.StartBatch(o.run.ID, entityType, batchNumber, cursor)
		if errors.Is(err, checkpoint.ErrBatchDone) {
			// Already migrated by a previous process. Advance past it.
			cursor = batch.EndCursor
			batchNumber++
			continue
		}
		if err != nil {
			return err
		}
		if batch.Attempts > 1 && o.metrics != nil {
			o.metrics.Migration.RecordBatchRetry(string(entityType))
		}

		batchStart := time.Now()
		counts, err := o.processBatch(ctx, entityType, records)
		if err != nil {
			if ferr := o.checkpoint.FailBatch(batch.ID, err.Error()); ferr != nil {
				o.logger.Error("failed to checkpoint batch failure", "error", ferr)
			}
			if o.metrics != nil {
				o.metrics.Migration.RecordBatch(string(entityType), "failed", time.Since(batchStart))
			}
			return err
		}

		endCursor := records[len(records)-1].SourceID()
		if err := o.checkpoint.CompleteBatch(batch.ID, endCursor, counts); err != nil {
			return err
		}
		o.report.entityReport(entityType).Batches++
		if o.metrics != nil {
			o.metrics.Migration.RecordBatch(string(entityType), "done", time.Since(batchStart))
		}

		cursor = next
		batchNumber++
		if len(records) < pageSize {
			return nil
		}
	}
}

// processBatch runs one page of records through validate, transform, dedup
// and load.
func (o *Orchestrator) processBatch(ctx context.Context, entityType entity.Type, records []legacy.Record) (checkpoint.BatchCounts, error) {
	er := o.report.entityReport(entityType)
	er.Processed += len(records)
	if o.metrics != nil {
		o.metrics.Migration.RecordProcessed(string(entityType), len(records))
	}

	counts := checkpoint.BatchCounts{Records: len(records)}

	passed, err := o.validateBatch(entityType, records, er, &counts)
	if err != nil {
		return counts, err
	}

	drafts := o.transformBatch(entityType, passed, er, &counts)

	toLoad := drafts
	if entityType == entity.TypePatient && !o.skipPhase("dedup") {
		// Snapshot before dedup touches the drafts, so a resume rebuilds the
		// pool from unmerged originals.
		if serr := o.checkpoint.SaveDraftSnapshots(o.run.ID, drafts); serr != nil {
			return counts, serr
		}
		toLoad, err = o.dedupBatch(ctx, drafts, er)
		if err != nil {
			return counts, err
		}
	}
	if len(o.rewrites) > 0 {
		for _, draft := range toLoad {
			dedup.RewriteDependencies(draft, o.rewrites)
		}
	}

	if o.skipPhase("load") {
		return counts, nil
	}
	result, err := o.loader.Load(ctx, entityType, toLoad)
	if err != nil {
		return counts, errors.New(fmt.Errorf("batch aborted: %w", err)).
			Component("orchestrator").
			Category(errors.CategoryBatchAborted).
			Context("entity_type", string(entityType)).
			Build()
	}

	er.Loaded += result.Loaded
	er.DanglingRefs += len(result.SkippedRefs)
	er.FailedRecords += len(result.Failed)
	if o.metrics != nil {
		o.metrics.Migration.RecordLoaded(string(entityType), result.Loaded)
		o.metrics.Migration.RecordWriteFailed(string(entityType), len(result.Failed))
		for range result.SkippedRefs {
			o.metrics.Migration.RecordDanglingRef(string(entityType))
		}
	}
	for _, ref := range result.SkippedRefs {
		er.Skips = append(er.Skips, RecordNote{
			Key:    ref.DraftKey,
			Reason: fmt.Sprintf("reference %s not found, loaded with NULL link", ref.RefKey),
		})
	}
	for _, failure := range result.Failed {
		er.Failures = append(er.Failures, RecordNote{Key: failure.DraftKey, Reason: failure.Reason})
	}
	return counts, nil
}

// validateBatch quarantines invalid records and persists them for review.
// Exceeding the quarantine-rate threshold aborts the batch.
func (o *Orchestrator) validateBatch(entityType entity.Type, records []legacy.Record, er *EntityReport, counts *checkpoint.BatchCounts) ([]legacy.Record, error) {
	if o.skipPhase("validate") {
		return records, nil
	}

	passed, quarantined, err := o.validator.ValidateBatch(records)
	counts.Quarantined = len(quarantined)
	er.Quarantined += len(quarantined)
	if o.metrics != nil {
		o.metrics.Migration.RecordQuarantined(string(entityType), len(quarantined))
	}

	rows := make([]checkpoint.QuarantineRow, 0, len(quarantined))
	for _, q := range quarantined {
		reason := q.Reason()
		er.Quarantines = append(er.Quarantines, RecordNote{
			Key:    fmt.Sprintf("%s:%d", q.Record.SourceTable(), q.Record.SourceID()),
			Reason: reason,
		})
		rows = append(rows, checkpoint.QuarantineRow{
			RunID:       o.run.ID,
			EntityType:  string(entityType),
			SourceTable: string(q.Record.SourceTable()),
			SourceID:    q.Record.SourceID(),
			Reasons:     reason,
		})
	}
	if serr := o.checkpoint.SaveQuarantine(rows); serr != nil {
		return nil, serr
	}

	if err != nil {
		return nil, errors.New(fmt.Errorf("batch aborted: %w", err)).
			Component("orchestrator").
			Category(errors.CategoryBatchAborted).
			Context("entity_type", string(entityType)).
			Build()
	}
	return passed, nil
}

// transformBatch maps records to drafts with bounded parallelism. Skips are
// recorded and dropped; they never fail the batch.
func (o *Orchestrator) transformBatch(entityType entity.Type, records []legacy.Record, er *EntityReport, counts *checkpoint.BatchCounts) []*entity.Draft {
	results := make([]*entity.Draft, len(records))
	skipErrs := make([]error, len(records))

	workers := o.settings.Migration.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			draft, err := o.transformer.Transform(entityType, records[i])
			if err != nil {
				skipErrs[i] = err
				return
			}
			results[i] = draft
		}(i)
	}
	wg.Wait()

	drafts := make([]*entity.Draft, 0, len(records))
	for i, draft := range results {
		if draft != nil {
			drafts = append(drafts, draft)
			continue
		}
		if transform.IsFiltered(skipErrs[i]) {
			er.Filtered++
			continue
		}
		counts.Skipped++
		er.Skipped++
		er.Skips = append(er.Skips, RecordNote{
			Key:    fmt.Sprintf("%s:%d", records[i].SourceTable(), records[i].SourceID()),
			Reason: skipErrs[i].Error(),
		})
	}
	if o.metrics != nil {
		o.metrics.Migration.RecordSkipped(string(entityType), counts.Skipped)
	}
	return drafts
}

// dedupBatch merges the batch's patient drafts against every patient seen so
// far in the run and returns the canonical drafts that need (re)loading. Rows
// absorbed by the merge that earlier batches already wrote are deleted from
// the target.
func (o *Orchestrator) dedupBatch(ctx context.Context, drafts []*entity.Draft, er *EntityReport) ([]*entity.Draft, error) {
	for _, draft := range drafts {
		if o.poolKeys[draft.NaturalKey] {
			// Already pooled from a snapshot of this batch's previous attempt.
			continue
		}
		o.poolKeys[draft.NaturalKey] = true
		o.patientPool = append(o.patientPool, draft)
	}
	result := o.deduper.Run(o.patientPool)

	var absorbed []string
	for key, canonical := range result.Rewrites {
		if _, seen := o.rewrites[key]; !seen {
			absorbed = append(absorbed, key)
		}
		o.rewrites[key] = canonical
	}
	er.Merged = len(o.rewrites)

	for _, match := range result.Matches {
		pair := match.LeftKey + "|" + match.RightKey
		if !o.seenWarnings[pair] {
			o.seenWarnings[pair] = true
			if o.metrics != nil {
				o.metrics.Migration.RecordMerge(match.Tier)
			}
		}
	}
	for _, warning := range result.Warnings {
		pair := "warn:" + warning.LeftKey + "|" + warning.RightKey
		if o.seenWarnings[pair] {
			continue
		}
		o.seenWarnings[pair] = true
		o.report.MergeWarnings = append(o.report.MergeWarnings, MergeWarning{
			LeftKey:    warning.LeftKey,
			RightKey:   warning.RightKey,
			Confidence: warning.Confidence,
			Reason:     warning.Reason,
		})
	}

	// Load the canonical draft of every cluster this batch touched. Upserts
	// are idempotent, so refreshing an already-loaded canonical is safe.
	loadKeys := make(map[string]bool, len(drafts))
	for _, draft := range drafts {
		key := draft.NaturalKey
		if canonical, ok := o.rewrites[key]; ok {
			key = canonical
		}
		loadKeys[key] = true
	}
	toLoad := make([]*entity.Draft, 0, len(loadKeys))
	for _, draft := range result.Canonical {
		if loadKeys[draft.NaturalKey] {
			toLoad = append(toLoad, draft)
		}
	}

	// An absorbed key may already have a row from an earlier batch. Delete it
	// so the target converges on the canonical identity.
	if err := o.loader.Discard(ctx, entity.TypePatient, absorbed); err != nil {
		return nil, err
	}
	return toLoad, nil
}

// restoreDedupState rebuilds the run-scoped dedup pool from the snapshots a
// previous process left behind, re-deriving the rewrites dependent drafts
// need. Rows the previous process wrote for since-absorbed keys are deleted.
// A fresh run has no snapshots and this is a no-op.
func (o *Orchestrator) restoreDedupState(ctx context.Context) error {
	if o.skipPhase("dedup") {
		return nil
	}
	drafts, err := o.checkpoint.DraftSnapshots(o.run.ID)
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		return nil
	}

	o.patientPool = drafts
	for _, draft := range drafts {
		o.poolKeys[draft.NaturalKey] = true
	}
	result := o.deduper.Run(o.patientPool)

	absorbed := make([]string, 0, len(result.Rewrites))
	canonicalKeys := make(map[string]bool, len(result.Rewrites))
	for key, canonical := range result.Rewrites {
		absorbed = append(absorbed, key)
		canonicalKeys[canonical] = true
		o.rewrites[key] = canonical
	}
	o.logger.Info("restored dedup state from snapshots",
		"patients", len(drafts), "rewrites", len(o.rewrites))

	// Rows the previous process wrote before their duplicates arrived carry no
	// merge audit yet. Refresh the canonical rows and drop the absorbed ones.
	if len(absorbed) > 0 && !o.settings.Migration.DryRun {
		restamp := make([]*entity.Draft, 0, len(canonicalKeys))
		for _, draft := range result.Canonical {
			if canonicalKeys[draft.NaturalKey] {
				restamp = append(restamp, draft)
			}
		}
		err := o.retry.Do(ctx, o.logger, "restamp-canonical", func() error {
			writeCtx, cancel := context.WithTimeout(ctx, o.settings.Migration.StoreTimeout)
			defer cancel()
			return o.target.UpsertBatch(writeCtx, entity.TypePatient, restamp)
		})
		if err != nil {
			return err
		}
	}
	return o.loader.Discard(ctx, entity.TypePatient, absorbed)
}

// phaseEnrich indexes free-text communications and template content into the
// knowledge base. Failures degrade the run to completed-with-warnings.
func (o *Orchestrator) phaseEnrich(ctx context.Context) error {
	if o.enricher == nil || o.skipPhase("enrich") || o.settings.Migration.DryRun {
		return nil
	}
	o.enterPhase(PhaseEnrich)
	start := time.Now()
	defer o.observePhase(PhaseEnrich, start)

	// Enrichment is additive: the migrated rows are already in the target, so
	// a source that cannot be read anymore degrades the run to warnings
	// instead of failing it. Cancellation still aborts.
	var readFailures []RecordNote
	var comms []legacy.Comm
	if err := o.readAll(ctx, legacy.TableComm, func(record legacy.Record) {
		if comm, ok := record.(legacy.Comm); ok {
			comms = append(comms, comm)
		}
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		o.logger.Error("enrichment source read failed, skipping table", "table", string(legacy.TableComm), "error", err)
		readFailures = append(readFailures, RecordNote{Key: string(legacy.TableComm), Reason: err.Error()})
		comms = nil
	}
	var templates []legacy.Template
	if err := o.readAll(ctx, legacy.TableTemplate, func(record legacy.Record) {
		if template, ok := record.(legacy.Template); ok {
			templates = append(templates, template)
		}
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		o.logger.Error("enrichment source read failed, skipping table", "table", string(legacy.TableTemplate), "error", err)
		readFailures = append(readFailures, RecordNote{Key: string(legacy.TableTemplate), Reason: err.Error()})
		templates = nil
	}

	summary := o.enricher.IndexComms(ctx, comms)
	templateSummary := o.enricher.IndexTemplates(ctx, templates)
	summary.Indexed += templateSummary.Indexed
	summary.Warnings = append(summary.Warnings, templateSummary.Warnings...)

	enrichReport := &EnrichReport{Indexed: summary.Indexed}
	enrichReport.Warnings = append(enrichReport.Warnings, readFailures...)
	for _, warning := range summary.Warnings {
		enrichReport.Warnings = append(enrichReport.Warnings, RecordNote{
			Key:    fmt.Sprintf("%s:%d", warning.SourceTable, warning.SourceID),
			Reason: warning.Reason,
		})
	}
	o.report.Enrichment = enrichReport
	if o.metrics != nil {
		o.metrics.Migration.RecordEnriched(summary.Indexed)
		o.metrics.Migration.RecordEnrichWarnings(len(enrichReport.Warnings))
	}
	return nil
}

func (o *Orchestrator) observePhase(phase Phase, start time.Time) {
	if o.metrics != nil {
		o.metrics.Migration.RecordPhase(string(phase), time.Since(start))
	}
}

// readAll walks a table to exhaustion with retry per page.
func (o *Orchestrator) readAll(ctx context.Context, table legacy.Table, visit func(legacy.Record)) error {
	var cursor int64
	pageSize := o.settings.Migration.BatchSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var records []legacy.Record
		var next int64
		err := o.retry.Do(ctx, o.logger, fmt.Sprintf("read-%s", table), func() error {
			var rerr error
			records, next, rerr = o.readPage(ctx, table, cursor, pageSize)
			return rerr
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		for _, record := range records {
			visit(record)
		}
		cursor = next
		if len(records) < pageSize {
			return nil
		}
	}
}

// readPage wraps one reader call in the configured store deadline.
func (o *Orchestrator) readPage(ctx context.Context, table legacy.Table, cursor int64, pageSize int) ([]legacy.Record, int64, error) {
	readCtx, cancel := context.WithTimeout(ctx, o.settings.Migration.StoreTimeout)
	defer cancel()
	return o.reader.ReadPage(readCtx, table, cursor, pageSize)
}

func (o *Orchestrator) skipPhase(name string) bool {
	return slices.Contains(o.settings.Migration.SkipPhases, name)
}

func (o *Orchestrator) skipEntity(entityType entity.Type) bool {
	return slices.Contains(o.settings.Migration.SkipEntities, string(entityType))
}
