package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/checkpoint"
	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/enrich"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/legacy"
	"github.com/clinsync/clinsync-go/internal/targetstore"
)

func int64Ptr(v int64) *int64 { return &v }

type harness struct {
	settings *conf.Settings
	source   *gorm.DB
	target   *targetstore.Store
	targetDB *gorm.DB
	cp       *checkpoint.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	source, err := gorm.Open(sqlite.Open(filepath.Join(dir, "legacy.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, source.AutoMigrate(
		&legacy.User{}, &legacy.Office{}, &legacy.Patient{},
		&legacy.Instruction{}, &legacy.Order{}, &legacy.Template{}, &legacy.Comm{},
	))

	targetDB, err := gorm.Open(sqlite.Open(filepath.Join(dir, "target.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	target, err := targetstore.NewStore(targetDB, nil)
	require.NoError(t, err)

	cpDB, err := gorm.Open(sqlite.Open(filepath.Join(dir, "checkpoint.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	cp, err := checkpoint.NewStore(cpDB)
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Main.Name = "test"
	settings.Migration = conf.MigrationSettings{
		BatchSize:         2,
		Workers:           2,
		MaxQuarantineRate: 0.5,
		StoreTimeout:      5 * time.Second,
		Retry:             conf.RetrySettings{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2},
	}
	settings.Dedup = conf.DedupSettings{
		Enabled:         true,
		FuzzyConfidence: 0.8,
		AmbiguousLow:    0.5,
		MaxEditDistance: 1,
	}

	return &harness{settings: settings, source: source, target: target, targetDB: targetDB, cp: cp}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return New(h.settings, legacy.NewReader(h.source, nil), h.target, h.cp, nil)
}

// seedClinic populates a small but complete legacy dataset: one office, one
// staff user, three patient users (two of them duplicates), cases and orders.
func (h *harness) seedClinic(t *testing.T) {
	t.Helper()
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, h.source.Create(&legacy.Office{ID: 1, Name: "Downtown Clinic", Phone: "555-0100"}).Error)
	require.NoError(t, h.source.Create([]*legacy.User{
		{ID: 10, Username: "drsmith", FirstName: "Ann", LastName: "Smith", IsStaff: true, IsActive: true, OfficeID: int64Ptr(1)},
		{ID: 20, Username: "jdoe1", FirstName: "Jon", LastName: "Doe"},
		{ID: 21, Username: "jdoe2", FirstName: "John", LastName: "Doe"},
		{ID: 22, Username: "mroe", FirstName: "Mary", LastName: "Roe"},
	}).Error)
	require.NoError(t, h.source.Create([]*legacy.Patient{
		{ID: 100, UserID: int64Ptr(20), OfficeID: int64Ptr(1), DateOfBirth: &dob, Status: 1},
		{ID: 101, UserID: int64Ptr(21), OfficeID: int64Ptr(1), DateOfBirth: &dob, Status: 1},
		{ID: 102, UserID: int64Ptr(22), OfficeID: int64Ptr(1), Status: 2},
	}).Error)
	require.NoError(t, h.source.Create([]*legacy.Instruction{
		{ID: 200, PatientID: int64Ptr(101), OfficeID: int64Ptr(1), Title: "Aligner fitting", Status: 1},
		{ID: 201, PatientID: int64Ptr(102), OfficeID: int64Ptr(1), Title: "Retainer check", Status: 3},
	}).Error)
	require.NoError(t, h.source.Create([]*legacy.Order{
		{ID: 300, InstructionID: int64Ptr(200), AssignedToID: int64Ptr(10), Status: 1},
	}).Error)
}

func TestFullMigrationRun(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, OutcomeCompleted, report.Outcome)

	counts, err := h.target.CountByType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[entity.TypePractice])
	assert.Equal(t, int64(1), counts[entity.TypeProfile], "only staff become profiles")
	assert.Equal(t, int64(1), counts[entity.TypePracticeMember])
	assert.Equal(t, int64(2), counts[entity.TypePatient], "Jon and John Doe merged")
	assert.Equal(t, int64(2), counts[entity.TypeCase])
	assert.Equal(t, int64(1), counts[entity.TypeOrder])

	patients := report.Entities["patient"]
	require.NotNil(t, patients)
	assert.Equal(t, 3, patients.Processed)
	assert.Equal(t, 1, patients.Merged)

	run, err := h.cp.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunStatusCompleted, run.Status)

	trail := run.PhaseTrail()
	require.NotEmpty(t, trail)
	assert.Equal(t, "report", trail[len(trail)-1].Phase)
	for _, ps := range trail {
		assert.Equal(t, "done", ps.Status, "phase %s", ps.Phase)
	}
}

func TestDuplicatePatientsMergeAcrossBatches(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	// Batch size 1 forces the two duplicates into separate batches.
	h.settings.Migration.BatchSize = 1

	_, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	var merged targetstore.Patient
	require.NoError(t, h.targetDB.First(&merged, "natural_key = ?", "patient:100").Error)
	assert.Equal(t, 0.8, merged.DedupConfidence)
	assert.Equal(t, "patient:101", merged.DedupMergedFrom)

	var gone int64
	require.NoError(t, h.targetDB.Model(&targetstore.Patient{}).Where("natural_key = ?", "patient:101").Count(&gone).Error)
	assert.Zero(t, gone, "absorbed draft never becomes its own row")

	// The case that pointed at the absorbed patient follows the canonical key.
	var caseRow targetstore.Case
	require.NoError(t, h.targetDB.First(&caseRow, "natural_key = ?", "case:200").Error)
	require.NotNil(t, caseRow.PatientKey)
	assert.Equal(t, "patient:100", *caseRow.PatientKey)
}

func TestRerunConvergesWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	ctx := context.Background()

	_, err := h.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	first, err := h.target.CountByType(ctx)
	require.NoError(t, err)

	_, err = h.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	second, err := h.target.CountByType(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestQuarantineDoesNotBlockSiblings(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	// One more patient with an out-of-range status: quarantined, not fatal.
	require.NoError(t, h.source.Create(&legacy.Patient{ID: 103, UserID: int64Ptr(22), OfficeID: int64Ptr(1), Status: 99}).Error)

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWithWarnings, report.Outcome)

	patients := report.Entities["patient"]
	assert.Equal(t, 1, patients.Quarantined)
	require.Len(t, patients.Quarantines, 1)
	assert.Equal(t, "dispatch_patient:103", patients.Quarantines[0].Key)

	run, err := h.cp.LatestRun()
	require.NoError(t, err)
	count, err := h.cp.QuarantineCount(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	counts, err := h.target.CountByType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entity.TypePatient])
}

func TestTransformSkipsAreRecordedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	// A patient without a linked user cannot become a draft.
	require.NoError(t, h.source.Create(&legacy.Patient{ID: 104, OfficeID: int64Ptr(1), Status: 1}).Error)

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	patients := report.Entities["patient"]
	assert.Equal(t, 1, patients.Skipped)
	require.NotEmpty(t, patients.Skips)
}

func TestDanglingReferenceLoadsWithNullLink(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	// An instruction for a patient that does not exist: the case is skipped,
	// and the order pointing at it loads with a NULL case link.
	require.NoError(t, h.source.Create(&legacy.Instruction{ID: 202, PatientID: int64Ptr(999), Title: "Orphan"}).Error)
	require.NoError(t, h.source.Create(&legacy.Order{ID: 301, InstructionID: int64Ptr(202), Status: 0}).Error)

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	orders := report.Entities["order"]
	assert.Equal(t, 1, orders.DanglingRefs)

	var row targetstore.Order
	require.NoError(t, h.targetDB.First(&row, "natural_key = ?", "order:301").Error)
	assert.Nil(t, row.CaseKey)
}

func TestDryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	h.settings.Migration.DryRun = true

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)

	counts, err := h.target.CountByType(context.Background())
	require.NoError(t, err)
	for entityType, count := range counts {
		assert.Zero(t, count, "dry run wrote %s rows", entityType)
	}
}

func TestSkipEntitiesHonored(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	h.settings.Migration.SkipEntities = []string{"order"}

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, report.Entities, "order")

	counts, err := h.target.CountByType(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[entity.TypeOrder])
}

func TestResumeSkipsDoneBatches(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	ctx := context.Background()

	// Simulate an interrupted run: practices already migrated, run left open.
	run, err := h.cp.BeginRun("interrupted", false)
	require.NoError(t, err)
	batch, err := h.cp.StartBatch(run.ID, entity.TypePractice, 1, 0)
	require.NoError(t, err)
	require.NoError(t, h.cp.CompleteBatch(batch.ID, 1, checkpoint.BatchCounts{Records: 1}))

	report, err := h.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, report.RunID, "interrupted run is resumed, not replaced")

	// The done practice batch was not reprocessed.
	practices := report.Entities["practice"]
	if practices != nil {
		assert.Zero(t, practices.Processed)
	}

	// Everything else still migrated.
	counts, err := h.target.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entity.TypePatient])

	finished, err := h.cp.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunStatusCompleted, finished.Status)
}

// snapshotPatientDraft builds the draft the transformer produces for a seeded
// patient, as a previous process would have checkpointed it.
func snapshotPatientDraft(patientID, userID int64, first, last, dob string) *entity.Draft {
	d := entity.NewDraft(entity.TypePatient, entity.NaturalKeyFor(entity.TypePatient, patientID))
	d.AddProvenance(string(legacy.TablePatient), patientID)
	d.AddProvenance(string(legacy.TableUser), userID)
	d.Fields["first_name"] = first
	d.Fields["last_name"] = last
	d.Fields["date_of_birth"] = dob
	d.Fields["status"] = "active"
	d.Fields["practice_key"] = "practice:1"
	d.AddDependency(entity.TypePractice, "practice:1")
	return d
}

func TestResumeRestoresDedupPool(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	// Batch size 1 puts the two duplicates in separate batches.
	h.settings.Migration.BatchSize = 1
	ctx := context.Background()

	// A previous process migrated the first patient batch, wrote the row and
	// snapshotted the draft, then died before seeing the duplicate.
	run, err := h.cp.BeginRun("interrupted", false)
	require.NoError(t, err)
	jon := snapshotPatientDraft(100, 20, "Jon", "Doe", "1990-01-01T00:00:00Z")
	require.NoError(t, h.cp.SaveDraftSnapshots(run.ID, []*entity.Draft{jon}))
	require.NoError(t, h.target.UpsertBatch(ctx, entity.TypePatient, []*entity.Draft{jon}))
	batch, err := h.cp.StartBatch(run.ID, entity.TypePatient, 1, 0)
	require.NoError(t, err)
	require.NoError(t, h.cp.CompleteBatch(batch.ID, 100, checkpoint.BatchCounts{Records: 1}))

	report, err := h.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, report.RunID)

	// The resumed process merged the duplicate against the restored pool.
	var merged targetstore.Patient
	require.NoError(t, h.targetDB.First(&merged, "natural_key = ?", "patient:100").Error)
	assert.Equal(t, 0.8, merged.DedupConfidence)
	assert.Equal(t, "patient:101", merged.DedupMergedFrom)

	var gone int64
	require.NoError(t, h.targetDB.Model(&targetstore.Patient{}).Where("natural_key = ?", "patient:101").Count(&gone).Error)
	assert.Zero(t, gone, "absorbed draft never becomes its own row")

	var caseRow targetstore.Case
	require.NoError(t, h.targetDB.First(&caseRow, "natural_key = ?", "case:200").Error)
	require.NotNil(t, caseRow.PatientKey)
	assert.Equal(t, "patient:100", *caseRow.PatientKey)
}

func TestResumeDeletesAbsorbedRows(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	ctx := context.Background()

	// A previous process wrote both duplicates as separate rows before the
	// merge was known, finished every patient batch and then died.
	run, err := h.cp.BeginRun("interrupted", false)
	require.NoError(t, err)
	drafts := []*entity.Draft{
		snapshotPatientDraft(100, 20, "Jon", "Doe", "1990-01-01T00:00:00Z"),
		snapshotPatientDraft(101, 21, "John", "Doe", "1990-01-01T00:00:00Z"),
		snapshotPatientDraft(102, 22, "Mary", "Roe", ""),
	}
	require.NoError(t, h.cp.SaveDraftSnapshots(run.ID, drafts))
	require.NoError(t, h.target.UpsertBatch(ctx, entity.TypePatient, drafts))
	b1, err := h.cp.StartBatch(run.ID, entity.TypePatient, 1, 0)
	require.NoError(t, err)
	require.NoError(t, h.cp.CompleteBatch(b1.ID, 101, checkpoint.BatchCounts{Records: 2}))
	b2, err := h.cp.StartBatch(run.ID, entity.TypePatient, 2, 101)
	require.NoError(t, err)
	require.NoError(t, h.cp.CompleteBatch(b2.ID, 102, checkpoint.BatchCounts{Records: 1}))

	report, err := h.orchestrator(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, report.RunID)

	// Restoring the pool re-derives the merge, restamps the canonical row and
	// deletes the absorbed one.
	counts, err := h.target.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entity.TypePatient])

	var merged targetstore.Patient
	require.NoError(t, h.targetDB.First(&merged, "natural_key = ?", "patient:100").Error)
	assert.Equal(t, 0.8, merged.DedupConfidence)
	assert.Equal(t, "patient:101", merged.DedupMergedFrom)

	var gone int64
	require.NoError(t, h.targetDB.Model(&targetstore.Patient{}).Where("natural_key = ?", "patient:101").Count(&gone).Error)
	assert.Zero(t, gone)

	// Dependents processed after the resume follow the canonical key.
	var caseRow targetstore.Case
	require.NoError(t, h.targetDB.First(&caseRow, "natural_key = ?", "case:200").Error)
	require.NotNil(t, caseRow.PatientKey)
	assert.Equal(t, "patient:100", *caseRow.PatientKey)
}

func TestEnrichReadFailureDegradesToWarnings(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)
	h.settings.Enrichment = conf.EnrichmentSettings{Enabled: true, Provider: "local", Dimensions: 8}

	provider, err := enrich.NewProvider(&h.settings.Enrichment)
	require.NoError(t, err)
	kb, err := enrich.OpenKnowledgeBase(filepath.Join(t.TempDir(), "kb.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kb.Close() })

	o := h.orchestrator(t)
	o.SetEnricher(enrich.NewEnricher(provider, kb, &h.settings.Enrichment, nil))

	// A comm row the driver cannot scan makes every read of the table fail,
	// which the schema check at init cannot catch. The migrated rows are
	// already in the target, so the run degrades to warnings instead of
	// failing.
	require.NoError(t, h.source.Exec(
		"INSERT INTO dispatch_comm (id, body, created_at) VALUES (1, 'aligner note', 'not-a-timestamp')").Error)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeWithWarnings, report.Outcome)
	require.NotNil(t, report.Enrichment)
	require.NotEmpty(t, report.Enrichment.Warnings)
	assert.Equal(t, string(legacy.TableComm), report.Enrichment.Warnings[0].Key)

	run, err := h.cp.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunStatusCompleted, run.Status)
}

func TestCancellationBetweenBatches(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orchestrator(t).Run(ctx)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, OutcomeCancelled, report.Outcome)

	run, err := h.cp.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunStatusCancelled, run.Status)
}

func TestReportSerializesToYAML(t *testing.T) {
	h := newHarness(t)
	h.seedClinic(t)

	report, err := h.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, report.SaveAs(path))
}
