package targetstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "target.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func practiceDraft(id int64, name string) *entity.Draft {
	d := entity.NewDraft(entity.TypePractice, entity.NaturalKeyFor(entity.TypePractice, id))
	d.AddProvenance("dispatch_office", id)
	d.Fields["name"] = name
	d.Fields["phone"] = "5550100"
	return d
}

func TestUpsertBatchInsertsRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.UpsertBatch(ctx, entity.TypePractice, []*entity.Draft{
		practiceDraft(1, "Downtown Clinic"),
		practiceDraft(2, "Uptown Clinic"),
	})
	require.NoError(t, err)

	var rows []Practice
	require.NoError(t, store.db.Order("natural_key").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "practice:1", rows[0].NaturalKey)
	assert.Equal(t, "Downtown Clinic", rows[0].Name)
	assert.Equal(t, "dispatch_office:1", rows[0].Provenance)
}

func TestUpsertBatchIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1, "Downtown Clinic")}))
	// Same key again with changed fields: the row converges, never duplicates.
	require.NoError(t, store.UpsertBatch(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1, "Downtown Clinic, Renamed")}))

	var rows []Practice
	require.NoError(t, store.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "Downtown Clinic, Renamed", rows[0].Name)
}

func TestUpsertPatientCarriesDedupAudit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d := entity.NewDraft(entity.TypePatient, "patient:1")
	d.AddProvenance("dispatch_patient", 1)
	d.AddProvenance("dispatch_patient", 7)
	d.Fields["first_name"] = "Jane"
	d.Fields["last_name"] = "Roe"
	d.Fields["status"] = "active"
	d.Fields["dedup_confidence"] = 0.8
	d.Fields["dedup_merged_from"] = "patient:7"

	require.NoError(t, store.UpsertBatch(ctx, entity.TypePatient, []*entity.Draft{d}))

	var row Patient
	require.NoError(t, store.db.First(&row, "natural_key = ?", "patient:1").Error)
	assert.Equal(t, 0.8, row.DedupConfidence)
	assert.Equal(t, "patient:7", row.DedupMergedFrom)
	assert.Equal(t, "dispatch_patient:1,dispatch_patient:7", row.Provenance)
}

func TestUpsertNullsAbsentReferenceKeys(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d := entity.NewDraft(entity.TypeCase, "case:5")
	d.Fields["title"] = "Follow-up"
	d.Fields["patient_key"] = "patient:1"
	// practice_key deliberately absent.

	require.NoError(t, store.UpsertBatch(ctx, entity.TypeCase, []*entity.Draft{d}))

	var row Case
	require.NoError(t, store.db.First(&row, "natural_key = ?", "case:5").Error)
	require.NotNil(t, row.PatientKey)
	assert.Equal(t, "patient:1", *row.PatientKey)
	assert.Nil(t, row.PracticeKey)
}

func TestUpsertUnknownEntityType(t *testing.T) {
	store := openTestStore(t)

	err := store.UpsertBatch(context.Background(), entity.Type("widget"), []*entity.Draft{
		entity.NewDraft(entity.Type("widget"), "widget:1"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEntityType))
	assert.True(t, errors.IsFatal(err))
}

func TestUpsertEmptyBatchIsNoOp(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertBatch(context.Background(), entity.TypePractice, nil))
}

func TestHasNaturalKeys(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, entity.TypePractice, []*entity.Draft{
		practiceDraft(1, "A"),
		practiceDraft(2, "B"),
	}))

	found, err := store.HasNaturalKeys(ctx, entity.TypePractice, []string{"practice:1", "practice:2", "practice:99"})
	require.NoError(t, err)
	assert.True(t, found["practice:1"])
	assert.True(t, found["practice:2"])
	assert.False(t, found["practice:99"])

	empty, err := store.HasNaturalKeys(ctx, entity.TypePractice, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCountByType(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1, "A")}))

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[entity.TypePractice])
	assert.Equal(t, int64(0), counts[entity.TypeOrder])
	assert.Len(t, counts, len(entity.LoadOrder))
}
