package loader

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

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/targetstore"
)

func testSettings() *conf.MigrationSettings {
	return &conf.MigrationSettings{
		BatchSize:    500,
		StoreTimeout: 5 * time.Second,
		Retry:        conf.RetrySettings{MaxAttempts: 1},
	}
}

func newTestLoader(t *testing.T) (*Loader, *targetstore.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "target.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	store, err := targetstore.NewStore(db, nil)
	require.NoError(t, err)
	return New(store, testSettings(), nil), store
}

func practiceDraft(id int64) *entity.Draft {
	d := entity.NewDraft(entity.TypePractice, entity.NaturalKeyFor(entity.TypePractice, id))
	d.Fields["name"] = "Clinic"
	return d
}

func patientDraft(id, officeID int64) *entity.Draft {
	d := entity.NewDraft(entity.TypePatient, entity.NaturalKeyFor(entity.TypePatient, id))
	d.Fields["first_name"] = "Jane"
	d.Fields["status"] = "active"
	practiceKey := entity.NaturalKeyFor(entity.TypePractice, officeID)
	d.Fields["practice_key"] = practiceKey
	d.AddDependency(entity.TypePractice, practiceKey)
	return d
}

func TestLoadEnforcesDependencyOrder(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Load(context.Background(), entity.TypePatient, []*entity.Draft{patientDraft(1, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyOrder))
	assert.True(t, errors.IsFatal(err))
}

func TestLoadResolvesReferencesThroughCache(t *testing.T) {
	l, _ := newTestLoader(t)
	ctx := context.Background()

	result, err := l.Load(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	l.MarkTypeLoaded(entity.TypePractice)
	l.MarkTypeLoaded(entity.TypeProfile)

	result, err = l.Load(ctx, entity.TypePatient, []*entity.Draft{patientDraft(1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	assert.Empty(t, result.SkippedRefs)
}

func TestLoadSeesKeysFromPreviousProcess(t *testing.T) {
	// Keys already in the target but never seen by this loader instance, as
	// after a resume, still resolve via the store fallback.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "target.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	store, err := targetstore.NewStore(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first := New(store, testSettings(), nil)
	_, err = first.Load(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1)})
	require.NoError(t, err)

	second := New(store, testSettings(), nil)
	second.MarkTypeLoaded(entity.TypePractice)
	result, err := second.Load(ctx, entity.TypePatient, []*entity.Draft{patientDraft(1, 1)})
	require.NoError(t, err)
	assert.Empty(t, result.SkippedRefs)
}

func TestLoadDowngradesDanglingReference(t *testing.T) {
	l, store := newTestLoader(t)
	ctx := context.Background()

	l.MarkTypeLoaded(entity.TypePractice)
	draft := patientDraft(1, 99) // practice:99 was never loaded

	result, err := l.Load(ctx, entity.TypePatient, []*entity.Draft{draft})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	require.Len(t, result.SkippedRefs, 1)
	assert.Equal(t, "patient:1", result.SkippedRefs[0].DraftKey)
	assert.Equal(t, entity.TypePractice, result.SkippedRefs[0].RefType)
	assert.Equal(t, "practice:99", result.SkippedRefs[0].RefKey)

	// The row landed with a NULL link, not a dangling one.
	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[entity.TypePatient])
	assert.NotContains(t, draft.Fields, "practice_key")
}

func TestLoadIsolatesFailingRecord(t *testing.T) {
	l, store := newTestLoader(t)
	ctx := context.Background()

	bad := entity.NewDraft(entity.TypePractice, "")
	bad.Fields["name"] = "No Key Clinic"
	drafts := []*entity.Draft{practiceDraft(1), bad, practiceDraft(2)}

	// The constraint violation fails the transactional batch; the fallback
	// lands the two good rows and reports the bad one.
	result, err := l.Load(ctx, entity.TypePractice, drafts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Loaded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "", result.Failed[0].DraftKey)
	assert.NotEmpty(t, result.Failed[0].Reason)

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[entity.TypePractice])
}

func TestDryRunSkipsWrites(t *testing.T) {
	l, store := newTestLoader(t)
	l.settings.DryRun = true
	ctx := context.Background()

	result, err := l.Load(ctx, entity.TypePractice, []*entity.Draft{practiceDraft(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)

	counts, err := store.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[entity.TypePractice])

	// Later dry-run batches still resolve references against the would-be rows.
	l.MarkTypeLoaded(entity.TypePractice)
	dependent, err := l.Load(ctx, entity.TypePatient, []*entity.Draft{patientDraft(1, 1)})
	require.NoError(t, err)
	assert.Empty(t, dependent.SkippedRefs)
}

func TestLoadEmptyBatch(t *testing.T) {
	l, _ := newTestLoader(t)
	result, err := l.Load(context.Background(), entity.TypePractice, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Loaded)
}
