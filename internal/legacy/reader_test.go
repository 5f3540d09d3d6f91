package legacy

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinsync/clinsync-go/internal/errors"
)

// openTestSource creates a sqlite-backed legacy schema with all tables.
func openTestSource(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&User{}, &Office{}, &Patient{}, &Instruction{}, &Order{}, &Template{}, &Comm{}))
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		user := User{
			ID:        int64(i),
			Username:  fmt.Sprintf("user%d", i),
			FirstName: "Test",
			LastName:  fmt.Sprintf("User%d", i),
			IsActive:  true,
		}
		require.NoError(t, db.Create(&user).Error)
	}
}

func TestReadPageOrderingAndCursor(t *testing.T) {
	db := openTestSource(t)
	seedUsers(t, db, 25)
	reader := NewReader(db, nil)

	ctx := context.Background()
	var seen []int64
	cursor := int64(0)

	for {
		records, next, err := reader.ReadPage(ctx, TableUser, cursor, 10)
		require.NoError(t, err)
		if len(records) == 0 {
			assert.Equal(t, cursor, next, "exhausted page must not advance the cursor")
			break
		}
		for _, rec := range records {
			seen = append(seen, rec.SourceID())
		}
		cursor = next
	}

	require.Len(t, seen, 25, "no gaps, no duplicates")
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "strictly ascending ids")
	}
}

func TestReadPageResumeFromCheckpointCursor(t *testing.T) {
	db := openTestSource(t)
	seedUsers(t, db, 10)
	reader := NewReader(db, nil)
	ctx := context.Background()

	first, cursor, err := reader.ReadPage(ctx, TableUser, 0, 4)
	require.NoError(t, err)
	require.Len(t, first, 4)

	// Concurrent insert below the cursor must not produce duplicates on resume.
	require.NoError(t, db.Exec("DELETE FROM auth_user WHERE id = 1").Error)

	rest, _, err := reader.ReadPage(ctx, TableUser, cursor, 100)
	require.NoError(t, err)
	for _, rec := range rest {
		assert.Greater(t, rec.SourceID(), cursor)
	}
}

func TestReadPageTypedRecords(t *testing.T) {
	db := openTestSource(t)
	require.NoError(t, db.Create(&Patient{ID: 7, Status: 3, Phone: "555-0100"}).Error)
	reader := NewReader(db, nil)

	records, _, err := reader.ReadPage(context.Background(), TablePatient, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	patient, ok := records[0].(Patient)
	require.True(t, ok, "records carry their concrete type")
	assert.Equal(t, TablePatient, patient.SourceTable())
	assert.Equal(t, int64(7), patient.SourceID())
	assert.Equal(t, 3, patient.Status)
}

func TestReadPageUnknownTable(t *testing.T) {
	reader := NewReader(openTestSource(t), nil)

	_, _, err := reader.ReadPage(context.Background(), Table("django_admin_log"), 0, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestVerifySchemaDetectsMissingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	// Deliberately omit dispatch_comm.
	require.NoError(t, db.AutoMigrate(&User{}, &Office{}, &Patient{}, &Instruction{}, &Order{}, &Template{}))

	reader := NewReader(db, nil)
	err = reader.VerifySchema()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.True(t, errors.IsFatal(err), "schema drift aborts the run")
}

func TestVerifySchemaDetectsMissingColumn(t *testing.T) {
	db := openTestSource(t)
	require.NoError(t, db.Migrator().DropColumn(&Patient{}, "status"))

	reader := NewReader(db, nil)
	err := reader.VerifySchema()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestVerifySchemaPassesOnFullSchema(t *testing.T) {
	reader := NewReader(openTestSource(t), nil)
	require.NoError(t, reader.VerifySchema())
}

func TestCount(t *testing.T) {
	db := openTestSource(t)
	seedUsers(t, db, 12)
	reader := NewReader(db, nil)

	count, err := reader.Count(context.Background(), TableUser)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
}
