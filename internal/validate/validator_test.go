package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/legacy"
)

func newTestValidator(maxQuarantineRate float64) *Validator {
	return New(&conf.MigrationSettings{MaxQuarantineRate: maxQuarantineRate}, nil)
}

func int64Ptr(v int64) *int64 { return &v }

func validPatient(id int64) legacy.Patient {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	return legacy.Patient{ID: id, OfficeID: int64Ptr(1), Status: 3, Gender: "F", DateOfBirth: &dob}
}

func TestValidatePatient(t *testing.T) {
	v := newTestValidator(0.5)
	future := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name    string
		patient legacy.Patient
		wantOk  bool
		reason  string
	}{
		{"valid", validPatient(1), true, ""},
		{"missing office", legacy.Patient{ID: 2, Status: 1}, false, "office_id is required"},
		{"status too high", legacy.Patient{ID: 3, OfficeID: int64Ptr(1), Status: 11}, false, "status 11 outside [0, 10]"},
		{"status negative", legacy.Patient{ID: 4, OfficeID: int64Ptr(1), Status: -1}, false, "status -1 outside [0, 10]"},
		{"unknown gender", legacy.Patient{ID: 5, OfficeID: int64Ptr(1), Status: 1, Gender: "X"}, false, `gender "X" not in allowed set`},
		{"future dob", legacy.Patient{ID: 6, OfficeID: int64Ptr(1), Status: 1, DateOfBirth: &future}, false, "date_of_birth is in the future"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.patient)
			assert.Equal(t, tt.wantOk, result.Ok())
			if !tt.wantOk {
				assert.Contains(t, result.Reason(), tt.reason)
			}
		})
	}
}

func TestValidateUser(t *testing.T) {
	v := newTestValidator(0.5)

	ok := v.Validate(legacy.User{ID: 1, Username: "jdoe", FirstName: "Jon", LastName: "Doe"})
	assert.True(t, ok.Ok())

	noName := v.Validate(legacy.User{ID: 2, Username: "ghost"})
	assert.False(t, noName.Ok())
	assert.Contains(t, noName.Reason(), "first_name or last_name")

	badEmail := v.Validate(legacy.User{ID: 3, Username: "x", FirstName: "A", Email: "not-an-email"})
	assert.False(t, badEmail.Ok())
	assert.Contains(t, badEmail.Reason(), "email is malformed")
}

func TestValidateInstructionRanges(t *testing.T) {
	v := newTestValidator(0.5)

	bad := v.Validate(legacy.Instruction{ID: 1, PatientID: int64Ptr(1), Title: "Follow-up", Priority: 9})
	assert.False(t, bad.Ok())
	assert.Contains(t, bad.Reason(), "priority 9 outside [0, 5]")
}

func TestValidateBatchPartitionsRecords(t *testing.T) {
	v := newTestValidator(0.5)

	records := []legacy.Record{
		validPatient(1),
		legacy.Patient{ID: 2, Status: 99}, // two violations
		validPatient(3),
	}

	passed, quarantined, err := v.ValidateBatch(records)
	require.NoError(t, err)
	assert.Len(t, passed, 2)
	require.Len(t, quarantined, 1)
	assert.Equal(t, int64(2), quarantined[0].Record.SourceID())
	assert.Len(t, quarantined[0].Reasons, 2)
}

func TestValidateBatchQuarantineThreshold(t *testing.T) {
	v := newTestValidator(0.25)

	// 2 of 4 quarantined = 50% > 25% threshold.
	records := []legacy.Record{
		validPatient(1),
		validPatient(2),
		legacy.Patient{ID: 3, Status: 11},
		legacy.Patient{ID: 4, Status: 12},
	}

	passed, quarantined, err := v.ValidateBatch(records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuarantineRateExceeded))
	// Partition results still returned so the failure can be reported.
	assert.Len(t, passed, 2)
	assert.Len(t, quarantined, 2)
}

func TestValidateBatchEmptyIsFine(t *testing.T) {
	v := newTestValidator(0)
	passed, quarantined, err := v.ValidateBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, passed)
	assert.Empty(t, quarantined)
}

func TestQuarantineDoesNotAffectSiblings(t *testing.T) {
	v := newTestValidator(0.9)

	records := []legacy.Record{
		legacy.Patient{ID: 1, Status: 42},
		validPatient(2),
	}

	passed, quarantined, err := v.ValidateBatch(records)
	require.NoError(t, err)
	require.Len(t, passed, 1)
	assert.Equal(t, int64(2), passed[0].SourceID())
	require.Len(t, quarantined, 1)
}
