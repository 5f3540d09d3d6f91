// Package validate schema-checks legacy records before transformation.
// Invalid records are quarantined, never thrown: a single dirty row must not
// fail its batch. A batch is only aborted when the quarantine rate crosses a
// configured threshold, which signals schema drift rather than data dirt.
package validate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/legacy"
)

// ErrQuarantineRateExceeded is returned by CheckBatch when too many records in
// a batch failed validation. Fatal-per-batch: the batch aborts, the run decides.
var ErrQuarantineRateExceeded = errors.NewStd("quarantine rate exceeded")

// Patient status values accepted by the legacy schema.
const (
	PatientStatusMin = 0
	PatientStatusMax = 10
)

// genders lists the legacy gender codes considered valid. Empty is allowed;
// the transformer defaults it.
var genders = map[string]bool{"": true, "M": true, "F": true, "O": true, "U": true}

// Result is the outcome of validating one record.
type Result struct {
	Record  legacy.Record
	Reasons []string // non-empty means quarantined
}

// Ok reports whether the record passed validation.
func (r Result) Ok() bool { return len(r.Reasons) == 0 }

// Reason renders the quarantine reasons as a single string for reporting.
func (r Result) Reason() string { return strings.Join(r.Reasons, "; ") }

// Validator enforces per-table invariants on legacy records.
type Validator struct {
	settings *conf.MigrationSettings
	logger   *slog.Logger
}

// New creates a validator using the batch-abort threshold from settings.
func New(settings *conf.MigrationSettings, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{settings: settings, logger: logger}
}

// Validate checks a single record against the invariants of its source table.
// It never returns an error: problems are reported as quarantine reasons.
func (v *Validator) Validate(record legacy.Record) Result {
	result := Result{Record: record}

	switch rec := record.(type) {
	case legacy.User:
		result.Reasons = v.validateUser(rec)
	case legacy.Office:
		result.Reasons = v.validateOffice(rec)
	case legacy.Patient:
		result.Reasons = v.validatePatient(rec)
	case legacy.Instruction:
		result.Reasons = v.validateInstruction(rec)
	case legacy.Order:
		result.Reasons = v.validateOrder(rec)
	case legacy.Template:
		result.Reasons = v.validateTemplate(rec)
	case legacy.Comm:
		result.Reasons = v.validateComm(rec)
	default:
		result.Reasons = []string{fmt.Sprintf("unknown record type %T", record)}
	}

	if !result.Ok() {
		v.logger.Debug("record quarantined",
			"table", record.SourceTable(),
			"source_id", record.SourceID(),
			"reasons", result.Reason())
	}
	return result
}

// ValidateBatch validates a page of records, partitioning it into passed and
// quarantined. It returns ErrQuarantineRateExceeded when the quarantine share
// of the batch crosses the configured threshold.
func (v *Validator) ValidateBatch(records []legacy.Record) (passed []legacy.Record, quarantined []Result, err error) {
	for _, record := range records {
		result := v.Validate(record)
		if result.Ok() {
			passed = append(passed, record)
		} else {
			quarantined = append(quarantined, result)
		}
	}

	if len(records) > 0 {
		rate := float64(len(quarantined)) / float64(len(records))
		if rate > v.settings.MaxQuarantineRate {
			return passed, quarantined, errors.Newf("%w: %.0f%% of batch quarantined (threshold %.0f%%)",
				ErrQuarantineRateExceeded, rate*100, v.settings.MaxQuarantineRate*100).
				Component("validator").
				Category(errors.CategorySchemaMismatch).
				Context("quarantined", len(quarantined)).
				Context("total", len(records)).
				Build()
		}
	}
	return passed, quarantined, nil
}

func (v *Validator) validateUser(u legacy.User) []string {
	var reasons []string
	if u.Username == "" {
		reasons = append(reasons, "username is required")
	}
	if u.FirstName == "" && u.LastName == "" {
		reasons = append(reasons, "first_name or last_name is required")
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		reasons = append(reasons, "email is malformed")
	}
	return reasons
}

func (v *Validator) validateOffice(o legacy.Office) []string {
	var reasons []string
	if o.Name == "" {
		reasons = append(reasons, "name is required")
	}
	return reasons
}

func (v *Validator) validatePatient(p legacy.Patient) []string {
	var reasons []string
	if p.OfficeID == nil {
		reasons = append(reasons, "office_id is required")
	}
	if p.Status < PatientStatusMin || p.Status > PatientStatusMax {
		reasons = append(reasons, fmt.Sprintf("status %d outside [%d, %d]", p.Status, PatientStatusMin, PatientStatusMax))
	}
	if !genders[p.Gender] {
		reasons = append(reasons, fmt.Sprintf("gender %q not in allowed set", p.Gender))
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(time.Now()) {
		reasons = append(reasons, "date_of_birth is in the future")
	}
	return reasons
}

func (v *Validator) validateInstruction(i legacy.Instruction) []string {
	var reasons []string
	if i.PatientID == nil {
		reasons = append(reasons, "patient_id is required")
	}
	if i.Title == "" {
		reasons = append(reasons, "title is required")
	}
	if i.Status < 0 || i.Status > 10 {
		reasons = append(reasons, fmt.Sprintf("status %d outside [0, 10]", i.Status))
	}
	if i.Priority < 0 || i.Priority > 5 {
		reasons = append(reasons, fmt.Sprintf("priority %d outside [0, 5]", i.Priority))
	}
	return reasons
}

func (v *Validator) validateOrder(o legacy.Order) []string {
	var reasons []string
	if o.InstructionID == nil {
		reasons = append(reasons, "instruction_id is required")
	}
	if o.Status < 0 || o.Status > 10 {
		reasons = append(reasons, fmt.Sprintf("status %d outside [0, 10]", o.Status))
	}
	return reasons
}

func (v *Validator) validateTemplate(t legacy.Template) []string {
	var reasons []string
	if t.Name == "" {
		reasons = append(reasons, "name is required")
	}
	return reasons
}

func (v *Validator) validateComm(c legacy.Comm) []string {
	var reasons []string
	if c.Body == "" {
		reasons = append(reasons, "body is required")
	}
	return reasons
}
