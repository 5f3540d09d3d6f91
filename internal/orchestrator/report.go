package orchestrator

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clinsync/clinsync-go/internal/entity"
)

// RunOutcome is the final verdict of a migration run.
type RunOutcome string

const (
	OutcomeCompleted    RunOutcome = "completed"
	OutcomeWithWarnings RunOutcome = "completed_with_warnings"
	OutcomeFailed       RunOutcome = "failed"
	OutcomeCancelled    RunOutcome = "cancelled"
)

// RecordNote identifies one record excluded or degraded during the run.
type RecordNote struct {
	Key    string `yaml:"key"`
	Reason string `yaml:"reason"`
}

// EntityReport aggregates counts for one entity type.
type EntityReport struct {
	Processed     int          `yaml:"processed"`
	Quarantined   int          `yaml:"quarantined"`
	Skipped       int          `yaml:"skipped"`
	Filtered      int          `yaml:"filtered,omitempty"`
	Loaded        int          `yaml:"loaded"`
	Merged        int          `yaml:"merged,omitempty"`
	DanglingRefs  int          `yaml:"dangling_refs,omitempty"`
	FailedRecords int          `yaml:"failed_records,omitempty"`
	Batches       int          `yaml:"batches"`
	Failed        bool         `yaml:"failed,omitempty"`
	FailureCause  string       `yaml:"failure_cause,omitempty"`
	Quarantines   []RecordNote `yaml:"quarantine_detail,omitempty"`
	Skips         []RecordNote `yaml:"skip_detail,omitempty"`
	Failures      []RecordNote `yaml:"failure_detail,omitempty"`
}

// MergeWarning is one ambiguous duplicate pair left for manual review.
type MergeWarning struct {
	LeftKey    string  `yaml:"left"`
	RightKey   string  `yaml:"right"`
	Confidence float64 `yaml:"confidence"`
	Reason     string  `yaml:"reason"`
}

// EnrichReport summarizes the enrichment phase.
type EnrichReport struct {
	Indexed  int          `yaml:"indexed"`
	Warnings []RecordNote `yaml:"warnings,omitempty"`
}

// Report is the full, YAML-serializable account of one migration run.
type Report struct {
	RunID      string     `yaml:"run_id"`
	Name       string     `yaml:"name,omitempty"`
	Outcome    RunOutcome `yaml:"outcome"`
	DryRun     bool       `yaml:"dry_run,omitempty"`
	StartedAt  time.Time  `yaml:"started_at"`
	FinishedAt time.Time  `yaml:"finished_at"`
	Duration   string     `yaml:"duration"`

	Entities      map[string]*EntityReport `yaml:"entities"`
	MergeWarnings []MergeWarning           `yaml:"merge_warnings,omitempty"`
	Enrichment    *EnrichReport            `yaml:"enrichment,omitempty"`
	Errors        []string                 `yaml:"errors,omitempty"`
}

func newReport(runID, name string, dryRun bool) *Report {
	return &Report{
		RunID:    runID,
		Name:     name,
		DryRun:   dryRun,
		Entities: make(map[string]*EntityReport),
	}
}

// entityReport returns (creating if needed) the report bucket for a type.
func (r *Report) entityReport(entityType entity.Type) *EntityReport {
	er, ok := r.Entities[string(entityType)]
	if !ok {
		er = &EntityReport{}
		r.Entities[string(entityType)] = er
	}
	return er
}

// HasWarnings reports whether anything in the run needs operator attention.
func (r *Report) HasWarnings() bool {
	if len(r.MergeWarnings) > 0 || len(r.Errors) > 0 {
		return true
	}
	if r.Enrichment != nil && len(r.Enrichment.Warnings) > 0 {
		return true
	}
	for _, er := range r.Entities {
		if er.Failed || er.Quarantined > 0 || er.Skipped > 0 || er.DanglingRefs > 0 || er.FailedRecords > 0 {
			return true
		}
	}
	return false
}

// finalize stamps the outcome and duration.
func (r *Report) finalize(outcome RunOutcome, startedAt time.Time) {
	r.Outcome = outcome
	r.StartedAt = startedAt
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(startedAt).Round(time.Millisecond).String()
	if outcome == OutcomeCompleted && r.HasWarnings() {
		r.Outcome = OutcomeWithWarnings
	}
}

// WriteYAML renders the report to w.
func (r *Report) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return encoder.Close()
}

// SaveAs writes the report to a YAML file.
func (r *Report) SaveAs(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.WriteYAML(f)
}
