// Package orchestrator drives a migration run through its phases, batch by
// batch, consulting the checkpoint store before any work and recording every
// outcome into the run report.
package orchestrator

// Phase is one stage of a migration run.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhasePrepare   Phase = "prepare"
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseDedup     Phase = "dedup"
	PhaseValidate  Phase = "validate"
	PhaseLoad      Phase = "load"
	PhaseEnrich    Phase = "enrich"
	PhaseReport    Phase = "report"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// phaseOrder gives each phase an ordinal for the current-phase gauge.
var phaseOrder = []Phase{
	PhaseInit,
	PhasePrepare,
	PhaseExtract,
	PhaseTransform,
	PhaseDedup,
	PhaseValidate,
	PhaseLoad,
	PhaseEnrich,
	PhaseReport,
	PhaseDone,
}

// Ordinal returns the position of the phase in the run, with the absorbing
// failed state after everything else.
func (p Phase) Ordinal() int {
	for i, phase := range phaseOrder {
		if phase == p {
			return i
		}
	}
	return len(phaseOrder)
}
