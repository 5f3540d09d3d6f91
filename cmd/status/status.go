// Package status implements the status subcommand, which inspects the
// checkpoint database and prints the state of the latest (or a named) run.
package status

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clinsync/clinsync-go/internal/checkpoint"
	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
)

var runID string

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the latest migration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(settings)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "inspect a specific run id instead of the latest")

	return cmd
}

func runStatus(settings *conf.Settings) error {
	cp, err := checkpoint.Open(&settings.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer func() { _ = cp.Close() }()

	var run *checkpoint.Run
	if runID != "" {
		run, err = cp.GetRun(runID)
	} else {
		run, err = cp.LatestRun()
	}
	if err != nil {
		if errors.Is(err, checkpoint.ErrNoRun) {
			fmt.Println("No migration runs recorded")
			return nil
		}
		return err
	}

	fmt.Printf("Run:     %s", run.ID)
	if run.Name != "" {
		fmt.Printf(" (%s)", run.Name)
	}
	fmt.Println()
	fmt.Printf("Status:  %s", run.Status)
	if run.DryRun {
		fmt.Print(" (dry run)")
	}
	fmt.Println()
	fmt.Printf("Phase:   %s\n", run.Phase)
	if trail := run.PhaseTrail(); len(trail) > 0 {
		parts := make([]string, 0, len(trail))
		for _, ps := range trail {
			parts = append(parts, fmt.Sprintf("%s=%s", ps.Phase, ps.Status))
		}
		fmt.Printf("Phases:  %s\n", strings.Join(parts, ", "))
	}
	fmt.Printf("Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("Ended:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if run.ErrorMessage != "" {
		fmt.Printf("Error:   %s\n", run.ErrorMessage)
	}

	batches, err := cp.RunBatches(run.ID)
	if err != nil {
		return err
	}
	if len(batches) > 0 {
		fmt.Println("\nBatches:")
		printBatchSummary(batches)
	}

	quarantined, err := cp.QuarantineCount(run.ID)
	if err != nil {
		return err
	}
	if quarantined > 0 {
		fmt.Printf("\nQuarantined records: %d\n", quarantined)
	}

	return nil
}

// printBatchSummary prints per-entity batch progress, one line per type.
func printBatchSummary(batches []checkpoint.Batch) {
	type progress struct {
		done, failed, inProgress, total int
		records                         int
	}
	order := make([]string, 0, 8)
	byType := make(map[string]*progress)

	for i := range batches {
		b := &batches[i]
		p, ok := byType[b.EntityType]
		if !ok {
			p = &progress{}
			byType[b.EntityType] = p
			order = append(order, b.EntityType)
		}
		p.total++
		switch b.Status {
		case checkpoint.BatchStatusDone:
			p.done++
			p.records += b.RecordCount
		case checkpoint.BatchStatusFailed:
			p.failed++
		case checkpoint.BatchStatusInProgress:
			p.inProgress++
		}
	}

	for _, entityType := range order {
		p := byType[entityType]
		line := fmt.Sprintf("  %-18s %d/%d done, %d records", entityType, p.done, p.total, p.records)
		var notes []string
		if p.failed > 0 {
			notes = append(notes, fmt.Sprintf("%d failed", p.failed))
		}
		if p.inProgress > 0 {
			notes = append(notes, fmt.Sprintf("%d in progress", p.inProgress))
		}
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, ", ") + ")"
		}
		fmt.Println(line)
	}
}
