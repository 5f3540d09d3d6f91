// Package validate implements the validate subcommand: a read-only preflight
// that probes the source schema and reports row counts without writing
// anything to the target.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/legacy"
	"github.com/clinsync/clinsync-go/internal/logging"
)

func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Verify the source schema and report row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(settings)
		},
	}
}

func runValidate(settings *conf.Settings) error {
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	reader, err := legacy.Open(&settings.Source.Connection, logging.ForService("legacy"))
	if err != nil {
		return fmt.Errorf("failed to open source store: %w", err)
	}
	defer func() { _ = reader.Close() }()

	if err := reader.VerifySchema(); err != nil {
		fmt.Printf("❌ Schema verification failed: %v\n", err)
		return err
	}
	fmt.Println("✅ Source schema verified")

	ctx, cancel := context.WithTimeout(context.Background(), settings.Migration.StoreTimeout)
	defer cancel()

	var total int64
	for _, table := range legacy.Tables {
		count, err := reader.Count(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		fmt.Printf("  %-24s %d rows\n", table, count)
		total += count
	}
	fmt.Printf("Total: %d rows in %d tables\n", total, len(legacy.Tables))

	batches := total / int64(settings.Migration.BatchSize)
	if total%int64(settings.Migration.BatchSize) != 0 {
		batches++
	}
	fmt.Printf("Estimated %d batches at batch size %d\n", batches, settings.Migration.BatchSize)

	return nil
}
