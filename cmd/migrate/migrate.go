// Package migrate implements the migrate subcommand, the main entry point of
// the engine. It wires the source reader, target store, checkpoint store and
// optional metrics and enrichment into an orchestrator and runs it to completion.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clinsync/clinsync-go/internal/checkpoint"
	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/enrich"
	"github.com/clinsync/clinsync-go/internal/legacy"
	"github.com/clinsync/clinsync-go/internal/logging"
	"github.com/clinsync/clinsync-go/internal/observability"
	"github.com/clinsync/clinsync-go/internal/orchestrator"
	"github.com/clinsync/clinsync-go/internal/targetstore"
)

var (
	runName     string
	reportPath  string
	writeConfig string
)

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration from the legacy store into the target store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if writeConfig != "" {
				if err := settings.SaveAs(writeConfig); err != nil {
					return err
				}
				fmt.Printf("Configuration written to %s\n", writeConfig)
				return nil
			}
			return runMigration(settings)
		},
	}

	cmd.Flags().StringVarP(&runName, "name", "n", "", "label attached to the run and its log lines")
	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "write the run report to this file instead of stdout")
	cmd.Flags().BoolVar(&settings.Migration.DryRun, "dry-run", settings.Migration.DryRun, "execute every phase except final target writes")
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "write the effective configuration to this file and exit")

	return cmd
}

func runMigration(settings *conf.Settings) error {
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)
	logger := logging.ForService("migrate")

	if runName != "" {
		settings.Main.Name = runName
	}

	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, "migrate", level, logging.FileRotation{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			return fmt.Errorf("failed to open migration log: %w", err)
		}
		defer func() { _ = closeLog() }()
		logger = fileLogger
	}

	// Interrupt requests cancellation; in-flight batches finish and checkpoint
	// before the run is marked cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := legacy.Open(&settings.Source.Connection, logging.ForService("legacy"))
	if err != nil {
		return fmt.Errorf("failed to open source store: %w", err)
	}
	defer func() { _ = reader.Close() }()

	target, err := targetstore.Open(&settings.Target, logging.ForService("targetstore"))
	if err != nil {
		return fmt.Errorf("failed to open target store: %w", err)
	}
	defer func() { _ = target.Close() }()

	cp, err := checkpoint.Open(&settings.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer func() { _ = cp.Close() }()

	orch := orchestrator.New(settings, reader, target, cp, logger)

	if settings.Observability.Enabled {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		orch.SetMetrics(metrics)

		server := observability.NewServer(&settings.Observability, metrics, logging.ForService("observability"))
		if server != nil {
			server.Start()
			defer server.Stop(context.Background())
		}
	}

	if settings.Enrichment.Enabled {
		enricher, closeKB, err := setupEnrichment(&settings.Enrichment)
		if err != nil {
			return err
		}
		if enricher != nil {
			defer func() { _ = closeKB() }()
			orch.SetEnricher(enricher)
		}
	}

	report, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if reportPath != "" {
		if err := report.SaveAs(reportPath); err != nil {
			return err
		}
		logger.Info("run report written", "path", reportPath, "outcome", report.Outcome)
	} else if err := report.WriteYAML(os.Stdout); err != nil {
		return err
	}

	if report.Outcome == orchestrator.OutcomeFailed {
		return fmt.Errorf("run %s failed, see report for details", report.RunID)
	}
	return nil
}

// setupEnrichment builds the embedding provider and knowledge base. A "none"
// provider returns a nil enricher, which disables the phase.
func setupEnrichment(settings *conf.EnrichmentSettings) (*enrich.Enricher, func() error, error) {
	provider, err := enrich.NewProvider(settings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if provider == nil {
		return nil, nil, nil
	}

	kb, err := enrich.OpenKnowledgeBase(settings.KnowledgeBasePath, settings.Dimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}

	enricher := enrich.NewEnricher(provider, kb, settings, logging.ForService("enrich"))
	return enricher, kb.Close, nil
}
