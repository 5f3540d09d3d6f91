package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clinsync/clinsync-go/cmd/migrate"
	"github.com/clinsync/clinsync-go/cmd/status"
	"github.com/clinsync/clinsync-go/cmd/validate"
	"github.com/clinsync/clinsync-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clinsync",
		Short: "ClinSync migration CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	subcommands := []*cobra.Command{
		migrate.Command(settings),
		validate.Command(settings),
		status.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().IntVarP(&settings.Migration.BatchSize, "batch-size", "b", viper.GetInt("migration.batchsize"), "Records per batch, the unit of checkpointing")
	rootCmd.PersistentFlags().IntVarP(&settings.Migration.Workers, "workers", "w", viper.GetInt("migration.workers"), "Parallel workers within a batch")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
