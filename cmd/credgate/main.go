package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systmms/credgate/cmd/credgate/commands"
	"github.com/systmms/credgate/internal/config"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	memguard.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cgerrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		configFile string
		envFile    string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "credgate",
		Short: "Credential resolution and rotation gate",
		Long: `credgate resolves workspace credentials from hosted vaults, OAuth
providers, cloud secret managers and API-key endpoints, and admits secret
rotations through workspace policies.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(debug, noColor)

			if err := godotenv.Load(envFile); err != nil {
				if cmd.Flags().Changed("env-file") {
					return fmt.Errorf("failed to load %s: %w", envFile, err)
				}
				logger.Debug("No %s file loaded: %v", envFile, err)
			}

			cfg.Path = configFile
			cfg.Logger = logger
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the command runs")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewResolveCommand(cfg),
		commands.NewInvalidateCommand(cfg),
		commands.NewEvaluateCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewPolicyCommand(cfg),
		commands.NewProviderCommand(cfg),
		commands.NewBreakerCommand(cfg),
		commands.NewProbeCommand(cfg),
		commands.NewMigrateCommand(cfg),
		commands.NewKeygenCommand(cfg),
		commands.NewDoctorCommand(cfg),
	)

	return rootCmd.ExecuteContext(ctx)
}
