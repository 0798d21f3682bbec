package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/crypto"
	"github.com/systmms/credgate/internal/health"
	"github.com/systmms/credgate/internal/orchestration/connectors"
)

// CheckResult is the outcome of one doctor check.
type CheckResult struct {
	Name       string
	Status     string // healthy, warning, error
	Message    string
	Suggestion string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, master key, database and connectors",
		Long: `Verify that credgate is ready to run.

This command checks:
- Configuration file validity
- The encryption master key
- OAuth client secrets
- Database connectivity and connection pool
- Rotation connector settings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking credgate configuration...")
			if err := loadConfig(cfg); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return err
			}
			cfg.Logger.Info("✓ Configuration loaded successfully")

			def := cfg.Definition
			ctx := cmd.Context()

			results := []CheckResult{checkMasterKey(def), checkOAuthClients(def)}

			db, err := openDatabase(ctx, def)
			if err != nil {
				results = append(results, CheckResult{
					Name:       "database",
					Status:     "error",
					Message:    err.Error(),
					Suggestion: "Check database.dsn and that the database accepts connections",
				})
			} else {
				results = append(results, checkDatabase(ctx, db.SQL()))
				_ = db.Close()
			}

			results = append(results, checkConnectors(cfg)...)

			return renderChecks(cmd.OutOrStdout(), results, verbose)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failing checks")
	return cmd
}

func checkMasterKey(def *config.Definition) CheckResult {
	result := CheckResult{Name: "master key", Status: "healthy", Message: "valid 32-byte key"}
	enc, err := crypto.NewEncryptorFromSource(def.KeySource())
	if err != nil {
		result.Status = "error"
		result.Message = "master key unavailable"
		result.Suggestion = err.Error()
		return result
	}
	enc.Destroy()
	return result
}

func checkOAuthClients(def *config.Definition) CheckResult {
	result := CheckResult{Name: "oauth clients", Status: "healthy"}
	if len(def.OAuth) == 0 {
		result.Status = "warning"
		result.Message = "no OAuth clients configured"
		result.Suggestion = "Add providers under 'oauth:' to resolve OAuth-mode credentials"
		return result
	}
	if _, err := def.OAuthClients(); err != nil {
		result.Status = "error"
		result.Message = "client secret missing"
		result.Suggestion = err.Error()
		return result
	}
	result.Message = fmt.Sprintf("%d configured", len(def.OAuth))
	return result
}

func checkDatabase(ctx context.Context, db health.SQLPinger) CheckResult {
	r := health.CheckDatabase(ctx, db, health.DefaultDatabaseCheckConfig())
	result := CheckResult{Name: "database", Message: r.Message}
	switch r.Status {
	case health.StatusHealthy:
		result.Status = "healthy"
		if result.Message == "" {
			result.Message = fmt.Sprintf("ping %s", r.Latency)
		}
	case health.StatusDegraded:
		result.Status = "warning"
		result.Suggestion = "Raise database.max_open_conns or check database load"
	default:
		result.Status = "error"
		result.Suggestion = "Check database.dsn and that the database accepts connections"
	}
	return result
}

func checkConnectors(cfg *config.Config) []CheckResult {
	var results []CheckResult
	for _, name := range sortedKeys(cfg.Definition.Connectors) {
		result := CheckResult{Name: "connector " + name, Status: "healthy", Message: "settings valid"}
		connector, err := cfg.GetConnector(name)
		if err == nil {
			err = connectors.Validate(connector)
		}
		if err != nil {
			result.Status = "error"
			result.Message = err.Error()
			result.Suggestion = fmt.Sprintf("Fix connectors.%s in credgate.yaml", name)
		}
		results = append(results, result)
	}
	return results
}

func renderChecks(w io.Writer, results []CheckResult, verbose bool) error {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(tw, "-----\t------\t-------\n")

	healthy := 0
	for _, r := range results {
		status := r.Status
		switch r.Status {
		case "healthy":
			status = "✓ " + status
			healthy++
		case "warning":
			status = "! " + status
			healthy++
		default:
			status = "✗ " + status
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, status, r.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if verbose {
		for _, r := range results {
			if r.Suggestion != "" && r.Status != "healthy" {
				_, _ = fmt.Fprintf(w, "\n%s:\n  💡 %s\n", r.Name, r.Suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d/%d checks passed\n", healthy, len(results))
	if healthy < len(results) {
		return fmt.Errorf("some checks failed")
	}
	return nil
}
