package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		target      targetFlags
		environment string
		dryRun      bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a secret through its cloud connector, subject to policy",
		Long: `Rotate a secret in AWS Secrets Manager, GCP Secret Manager or Azure Key
Vault after workspace policies admit the rotation.

Connector settings (region, project, vault URL, value length and charset)
come from the 'connectors:' section of credgate.yaml.

A blocked rotation or one that requires approval is reported without
touching the secret. --dry-run evaluates policies and skips the write.

Examples:
  # Preview a rotation
  credgate rotate -w 7f0c... -p aws -s db --env production --dry-run

  # Rotate
  credgate rotate -w 7f0c... -p aws -s db --env production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			guard, err := loadGuard(cfg)
			if err != nil {
				return err
			}
			if err := guard.CheckProvider(environment, target.provider); err != nil {
				return err
			}
			connector, err := cfg.GetConnector(target.provider)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			outcome, err := svc.rotations.ExecuteRotation(ctx, target.workspace, target.provider, target.secret, environment, connector, dryRun)
			if err != nil {
				return cgerrors.ProviderError(target.provider, "rotation", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(outcome); err != nil {
					return err
				}
			} else if err := renderOutcome(cmd.OutOrStdout(), target, outcome); err != nil {
				return err
			}
			return outcomeError(outcome)
		},
	}

	target.register(cmd)
	cmd.Flags().StringVarP(&environment, "env", "e", "", "Target environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate policies without writing a new secret version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	return cmd
}

func renderOutcome(w io.Writer, target targetFlags, o *orchestration.Outcome) error {
	name := logging.Secret(target.secret)
	switch o.Status {
	case orchestration.StatusBlocked:
		_, _ = fmt.Fprintf(w, "✗ Rotation of %s/%s blocked by policy\n", target.provider, name)
		for _, reason := range o.Reasons {
			_, _ = fmt.Fprintf(w, "  - %s\n", reason)
		}
	case orchestration.StatusRequiresApproval:
		_, _ = fmt.Fprintf(w, "⏸ Rotation of %s/%s requires approval\n", target.provider, name)
	case orchestration.StatusCompleted:
		verb := "Rotated"
		if o.DryRun {
			verb = "Dry run passed for"
		}
		_, _ = fmt.Fprintf(w, "✓ %s %s/%s\n", verb, target.provider, name)
		if o.Result != nil {
			for _, key := range sortedKeys(o.Result.Metadata) {
				_, _ = fmt.Fprintf(w, "  %s: %v\n", key, o.Result.Metadata[key])
			}
		}
	default:
		_, _ = fmt.Fprintf(w, "✗ Rotation of %s/%s failed\n", target.provider, name)
		if o.Result != nil && o.Result.Error != "" {
			_, _ = fmt.Fprintf(w, "  %s\n", o.Result.Error)
		}
	}
	for _, warning := range o.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	return nil
}

// outcomeError turns a rotation that did not complete into a non-zero exit.
func outcomeError(o *orchestration.Outcome) error {
	switch o.Status {
	case orchestration.StatusCompleted:
		return nil
	case orchestration.StatusBlocked:
		return cgerrors.UserError{
			Message:    "Rotation blocked by policy",
			Suggestion: "Review the reasons above or evaluate policies with 'credgate evaluate'",
		}
	case orchestration.StatusRequiresApproval:
		return cgerrors.UserError{
			Message:    "Rotation requires approval",
			Suggestion: "Obtain approval for this rotation, then rerun it",
		}
	default:
		return cgerrors.UserError{
			Message:    "Rotation failed",
			Suggestion: "Check connector settings and cloud credentials with 'credgate doctor'",
		}
	}
}
