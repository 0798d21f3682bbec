package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/policy"
)

func NewEvaluateCommand(cfg *config.Config) *cobra.Command {
	var (
		target      targetFlags
		environment string
		count       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate workspace policies for a rotation without rotating",
		Long: `Evaluate every enabled policy of a workspace that applies to a secret
and print the aggregated decision.

The rotation count defaults to the rotations recorded over the configured
metering period; use --count to evaluate a hypothetical count instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if !cmd.Flags().Changed("count") {
				count, err = svc.engine.RotationCount(ctx, target.workspace, cfg.Definition.Rotation.MeteringPeriodDays)
				if err != nil {
					return err
				}
			}

			summary, err := svc.engine.EvaluatePolicies(ctx, policy.EvaluationContext{
				WorkspaceID:          target.workspace,
				Provider:             target.provider,
				SecretName:           target.secret,
				Environment:          environment,
				CurrentRotationCount: count,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return renderSummary(cmd.OutOrStdout(), summary, count)
		},
	}

	target.register(cmd)
	cmd.Flags().StringVarP(&environment, "env", "e", "", "Target environment")
	cmd.Flags().IntVar(&count, "count", 0, "Rotation count to evaluate against")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

// decisionText is the one-word outcome of a summary.
func decisionText(s *policy.Summary) string {
	switch {
	case !s.Allowed:
		return "BLOCKED"
	case s.RequiresApproval:
		return "REQUIRES APPROVAL"
	case len(s.Warnings) > 0:
		return "ALLOWED WITH WARNINGS"
	default:
		return "ALLOWED"
	}
}

func renderSummary(w io.Writer, s *policy.Summary, count int) error {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "POLICY\tACTION\tPASSED\tREASON\n")
	_, _ = fmt.Fprintf(tw, "------\t------\t------\t------\n")
	for _, r := range s.Results {
		passed := "✓"
		if !r.Passed {
			passed = "✗"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.PolicyName, r.Action, passed, r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "\nRotations in period: %d\n", count)
	_, _ = fmt.Fprintf(w, "Decision: %s\n", decisionText(s))
	for _, reason := range s.BlockingReasons {
		_, _ = fmt.Fprintf(w, "  ✗ %s\n", reason)
	}
	for _, warning := range s.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	return nil
}
