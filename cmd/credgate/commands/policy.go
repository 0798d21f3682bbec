package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/credgate/internal/config"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/policy"
)

func NewPolicyCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage rotation policies",
	}
	cmd.AddCommand(
		newPolicyCreateCommand(cfg),
		newPolicyListCommand(cfg),
		newPolicyToggleCommand(cfg, "enable", true),
		newPolicyToggleCommand(cfg, "disable", false),
	)
	return cmd
}

func newPolicyCreateCommand(cfg *config.Config) *cobra.Command {
	var (
		file      string
		workspace string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a policy from a YAML file",
		Long: `Create an enabled policy from a YAML document:

  name: business-hours-only
  priority: 100
  scope: provider
  provider_pattern: aws
  rules:
    rotation_limits:
      soft_limit: 5
      hard_limit: 10
      period: 30d
    maintenance_windows:
      - day_of_week: mon-fri
        start_time: "09:00"
        end_time: "17:00"
        timezone: Europe/Berlin
    allowed_environments: [staging, production]

Rules are validated against the policy rules schema before they are stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			np, err := readPolicyFile(file)
			if err != nil {
				return err
			}
			if workspace != "" {
				np.WorkspaceID = workspace
			}
			if np.WorkspaceID == "" {
				return cgerrors.UserError{
					Message:    "Workspace is required",
					Suggestion: "Set workspace_id in the policy file or pass --workspace",
				}
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			created, err := svc.engine.CreatePolicy(ctx, np)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", created.ID)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Policy YAML file")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace ID (overrides workspace_id in the file)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readPolicyFile(path string) (policy.NewPolicy, error) {
	var np policy.NewPolicy
	data, err := os.ReadFile(path)
	if err != nil {
		return np, cgerrors.UserError{
			Message:    "Failed to read policy file",
			Details:    err.Error(),
			Suggestion: "Check the --file path",
			Err:        err,
		}
	}
	if err := yaml.Unmarshal(data, &np); err != nil {
		return np, cgerrors.ConfigError{
			Field:      "file",
			Value:      path,
			Message:    "invalid YAML syntax in policy file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	return np, nil
}

func newPolicyListCommand(cfg *config.Config) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List enabled policies in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return cgerrors.UserError{Message: "Workspace is required", Suggestion: "Pass --workspace"}
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			policies, err := svc.policies.ListEnabledPolicies(ctx, workspace)
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout())
			_, _ = fmt.Fprintf(w, "ID\tNAME\tPRIORITY\tSCOPE\tPROVIDER\tSECRET\n")
			for _, p := range policies {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					p.ID, p.Name, p.Priority, p.Scope, orDash(p.ProviderPattern), orDash(p.SecretPattern))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace ID")
	return cmd
}

func newPolicyToggleCommand(cfg *config.Config, verb string, enabled bool) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   verb + " <policy-id>",
		Short: fmt.Sprintf("%s a policy", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return cgerrors.UserError{
					Message:    fmt.Sprintf("Invalid policy ID: %s", args[0]),
					Suggestion: "Use an ID printed by 'credgate policy list'",
				}
			}
			if workspace == "" {
				return cgerrors.UserError{Message: "Workspace is required", Suggestion: "Pass --workspace"}
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.policies.SetPolicyEnabled(ctx, workspace, id, enabled); err != nil {
				return err
			}
			cfg.Logger.Info("✓ Policy %s %sd", id, verb)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace ID")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
