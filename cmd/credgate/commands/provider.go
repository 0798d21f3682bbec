package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/credentials"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/logging"
)

func NewProviderCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Configure how a workspace obtains provider credentials",
	}
	cmd.AddCommand(
		newProviderSetCommand(cfg),
		newProviderPutSecretCommand(cfg),
		newProviderStoreTokenCommand(cfg),
	)
	return cmd
}

func newProviderSetCommand(cfg *config.Config) *cobra.Command {
	var (
		workspace string
		provider  string
		mode      string
		file      string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the credential mode and settings of a provider",
		Long: `Set the credential mode of a workspace provider. Mode settings are read
from a YAML file and validated against the mode's schema, e.g. for kms:

  kms_provider: aws
  aws_region: eu-central-1
  secrets:
    api_key: arn:aws:secretsmanager:eu-central-1:123456789012:secret:api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || provider == "" {
				return cgerrors.UserError{
					Message:    "Workspace and provider are required",
					Suggestion: "Pass --workspace and --provider",
				}
			}
			parsed, err := credentials.ParseMode(mode)
			if err != nil {
				return cgerrors.UserError{
					Message:    err.Error(),
					Suggestion: fmt.Sprintf("Use one of: %s", joinModes()),
				}
			}
			guard, err := loadGuard(cfg)
			if err != nil {
				return err
			}
			if err := guard.CheckProvider("", provider); err != nil {
				return err
			}
			fields, err := readFields(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.configs.SaveProviderConfig(ctx, workspace, provider, credentials.ProviderConfig{Mode: parsed, Fields: fields}); err != nil {
				return err
			}
			cfg.Logger.Info("✓ %s now resolves via %s", provider, parsed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace ID")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider name")
	cmd.Flags().StringVar(&mode, "mode", string(credentials.ModeHosted), "Credential mode: "+joinModes())
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with mode settings")
	return cmd
}

func joinModes() string {
	modes := credentials.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func readFields(path string) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if path == "" {
		return fields, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cgerrors.UserError{
			Message:    "Failed to read settings file",
			Details:    err.Error(),
			Suggestion: "Check the --file path",
			Err:        err,
		}
	}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, cgerrors.ConfigError{
			Field:      "file",
			Value:      path,
			Message:    "invalid YAML syntax in settings file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	return fields, nil
}

// readSecretValue reads a value from the named environment variable, or the
// first line of r.
func readSecretValue(envName string, r io.Reader) (logging.Secret, error) {
	if envName != "" {
		v := os.Getenv(envName)
		if v == "" {
			return "", cgerrors.UserError{
				Message:    fmt.Sprintf("Environment variable %s is not set", envName),
				Suggestion: "Export the variable or pipe the value on stdin",
			}
		}
		return logging.Secret(v), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", cgerrors.UserError{
			Message:    "No value provided",
			Suggestion: "Pipe the value on stdin or use --from-env",
		}
	}
	return logging.Secret(line), nil
}

func newProviderPutSecretCommand(cfg *config.Config) *cobra.Command {
	var (
		target  targetFlags
		fromEnv string
	)

	cmd := &cobra.Command{
		Use:   "put-secret",
		Short: "Store a hosted credential, encrypted per workspace",
		Long: `Store a credential in the hosted vault. The value is read from stdin or,
with --from-env, from an environment variable; it is never taken as a flag.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			value, err := readSecretValue(fromEnv, cmd.InOrStdin())
			if err != nil {
				return err
			}
			guard, err := loadGuard(cfg)
			if err != nil {
				return err
			}
			if err := guard.CheckProvider("", target.provider); err != nil {
				return err
			}
			if err := guard.CheckSecretValue(value.Reveal()); err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.vault.PutCredential(ctx, target.workspace, target.provider, target.secret, value.Reveal()); err != nil {
				return err
			}
			if err := svc.resolver.InvalidateCache(ctx, target.workspace, target.provider, target.secret); err != nil {
				cfg.Logger.Warn("Failed to invalidate cached credential: %v", err)
			}
			cfg.Logger.Info("✓ Stored %s/%s", target.provider, logging.Secret(target.secret))
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the value from this environment variable")
	return cmd
}

func newProviderStoreTokenCommand(cfg *config.Config) *cobra.Command {
	var (
		workspace string
		provider  string
		fromEnv   string
	)

	cmd := &cobra.Command{
		Use:   "store-token",
		Short: "Store an OAuth refresh token for a workspace provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" || provider == "" {
				return cgerrors.UserError{
					Message:    "Workspace and provider are required",
					Suggestion: "Pass --workspace and --provider",
				}
			}
			token, err := readSecretValue(fromEnv, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.oauth.StoreRefreshToken(ctx, workspace, provider, token.Reveal()); err != nil {
				return err
			}
			cfg.Logger.Info("✓ Stored refresh token for %s", provider)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace ID")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider name")
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the token from this environment variable")
	return cmd
}
