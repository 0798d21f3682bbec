package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/logging"
)

func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var (
		target   targetFlags
		showMode bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a credential and print its value",
		Long: `Resolve a workspace credential through its configured mode.

The provider configuration of the workspace selects the source: hosted vault,
OAuth token exchange, cloud secret manager (kms) or an API-key endpoint.
Transient failures are retried with backoff and remote sources are guarded by
a circuit breaker.

Examples:
  # Print a hosted credential
  credgate resolve -w 7f0c... -p stripe -s api_key

  # Exchange a stored GitHub refresh token for an access token
  credgate resolve -w 7f0c... -p github -s token --show-mode`,
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

			if showMode {
				mode, err := svc.resolver.ModeFor(ctx, target.workspace, target.provider)
				if err != nil {
					return explainResolveError(err)
				}
				cfg.Logger.Info("Resolving %s/%s via %s", target.provider, logging.Secret(target.secret), mode)
			}

			value, err := svc.resolver.Resolve(ctx, target.workspace, target.provider, target.secret)
			if err != nil {
				return explainResolveError(err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}

	target.register(cmd)
	cmd.Flags().BoolVar(&showMode, "show-mode", false, "Log the credential mode used")
	return cmd
}

func NewInvalidateCommand(cfg *config.Config) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop a cached credential and re-resolve it",
		Long: `Evict a credential from the resolver cache, then resolve it again from
its source to confirm the source still serves it. The value is not printed.`,
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

			if err := svc.resolver.InvalidateCache(ctx, target.workspace, target.provider, target.secret); err != nil {
				return fmt.Errorf("failed to invalidate cache: %w", err)
			}
			if _, err := svc.resolver.Resolve(ctx, target.workspace, target.provider, target.secret); err != nil {
				return explainResolveError(err)
			}
			cfg.Logger.Info("✓ %s/%s re-resolved from source", target.provider, logging.Secret(target.secret))
			return nil
		},
	}

	target.register(cmd)
	return cmd
}
