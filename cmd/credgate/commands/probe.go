package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/credentials"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/health"
	"github.com/systmms/credgate/internal/orchestration"
	"github.com/systmms/credgate/internal/policy"
)

func NewProbeCommand(cfg *config.Config) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Resolve the configured probe targets on an interval",
		Long: `Resolve every target under 'probe.targets' in credgate.yaml, bypassing
the cache, on the configured interval. Failures feed the circuit breaker and
the credential health monitor.

With metrics.enabled, Prometheus metrics are served on metrics.path and
credential health and breaker state on /health/credentials and
/health/breakers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := openServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			def := cfg.Definition
			if len(def.Probe.Targets) == 0 {
				return cgerrors.ConfigError{
					Field:      "probe.targets",
					Message:    "no probe targets configured",
					Suggestion: "List the credentials to probe under probe.targets in credgate.yaml",
				}
			}
			prober := health.NewProber(def.ProberSettings(), svc.resolver, def.Probe.Targets, cfg.Logger)

			if once {
				results := prober.ProbeOnce(ctx)
				if err := renderProbeResults(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				return probeError(results)
			}

			initMetrics()
			server := health.NewMetricsServer(def.MetricsServerSettings(), svc.monitor, cfg.Logger)
			server.AttachBreaker(svc.breaker)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Stop(shutdownCtx)
			}()

			cfg.Logger.Info("Probing %d targets every %s", len(def.Probe.Targets), def.ProberSettings().Interval)
			err = prober.Run(ctx, func(results []health.ProbeResult) {
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
					}
				}
				purged := svc.cache.Purge()
				cfg.Logger.Debug("Probe round: %d/%d healthy, purged %d expired cache entries (%d held)",
					len(results)-failed, len(results), purged, svc.cache.Len())
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Probe every target once, print the results and exit")
	return cmd
}

// initMetrics registers every credgate collector with the default registry.
func initMetrics() {
	breaker.InitMetrics()
	credentials.InitMetrics()
	health.InitMetrics()
	policy.InitMetrics()
	orchestration.InitMetrics()
}

func renderProbeResults(w io.Writer, results []health.ProbeResult) error {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "TARGET\tWORKSPACE\tSTATUS\tDURATION\n")
	for _, r := range results {
		status := "✓ ok"
		if r.Err != nil {
			status = "✗ " + credentials.KindOf(r.Err).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Target, r.Target.WorkspaceID, status, r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func probeError(results []health.ProbeResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d/%d probe targets failed", failed, len(results))
}
