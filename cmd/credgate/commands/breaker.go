package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/config"
	cgerrors "github.com/systmms/credgate/internal/errors"
)

func NewBreakerCommand(cfg *config.Config) *cobra.Command {
	var (
		addr     string
		provider string
		onlyOpen bool
	)

	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Show circuit breaker state of a running probe",
		Long: `Breaker state is process-local. This command reads it from the
/health/breakers endpoint of a running 'credgate probe' process.

Examples:
  credgate breaker
  credgate breaker --addr http://probe.internal:9090 --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				if err := loadConfig(cfg); err != nil {
					return err
				}
				addr = fmt.Sprintf("http://localhost:%d", cfg.Definition.Metrics.Port)
			}

			snapshots, err := fetchBreakers(cmd, addr)
			if err != nil {
				return err
			}

			filtered := snapshots[:0]
			for _, s := range snapshots {
				if onlyOpen && s.State == breaker.StateClosed {
					continue
				}
				if provider != "" && !strings.HasSuffix(s.Key, ":"+provider) {
					continue
				}
				filtered = append(filtered, s)
			}
			return renderBreakers(cmd.OutOrStdout(), filtered)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Base URL of the probe's metrics server (default from config)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Only show circuits of this provider")
	cmd.Flags().BoolVar(&onlyOpen, "open", false, "Only show open and half-open circuits")
	return cmd
}

func fetchBreakers(cmd *cobra.Command, addr string) ([]breaker.Snapshot, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimRight(addr, "/") + "/health/breakers"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, cgerrors.UserError{
			Message:    "Cannot reach the probe's metrics server",
			Details:    err.Error(),
			Suggestion: "Start 'credgate probe' with metrics.enabled: true, or pass --addr",
			Err:        err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	var snapshots []breaker.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode breaker snapshot: %w", err)
	}
	return snapshots, nil
}

func renderBreakers(w io.Writer, snapshots []breaker.Snapshot) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(w, "No circuits recorded")
		return err
	}

	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "CIRCUIT\tSTATE\tFAILURES\tLAST FAILURE\n")
	for _, s := range snapshots {
		last := "-"
		if !s.LastFailureTime.IsZero() {
			last = s.LastFailureTime.UTC().Format(time.RFC3339)
		}
		state := string(s.State)
		if s.State != breaker.StateClosed {
			state = "⚠ " + state
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Key, state, s.FailureCount, last)
	}
	return tw.Flush()
}
