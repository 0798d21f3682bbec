package health

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/credgate/internal/credentials"
	"github.com/systmms/credgate/internal/logging"
)

// Resolver is the part of credentials.Resolver a Prober drives.
type Resolver interface {
	Resolve(ctx context.Context, workspaceID, provider, secretName string) (string, error)
	InvalidateCache(ctx context.Context, workspaceID, provider, secretName string) error
}

// Target is one credential to probe.
type Target struct {
	WorkspaceID string `yaml:"workspace_id"`
	Provider    string `yaml:"provider"`
	SecretName  string `yaml:"secret"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Provider, logging.Secret(t.SecretName))
}

// ProbeResult is the outcome of probing one target. The resolved value is
// discarded.
type ProbeResult struct {
	Target   Target
	Err      error
	Duration time.Duration
}

// ProberConfig holds configuration for the prober.
type ProberConfig struct {
	// Interval is how often targets are probed.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout bounds a single target's resolution.
	// Default: 10 seconds
	Timeout time.Duration
}

// DefaultProberConfig returns the default prober configuration.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Prober resolves a fixed set of targets on an interval, bypassing the cache
// so the resolver's breaker and health recorder see real source calls.
type Prober struct {
	config   ProberConfig
	resolver Resolver
	targets  []Target
	logger   *logging.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewProber creates a prober.
func NewProber(config ProberConfig, resolver Resolver, targets []Target, logger *logging.Logger) *Prober {
	defaults := DefaultProberConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Prober{
		config:   config,
		resolver: resolver,
		targets:  targets,
		logger:   logger,
		metrics:  NewMetrics(),
		now:      time.Now,
	}
}

// Run probes immediately and then on every interval until ctx ends.
// onRound, when non-nil, receives the results of each round.
func (p *Prober) Run(ctx context.Context, onRound func([]ProbeResult)) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		results := p.ProbeOnce(ctx)
		if onRound != nil {
			onRound(results)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProbeOnce probes every target sequentially.
func (p *Prober) ProbeOnce(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, 0, len(p.targets))
	for _, target := range p.targets {
		if ctx.Err() != nil {
			break
		}
		results = append(results, p.probe(ctx, target))
	}
	return results
}

func (p *Prober) probe(ctx context.Context, target Target) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := p.now()
	if err := p.resolver.InvalidateCache(ctx, target.WorkspaceID, target.Provider, target.SecretName); err != nil {
		p.logger.Warn("Probe could not invalidate cache for %s: %v", target, err)
	}

	_, err := p.resolver.Resolve(ctx, target.WorkspaceID, target.Provider, target.SecretName)
	duration := p.now().Sub(start)

	outcome := "success"
	if err != nil {
		outcome = credentials.KindOf(err).String()
		p.logger.Warn("Probe failed for %s: %v", target, err)
	} else {
		p.logger.Debug("Probe succeeded for %s in %s", target, duration)
	}
	p.metrics.RecordProbe(target.Provider, outcome, duration.Seconds())

	return ProbeResult{Target: target, Err: err, Duration: duration}
}
