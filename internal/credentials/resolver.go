// Package credentials resolves provider credentials for a workspace.
//
// The resolver consults the cache, looks up the provider's configured mode and
// dispatches to the matching source. OAuth and KMS sources sit behind circuit
// breakers and are retried with exponential backoff; KMS falls back to the
// hosted vault when it is unavailable.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/retry"
)

// Resolver resolves credentials across all modes.
type Resolver struct {
	cache   Cache
	configs ConfigStore
	vault   VaultStore

	oauth  Fetcher
	kms    Fetcher
	apiKey Fetcher

	breaker *breaker.CircuitBreaker
	health  HealthRecorder

	retry        retry.Policy
	sleep        retry.SleepFunc
	singleFlight bool
	group        singleflight.Group

	now     func() time.Time
	logger  *logging.Logger
	metrics *Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOAuth sets the OAuth source.
func WithOAuth(f Fetcher) Option {
	return func(r *Resolver) { r.oauth = f }
}

// WithKMS sets the KMS source.
func WithKMS(f Fetcher) Option {
	return func(r *Resolver) { r.kms = f }
}

// WithAPIKey sets the API key source.
func WithAPIKey(f Fetcher) Option {
	return func(r *Resolver) { r.apiKey = f }
}

// WithBreaker shares a circuit breaker with other components.
func WithBreaker(b *breaker.CircuitBreaker) Option {
	return func(r *Resolver) { r.breaker = b }
}

// WithHealth sets the health recorder.
func WithHealth(h HealthRecorder) Option {
	return func(r *Resolver) { r.health = h }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Resolver) { r.retry = p }
}

// WithSleep overrides the backoff sleep (for testing).
func WithSleep(sleep retry.SleepFunc) Option {
	return func(r *Resolver) { r.sleep = sleep }
}

// WithSingleFlight toggles coalescing of concurrent misses for the same key.
func WithSingleFlight(enabled bool) Option {
	return func(r *Resolver) { r.singleFlight = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. The hosted path is always available; the
// other modes fail with a configuration error until their source is set.
func NewResolver(cache Cache, configs ConfigStore, vault VaultStore, opts ...Option) *Resolver {
	r := &Resolver{
		cache:        cache,
		configs:      configs,
		vault:        vault,
		health:       noopHealth{},
		retry:        retry.DefaultPolicy(),
		sleep:        retry.Sleep,
		singleFlight: true,
		now:          time.Now,
		logger:       logging.Discard(),
		metrics:      NewMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = breaker.New(breaker.DefaultConfig(), breaker.WithLogger(r.logger))
	}
	return r
}

// Breaker returns the resolver's circuit breaker.
func (r *Resolver) Breaker() *breaker.CircuitBreaker {
	return r.breaker
}

// Resolve returns the credential for a workspace, provider and secret.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	value, ok, err := r.cache.Get(ctx, workspaceID, provider, secretName)
	if err != nil {
		r.logger.Warn("Credential cache lookup failed for %s: %v", provider, err)
	} else if ok {
		r.metrics.RecordCacheLookup(true)
		r.logger.Debug("Cache hit for %s/%s", provider, logging.Secret(secretName))
		return value, nil
	}
	r.metrics.RecordCacheLookup(false)

	if !r.singleFlight {
		return r.resolveAndStore(ctx, workspaceID, provider, secretName)
	}

	key := workspaceID + "\x00" + provider + "\x00" + secretName
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.resolveAndStore(ctx, workspaceID, provider, secretName)
	})

	select {
	case <-ctx.Done():
		return "", &Error{Kind: KindCanceled, Provider: provider, Op: "resolve", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			// The shared call ran under another caller's context. If that
			// caller went away, resolve again under ours.
			if KindOf(res.Err) == KindCanceled && ctx.Err() == nil {
				return r.resolveAndStore(ctx, workspaceID, provider, secretName)
			}
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// InvalidateCache drops a cached credential.
func (r *Resolver) InvalidateCache(ctx context.Context, workspaceID, provider, secretName string) error {
	if err := r.cache.Invalidate(ctx, workspaceID, provider, secretName); err != nil {
		return fmt.Errorf("failed to invalidate cached credential: %w", err)
	}
	return nil
}

// ModeFor returns the configured mode for a provider, defaulting to hosted.
func (r *Resolver) ModeFor(ctx context.Context, workspaceID, provider string) (Mode, error) {
	cfg, err := r.configs.GetProviderConfig(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, ErrNoProviderConfig) {
			return ModeHosted, nil
		}
		return "", classify("", provider, "mode lookup failed", err)
	}
	if cfg == nil || cfg.Mode == "" {
		return ModeHosted, nil
	}
	return cfg.Mode, nil
}

func (r *Resolver) resolveAndStore(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	start := r.now()

	mode, err := r.ModeFor(ctx, workspaceID, provider)
	if err != nil {
		return "", err
	}

	value, err := r.dispatch(ctx, mode, workspaceID, provider, secretName)
	r.metrics.RecordResolution(mode, outcome(err), r.now().Sub(start).Seconds())
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ctx, workspaceID, provider, secretName, value); err != nil {
		r.logger.Warn("Failed to cache credential for %s: %v", provider, err)
	}
	return value, nil
}

func (r *Resolver) dispatch(ctx context.Context, mode Mode, workspaceID, provider, secretName string) (string, error) {
	switch mode {
	case ModeHosted:
		return r.resolveHosted(ctx, workspaceID, provider, secretName)
	case ModeOAuth:
		return r.resolveOAuth(ctx, workspaceID, provider, secretName)
	case ModeKMS:
		return r.resolveKMS(ctx, workspaceID, provider, secretName)
	case ModeAPIKey:
		return r.resolveAPIKey(ctx, workspaceID, provider, secretName)
	default:
		return "", &Error{
			Kind:     KindConfiguration,
			Mode:     mode,
			Provider: provider,
			Op:       "unsupported credential mode",
		}
	}
}

func (r *Resolver) resolveHosted(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	var value string
	err := retry.Do(ctx, r.retry, r.sleep, r.retryHooks(ModeHosted, provider), func(ctx context.Context, _ int) error {
		v, err := r.vault.GetCredential(ctx, workspaceID, provider, secretName)
		if err != nil {
			if !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", r.wrapFailure(ModeHosted, provider, "vault read failed", err)
	}
	return value, nil
}

func (r *Resolver) resolveOAuth(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	if r.oauth == nil {
		return "", &Error{Kind: KindConfiguration, Mode: ModeOAuth, Provider: provider, Op: "no OAuth source configured"}
	}

	key := breaker.Key(string(ModeOAuth), workspaceID, provider)
	if !r.breaker.CanAttempt(key) {
		err := &Error{Kind: KindCircuitOpen, Mode: ModeOAuth, Provider: provider, Op: "circuit breaker open"}
		r.health.RecordFailure(ctx, workspaceID, provider, ModeOAuth, err)
		return "", err
	}

	value, err := r.attempt(ctx, ModeOAuth, r.oauth, workspaceID, provider, secretName)
	if err != nil {
		r.recordFailure(ctx, key, ModeOAuth, workspaceID, provider, err)
		return "", err
	}

	r.breaker.RecordSuccess(key)
	r.health.RecordSuccess(ctx, workspaceID, provider, ModeOAuth)
	return value, nil
}

func (r *Resolver) resolveKMS(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	if r.kms == nil {
		r.logger.Warn("No KMS source configured for %s, using hosted vault", provider)
		r.metrics.RecordFallback("unconfigured")
		return r.resolveHosted(ctx, workspaceID, provider, secretName)
	}

	key := breaker.Key(string(ModeKMS), workspaceID, provider)
	if !r.breaker.CanAttempt(key) {
		err := &Error{Kind: KindCircuitOpen, Mode: ModeKMS, Provider: provider, Op: "circuit breaker open"}
		r.health.RecordFailure(ctx, workspaceID, provider, ModeKMS, err)
		r.logger.Warn("Circuit breaker open for KMS (%s), falling back to hosted vault", provider)
		r.metrics.RecordFallback("circuit_open")
		return r.resolveHosted(ctx, workspaceID, provider, secretName)
	}

	value, err := r.attempt(ctx, ModeKMS, r.kms, workspaceID, provider, secretName)
	if err != nil {
		r.recordFailure(ctx, key, ModeKMS, workspaceID, provider, err)
		if KindOf(err) == KindCanceled {
			return "", err
		}
		r.logger.Warn("KMS resolution failed for %s, falling back to hosted vault: %v", provider, err)
		r.metrics.RecordFallback(KindOf(err).String())
		return r.resolveHosted(ctx, workspaceID, provider, secretName)
	}

	r.breaker.RecordSuccess(key)
	r.health.RecordSuccess(ctx, workspaceID, provider, ModeKMS)
	return value, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	if r.apiKey == nil {
		return "", &Error{Kind: KindConfiguration, Mode: ModeAPIKey, Provider: provider, Op: "no API key source configured"}
	}

	value, err := r.apiKey.Fetch(ctx, workspaceID, provider, secretName)
	if err != nil {
		return "", r.wrapFailure(ModeAPIKey, provider, "API key fetch failed", err)
	}
	return value, nil
}

// attempt runs one retry series against a remote source.
func (r *Resolver) attempt(ctx context.Context, mode Mode, source Fetcher, workspaceID, provider, secretName string) (string, error) {
	var value string
	err := retry.Do(ctx, r.retry, r.sleep, r.retryHooks(mode, provider), func(ctx context.Context, _ int) error {
		v, err := source.Fetch(ctx, workspaceID, provider, secretName)
		if err != nil {
			if !retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", r.wrapFailure(mode, provider, string(mode)+" resolution failed", err)
	}
	return value, nil
}

// recordFailure updates breaker and health after a failed series. Cancellation
// says nothing about the dependency and is not recorded. A configuration error
// is local to this process, so it reaches health but not the breaker.
func (r *Resolver) recordFailure(ctx context.Context, key string, mode Mode, workspaceID, provider string, err error) {
	kind := KindOf(err)
	if kind == KindCanceled {
		return
	}
	if kind != KindConfiguration {
		r.breaker.RecordFailure(key)
	}
	r.health.RecordFailure(ctx, workspaceID, provider, mode, err)
}

func (r *Resolver) wrapFailure(mode Mode, provider, op string, err error) *Error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return classify(mode, provider, fmt.Sprintf("%s after %d attempts", op, exhausted.Attempts), exhausted.Last)
	}
	return classify(mode, provider, op, err)
}

func (r *Resolver) retryHooks(mode Mode, provider string) retry.Hooks {
	return retry.Hooks{
		OnRetry: func(attempt int, wait time.Duration, err error) {
			r.metrics.RecordRetry(mode)
			r.logger.Warn("%s resolution for %s failed (attempt %d), retrying in %s: %v", mode, provider, attempt, wait, err)
		},
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}
