package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/credentials"
	"github.com/systmms/credgate/internal/crypto"
	cgerrors "github.com/systmms/credgate/internal/errors"
	"github.com/systmms/credgate/internal/health"
	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
	"github.com/systmms/credgate/internal/policy"
	"github.com/systmms/credgate/internal/retry"
	"github.com/systmms/credgate/internal/store"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "credgate.yaml"

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the credgate.yaml structure
type Definition struct {
	Version    int                          `yaml:"version"`
	Database   DatabaseConfig               `yaml:"database"`
	Breaker    BreakerConfig                `yaml:"breaker"`
	Retry      RetryConfig                  `yaml:"retry"`
	Cache      CacheConfig                  `yaml:"cache"`
	Encryption EncryptionConfig             `yaml:"encryption"`
	Rotation   RotationConfig               `yaml:"rotation"`
	Metrics    MetricsConfig                `yaml:"metrics"`
	OAuth      map[string]OAuthClientConfig `yaml:"oauth,omitempty"`
	Connectors map[string]ConnectorConfig   `yaml:"connectors,omitempty"`
	Probe      ProbeConfig                  `yaml:"probe"`
	Guardrails policy.Guardrails            `yaml:"guardrails,omitempty"`
}

// DatabaseConfig locates the credgate database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
	// DSNEnv names an environment variable holding the DSN; it wins over DSN.
	DSNEnv                 string `yaml:"dsn_env,omitempty"`
	MaxOpenConns           int    `yaml:"max_open_conns,omitempty"`
	MaxIdleConns           int    `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds,omitempty"`
}

// BreakerConfig tunes the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	TimeoutSeconds      int `yaml:"timeout_seconds"`
	HalfOpenMaxRequests int `yaml:"half_open_max_requests"`
}

// RetryConfig tunes retries of transient source failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

// CacheConfig tunes the resolved credential cache.
type CacheConfig struct {
	TTLSeconds   int   `yaml:"ttl_seconds"`
	SingleFlight *bool `yaml:"single_flight,omitempty"`
}

// EncryptionConfig names where the master key comes from. The OS keychain
// is consulted only when the environment variable is unset.
type EncryptionConfig struct {
	MasterKeyEnv   string `yaml:"master_key_env"`
	KeyringService string `yaml:"keyring_service,omitempty"`
}

// RotationConfig tunes rotation admission.
type RotationConfig struct {
	MeteringPeriodDays int `yaml:"metering_period_days"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// OAuthClientConfig is the OAuth application used for one provider.
type OAuthClientConfig struct {
	ClientID        string   `yaml:"client_id"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	TokenURL        string   `yaml:"token_url,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty"`
}

// ConnectorConfig holds connector-specific settings for a rotation target
type ConnectorConfig struct {
	Settings map[string]interface{} `yaml:",inline"`
}

// ProbeConfig lists the credentials the probe command resolves.
type ProbeConfig struct {
	IntervalSeconds int             `yaml:"interval_seconds"`
	TimeoutSeconds  int             `yaml:"timeout_seconds"`
	Targets         []health.Target `yaml:"targets,omitempty"`
}

// Load reads and parses the credgate.yaml file
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cgerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create credgate.yaml or pass --config with the path to your configuration",
			}
		}
		return cgerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	return nil
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, cgerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return nil, cgerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your credgate.yaml file",
		}
	}

	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Database.Driver == "" {
		d.Database.Driver = "postgres"
	}

	b := breaker.DefaultConfig()
	if d.Breaker.FailureThreshold == 0 {
		d.Breaker.FailureThreshold = b.FailureThreshold
	}
	if d.Breaker.TimeoutSeconds == 0 {
		d.Breaker.TimeoutSeconds = int(b.Timeout / time.Second)
	}
	if d.Breaker.HalfOpenMaxRequests == 0 {
		d.Breaker.HalfOpenMaxRequests = b.HalfOpenMaxRequests
	}

	r := retry.DefaultPolicy()
	if d.Retry.MaxAttempts == 0 {
		d.Retry.MaxAttempts = r.MaxAttempts
	}
	if d.Retry.InitialBackoffMs == 0 {
		d.Retry.InitialBackoffMs = int(r.InitialBackoff / time.Millisecond)
	}

	if d.Cache.TTLSeconds == 0 {
		d.Cache.TTLSeconds = 300
	}
	if d.Encryption.MasterKeyEnv == "" {
		d.Encryption.MasterKeyEnv = "CREDGATE_MASTER_KEY"
	}
	if d.Rotation.MeteringPeriodDays == 0 {
		d.Rotation.MeteringPeriodDays = 30
	}

	m := health.DefaultMetricsServerConfig()
	if d.Metrics.Port == 0 {
		d.Metrics.Port = m.Port
	}
	if d.Metrics.Path == "" {
		d.Metrics.Path = m.Path
	}

	p := health.DefaultProberConfig()
	if d.Probe.IntervalSeconds == 0 {
		d.Probe.IntervalSeconds = int(p.Interval / time.Second)
	}
	if d.Probe.TimeoutSeconds == 0 {
		d.Probe.TimeoutSeconds = int(p.Timeout / time.Second)
	}
}

// Validate checks field ranges after defaults are applied.
func (d *Definition) Validate() error {
	if _, err := store.ParseDialect(d.Database.Driver); err != nil {
		return cgerrors.ConfigError{
			Field:      "database.driver",
			Value:      d.Database.Driver,
			Message:    "unsupported database driver",
			Suggestion: "Use 'postgres' or 'mysql'",
		}
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"breaker.failure_threshold", d.Breaker.FailureThreshold},
		{"breaker.timeout_seconds", d.Breaker.TimeoutSeconds},
		{"breaker.half_open_max_requests", d.Breaker.HalfOpenMaxRequests},
		{"retry.max_attempts", d.Retry.MaxAttempts},
		{"retry.initial_backoff_ms", d.Retry.InitialBackoffMs},
		{"cache.ttl_seconds", d.Cache.TTLSeconds},
		{"rotation.metering_period_days", d.Rotation.MeteringPeriodDays},
		{"probe.interval_seconds", d.Probe.IntervalSeconds},
		{"probe.timeout_seconds", d.Probe.TimeoutSeconds},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return cgerrors.ConfigError{
				Field:      p.field,
				Value:      p.value,
				Message:    "must not be negative",
				Suggestion: "Remove the field to use the default",
			}
		}
	}

	if d.Metrics.Port < 1 || d.Metrics.Port > 65535 {
		return cgerrors.ConfigError{
			Field:      "metrics.port",
			Value:      d.Metrics.Port,
			Message:    "port out of range",
			Suggestion: "Use a port between 1 and 65535",
		}
	}
	if !strings.HasPrefix(d.Metrics.Path, "/") {
		return cgerrors.ConfigError{
			Field:      "metrics.path",
			Value:      d.Metrics.Path,
			Message:    "path must start with '/'",
			Suggestion: "Use a path like /metrics",
		}
	}

	for name, client := range d.OAuth {
		if client.ClientID == "" {
			return cgerrors.ConfigError{
				Field:      fmt.Sprintf("oauth.%s.client_id", name),
				Message:    "client_id is required",
				Suggestion: "Copy the client id from the OAuth application settings of " + name,
			}
		}
	}

	for i, t := range d.Probe.Targets {
		if t.WorkspaceID == "" || t.Provider == "" || t.SecretName == "" {
			return cgerrors.ConfigError{
				Field:      fmt.Sprintf("probe.targets[%d]", i),
				Message:    "workspace_id, provider and secret are required",
				Suggestion: "Every probe target names one credential to resolve",
			}
		}
	}

	if _, err := policy.NewGuard(d.Guardrails); err != nil {
		return err
	}
	return nil
}

// Guard compiles the guardrails section.
func (d *Definition) Guard() (*policy.Guard, error) {
	return policy.NewGuard(d.Guardrails)
}

// ResolveDSN returns the database DSN, reading DSNEnv when set.
func (d DatabaseConfig) ResolveDSN() (string, error) {
	if d.DSNEnv == "" {
		if d.DSN == "" {
			return "", cgerrors.ConfigError{
				Field:      "database.dsn",
				Message:    "no database configured",
				Suggestion: "Set database.dsn or database.dsn_env in credgate.yaml",
			}
		}
		return d.DSN, nil
	}
	dsn := os.Getenv(d.DSNEnv)
	if dsn == "" {
		return "", cgerrors.ConfigError{
			Field:      "database.dsn_env",
			Value:      d.DSNEnv,
			Message:    "environment variable is not set",
			Suggestion: fmt.Sprintf("Export %s or add it to your .env file", d.DSNEnv),
		}
	}
	return dsn, nil
}

// StoreOptions returns the connection pool settings.
func (d DatabaseConfig) StoreOptions() store.Options {
	return store.Options{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: time.Duration(d.ConnMaxLifetimeSeconds) * time.Second,
	}
}

// BreakerSettings converts the breaker section.
func (d *Definition) BreakerSettings() breaker.Config {
	return breaker.Config{
		FailureThreshold:    d.Breaker.FailureThreshold,
		Timeout:             time.Duration(d.Breaker.TimeoutSeconds) * time.Second,
		HalfOpenMaxRequests: d.Breaker.HalfOpenMaxRequests,
	}
}

// RetryPolicy converts the retry section.
func (d *Definition) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    d.Retry.MaxAttempts,
		InitialBackoff: time.Duration(d.Retry.InitialBackoffMs) * time.Millisecond,
	}
}

// KeySource returns where the master key is read from.
func (d *Definition) KeySource() crypto.KeySource {
	return crypto.KeySource{Env: d.Encryption.MasterKeyEnv, KeyringService: d.Encryption.KeyringService}
}

// CacheTTL returns the credential cache TTL.
func (d *Definition) CacheTTL() time.Duration {
	return time.Duration(d.Cache.TTLSeconds) * time.Second
}

// SingleFlight reports whether concurrent resolutions are coalesced (default true).
func (d *Definition) SingleFlight() bool {
	return d.Cache.SingleFlight == nil || *d.Cache.SingleFlight
}

// MetricsServerSettings converts the metrics section.
func (d *Definition) MetricsServerSettings() health.MetricsServerConfig {
	cfg := health.DefaultMetricsServerConfig()
	cfg.Enabled = d.Metrics.Enabled
	cfg.Port = d.Metrics.Port
	cfg.Path = d.Metrics.Path
	return cfg
}

// ProberSettings converts the probe section.
func (d *Definition) ProberSettings() health.ProberConfig {
	return health.ProberConfig{
		Interval: time.Duration(d.Probe.IntervalSeconds) * time.Second,
		Timeout:  time.Duration(d.Probe.TimeoutSeconds) * time.Second,
	}
}

// OAuthClients resolves client secrets from the environment.
func (d *Definition) OAuthClients() (map[string]credentials.OAuthClient, error) {
	clients := make(map[string]credentials.OAuthClient, len(d.OAuth))
	for provider, c := range d.OAuth {
		var secret string
		if c.ClientSecretEnv != "" {
			secret = os.Getenv(c.ClientSecretEnv)
			if secret == "" {
				return nil, cgerrors.ConfigError{
					Field:      fmt.Sprintf("oauth.%s.client_secret_env", provider),
					Value:      c.ClientSecretEnv,
					Message:    "environment variable is not set",
					Suggestion: fmt.Sprintf("Export %s or add it to your .env file", c.ClientSecretEnv),
				}
			}
		}
		clients[provider] = credentials.OAuthClient{
			ClientID:     c.ClientID,
			ClientSecret: secret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		}
	}
	return clients, nil
}

// GetConnector returns the rotation settings of a provider.
func (c *Config) GetConnector(provider string) (orchestration.ConnectorConfig, error) {
	if c.Definition == nil {
		return orchestration.ConnectorConfig{}, cgerrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	settings, ok := c.Definition.Connectors[provider]
	if !ok {
		available := make([]string, 0, len(c.Definition.Connectors))
		for name := range c.Definition.Connectors {
			available = append(available, name)
		}
		sort.Strings(available)

		suggestion := "Add the provider to the 'connectors:' section of your credgate.yaml"
		if len(available) > 0 {
			suggestion = fmt.Sprintf("Available connectors: %s. %s", strings.Join(available, ", "), suggestion)
		}
		return orchestration.ConnectorConfig{}, cgerrors.ConfigError{
			Field:      "connectors",
			Value:      provider,
			Message:    "connector not found in configuration",
			Suggestion: suggestion,
		}
	}
	return orchestration.ConnectorConfig{Provider: provider, Credentials: settings.Settings}, nil
}
