package commands

import (
	"context"
	"fmt"

	"github.com/systmms/credgate/internal/breaker"
	"github.com/systmms/credgate/internal/cache"
	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/credentials"
	"github.com/systmms/credgate/internal/credentials/kms"
	"github.com/systmms/credgate/internal/crypto"
	"github.com/systmms/credgate/internal/health"
	"github.com/systmms/credgate/internal/orchestration"
	"github.com/systmms/credgate/internal/orchestration/connectors"
	"github.com/systmms/credgate/internal/policy"
	"github.com/systmms/credgate/internal/store"
)

// services holds the components one command invocation works with.
type services struct {
	db         *store.DB
	encryptor  *crypto.Encryptor
	configs    *store.ProviderConfigStore
	vault      *store.VaultStore
	tokens     *store.OAuthTokenStore
	metering   *store.MeteringStore
	policies   *store.PolicyStore
	oauth      *credentials.OAuthHandler
	breaker    *breaker.CircuitBreaker
	cache      *cache.Memory
	monitor    *health.Monitor
	resolver   *credentials.Resolver
	engine     *policy.Engine
	connectors *orchestration.ConnectorOrchestrator
	rotations  *orchestration.RotationOrchestrator
}

func loadConfig(cfg *config.Config) error {
	if cfg.Definition != nil {
		return nil
	}
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// loadGuard loads the config and compiles its guardrails.
func loadGuard(cfg *config.Config) (*policy.Guard, error) {
	if err := loadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg.Definition.Guard()
}

func openDatabase(ctx context.Context, def *config.Definition) (*store.DB, error) {
	dsn, err := def.Database.ResolveDSN()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, def.Database.Driver, dsn, def.Database.StoreOptions())
}

// openServices loads the configuration and wires every component against
// the configured database.
func openServices(ctx context.Context, cfg *config.Config) (*services, error) {
	if err := loadConfig(cfg); err != nil {
		return nil, err
	}
	def := cfg.Definition
	logger := cfg.Logger

	encryptor, err := crypto.NewEncryptorFromSource(def.KeySource())
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, def)
	if err != nil {
		encryptor.Destroy()
		return nil, err
	}

	s := &services{
		db:        db,
		encryptor: encryptor,
		configs:   store.NewProviderConfigStore(db),
		vault:     store.NewVaultStore(db, encryptor),
		tokens:    store.NewOAuthTokenStore(db, encryptor),
		metering:  store.NewMeteringStore(db),
		policies:  store.NewPolicyStore(db),
	}

	clients, err := def.OAuthClients()
	if err != nil {
		s.Close()
		return nil, err
	}
	oauthOpts := []credentials.OAuthOption{credentials.WithOAuthLogger(logger)}
	for provider, client := range clients {
		oauthOpts = append(oauthOpts, credentials.WithOAuthClient(provider, client))
	}
	s.oauth = credentials.NewOAuthHandler(s.tokens, encryptor, oauthOpts...)

	backends := map[string]credentials.KMSBackend{
		"aws":      kms.NewAWSBackend(),
		"aws_ssm":  kms.NewSSMBackend(),
		"gcp":      kms.NewGCPBackend(),
		"azure":    kms.NewAzureBackend(),
		"akeyless": kms.NewAkeylessBackend(),
	}

	s.breaker = breaker.New(def.BreakerSettings(), breaker.WithLogger(logger))
	s.monitor = health.NewMonitor(health.DefaultMonitorConfig(),
		health.WithTokenStore(s.tokens),
		health.WithLogger(logger),
	)
	s.cache = cache.NewMemory(def.CacheTTL())
	s.resolver = credentials.NewResolver(s.cache, s.configs, s.vault,
		credentials.WithOAuth(s.oauth),
		credentials.WithKMS(credentials.NewKMSHandler(s.configs, backends, logger)),
		credentials.WithAPIKey(credentials.NewAPIKeyHandler(s.configs, credentials.WithAPIKeyLogger(logger))),
		credentials.WithBreaker(s.breaker),
		credentials.WithHealth(s.monitor),
		credentials.WithRetryPolicy(def.RetryPolicy()),
		credentials.WithSingleFlight(def.SingleFlight()),
		credentials.WithLogger(logger),
	)

	s.engine = policy.NewEngine(s.policies, s.metering, policy.WithLogger(logger))
	s.connectors, err = orchestration.NewConnectorOrchestrator(logger, connectors.Default(logger)...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.rotations = orchestration.NewRotationOrchestrator(s.engine, s.connectors,
		orchestration.WithRecorder(s.metering),
		orchestration.WithMeteringPeriod(def.Rotation.MeteringPeriodDays),
		orchestration.WithLogger(logger),
	)
	return s, nil
}

// Close releases the database and wipes the master key.
func (s *services) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.encryptor != nil {
		s.encryptor.Destroy()
	}
}
