package credentials

import (
	"context"
	"fmt"
	"sort"

	"github.com/systmms/credgate/internal/logging"
)

// KMSBackend reads a secret from one cloud secret manager using the
// workspace's provider config.
type KMSBackend interface {
	Resolve(ctx context.Context, cfg *ProviderConfig, secretName string) (string, error)
}

// KMSHandler dispatches on the "kms_provider" config field.
type KMSHandler struct {
	configs  ConfigStore
	backends map[string]KMSBackend
	logger   *logging.Logger
}

// NewKMSHandler creates a KMSHandler. backends is keyed by kms_provider value
// ("aws", "gcp", "azure").
func NewKMSHandler(configs ConfigStore, backends map[string]KMSBackend, logger *logging.Logger) *KMSHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &KMSHandler{
		configs:  configs,
		backends: backends,
		logger:   logger,
	}
}

// Backends lists the registered backend names.
func (h *KMSHandler) Backends() []string {
	names := make([]string, 0, len(h.backends))
	for name := range h.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fetch implements Fetcher.
func (h *KMSHandler) Fetch(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	cfg, err := h.configs.GetProviderConfig(ctx, workspaceID, provider)
	if err != nil {
		return "", fmt.Errorf("loading provider config: %w", err)
	}

	kmsProvider, err := cfg.Require("kms_provider")
	if err != nil {
		return "", err
	}

	backend, ok := h.backends[kmsProvider]
	if !ok {
		return "", Configuration(fmt.Sprintf("unsupported KMS provider: %s", kmsProvider), nil)
	}

	h.logger.Debug("Resolving %s from %s KMS", logging.Secret(secretName), kmsProvider)
	return backend.Resolve(ctx, cfg, secretName)
}
