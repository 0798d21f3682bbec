// Package orchestration runs secret rotations. The RotationOrchestrator
// admits a rotation through the policy engine and hands it to the
// ConnectorOrchestrator, which dispatches to the connector registered for
// the provider.
package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/systmms/credgate/internal/logging"
)

// ConnectorConfig carries provider-specific connector settings.
type ConnectorConfig struct {
	Provider    string                 `json:"provider" yaml:"provider"`
	Credentials map[string]interface{} `json:"credentials" yaml:"credentials"`
}

// String returns a non-empty string setting.
func (c ConnectorConfig) String(key string) (string, bool) {
	s, ok := c.Credentials[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Require returns a string setting or an error naming it.
func (c ConnectorConfig) Require(key string) (string, error) {
	if s, ok := c.String(key); ok {
		return s, nil
	}
	return "", fmt.Errorf("missing %s in %s connector config", key, c.Provider)
}

// SecretID returns the provider identifier mapped for secretName under
// "secrets", falling back to the name itself.
func (c ConnectorConfig) SecretID(secretName string) string {
	if secrets, ok := c.Credentials["secrets"].(map[string]interface{}); ok {
		if id, ok := secrets[secretName].(string); ok && id != "" {
			return id
		}
	}
	return secretName
}

// RotationRequest identifies the secret to rotate.
type RotationRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Provider    string `json:"provider"`
	SecretName  string `json:"secret_name"`
	Environment string `json:"environment,omitempty"`
	DryRun      bool   `json:"dry_run"`
}

// RotationResult is what a connector reports. Values are wrapped so they
// never reach logs or JSON output.
type RotationResult struct {
	Success  bool                   `json:"success"`
	OldValue logging.Secret         `json:"old_value,omitempty"`
	NewValue logging.Secret         `json:"new_value,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Connector writes new secret values to one provider.
type Connector interface {
	Provider() string
	RotateSecret(ctx context.Context, req RotationRequest, cfg ConnectorConfig) (*RotationResult, error)
	// Rollback writes oldValue back as the current value.
	Rollback(ctx context.Context, req RotationRequest, oldValue logging.Secret, cfg ConnectorConfig) (*RotationResult, error)
}

// ConnectorOrchestrator dispatches rotations by provider.
type ConnectorOrchestrator struct {
	connectors map[string]Connector
	logger     *logging.Logger
	mu         sync.RWMutex
}

// NewConnectorOrchestrator creates a ConnectorOrchestrator with the given
// connectors registered.
func NewConnectorOrchestrator(logger *logging.Logger, connectors ...Connector) (*ConnectorOrchestrator, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	o := &ConnectorOrchestrator{
		connectors: make(map[string]Connector),
		logger:     logger,
	}
	for _, c := range connectors {
		if err := o.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Register adds a connector.
func (o *ConnectorOrchestrator) Register(c Connector) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := c.Provider()
	if _, exists := o.connectors[name]; exists {
		return fmt.Errorf("connector '%s' already registered", name)
	}
	o.connectors[name] = c
	o.logger.Debug("Registered connector: %s", name)
	return nil
}

// Providers lists registered providers in sorted order.
func (o *ConnectorOrchestrator) Providers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	providers := make([]string, 0, len(o.connectors))
	for name := range o.connectors {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

func (o *ConnectorOrchestrator) connector(provider string) (Connector, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c, ok := o.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	return c, nil
}

// RotateSecret rotates one secret. A dry run succeeds without touching the
// provider or even requiring a connector.
func (o *ConnectorOrchestrator) RotateSecret(ctx context.Context, req RotationRequest, cfg ConnectorConfig) (*RotationResult, error) {
	if req.DryRun {
		o.logger.Info("Dry run: skipping %s rotation of %s", req.Provider, logging.Secret(req.SecretName))
		return &RotationResult{
			Success: true,
			Metadata: map[string]interface{}{
				"dry_run": true,
				"message": "Dry run completed successfully",
			},
		}, nil
	}

	c, err := o.connector(req.Provider)
	if err != nil {
		return nil, err
	}
	return c.RotateSecret(ctx, req, cfg)
}

// BatchRotate rotates requests[i] with configs[i] in order and stops at the
// first error, returning the results gathered so far.
func (o *ConnectorOrchestrator) BatchRotate(ctx context.Context, requests []RotationRequest, configs []ConnectorConfig) ([]*RotationResult, error) {
	if len(requests) != len(configs) {
		return nil, fmt.Errorf("batch has %d requests but %d configs", len(requests), len(configs))
	}

	results := make([]*RotationResult, 0, len(requests))
	for i := range requests {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := o.RotateSecret(ctx, requests[i], configs[i])
		if err != nil {
			return results, fmt.Errorf("rotation %d (%s) failed: %w", i, requests[i].Provider, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Rollback restores oldValue through the provider's connector.
func (o *ConnectorOrchestrator) Rollback(ctx context.Context, req RotationRequest, oldValue logging.Secret, cfg ConnectorConfig) (*RotationResult, error) {
	if oldValue == "" {
		return nil, fmt.Errorf("no previous value to roll back to")
	}
	c, err := o.connector(req.Provider)
	if err != nil {
		return nil, err
	}
	o.logger.Warn("Rolling back %s secret %s", req.Provider, logging.Secret(req.SecretName))
	return c.Rollback(ctx, req, oldValue, cfg)
}
