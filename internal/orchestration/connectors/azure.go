package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

// KeyVaultAPI is the subset of the Key Vault client the Azure connector uses.
type KeyVaultAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// AzureClientFactory builds a client for a vault URL.
type AzureClientFactory func(vaultURL string) (KeyVaultAPI, error)

// Azure rotates secrets in Azure Key Vault by setting a new version.
//
// Settings: azure_vault_url and secrets.<name> or the secret name.
type Azure struct {
	factory AzureClientFactory
	clients map[string]KeyVaultAPI
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewAzure creates an Azure connector. A nil factory uses
// DefaultAzureCredential.
func NewAzure(factory AzureClientFactory, logger *logging.Logger) *Azure {
	if factory == nil {
		factory = defaultAzureClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Azure{factory: factory, clients: make(map[string]KeyVaultAPI), logger: logger}
}

func defaultAzureClient(vaultURL string) (KeyVaultAPI, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	return client, nil
}

// Provider implements orchestration.Connector.
func (c *Azure) Provider() string {
	return "azure"
}

func (c *Azure) client(cfg orchestration.ConnectorConfig) (KeyVaultAPI, error) {
	vaultURL, err := cfg.Require("azure_vault_url")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[vaultURL]; ok {
		return client, nil
	}
	client, err := c.factory(vaultURL)
	if err != nil {
		return nil, err
	}
	c.clients[vaultURL] = client
	return client, nil
}

// RotateSecret implements orchestration.Connector.
func (c *Azure) RotateSecret(ctx context.Context, req orchestration.RotationRequest, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	gen, err := GeneratorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := c.client(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.SecretID(req.SecretName)

	var old logging.Secret
	current, err := client.GetSecret(ctx, name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("secret not found in Azure Key Vault")
		}
		return nil, fmt.Errorf("failed to read current Azure secret: %w", err)
	}
	if current.Value != nil {
		old = logging.Secret(*current.Value)
	}

	value, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	return c.set(ctx, client, name, old, value, false)
}

// Rollback implements orchestration.Connector.
func (c *Azure) Rollback(ctx context.Context, req orchestration.RotationRequest, oldValue logging.Secret, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	client, err := c.client(cfg)
	if err != nil {
		return nil, err
	}
	return c.set(ctx, client, cfg.SecretID(req.SecretName), "", oldValue, true)
}

func (c *Azure) set(ctx context.Context, client KeyVaultAPI, name string, old, value logging.Secret, rollback bool) (*orchestration.RotationResult, error) {
	raw := value.Reveal()
	resp, err := client.SetSecret(ctx, name, azsecrets.SetSecretParameters{Value: &raw}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to set Azure secret: %w", err)
	}

	metadata := map[string]interface{}{"provider": "azure"}
	if resp.ID != nil {
		metadata["version"] = resp.ID.Version()
	}
	if rollback {
		metadata["rollback"] = true
	}
	c.logger.Info("Set new Azure secret version for %s", logging.Secret(name))
	return &orchestration.RotationResult{Success: true, OldValue: old, NewValue: value, Metadata: metadata}, nil
}

var _ orchestration.Connector = (*Azure)(nil)
