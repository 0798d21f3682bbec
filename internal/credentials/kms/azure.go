package kms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/credgate/internal/credentials"
)

// AzureKeyVaultClientAPI is the subset of the Key Vault client the backend
// uses.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureClientFactory builds a client for a vault URL.
type AzureClientFactory func(vaultURL string) (AzureKeyVaultClientAPI, error)

// AzureBackend reads from Azure Key Vault.
//
// Config fields: azure_vault_url, and optionally secrets.<name>; without a
// mapping the secret name itself is used.
type AzureBackend struct {
	factory AzureClientFactory
	clients map[string]AzureKeyVaultClientAPI
	mu      sync.Mutex
}

// AzureOption configures an AzureBackend.
type AzureOption func(*AzureBackend)

// WithAzureClientFactory overrides client construction (for testing).
func WithAzureClientFactory(f AzureClientFactory) AzureOption {
	return func(b *AzureBackend) { b.factory = f }
}

// NewAzureBackend creates an AzureBackend using DefaultAzureCredential.
func NewAzureBackend(opts ...AzureOption) *AzureBackend {
	b := &AzureBackend{
		factory: defaultAzureClient,
		clients: make(map[string]AzureKeyVaultClientAPI),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultAzureClient(vaultURL string) (AzureKeyVaultClientAPI, error) {
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

// Resolve implements credentials.KMSBackend.
func (b *AzureBackend) Resolve(ctx context.Context, cfg *credentials.ProviderConfig, secretName string) (string, error) {
	vaultURL, err := cfg.Require("azure_vault_url")
	if err != nil {
		return "", err
	}
	secretID, ok := cfg.SecretMapping(secretName)
	if !ok {
		secretID = secretName
	}

	client, err := b.client(vaultURL)
	if err != nil {
		return "", err
	}

	resp, err := client.GetSecret(ctx, secretID, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.StatusCode {
			case http.StatusNotFound:
				return "", credentials.NotFound("secret not found in Azure Key Vault", nil)
			case http.StatusUnauthorized, http.StatusForbidden:
				return "", credentials.Configuration("Azure Key Vault denied access", fmt.Errorf("status %d", respErr.StatusCode))
			}
			return "", fmt.Errorf("Azure Key Vault returned status %d", respErr.StatusCode)
		}
		return "", fmt.Errorf("failed to get Azure secret: %w", err)
	}
	if resp.Value == nil {
		return "", credentials.Configuration("Azure secret has no value", nil)
	}
	return *resp.Value, nil
}

func (b *AzureBackend) client(vaultURL string) (AzureKeyVaultClientAPI, error) {
	b.mu.Lock()
	c, ok := b.clients[vaultURL]
	b.mu.Unlock()
	if ok {
		return c, nil
	}

	built, err := b.factory(vaultURL)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[vaultURL]; ok {
		return c, nil
	}
	b.clients[vaultURL] = built
	return built, nil
}
