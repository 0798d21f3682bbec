package kms

import (
	"context"
	"fmt"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/credgate/internal/credentials"
)

// GCPSecretManagerClientAPI is the subset of the Secret Manager client the
// backend uses.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCPClientFactory builds a client, optionally impersonating a service account.
type GCPClientFactory func(ctx context.Context, impersonateAccount string) (GCPSecretManagerClientAPI, error)

// GCPBackend reads from Google Cloud Secret Manager.
//
// Config fields: gcp_project_id and secrets.<name>; the latest version is
// read. impersonate_service_account is honoured when present.
type GCPBackend struct {
	factory GCPClientFactory
	clients map[string]GCPSecretManagerClientAPI
	mu      sync.Mutex
}

// GCPOption configures a GCPBackend.
type GCPOption func(*GCPBackend)

// WithGCPClientFactory overrides client construction (for testing).
func WithGCPClientFactory(f GCPClientFactory) GCPOption {
	return func(b *GCPBackend) { b.factory = f }
}

// NewGCPBackend creates a GCPBackend using application default credentials.
func NewGCPBackend(opts ...GCPOption) *GCPBackend {
	b := &GCPBackend{
		factory: defaultGCPClient,
		clients: make(map[string]GCPSecretManagerClientAPI),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultGCPClient(ctx context.Context, impersonateAccount string) (GCPSecretManagerClientAPI, error) {
	var clientOptions []option.ClientOption
	if impersonateAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: impersonateAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}
	return secretmanager.NewClient(ctx, clientOptions...)
}

// SecretVersionName builds the resource name of a secret's latest version.
func SecretVersionName(projectID, secretID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretID)
}

// Resolve implements credentials.KMSBackend.
func (b *GCPBackend) Resolve(ctx context.Context, cfg *credentials.ProviderConfig, secretName string) (string, error) {
	projectID, err := cfg.Require("gcp_project_id")
	if err != nil {
		return "", err
	}
	secretID, err := cfg.RequireSecretMapping(secretName)
	if err != nil {
		return "", err
	}

	client, err := b.client(ctx, cfg.StringOr("impersonate_service_account", ""))
	if err != nil {
		return "", err
	}

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: SecretVersionName(projectID, secretID),
	})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return "", credentials.NotFound("secret not found in GCP Secret Manager", nil)
		case codes.PermissionDenied, codes.Unauthenticated:
			return "", credentials.Configuration("GCP Secret Manager denied access", fmt.Errorf("%s", status.Code(err)))
		}
		return "", fmt.Errorf("failed to access GCP secret: %s", status.Code(err))
	}
	if resp.GetPayload() == nil || resp.GetPayload().GetData() == nil {
		return "", credentials.Configuration("GCP secret has no data", nil)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (b *GCPBackend) client(ctx context.Context, impersonateAccount string) (GCPSecretManagerClientAPI, error) {
	b.mu.Lock()
	c, ok := b.clients[impersonateAccount]
	b.mu.Unlock()
	if ok {
		return c, nil
	}

	built, err := b.factory(ctx, impersonateAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[impersonateAccount]; ok {
		return c, nil
	}
	b.clients[impersonateAccount] = built
	return built, nil
}
