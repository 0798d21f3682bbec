package connectors

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// SecretManagerAPI is the subset of the Secret Manager client the GCP
// connector uses.
type SecretManagerAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.SecretVersion, error)
}

// GCPClientFactory builds a client, optionally impersonating a service account.
type GCPClientFactory func(ctx context.Context, impersonateAccount string) (SecretManagerAPI, error)

// GCP rotates secrets in Google Cloud Secret Manager by adding a version.
//
// Settings: gcp_project_id, optional impersonate_service_account,
// secrets.<name> or the secret name as the secret id.
type GCP struct {
	factory GCPClientFactory
	clients map[string]SecretManagerAPI
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewGCP creates a GCP connector. A nil factory uses application default
// credentials.
func NewGCP(factory GCPClientFactory, logger *logging.Logger) *GCP {
	if factory == nil {
		factory = defaultGCPClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &GCP{factory: factory, clients: make(map[string]SecretManagerAPI), logger: logger}
}

func defaultGCPClient(ctx context.Context, impersonateAccount string) (SecretManagerAPI, error) {
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

// Provider implements orchestration.Connector.
func (c *GCP) Provider() string {
	return "gcp"
}

func (c *GCP) client(ctx context.Context, cfg orchestration.ConnectorConfig) (SecretManagerAPI, error) {
	account, _ := cfg.String("impersonate_service_account")

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[account]; ok {
		return client, nil
	}
	client, err := c.factory(ctx, account)
	if err != nil {
		return nil, err
	}
	c.clients[account] = client
	return client, nil
}

func secretParent(cfg orchestration.ConnectorConfig, secretName string) (string, error) {
	projectID, err := cfg.Require("gcp_project_id")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("projects/%s/secrets/%s", projectID, cfg.SecretID(secretName)), nil
}

// RotateSecret implements orchestration.Connector.
func (c *GCP) RotateSecret(ctx context.Context, req orchestration.RotationRequest, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	gen, err := GeneratorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	parent, err := secretParent(cfg, req.SecretName)
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var old logging.Secret
	current, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: parent + "/versions/latest"})
	switch {
	case err == nil:
		old = logging.Secret(current.GetPayload().GetData())
	case status.Code(err) == codes.NotFound:
		return nil, fmt.Errorf("secret not found in GCP Secret Manager")
	default:
		return nil, fmt.Errorf("failed to read current GCP secret: %w", err)
	}

	value, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	return c.add(ctx, client, parent, old, value, false)
}

// Rollback implements orchestration.Connector.
func (c *GCP) Rollback(ctx context.Context, req orchestration.RotationRequest, oldValue logging.Secret, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	parent, err := secretParent(cfg, req.SecretName)
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c.add(ctx, client, parent, "", oldValue, true)
}

func (c *GCP) add(ctx context.Context, client SecretManagerAPI, parent string, old, value logging.Secret, rollback bool) (*orchestration.RotationResult, error) {
	data := []byte(value.Reveal())
	version, err := client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent: parent,
		Payload: &secretmanagerpb.SecretPayload{
			Data:       data,
			DataCrc32C: proto.Int64(int64(crc32.Checksum(data, castagnoli))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add GCP secret version: %w", err)
	}

	metadata := map[string]interface{}{"provider": "gcp", "version": version.GetName()}
	if rollback {
		metadata["rollback"] = true
	}
	c.logger.Info("Added GCP secret version for %s", logging.Secret(parent))
	return &orchestration.RotationResult{Success: true, OldValue: old, NewValue: value, Metadata: metadata}, nil
}

var _ orchestration.Connector = (*GCP)(nil)
