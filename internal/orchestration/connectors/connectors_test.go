package connectors

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

type fakeSecretsManager struct {
	mu      sync.Mutex
	current string
	getErr  error
	putErr  error
	puts    []*secretsmanager.PutSecretValueInput
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.current)}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)
	return &secretsmanager.PutSecretValueOutput{VersionId: aws.String("v2")}, nil
}

func TestAWS_RotateSecret(t *testing.T) {
	t.Parallel()

	cfg := orchestration.ConnectorConfig{Provider: "aws", Credentials: map[string]interface{}{
		"aws_region": "eu-central-1",
		"role_arn":   "arn:aws:iam::123456789012:role/rotator",
		"secrets":    map[string]interface{}{"db": "prod/db"},
	}}
	req := orchestration.RotationRequest{Provider: "aws", SecretName: "db"}

	t.Run("puts_new_version", func(t *testing.T) {
		t.Parallel()
		fake := &fakeSecretsManager{current: "old-password"}
		var gotRegion, gotRole string
		c := NewAWS(func(_ context.Context, region, roleARN string) (SecretsManagerAPI, error) {
			gotRegion, gotRole = region, roleARN
			return fake, nil
		}, nil)

		result, err := c.RotateSecret(context.Background(), req, cfg)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, logging.Secret("old-password"), result.OldValue)
		assert.Len(t, result.NewValue.Reveal(), DefaultLength)
		assert.Equal(t, "v2", result.Metadata["version_id"])
		assert.Equal(t, "eu-central-1", gotRegion)
		assert.Equal(t, "arn:aws:iam::123456789012:role/rotator", gotRole)

		require.Len(t, fake.puts, 1)
		assert.Equal(t, "prod/db", aws.ToString(fake.puts[0].SecretId))
		assert.Equal(t, result.NewValue.Reveal(), aws.ToString(fake.puts[0].SecretString))
	})

	t.Run("client_cached", func(t *testing.T) {
		t.Parallel()
		calls := 0
		c := NewAWS(func(context.Context, string, string) (SecretsManagerAPI, error) {
			calls++
			return &fakeSecretsManager{}, nil
		}, nil)
		for range 3 {
			_, err := c.RotateSecret(context.Background(), req, cfg)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("missing_secret", func(t *testing.T) {
		t.Parallel()
		fake := &fakeSecretsManager{getErr: &types.ResourceNotFoundException{Message: aws.String("nope")}}
		c := NewAWS(func(context.Context, string, string) (SecretsManagerAPI, error) { return fake, nil }, nil)

		_, err := c.RotateSecret(context.Background(), req, cfg)
		assert.EqualError(t, err, "secret not found in AWS Secrets Manager")
		assert.Empty(t, fake.puts)
	})

	t.Run("missing_region", func(t *testing.T) {
		t.Parallel()
		c := NewAWS(func(context.Context, string, string) (SecretsManagerAPI, error) {
			t.Fatal("client should not be built")
			return nil, nil
		}, nil)
		_, err := c.RotateSecret(context.Background(), req, orchestration.ConnectorConfig{Provider: "aws"})
		assert.ErrorContains(t, err, "missing aws_region")
	})

	t.Run("rollback_writes_old_value", func(t *testing.T) {
		t.Parallel()
		fake := &fakeSecretsManager{}
		c := NewAWS(func(context.Context, string, string) (SecretsManagerAPI, error) { return fake, nil }, nil)

		result, err := c.Rollback(context.Background(), req, "old-password", cfg)
		require.NoError(t, err)
		assert.Equal(t, true, result.Metadata["rollback"])
		require.Len(t, fake.puts, 1)
		assert.Equal(t, "old-password", aws.ToString(fake.puts[0].SecretString))
	})
}

type fakeSecretManager struct {
	mu        sync.Mutex
	current   []byte
	accessErr error
	accessed  []string
	added     []*secretmanagerpb.AddSecretVersionRequest
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessed = append(f.accessed, req.GetName())
	if f.accessErr != nil {
		return nil, f.accessErr
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: f.current}}, nil
}

func (f *fakeSecretManager) AddSecretVersion(_ context.Context, req *secretmanagerpb.AddSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, req)
	return &secretmanagerpb.SecretVersion{Name: req.GetParent() + "/versions/7"}, nil
}

func TestGCP_RotateSecret(t *testing.T) {
	t.Parallel()

	cfg := orchestration.ConnectorConfig{Provider: "gcp", Credentials: map[string]interface{}{
		"gcp_project_id": "acme-prod",
		"length":         24,
	}}
	req := orchestration.RotationRequest{Provider: "gcp", SecretName: "api-token"}

	t.Run("adds_version_with_checksum", func(t *testing.T) {
		t.Parallel()
		fake := &fakeSecretManager{current: []byte("previous")}
		c := NewGCP(func(context.Context, string) (SecretManagerAPI, error) { return fake, nil }, nil)

		result, err := c.RotateSecret(context.Background(), req, cfg)
		require.NoError(t, err)
		assert.Equal(t, logging.Secret("previous"), result.OldValue)
		assert.Len(t, result.NewValue.Reveal(), 24)
		assert.Equal(t, "projects/acme-prod/secrets/api-token/versions/7", result.Metadata["version"])
		assert.Equal(t, []string{"projects/acme-prod/secrets/api-token/versions/latest"}, fake.accessed)

		require.Len(t, fake.added, 1)
		added := fake.added[0]
		assert.Equal(t, "projects/acme-prod/secrets/api-token", added.GetParent())
		assert.Equal(t, result.NewValue.Reveal(), string(added.GetPayload().GetData()))
		assert.NotZero(t, added.GetPayload().GetDataCrc32C())
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()
		fake := &fakeSecretManager{accessErr: status.Error(codes.NotFound, "missing")}
		c := NewGCP(func(context.Context, string) (SecretManagerAPI, error) { return fake, nil }, nil)

		_, err := c.RotateSecret(context.Background(), req, cfg)
		assert.EqualError(t, err, "secret not found in GCP Secret Manager")
		assert.Empty(t, fake.added)
	})

	t.Run("impersonation_keyed_clients", func(t *testing.T) {
		t.Parallel()
		var accounts []string
		c := NewGCP(func(_ context.Context, account string) (SecretManagerAPI, error) {
			accounts = append(accounts, account)
			return &fakeSecretManager{}, nil
		}, nil)

		impersonated := orchestration.ConnectorConfig{Provider: "gcp", Credentials: map[string]interface{}{
			"gcp_project_id":              "acme-prod",
			"impersonate_service_account": "rotator@acme-prod.iam.gserviceaccount.com",
		}}
		_, err := c.RotateSecret(context.Background(), req, cfg)
		require.NoError(t, err)
		_, err = c.RotateSecret(context.Background(), req, impersonated)
		require.NoError(t, err)
		_, err = c.RotateSecret(context.Background(), req, impersonated)
		require.NoError(t, err)
		assert.Equal(t, []string{"", "rotator@acme-prod.iam.gserviceaccount.com"}, accounts)
	})

	t.Run("missing_project", func(t *testing.T) {
		t.Parallel()
		c := NewGCP(func(context.Context, string) (SecretManagerAPI, error) { return &fakeSecretManager{}, nil }, nil)
		_, err := c.Rollback(context.Background(), req, "old", orchestration.ConnectorConfig{Provider: "gcp"})
		assert.ErrorContains(t, err, "missing gcp_project_id")
	})
}

type fakeKeyVault struct {
	mu      sync.Mutex
	current string
	getErr  error
	sets    map[string]string
}

func (f *fakeKeyVault) GetSecret(_ context.Context, _ string, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.getErr != nil {
		return azsecrets.GetSecretResponse{}, f.getErr
	}
	value := f.current
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &value}}, nil
}

func (f *fakeKeyVault) SetSecret(_ context.Context, name string, params azsecrets.SetSecretParameters, _ *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets == nil {
		f.sets = make(map[string]string)
	}
	f.sets[name] = *params.Value
	return azsecrets.SetSecretResponse{}, nil
}

func TestAzure_RotateSecret(t *testing.T) {
	t.Parallel()

	cfg := orchestration.ConnectorConfig{Provider: "azure", Credentials: map[string]interface{}{
		"azure_vault_url": "https://acme.vault.azure.net",
		"charset":         "urlsafe",
	}}
	req := orchestration.RotationRequest{Provider: "azure", SecretName: "webhook-secret"}

	t.Run("sets_new_value", func(t *testing.T) {
		t.Parallel()
		fake := &fakeKeyVault{current: "before"}
		var gotURL string
		c := NewAzure(func(vaultURL string) (KeyVaultAPI, error) {
			gotURL = vaultURL
			return fake, nil
		}, nil)

		result, err := c.RotateSecret(context.Background(), req, cfg)
		require.NoError(t, err)
		assert.Equal(t, "https://acme.vault.azure.net", gotURL)
		assert.Equal(t, logging.Secret("before"), result.OldValue)
		assert.Equal(t, result.NewValue.Reveal(), fake.sets["webhook-secret"])
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()
		fake := &fakeKeyVault{getErr: &azcore.ResponseError{StatusCode: http.StatusNotFound}}
		c := NewAzure(func(string) (KeyVaultAPI, error) { return fake, nil }, nil)

		_, err := c.RotateSecret(context.Background(), req, cfg)
		assert.EqualError(t, err, "secret not found in Azure Key Vault")
	})

	t.Run("factory_error", func(t *testing.T) {
		t.Parallel()
		c := NewAzure(func(string) (KeyVaultAPI, error) { return nil, errors.New("no credential") }, nil)
		_, err := c.RotateSecret(context.Background(), req, cfg)
		assert.ErrorContains(t, err, "no credential")
	})
}

func TestDefault(t *testing.T) {
	t.Parallel()

	var providers []string
	for _, c := range Default(nil) {
		providers = append(providers, c.Provider())
	}
	assert.Equal(t, []string{"aws", "gcp", "azure"}, providers)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     orchestration.ConnectorConfig
		wantErr string
	}{
		{name: "aws_ok", cfg: orchestration.ConnectorConfig{Provider: "aws", Credentials: map[string]interface{}{"aws_region": "us-east-1"}}},
		{name: "gcp_missing_project", cfg: orchestration.ConnectorConfig{Provider: "gcp"}, wantErr: "missing gcp_project_id"},
		{name: "azure_bad_charset", cfg: orchestration.ConnectorConfig{Provider: "azure", Credentials: map[string]interface{}{
			"azure_vault_url": "https://v.vault.azure.net",
			"charset":         "braille",
		}}, wantErr: "unknown charset"},
		{name: "unknown_provider", cfg: orchestration.ConnectorConfig{Provider: "heroku"}, wantErr: "unsupported provider: heroku"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
