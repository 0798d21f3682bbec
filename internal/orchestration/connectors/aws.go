package connectors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the AWS
// connector uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

// AWSClientFactory builds a client for a region, optionally assuming a role.
type AWSClientFactory func(ctx context.Context, region, roleARN string) (SecretsManagerAPI, error)

// AWS rotates secrets in AWS Secrets Manager by putting a new version.
//
// Settings: aws_region, optional role_arn, secrets.<name> or the secret name
// as the secret id, and generator length/charset.
type AWS struct {
	factory AWSClientFactory
	clients map[string]SecretsManagerAPI
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewAWS creates an AWS connector. A nil factory uses the default
// credential chain.
func NewAWS(factory AWSClientFactory, logger *logging.Logger) *AWS {
	if factory == nil {
		factory = defaultAWSClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &AWS{factory: factory, clients: make(map[string]SecretsManagerAPI), logger: logger}
}

func defaultAWSClient(ctx context.Context, region, roleARN string) (SecretsManagerAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "credgate-rotation"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Provider implements orchestration.Connector.
func (c *AWS) Provider() string {
	return "aws"
}

func (c *AWS) client(ctx context.Context, cfg orchestration.ConnectorConfig) (SecretsManagerAPI, error) {
	region, err := cfg.Require("aws_region")
	if err != nil {
		return nil, err
	}
	roleARN, _ := cfg.String("role_arn")
	key := region + "|" + roleARN

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := c.factory(ctx, region, roleARN)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}

// RotateSecret implements orchestration.Connector.
func (c *AWS) RotateSecret(ctx context.Context, req orchestration.RotationRequest, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	gen, err := GeneratorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	secretID := cfg.SecretID(req.SecretName)

	var old logging.Secret
	current, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("secret not found in AWS Secrets Manager")
		}
		return nil, fmt.Errorf("failed to read current AWS secret: %w", err)
	}
	if current.SecretString != nil {
		old = logging.Secret(*current.SecretString)
	}

	value, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	return c.put(ctx, client, secretID, old, value, false)
}

// Rollback implements orchestration.Connector.
func (c *AWS) Rollback(ctx context.Context, req orchestration.RotationRequest, oldValue logging.Secret, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	client, err := c.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c.put(ctx, client, cfg.SecretID(req.SecretName), "", oldValue, true)
}

func (c *AWS) put(ctx context.Context, client SecretsManagerAPI, secretID string, old, value logging.Secret, rollback bool) (*orchestration.RotationResult, error) {
	out, err := client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(secretID),
		SecretString: aws.String(value.Reveal()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write AWS secret version: %w", err)
	}

	metadata := map[string]interface{}{"provider": "aws"}
	if out.VersionId != nil {
		metadata["version_id"] = *out.VersionId
	}
	if rollback {
		metadata["rollback"] = true
	}
	c.logger.Info("Wrote new AWS secret version for %s", logging.Secret(secretID))
	return &orchestration.RotationResult{Success: true, OldValue: old, NewValue: value, Metadata: metadata}, nil
}

var _ orchestration.Connector = (*AWS)(nil)
