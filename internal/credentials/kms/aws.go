// Package kms reads customer-held secrets from cloud secret managers.
package kms

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

	"github.com/systmms/credgate/internal/credentials"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client the
// backend uses.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSClientFactory builds a client for a region, optionally assuming a role.
type AWSClientFactory func(ctx context.Context, region, roleARN string) (SecretsManagerClientAPI, error)

// AWSBackend reads from AWS Secrets Manager.
//
// Config fields: aws_region, kms_key_id, and either secret_arn or
// secrets.<name>. role_arn is assumed through STS when present.
type AWSBackend struct {
	factory AWSClientFactory
	clients map[string]SecretsManagerClientAPI
	mu      sync.Mutex
}

// AWSOption configures an AWSBackend.
type AWSOption func(*AWSBackend)

// WithAWSClientFactory overrides client construction (for testing).
func WithAWSClientFactory(f AWSClientFactory) AWSOption {
	return func(b *AWSBackend) { b.factory = f }
}

// NewAWSBackend creates an AWSBackend using the default credential chain.
func NewAWSBackend(opts ...AWSOption) *AWSBackend {
	b := &AWSBackend{
		factory: defaultAWSClient,
		clients: make(map[string]SecretsManagerClientAPI),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// loadAWSConfig loads the default credential chain for a region, assuming
// roleARN through STS when set.
func loadAWSConfig(ctx context.Context, region, roleARN string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "credgate"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}

func defaultAWSClient(ctx context.Context, region, roleARN string) (SecretsManagerClientAPI, error) {
	cfg, err := loadAWSConfig(ctx, region, roleARN)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Resolve implements credentials.KMSBackend.
func (b *AWSBackend) Resolve(ctx context.Context, cfg *credentials.ProviderConfig, secretName string) (string, error) {
	region, err := cfg.Require("aws_region")
	if err != nil {
		return "", err
	}
	if _, err := cfg.Require("kms_key_id"); err != nil {
		return "", err
	}
	secretID, ok := cfg.String("secret_arn")
	if !ok {
		secretID, ok = cfg.SecretMapping(secretName)
	}
	if !ok {
		return "", credentials.MissingField("secret_arn")
	}
	roleARN := cfg.StringOr("role_arn", "")

	client, err := b.client(ctx, region, roleARN)
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", credentials.NotFound("secret not found in AWS Secrets Manager", nil)
		}
		return "", fmt.Errorf("failed to retrieve secret from AWS Secrets Manager: %w", err)
	}
	if out.SecretString == nil {
		return "", credentials.Configuration("AWS secret has no string value", nil)
	}
	return *out.SecretString, nil
}

func (b *AWSBackend) client(ctx context.Context, region, roleARN string) (SecretsManagerClientAPI, error) {
	key := region + "|" + roleARN

	b.mu.Lock()
	c, ok := b.clients[key]
	b.mu.Unlock()
	if ok {
		return c, nil
	}

	// Loading AWS config can hit IMDS or STS, so it runs unlocked.
	built, err := b.factory(ctx, region, roleARN)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[key]; ok {
		return c, nil
	}
	b.clients[key] = built
	return built, nil
}
