package kms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/credgate/internal/credentials"
)

// SSMClientAPI is the subset of the SSM client the backend uses.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMClientFactory builds a client for a region, optionally assuming a role.
type SSMClientFactory func(ctx context.Context, region, roleARN string) (SSMClientAPI, error)

// SSMBackend reads SecureString parameters from AWS Systems Manager
// Parameter Store.
//
// Config fields: aws_region, and either parameter_name or secrets.<name>.
// parameter_prefix is prepended to the mapped name. role_arn is assumed
// through STS when present.
type SSMBackend struct {
	factory SSMClientFactory
	clients map[string]SSMClientAPI
	mu      sync.Mutex
}

// SSMOption configures an SSMBackend.
type SSMOption func(*SSMBackend)

// WithSSMClientFactory overrides client construction (for testing).
func WithSSMClientFactory(f SSMClientFactory) SSMOption {
	return func(b *SSMBackend) { b.factory = f }
}

// NewSSMBackend creates an SSMBackend using the default credential chain.
func NewSSMBackend(opts ...SSMOption) *SSMBackend {
	b := &SSMBackend{
		factory: defaultSSMClient,
		clients: make(map[string]SSMClientAPI),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultSSMClient(ctx context.Context, region, roleARN string) (SSMClientAPI, error) {
	cfg, err := loadAWSConfig(ctx, region, roleARN)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}

// Resolve implements credentials.KMSBackend.
func (b *SSMBackend) Resolve(ctx context.Context, cfg *credentials.ProviderConfig, secretName string) (string, error) {
	region, err := cfg.Require("aws_region")
	if err != nil {
		return "", err
	}
	name, ok := cfg.String("parameter_name")
	if !ok {
		name, ok = cfg.SecretMapping(secretName)
	}
	if !ok {
		return "", credentials.MissingField("parameter_name")
	}
	name = cfg.StringOr("parameter_prefix", "") + name

	client, err := b.client(ctx, region, cfg.StringOr("role_arn", ""))
	if err != nil {
		return "", err
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", credentials.NotFound("parameter not found in AWS SSM Parameter Store", nil)
		}
		return "", fmt.Errorf("failed to get parameter from AWS SSM: %w", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", credentials.Configuration("SSM parameter has no value", nil)
	}
	return *out.Parameter.Value, nil
}

func (b *SSMBackend) client(ctx context.Context, region, roleARN string) (SSMClientAPI, error) {
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
