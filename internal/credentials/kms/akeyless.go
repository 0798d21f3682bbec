package kms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"

	"github.com/systmms/credgate/internal/credentials"
)

// DefaultAkeylessGateway is the public Akeyless API endpoint.
const DefaultAkeylessGateway = "https://api.akeyless.io"

// akeylessTokenTTL is kept below the 30 minute token lifetime.
const akeylessTokenTTL = 25 * time.Minute

var errAkeylessNotFound = errors.New("akeyless item not found")

// AkeylessClientAPI is the subset of the Akeyless V2 API the backend uses.
type AkeylessClientAPI interface {
	Authenticate(ctx context.Context, accessID, accessKey string) (string, error)
	GetSecretValue(ctx context.Context, token, path string) (string, error)
}

// AkeylessClientFactory builds a client for a gateway URL.
type AkeylessClientFactory func(gatewayURL string) AkeylessClientAPI

type akeylessToken struct {
	value   string
	expires time.Time
}

// AkeylessBackend reads static secrets from Akeyless.
//
// Config fields: akeyless_access_id, akeyless_access_key_env (the
// environment variable holding the access key), optional
// akeyless_gateway_url, and either secret_path or secrets.<name>.
type AkeylessBackend struct {
	factory AkeylessClientFactory
	clients map[string]AkeylessClientAPI
	tokens  map[string]akeylessToken
	now     func() time.Time
	mu      sync.Mutex
}

// AkeylessOption configures an AkeylessBackend.
type AkeylessOption func(*AkeylessBackend)

// WithAkeylessClientFactory overrides client construction (for testing).
func WithAkeylessClientFactory(f AkeylessClientFactory) AkeylessOption {
	return func(b *AkeylessBackend) { b.factory = f }
}

// NewAkeylessBackend creates an AkeylessBackend using the official SDK.
func NewAkeylessBackend(opts ...AkeylessOption) *AkeylessBackend {
	b := &AkeylessBackend{
		factory: newAkeylessSDKClient,
		clients: make(map[string]AkeylessClientAPI),
		tokens:  make(map[string]akeylessToken),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve implements credentials.KMSBackend.
func (b *AkeylessBackend) Resolve(ctx context.Context, cfg *credentials.ProviderConfig, secretName string) (string, error) {
	accessID, err := cfg.Require("akeyless_access_id")
	if err != nil {
		return "", err
	}
	keyEnv, err := cfg.Require("akeyless_access_key_env")
	if err != nil {
		return "", err
	}
	accessKey := os.Getenv(keyEnv)
	if accessKey == "" {
		return "", credentials.Configuration(fmt.Sprintf("Akeyless access key variable %s is not set", keyEnv), nil)
	}
	path, ok := cfg.String("secret_path")
	if !ok {
		path, ok = cfg.SecretMapping(secretName)
	}
	if !ok {
		return "", credentials.MissingField("secret_path")
	}
	gateway := cfg.StringOr("akeyless_gateway_url", DefaultAkeylessGateway)

	client := b.client(gateway)
	token, err := b.token(ctx, client, gateway, accessID, accessKey)
	if err != nil {
		return "", err
	}

	value, err := client.GetSecretValue(ctx, token, path)
	if err != nil {
		if errors.Is(err, errAkeylessNotFound) {
			return "", credentials.NotFound("secret not found in Akeyless", nil)
		}
		return "", fmt.Errorf("failed to get secret from akeyless: %w", err)
	}
	return value, nil
}

func (b *AkeylessBackend) client(gateway string) AkeylessClientAPI {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[gateway]; ok {
		return c
	}
	c := b.factory(gateway)
	b.clients[gateway] = c
	return c
}

func (b *AkeylessBackend) token(ctx context.Context, client AkeylessClientAPI, gateway, accessID, accessKey string) (string, error) {
	key := gateway + "|" + accessID

	b.mu.Lock()
	cached, ok := b.tokens[key]
	b.mu.Unlock()
	if ok && b.now().Before(cached.expires) {
		return cached.value, nil
	}

	token, err := client.Authenticate(ctx, accessID, accessKey)
	if err != nil {
		return "", fmt.Errorf("akeyless authentication failed: %w", err)
	}

	b.mu.Lock()
	b.tokens[key] = akeylessToken{value: token, expires: b.now().Add(akeylessTokenTTL)}
	b.mu.Unlock()
	return token, nil
}

type akeylessSDKClient struct {
	api *akeyless.APIClient
}

func newAkeylessSDKClient(gatewayURL string) AkeylessClientAPI {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: gatewayURL}}
	return &akeylessSDKClient{api: akeyless.NewAPIClient(configuration)}
}

func (c *akeylessSDKClient) Authenticate(ctx context.Context, accessID, accessKey string) (string, error) {
	body := akeyless.NewAuthWithDefaults()
	body.SetAccessId(accessID)
	body.SetAccessKey(accessKey)

	out, _, err := c.api.V2Api.Auth(ctx).Body(*body).Execute()
	if err != nil {
		return "", err
	}
	return out.GetToken(), nil
}

func (c *akeylessSDKClient) GetSecretValue(ctx context.Context, token, path string) (string, error) {
	body := akeyless.NewGetSecretValue([]string{path})
	body.SetToken(token)

	values, resp, err := c.api.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", errAkeylessNotFound
		}
		return "", err
	}
	value, ok := values[path]
	if !ok {
		return "", errAkeylessNotFound
	}
	return value, nil
}
