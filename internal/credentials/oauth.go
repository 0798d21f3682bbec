package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"

	"github.com/systmms/credgate/internal/logging"
)

// DefaultAccessTokenTTL applies when a token endpoint does not report expiry.
const DefaultAccessTokenTTL = 3600 * time.Second

// OAuthClient holds the OAuth application credgate exchanges tokens as.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the provider's default token endpoint.
	TokenURL string
	Scopes   []string
}

// longLivedProviders issue tokens that are used as-is without an exchange.
var longLivedProviders = map[string]bool{
	"vercel": true,
}

// defaultEndpoints are the token endpoints of supported OAuth providers.
var defaultEndpoints = map[string]oauth2.Endpoint{
	"github": github.Endpoint,
	"gitlab": gitlab.Endpoint,
}

// OAuthHandler turns stored refresh tokens into access tokens.
type OAuthHandler struct {
	tokens    TokenStore
	encryptor Encryptor
	clients   map[string]OAuthClient
	client    *http.Client
	now       func() time.Time
	logger    *logging.Logger
}

// OAuthOption configures an OAuthHandler.
type OAuthOption func(*OAuthHandler)

// WithOAuthClient registers the OAuth application for a provider.
func WithOAuthClient(provider string, c OAuthClient) OAuthOption {
	return func(h *OAuthHandler) { h.clients[provider] = c }
}

// WithOAuthHTTPClient sets the HTTP client used for token exchange.
func WithOAuthHTTPClient(c *http.Client) OAuthOption {
	return func(h *OAuthHandler) { h.client = c }
}

// WithOAuthClock overrides the time source (for testing).
func WithOAuthClock(now func() time.Time) OAuthOption {
	return func(h *OAuthHandler) { h.now = now }
}

// WithOAuthLogger sets the logger.
func WithOAuthLogger(l *logging.Logger) OAuthOption {
	return func(h *OAuthHandler) { h.logger = l }
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(tokens TokenStore, encryptor Encryptor, opts ...OAuthOption) *OAuthHandler {
	h := &OAuthHandler{
		tokens:    tokens,
		encryptor: encryptor,
		clients:   make(map[string]OAuthClient),
		client:    &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StoreRefreshToken encrypts and saves a refresh token for a workspace.
func (h *OAuthHandler) StoreRefreshToken(ctx context.Context, workspaceID, provider, refreshToken string) error {
	encrypted, err := h.encryptor.Encrypt(workspaceID, []byte(refreshToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	if err := h.tokens.SaveRefreshToken(ctx, workspaceID, provider, encrypted); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// Fetch implements Fetcher. The secret name is ignored: an OAuth provider has
// exactly one access token per workspace.
func (h *OAuthHandler) Fetch(ctx context.Context, workspaceID, provider, _ string) (string, error) {
	return h.AccessToken(ctx, workspaceID, provider)
}

// AccessToken returns a valid access token, exchanging the refresh token when
// no unexpired token is cached.
func (h *OAuthHandler) AccessToken(ctx context.Context, workspaceID, provider string) (string, error) {
	cached, err := h.tokens.GetAccessToken(ctx, workspaceID, provider)
	if err != nil {
		return "", fmt.Errorf("failed to read cached access token: %w", err)
	}
	if cached != nil && cached.Token != "" && cached.ExpiresAt.After(h.now()) {
		h.logger.Debug("Using cached OAuth access token for %s", provider)
		return cached.Token, nil
	}

	refreshToken, err := h.refreshToken(ctx, workspaceID, provider)
	if err != nil {
		return "", err
	}

	if longLivedProviders[provider] {
		return refreshToken, nil
	}

	conf, err := h.config(provider)
	if err != nil {
		return "", err
	}

	token, err := h.exchange(ctx, conf, refreshToken)
	if err != nil {
		return "", err
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = h.now().Add(DefaultAccessTokenTTL)
	}
	if err := h.tokens.SaveAccessToken(ctx, workspaceID, provider, AccessToken{Token: token.AccessToken, ExpiresAt: expiresAt}); err != nil {
		h.logger.Warn("Failed to cache OAuth access token for %s: %v", provider, err)
	}

	// Providers that rotate refresh tokens invalidate the old one on use.
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if err := h.StoreRefreshToken(ctx, workspaceID, provider, token.RefreshToken); err != nil {
			h.logger.Error("Failed to persist rotated refresh token for %s: %v", provider, err)
		}
	}

	return token.AccessToken, nil
}

func (h *OAuthHandler) refreshToken(ctx context.Context, workspaceID, provider string) (string, error) {
	encrypted, err := h.tokens.GetRefreshToken(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", NotFound(fmt.Sprintf("OAuth refresh token not found for provider %s", provider), nil)
		}
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}

	plaintext, err := h.encryptor.Decrypt(workspaceID, encrypted)
	if err != nil {
		return "", Configuration("failed to decrypt refresh token", err)
	}
	return string(plaintext), nil
}

func (h *OAuthHandler) config(provider string) (*oauth2.Config, error) {
	endpoint, known := defaultEndpoints[provider]

	client, registered := h.clients[provider]

	if !known && (!registered || client.TokenURL == "") {
		return nil, Configuration(fmt.Sprintf("OAuth provider not supported: %s", provider), nil)
	}
	if !registered || client.ClientID == "" {
		return nil, MissingField(fmt.Sprintf("oauth.%s.client_id", provider))
	}
	if client.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: client.TokenURL}
	}

	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       client.Scopes,
	}, nil
}

func (h *OAuthHandler) exchange(ctx context.Context, conf *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		// RetrieveError carries the raw response body; keep it out of errors.
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			if re.ErrorCode == "invalid_grant" {
				return nil, Configuration("refresh token rejected by provider", fmt.Errorf("status %d: invalid_grant", status))
			}
			return nil, fmt.Errorf("token endpoint returned status %d", status)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return token, nil
}
