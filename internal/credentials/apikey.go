package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systmms/credgate/internal/logging"
)

// maxCredentialResponse caps how much of an endpoint response is read.
const maxCredentialResponse = 1 << 20

// APIKeyHandler fetches credentials from a customer-operated HTTP endpoint.
//
// The provider config names the endpoint and the token credgate presents:
//
//	{"api_endpoint": "https://keys.example.com", "auth_token": "...", "auth_header": "X-Api-Key"}
//
// The handler issues GET <api_endpoint>/credentials/<secret> and expects
// {"credential": "..."} in return.
type APIKeyHandler struct {
	configs ConfigStore
	client  *http.Client
	logger  *logging.Logger
}

// APIKeyOption configures an APIKeyHandler.
type APIKeyOption func(*APIKeyHandler)

// WithHTTPClient sets the HTTP client (for testing).
func WithHTTPClient(c *http.Client) APIKeyOption {
	return func(h *APIKeyHandler) { h.client = c }
}

// WithAPIKeyLogger sets the logger.
func WithAPIKeyLogger(l *logging.Logger) APIKeyOption {
	return func(h *APIKeyHandler) { h.logger = l }
}

// NewAPIKeyHandler creates an APIKeyHandler.
func NewAPIKeyHandler(configs ConfigStore, opts ...APIKeyOption) *APIKeyHandler {
	h := &APIKeyHandler{
		configs: configs,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type credentialResponse struct {
	Credential string `json:"credential"`
}

// Fetch implements Fetcher with a single request.
func (h *APIKeyHandler) Fetch(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	cfg, err := h.configs.GetProviderConfig(ctx, workspaceID, provider)
	if err != nil {
		return "", fmt.Errorf("loading provider config: %w", err)
	}

	endpoint, err := cfg.Require("api_endpoint")
	if err != nil {
		return "", err
	}
	token, err := cfg.Require("auth_token")
	if err != nil {
		return "", err
	}
	header := cfg.StringOr("auth_header", "Authorization")

	reqURL := strings.TrimRight(endpoint, "/") + "/credentials/" + url.PathEscape(secretName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", Configuration("invalid api_endpoint", err)
	}
	req.Header.Set(header, "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	h.logger.Debug("Fetching API key credential %s from %s", logging.Secret(secretName), endpoint)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch credential from API endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The body may echo secret material, so only the status is reported.
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", NotFound("API endpoint has no such credential", nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("API endpoint returned status %d", resp.StatusCode)
	}

	var body credentialResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCredentialResponse)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse credential response: %w", err)
	}
	if body.Credential == "" {
		return "", fmt.Errorf("API endpoint returned an empty credential")
	}
	return body.Credential, nil
}
