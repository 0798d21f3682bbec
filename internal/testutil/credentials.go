package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/credgate/internal/credentials"
)

// FakeConfigStore serves provider configs from memory.
type FakeConfigStore struct {
	mu sync.Mutex

	Configs map[string]*credentials.ProviderConfig
	Err     error
	Calls   int
}

// NewFakeConfigStore creates an empty config store.
func NewFakeConfigStore() *FakeConfigStore {
	return &FakeConfigStore{Configs: make(map[string]*credentials.ProviderConfig)}
}

// Set stores a config for a workspace and provider.
func (f *FakeConfigStore) Set(workspaceID, provider string, mode credentials.Mode, fields map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Configs[workspaceID+"/"+provider] = &credentials.ProviderConfig{Mode: mode, Fields: fields}
}

// GetProviderConfig implements credentials.ConfigStore.
func (f *FakeConfigStore) GetProviderConfig(_ context.Context, workspaceID, provider string) (*credentials.ProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	cfg, ok := f.Configs[workspaceID+"/"+provider]
	if !ok {
		return nil, credentials.ErrNoProviderConfig
	}
	return cfg, nil
}

// FakeVault is an in-memory credentials.VaultStore.
type FakeVault struct {
	mu sync.Mutex

	Secrets map[string]string

	// GetCredentialFunc overrides lookup when set.
	GetCredentialFunc func(ctx context.Context, workspaceID, provider, secretName string) (string, error)

	Calls int
}

// NewFakeVault creates an empty vault.
func NewFakeVault() *FakeVault {
	return &FakeVault{Secrets: make(map[string]string)}
}

// Put stores a secret.
func (f *FakeVault) Put(workspaceID, provider, secretName, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[workspaceID+"/"+provider+"/"+secretName] = value
}

// GetCredential implements credentials.VaultStore.
func (f *FakeVault) GetCredential(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	f.mu.Lock()
	f.Calls++
	fn := f.GetCredentialFunc
	value, ok := f.Secrets[workspaceID+"/"+provider+"/"+secretName]
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, workspaceID, provider, secretName)
	}
	if !ok {
		return "", credentials.NotFound(fmt.Sprintf("secret %s not in vault", secretName), nil)
	}
	return value, nil
}

// CallCount returns the number of GetCredential calls.
func (f *FakeVault) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

// FakeFetcher is a scriptable credentials.Fetcher.
type FakeFetcher struct {
	mu sync.Mutex

	FetchFunc func(ctx context.Context, workspaceID, provider, secretName string) (string, error)
	Calls     int
}

// Fetch implements credentials.Fetcher.
func (f *FakeFetcher) Fetch(ctx context.Context, workspaceID, provider, secretName string) (string, error) {
	f.mu.Lock()
	f.Calls++
	fn := f.FetchFunc
	f.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("no fetch behaviour configured")
	}
	return fn(ctx, workspaceID, provider, secretName)
}

// CallCount returns the number of Fetch calls.
func (f *FakeFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

// HealthEvent is one recorded health observation.
type HealthEvent struct {
	WorkspaceID string
	Provider    string
	Mode        credentials.Mode
	Success     bool
	Err         error
}

// FakeHealth records health observations.
type FakeHealth struct {
	mu     sync.Mutex
	Events []HealthEvent
}

// RecordSuccess implements credentials.HealthRecorder.
func (f *FakeHealth) RecordSuccess(_ context.Context, workspaceID, provider string, mode credentials.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, HealthEvent{WorkspaceID: workspaceID, Provider: provider, Mode: mode, Success: true})
}

// RecordFailure implements credentials.HealthRecorder.
func (f *FakeHealth) RecordFailure(_ context.Context, workspaceID, provider string, mode credentials.Mode, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, HealthEvent{WorkspaceID: workspaceID, Provider: provider, Mode: mode, Err: err})
}

// Counts returns the number of successes and failures recorded.
func (f *FakeHealth) Counts() (successes, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.Events {
		if e.Success {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// FakeTokenStore is an in-memory credentials.TokenStore.
type FakeTokenStore struct {
	mu sync.Mutex

	Refresh map[string][]byte
	Access  map[string]credentials.AccessToken

	SaveAccessCalls int
}

// NewFakeTokenStore creates an empty token store.
func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{
		Refresh: make(map[string][]byte),
		Access:  make(map[string]credentials.AccessToken),
	}
}

// SaveRefreshToken implements credentials.TokenStore.
func (f *FakeTokenStore) SaveRefreshToken(_ context.Context, workspaceID, provider string, encrypted []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refresh[workspaceID+"/"+provider] = append([]byte(nil), encrypted...)
	return nil
}

// GetRefreshToken implements credentials.TokenStore.
func (f *FakeTokenStore) GetRefreshToken(_ context.Context, workspaceID, provider string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.Refresh[workspaceID+"/"+provider]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return token, nil
}

// GetAccessToken implements credentials.TokenStore.
func (f *FakeTokenStore) GetAccessToken(_ context.Context, workspaceID, provider string) (*credentials.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.Access[workspaceID+"/"+provider]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

// SaveAccessToken implements credentials.TokenStore.
func (f *FakeTokenStore) SaveAccessToken(_ context.Context, workspaceID, provider string, token credentials.AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SaveAccessCalls++
	f.Access[workspaceID+"/"+provider] = token
	return nil
}

// SleepRecorder replaces the backoff sleep and records requested delays.
type SleepRecorder struct {
	mu     sync.Mutex
	Delays []time.Duration
}

// Sleep implements retry.SleepFunc without waiting.
func (s *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.Delays = append(s.Delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Recorded returns a copy of the recorded delays.
func (s *SleepRecorder) Recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.Delays...)
}
