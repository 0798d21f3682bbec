package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/credgate/internal/policy"
)

// FakePolicyStore is an in-memory policy.Store.
type FakePolicyStore struct {
	mu sync.Mutex

	Policies []policy.Policy
	ListErr  error

	ListCalls int
	Created   []policy.NewPolicy
}

// Add stores a policy, filling in an id and creation time when absent.
func (f *FakePolicyStore) Add(p policy.Policy) policy.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(f.Policies)) * time.Minute)
	}
	f.Policies = append(f.Policies, p)
	return p
}

// ListEnabledPolicies implements policy.Store. Ordering is left to the engine.
func (f *FakePolicyStore) ListEnabledPolicies(_ context.Context, workspaceID string) ([]policy.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []policy.Policy
	for _, p := range f.Policies {
		if p.WorkspaceID == workspaceID && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreatePolicy implements policy.Store.
func (f *FakePolicyStore) CreatePolicy(_ context.Context, np policy.NewPolicy) (*policy.Policy, error) {
	f.mu.Lock()
	f.Created = append(f.Created, np)
	f.mu.Unlock()

	p := f.Add(policy.Policy{
		WorkspaceID:     np.WorkspaceID,
		Name:            np.Name,
		Description:     np.Description,
		Priority:        np.Priority,
		Enabled:         true,
		Scope:           np.Scope,
		ProviderPattern: np.ProviderPattern,
		SecretPattern:   np.SecretPattern,
		Rules:           np.Rules,
	})
	return &p, nil
}

// FakeMetering returns a fixed rotation count and records queries.
type FakeMetering struct {
	mu sync.Mutex

	Count int
	Err   error

	Periods  []int
	Recorded int
}

// RotationCount implements policy.MeteringStore.
func (f *FakeMetering) RotationCount(_ context.Context, _ string, periodDays int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Periods = append(f.Periods, periodDays)
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Count, nil
}

// RecordRotation counts a completed rotation.
func (f *FakeMetering) RecordRotation(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recorded++
	f.Count++
	return nil
}
