package testutil

import (
	"context"
	"sync"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

// FakeConnector records rotations. Without RotateFunc it succeeds with a
// fixed new value.
type FakeConnector struct {
	mu sync.Mutex

	Name         string
	RotateFunc   func(ctx context.Context, req orchestration.RotationRequest, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error)
	RollbackFunc func(ctx context.Context, req orchestration.RotationRequest, oldValue logging.Secret, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error)

	Requests  []orchestration.RotationRequest
	Configs   []orchestration.ConnectorConfig
	Rollbacks []logging.Secret
}

// Provider implements orchestration.Connector.
func (f *FakeConnector) Provider() string {
	return f.Name
}

// RotateSecret implements orchestration.Connector.
func (f *FakeConnector) RotateSecret(ctx context.Context, req orchestration.RotationRequest, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.Configs = append(f.Configs, cfg)
	fn := f.RotateFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, cfg)
	}
	return &orchestration.RotationResult{
		Success:  true,
		OldValue: "old-value",
		NewValue: "new-value",
		Metadata: map[string]interface{}{"provider": f.Name},
	}, nil
}

// Rollback implements orchestration.Connector.
func (f *FakeConnector) Rollback(ctx context.Context, req orchestration.RotationRequest, oldValue logging.Secret, cfg orchestration.ConnectorConfig) (*orchestration.RotationResult, error) {
	f.mu.Lock()
	f.Rollbacks = append(f.Rollbacks, oldValue)
	fn := f.RollbackFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, oldValue, cfg)
	}
	return &orchestration.RotationResult{
		Success:  true,
		NewValue: oldValue,
		Metadata: map[string]interface{}{"rollback": true},
	}, nil
}

// RotationCount returns the number of recorded rotations.
func (f *FakeConnector) RotationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}
