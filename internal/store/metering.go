package store

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/credgate/internal/policy"
)

// MeteringStore implements policy.MeteringStore over the rotation_metering
// table, one row per workspace and UTC day.
type MeteringStore struct {
	db  *DB
	now func() time.Time
}

// NewMeteringStore creates a MeteringStore.
func NewMeteringStore(db *DB, opts ...Option) *MeteringStore {
	o := applyOptions(opts)
	return &MeteringStore{db: db, now: o.now}
}

// RotationCount sums the rotations recorded on or after the UTC day
// periodDays before today.
func (s *MeteringStore) RotationCount(ctx context.Context, workspaceID string, periodDays int) (int, error) {
	var count int64
	err := s.db.queryRow(ctx,
		`SELECT COALESCE(SUM(rotation_count), 0) FROM rotation_metering WHERE workspace_id = $1 AND date >= $2`,
		workspaceID, s.cutoff(periodDays),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to query rotation metering: %w", err)
	}
	return int(count), nil
}

func (s *MeteringStore) cutoff(periodDays int) time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -periodDays)
}

// RecordRotation increments today's counter.
func (s *MeteringStore) RecordRotation(ctx context.Context, workspaceID string) error {
	y, m, d := s.now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	query := `INSERT INTO rotation_metering (workspace_id, date, rotation_count) VALUES ($1, $2, 1) `
	if s.db.dialect == DialectMySQL {
		query += `ON DUPLICATE KEY UPDATE rotation_count = rotation_count + 1`
	} else {
		query += `ON CONFLICT (workspace_id, date) DO UPDATE SET rotation_count = rotation_metering.rotation_count + 1`
	}
	if _, err := s.db.exec(ctx, query, workspaceID, today); err != nil {
		return fmt.Errorf("failed to record rotation: %w", err)
	}
	return nil
}

var _ policy.MeteringStore = (*MeteringStore)(nil)
