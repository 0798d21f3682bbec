package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/credgate/internal/policy"
)

// PolicyStore implements policy.Store over the policies table.
type PolicyStore struct {
	db    *DB
	now   func() time.Time
	newID func() uuid.UUID
}

// NewPolicyStore creates a PolicyStore.
func NewPolicyStore(db *DB, opts ...Option) *PolicyStore {
	o := applyOptions(opts)
	return &PolicyStore{db: db, now: o.now, newID: uuid.New}
}

const policyColumns = `id, workspace_id, name, description, priority, enabled, scope,
	provider_pattern, secret_pattern, rules, created_at, updated_at`

// ListEnabledPolicies returns the enabled policies of a workspace, highest
// priority first and oldest first within a priority.
func (s *PolicyStore) ListEnabledPolicies(ctx context.Context, workspaceID string) ([]policy.Policy, error) {
	rows, err := s.db.query(ctx,
		`SELECT `+policyColumns+` FROM policies
		WHERE workspace_id = $1 AND enabled = $2
		ORDER BY priority DESC, created_at ASC`,
		workspaceID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return policies, nil
}

func scanPolicy(rows *sql.Rows) (*policy.Policy, error) {
	var (
		p               policy.Policy
		rawID           string
		description     sql.NullString
		scope           string
		providerPattern sql.NullString
		secretPattern   sql.NullString
		rawRules        []byte
	)
	if err := rows.Scan(&rawID, &p.WorkspaceID, &p.Name, &description, &p.Priority, &p.Enabled, &scope,
		&providerPattern, &secretPattern, &rawRules, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("policy %q has invalid id %q: %w", p.Name, rawID, err)
	}
	p.ID = id

	if p.Scope, err = policy.ParseScope(scope); err != nil {
		return nil, fmt.Errorf("policy %q: %w", p.Name, err)
	}
	p.Description = description.String
	p.ProviderPattern = providerPattern.String
	p.SecretPattern = secretPattern.String

	if len(rawRules) > 0 {
		if err := json.Unmarshal(rawRules, &p.Rules); err != nil {
			return nil, fmt.Errorf("policy %q has malformed rules: %w", p.Name, err)
		}
	}
	return &p, nil
}

// CreatePolicy inserts an enabled policy with a fresh id.
func (s *PolicyStore) CreatePolicy(ctx context.Context, np policy.NewPolicy) (*policy.Policy, error) {
	rules, err := json.Marshal(np.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy rules: %w", err)
	}

	now := s.now().UTC()
	p := &policy.Policy{
		ID:              s.newID(),
		WorkspaceID:     np.WorkspaceID,
		Name:            np.Name,
		Description:     np.Description,
		Priority:        np.Priority,
		Enabled:         true,
		Scope:           np.Scope,
		ProviderPattern: np.ProviderPattern,
		SecretPattern:   np.SecretPattern,
		Rules:           np.Rules,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.db.exec(ctx,
		`INSERT INTO policies (`+policyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID.String(), p.WorkspaceID, p.Name, nullString(p.Description), p.Priority, p.Enabled, string(p.Scope),
		nullString(p.ProviderPattern), nullString(p.SecretPattern), rules, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert policy: %w", err)
	}
	return p, nil
}

// SetPolicyEnabled toggles a policy.
func (s *PolicyStore) SetPolicyEnabled(ctx context.Context, workspaceID string, id uuid.UUID, enabled bool) error {
	res, err := s.db.exec(ctx,
		`UPDATE policies SET enabled = $1, updated_at = $2 WHERE workspace_id = $3 AND id = $4`,
		enabled, s.now().UTC(), workspaceID, id.String())
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ policy.Store = (*PolicyStore)(nil)
