package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/systmms/credgate/internal/credentials"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	configSchemas     map[credentials.Mode]*gojsonschema.Schema
	configSchemasErr  error
	configSchemasOnce sync.Once
)

func loadConfigSchemas() (map[credentials.Mode]*gojsonschema.Schema, error) {
	configSchemasOnce.Do(func() {
		schemas := make(map[credentials.Mode]*gojsonschema.Schema)
		for _, mode := range credentials.Modes() {
			raw, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.schema.json", mode))
			if err != nil {
				configSchemasErr = fmt.Errorf("failed to read %s schema: %w", mode, err)
				return
			}
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				configSchemasErr = fmt.Errorf("failed to compile %s schema: %w", mode, err)
				return
			}
			schemas[mode] = schema
		}
		configSchemas = schemas
	})
	return configSchemas, configSchemasErr
}

// ValidateProviderConfig checks config fields against the schema for mode.
func ValidateProviderConfig(mode credentials.Mode, fields map[string]interface{}) error {
	schemas, err := loadConfigSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[mode]
	if !ok {
		return fmt.Errorf("no schema for credential mode %q", mode)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}
	return nil
}

// ProviderConfigStore implements credentials.ConfigStore over the
// provider_configs table.
type ProviderConfigStore struct {
	db  *DB
	now func() time.Time
}

// NewProviderConfigStore creates a ProviderConfigStore.
func NewProviderConfigStore(db *DB, opts ...Option) *ProviderConfigStore {
	o := applyOptions(opts)
	return &ProviderConfigStore{db: db, now: o.now}
}

// GetProviderConfig returns the stored mode and fields. A missing row is
// credentials.ErrNoProviderConfig; a corrupt row is a configuration error.
func (s *ProviderConfigStore) GetProviderConfig(ctx context.Context, workspaceID, provider string) (*credentials.ProviderConfig, error) {
	var (
		rawMode string
		rawJSON []byte
	)
	err := s.db.queryRow(ctx,
		`SELECT mode, config_json FROM provider_configs WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	).Scan(&rawMode, &rawJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNoProviderConfig
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider config: %w", err)
	}

	mode, err := credentials.ParseMode(rawMode)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &fields); err != nil {
			return nil, credentials.Configuration("decode provider config", err)
		}
	}
	return &credentials.ProviderConfig{Mode: mode, Fields: fields}, nil
}

// SaveProviderConfig validates and upserts a provider config.
func (s *ProviderConfigStore) SaveProviderConfig(ctx context.Context, workspaceID, provider string, cfg credentials.ProviderConfig) error {
	if err := ValidateProviderConfig(cfg.Mode, cfg.Fields); err != nil {
		return credentials.Configuration("validate provider config", err)
	}

	raw, err := json.Marshal(cfg.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode provider config: %w", err)
	}

	query := `INSERT INTO provider_configs (workspace_id, provider, mode, config_json, updated_at)
		VALUES ($1, $2, $3, $4, $5) ` +
		s.db.upsert([]string{"workspace_id", "provider"}, "mode", "config_json", "updated_at")
	if _, err := s.db.exec(ctx, query, workspaceID, provider, string(cfg.Mode), raw, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save provider config: %w", err)
	}
	return nil
}

var _ credentials.ConfigStore = (*ProviderConfigStore)(nil)
