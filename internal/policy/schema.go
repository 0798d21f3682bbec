package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/rules.schema.json
var rulesSchemaJSON []byte

var (
	rulesSchema     *gojsonschema.Schema
	rulesSchemaErr  error
	rulesSchemaOnce sync.Once
)

func loadRulesSchema() (*gojsonschema.Schema, error) {
	rulesSchemaOnce.Do(func() {
		rulesSchema, rulesSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rulesSchemaJSON))
	})
	return rulesSchema, rulesSchemaErr
}

// ValidateRulesJSON checks raw rules JSON against the rules schema.
func ValidateRulesJSON(raw []byte) error {
	schema, err := loadRulesSchema()
	if err != nil {
		return fmt.Errorf("failed to load rules schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
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

// Validate checks a policy's rules against the schema and compiles its
// patterns and windows.
func Validate(p *Policy) error {
	if _, err := ParseScope(string(p.Scope)); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("policy name is required")
	}

	raw, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules for validation: %w", err)
	}
	if err := ValidateRulesJSON(raw); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}

	for field, pattern := range map[string]string{
		"provider_pattern": p.ProviderPattern,
		"secret_pattern":   p.SecretPattern,
	} {
		if pattern == "" {
			continue
		}
		if _, err := compileGlob(pattern); err != nil {
			return &PatternError{PolicyName: p.Name, Field: field, Value: pattern, Err: err}
		}
	}

	for _, w := range p.Rules.MaintenanceWindows {
		if _, err := compileWindow(p.Name, w); err != nil {
			return err
		}
	}
	return nil
}
