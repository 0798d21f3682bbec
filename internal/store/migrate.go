package store

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Statements returns the schema DDL for the dialect, one statement per entry.
func Statements(dialect Dialect) ([]string, error) {
	raw, err := migrationFS.ReadFile(fmt.Sprintf("migrations/%s.sql", dialect))
	if err != nil {
		return nil, fmt.Errorf("no schema for dialect %q: %w", dialect, err)
	}

	var statements []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

// Migrate creates any missing tables. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	statements, err := Statements(d.dialect)
	if err != nil {
		return err
	}
	for i, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
