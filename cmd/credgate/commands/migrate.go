package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/store"
)

func NewMigrateCommand(cfg *config.Config) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the credgate tables",
		Long: `Apply the embedded schema for the configured database driver. Every
statement is idempotent, so migrate is safe to rerun.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cfg); err != nil {
				return err
			}
			def := cfg.Definition

			if printOnly {
				dialect, err := store.ParseDialect(def.Database.Driver)
				if err != nil {
					return err
				}
				statements, err := store.Statements(dialect)
				if err != nil {
					return err
				}
				for _, stmt := range statements {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s;\n\n", stmt); err != nil {
						return err
					}
				}
				return nil
			}

			ctx := cmd.Context()
			db, err := openDatabase(ctx, def)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			cfg.Logger.Info("✓ Schema is up to date (%s)", db.Dialect())
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the schema statements instead of applying them")
	return cmd
}
