package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/config"
	"github.com/systmms/credgate/internal/crypto"
	cgerrors "github.com/systmms/credgate/internal/errors"
)

func NewKeygenCommand(cfg *config.Config) *cobra.Command {
	var toKeyring bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master encryption key",
		Long: `Generate a random 32-byte master key. By default the base64 key is
printed for export as the master key environment variable. With --keyring
it is stored in the OS keychain under encryption.keyring_service instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}

			if !toKeyring {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			}

			if err := loadConfig(cfg); err != nil {
				return err
			}
			service := cfg.Definition.Encryption.KeyringService
			if service == "" {
				return cgerrors.ConfigError{
					Field:      "encryption.keyring_service",
					Message:    "no keyring service configured",
					Suggestion: "Set encryption.keyring_service in credgate.yaml, e.g. 'credgate'",
				}
			}
			if err := crypto.StoreKeyInKeyring(service, key); err != nil {
				return cgerrors.UserError{
					Message:    "Failed to store master key in the OS keychain",
					Details:    err.Error(),
					Suggestion: "Run without --keyring and export the printed key instead",
					Err:        err,
				}
			}
			cfg.Logger.Info("✓ Stored master key in keychain service %s", service)
			return nil
		},
	}

	cmd.Flags().BoolVar(&toKeyring, "keyring", false, "Store the key in the OS keychain instead of printing it")
	return cmd
}
