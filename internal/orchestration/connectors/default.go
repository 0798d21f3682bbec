package connectors

import (
	"fmt"

	"github.com/systmms/credgate/internal/logging"
	"github.com/systmms/credgate/internal/orchestration"
)

// Default returns the built-in connectors using ambient cloud credentials.
func Default(logger *logging.Logger) []orchestration.Connector {
	return []orchestration.Connector{
		NewAWS(nil, logger),
		NewGCP(nil, logger),
		NewAzure(nil, logger),
	}
}

// requiredSettings names the setting each built-in connector cannot work
// without.
var requiredSettings = map[string]string{
	"aws":   "aws_region",
	"gcp":   "gcp_project_id",
	"azure": "azure_vault_url",
}

// Validate checks connector settings without contacting the cloud provider.
func Validate(cfg orchestration.ConnectorConfig) error {
	key, ok := requiredSettings[cfg.Provider]
	if !ok {
		return fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if _, err := cfg.Require(key); err != nil {
		return err
	}
	_, err := GeneratorFromConfig(cfg)
	return err
}
