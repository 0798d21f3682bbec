package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/credgate/internal/credentials"
	cgerrors "github.com/systmms/credgate/internal/errors"
)

// targetFlags names one credential.
type targetFlags struct {
	workspace string
	provider  string
	secret    string
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.workspace, "workspace", "w", "", "Workspace ID")
	cmd.Flags().StringVarP(&t.provider, "provider", "p", "", "Provider name (e.g. github, aws)")
	cmd.Flags().StringVarP(&t.secret, "secret", "s", "", "Secret name")
}

func (t targetFlags) validate() error {
	var missing []string
	if t.workspace == "" {
		missing = append(missing, "--workspace")
	}
	if t.provider == "" {
		missing = append(missing, "--provider")
	}
	if t.secret == "" {
		missing = append(missing, "--secret")
	}
	if len(missing) == 0 {
		return nil
	}
	return cgerrors.UserError{
		Message:    fmt.Sprintf("Missing required flags: %s", strings.Join(missing, ", ")),
		Suggestion: "Every credential is addressed by workspace, provider and secret name",
	}
}

// explainResolveError attaches operator guidance to a resolution failure.
func explainResolveError(err error) error {
	var suggestion string
	switch credentials.KindOf(err) {
	case credentials.KindNotFound:
		suggestion = "Check the secret name, or store the credential with 'credgate provider put-secret'"
	case credentials.KindCircuitOpen:
		suggestion = "The source failed repeatedly; retry after the breaker timeout or inspect it with 'credgate breaker'"
	case credentials.KindConfiguration:
		suggestion = "Check the workspace's provider configuration with 'credgate provider set'"
	case credentials.KindCanceled:
		return err
	default:
		suggestion = "The source may be temporarily unavailable; try again"
		var ce *credentials.Error
		if errors.As(err, &ce) && ce.Err != nil {
			if s := cgerrors.ProviderSuggestion(string(ce.Mode), ce.Err); s != "" {
				suggestion = s
			} else if s := cgerrors.ProviderSuggestion(ce.Provider, ce.Err); s != "" {
				suggestion = s
			}
		}
		if cgerrors.IsRetryable(err) {
			suggestion = "The source is throttling or timing out; retry shortly. " + suggestion
		}
	}
	return cgerrors.UserError{
		Message:    "Failed to resolve credential",
		Details:    err.Error(),
		Suggestion: suggestion,
		Err:        err,
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
