// Package testutil provides test doubles for credgate's collaborator
// interfaces.
//
// Fakes are hand-written rather than generated. Each one records its calls
// and exposes a Func hook for per-test behaviour:
//
//	vault := testutil.NewFakeVault()
//	vault.GetCredentialFunc = func(ctx context.Context, ws, provider, secret string) (string, error) {
//	    return "", errors.New("vault unavailable")
//	}
//	resolver := credentials.NewResolver(cache, configs, vault)
package testutil
