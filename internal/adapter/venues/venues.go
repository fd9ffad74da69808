// Package venues builds protocol adapters from operator-supplied specs.
package venues

import (
	"strings"

	"github.com/shopspring/decimal"

	"spendwise/internal/adapter/models"
	"spendwise/internal/adapter/venues/httpvenue"
	"spendwise/internal/adapter/venues/vault"
	dErrors "spendwise/pkg/domain-errors"
)

// Spec describes a venue to attach. APY applies to in-process vaults;
// BaseURL and APIKey to remote ones.
type Spec struct {
	Name    string      `json:"name"`
	Kind    models.Kind `json:"kind"`
	BaseURL string      `json:"base_url,omitempty"`
	APIKey  string      `json:"api_key,omitempty"`
	APY     string      `json:"apy,omitempty"`
}

// Build returns the adapter for spec. Vaults accept only asset.
func Build(spec Spec, asset string) (models.ProtocolAdapter, error) {
	switch spec.Kind {
	case models.KindVault, "":
		apy := decimal.Zero
		if s := strings.TrimSpace(spec.APY); s != "" {
			parsed, err := decimal.NewFromString(s)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid apy")
			}
			if parsed.IsNegative() {
				return nil, dErrors.New(dErrors.CodeValidation, "apy must not be negative")
			}
			apy = parsed
		}
		return vault.New(spec.Name, apy, vault.WithAsset(asset)), nil
	case models.KindHTTP:
		var opts []httpvenue.Option
		if spec.APIKey != "" {
			opts = append(opts, httpvenue.WithAPIKey(spec.APIKey))
		}
		client, err := httpvenue.New(spec.BaseURL, opts...)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid venue")
		}
		return client, nil
	}
	return nil, dErrors.New(dErrors.CodeValidation, "unknown adapter kind "+string(spec.Kind))
}
