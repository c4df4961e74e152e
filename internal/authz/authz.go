// Package authz gates access to language models before any quota or upstream
// work happens. Two gates apply: a country embargo driven by the trusted proxy
// country header, and per-plan model gating from configuration.
package authz

import (
	"fmt"
	"strings"

	gateway "github.com/eugener/radagast/internal"
)

// defaultEmbargoedCountries are the country codes denied when the
// configuration does not override the list. "T1" is the code the proxy assigns
// to Tor exit nodes.
var defaultEmbargoedCountries = []string{"CU", "IR", "KP", "SY", "T1"}

// Config declares the authorization policy.
type Config struct {
	// EmbargoedCountries overrides the default embargo list when non-empty.
	EmbargoedCountries []string
	// PlanGatedModels maps "provider/model" to the minimum plan required.
	// Models absent from the map are open to every plan.
	PlanGatedModels map[string]gateway.Plan
}

// Authorizer answers whether a caller may use a model.
type Authorizer struct {
	embargoed map[string]struct{}
	gated     map[string]gateway.Plan
}

// New builds an Authorizer from cfg.
func New(cfg Config) *Authorizer {
	countries := cfg.EmbargoedCountries
	if len(countries) == 0 {
		countries = defaultEmbargoedCountries
	}
	embargoed := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		embargoed[strings.ToUpper(c)] = struct{}{}
	}
	gated := make(map[string]gateway.Plan, len(cfg.PlanGatedModels))
	for k, v := range cfg.PlanGatedModels {
		gated[k] = v
	}
	return &Authorizer{embargoed: embargoed, gated: gated}
}

// AuthorizeAccessToLanguageModel checks the caller against the embargo list
// and the model's plan gate. countryCode may be empty when the proxy header is
// absent; an empty code passes the embargo check. Staff bypass plan gating but
// not the embargo.
func (a *Authorizer) AuthorizeAccessToLanguageModel(claims *gateway.Claims, countryCode string, provider gateway.Provider, model string) error {
	if countryCode != "" {
		if _, denied := a.embargoed[strings.ToUpper(countryCode)]; denied {
			return fmt.Errorf("%w: access to language models is not available in your region", gateway.ErrForbidden)
		}
	}

	required, gatedModel := a.gated[string(provider)+"/"+model]
	if !gatedModel || claims.IsStaff {
		return nil
	}
	if !planSatisfies(claims.Plan, required) {
		return fmt.Errorf("%w: the %s model requires the %s plan", gateway.ErrForbidden, model, required)
	}
	return nil
}

// planSatisfies reports whether have grants at least the access of want.
func planSatisfies(have, want gateway.Plan) bool {
	if want == gateway.PlanFree {
		return true
	}
	return have == gateway.PlanZedPro
}
