package authz

import (
	"errors"
	"testing"

	gateway "github.com/eugener/radagast/internal"
)

func TestEmbargo(t *testing.T) {
	t.Parallel()
	a := New(Config{})
	claims := &gateway.Claims{UserID: 1, Plan: gateway.PlanZedPro}

	for _, code := range []string{"KP", "kp", "T1", "SY"} {
		err := a.AuthorizeAccessToLanguageModel(claims, code, gateway.ProviderAnthropic, "claude-3-5-sonnet")
		if !errors.Is(err, gateway.ErrForbidden) {
			t.Errorf("country %q: err = %v, want ErrForbidden", code, err)
		}
	}

	for _, code := range []string{"", "US", "DE", "JP"} {
		if err := a.AuthorizeAccessToLanguageModel(claims, code, gateway.ProviderAnthropic, "claude-3-5-sonnet"); err != nil {
			t.Errorf("country %q: %v, want allow", code, err)
		}
	}
}

func TestEmbargoOverride(t *testing.T) {
	t.Parallel()
	a := New(Config{EmbargoedCountries: []string{"XX"}})
	claims := &gateway.Claims{UserID: 1}

	if err := a.AuthorizeAccessToLanguageModel(claims, "XX", gateway.ProviderGoogle, "gemini-1.5-pro"); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("overridden country: %v, want ErrForbidden", err)
	}
	// The default list no longer applies once overridden.
	if err := a.AuthorizeAccessToLanguageModel(claims, "KP", gateway.ProviderGoogle, "gemini-1.5-pro"); err != nil {
		t.Errorf("default-list country with override: %v, want allow", err)
	}
}

func TestPlanGating(t *testing.T) {
	t.Parallel()
	a := New(Config{PlanGatedModels: map[string]gateway.Plan{
		"anthropic/claude-3-opus": gateway.PlanZedPro,
	}})

	free := &gateway.Claims{UserID: 1, Plan: gateway.PlanFree}
	pro := &gateway.Claims{UserID: 2, Plan: gateway.PlanZedPro}
	staff := &gateway.Claims{UserID: 3, Plan: gateway.PlanFree, IsStaff: true}

	if err := a.AuthorizeAccessToLanguageModel(free, "US", gateway.ProviderAnthropic, "claude-3-opus"); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("free plan on gated model: %v, want ErrForbidden", err)
	}
	if err := a.AuthorizeAccessToLanguageModel(pro, "US", gateway.ProviderAnthropic, "claude-3-opus"); err != nil {
		t.Errorf("pro plan on gated model: %v, want allow", err)
	}
	if err := a.AuthorizeAccessToLanguageModel(staff, "US", gateway.ProviderAnthropic, "claude-3-opus"); err != nil {
		t.Errorf("staff on gated model: %v, want allow", err)
	}
	if err := a.AuthorizeAccessToLanguageModel(free, "US", gateway.ProviderAnthropic, "claude-3-5-sonnet"); err != nil {
		t.Errorf("free plan on open model: %v, want allow", err)
	}

	// Staff do not bypass the embargo.
	if err := a.AuthorizeAccessToLanguageModel(staff, "KP", gateway.ProviderAnthropic, "claude-3-opus"); !errors.Is(err, gateway.ErrForbidden) {
		t.Errorf("staff in embargoed country: %v, want ErrForbidden", err)
	}
}
