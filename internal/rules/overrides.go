package rules

import (
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"
)

// OverrideSubject is what a band override is matched against. Names are taken as delivered by
// the source, before alias normalization.
type OverrideSubject struct {
	Operator        string
	Entity          string
	Plan            string
	BeneficiaryType string
	Age             int
	Vigencia        time.Time
}

// ApplyOverrides returns the band forced by the last matching override, if any.
func ApplyOverrides(overrides []config.BandOverride, s OverrideSubject) (band, name string, ok bool) {
	for _, o := range overrides {
		if matches(o, s) {
			band, name, ok = o.Band, o.Name, true
		}
	}
	return band, name, ok
}

func matches(o config.BandOverride, s OverrideSubject) bool {
	if o.Operator != "" && model.NormalizeName(o.Operator) != model.NormalizeName(s.Operator) {
		return false
	}
	if o.BeneficiaryType != "" && !strings.EqualFold(strings.TrimSpace(o.BeneficiaryType), strings.TrimSpace(s.BeneficiaryType)) {
		return false
	}
	if s.Age < o.MinAge || (o.MaxAge > 0 && s.Age > o.MaxAge) {
		return false
	}
	if o.PlanContains != "" && !containsFold(s.Plan, o.PlanContains) {
		return false
	}
	if o.EntityContains != "" && !containsFold(s.Entity, o.EntityContains) {
		return false
	}
	if !o.VigenciaUntil.IsZero() && model.Day(s.Vigencia).After(model.Day(o.VigenciaUntil.Time)) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(sub))
}
