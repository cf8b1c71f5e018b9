package rules

import (
	"testing"
	"time"

	"CommissionEngine/internal/config"

	"github.com/shopspring/decimal"
)

func day(s string) time.Time {
	t, err := time.Parse(config.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

var dims = Dimensions{
	Operator:        "NOVA SAUDE",
	Entity:          "ABRAE",
	Plan:            "NOVA AD COPART",
	BeneficiaryType: "Titular",
	AgeBand:         "Faixa 02",
	Product:         "ADESAO",
}

func TestCommissionLatestVigenciaWins(t *testing.T) {
	t.Parallel()

	fixed := CommissionRule{Dimensions: dims, Vigencia: day("2024-01-01"), Kind: KindFixed, Broker: decimal.NewFromInt(50), Key: "fixed"}
	pct := CommissionRule{Dimensions: dims, Vigencia: day("2024-06-01"), Kind: KindPercentage, Broker: decimal.NewFromInt(10), Key: "pct"}
	r := NewResolver([]CommissionRule{fixed, pct}, nil)

	tests := []struct {
		asOf    string
		wantKey string
		wantAmt string
	}{
		{"2024-07-01", "pct", "30"},
		{"2024-06-01", "pct", "30"},
		{"2024-03-01", "fixed", "50"},
	}
	for _, tc := range tests {
		res := r.Commission(dims, day(tc.asOf))
		if res.Status != Resolved {
			t.Fatalf("Commission(%s) status = %s, want resolved", tc.asOf, res.Status)
		}
		if res.Rule.Key != tc.wantKey {
			t.Fatalf("Commission(%s) key = %q, want %q", tc.asOf, res.Rule.Key, tc.wantKey)
		}
		broker, _ := res.Rule.Amounts(decimal.NewFromInt(300))
		if !broker.Equal(decimal.RequireFromString(tc.wantAmt)) {
			t.Fatalf("Commission(%s) broker = %s, want %s", tc.asOf, broker, tc.wantAmt)
		}
	}

	if res := r.Commission(dims, day("2023-12-31")); res.Status != NotFound {
		t.Fatalf("Commission before first vigencia status = %s, want not_found", res.Status)
	}
}

func TestCommissionAmbiguous(t *testing.T) {
	t.Parallel()

	r := NewResolver([]CommissionRule{
		{Dimensions: dims, Vigencia: day("2024-01-01"), Broker: decimal.NewFromInt(40), Key: "old"},
		{Dimensions: dims, Vigencia: day("2024-05-01"), Broker: decimal.NewFromInt(50), Key: "a"},
		{Dimensions: dims, Vigencia: day("2024-05-01"), Broker: decimal.NewFromInt(60), Key: "b"},
	}, nil)

	if res := r.Commission(dims, day("2024-06-01")); res.Status != Ambiguous {
		t.Fatalf("status = %s, want ambiguous", res.Status)
	}
	if res := r.Commission(dims, day("2024-04-01")); res.Status != Resolved || res.Rule.Key != "old" {
		t.Fatalf("before the duplicated version = %s %q, want resolved old", res.Status, res.Rule.Key)
	}
}

func TestCommissionWildcardEntityFallback(t *testing.T) {
	t.Parallel()

	wild := dims
	wild.Entity = config.Wildcard
	r := NewResolver([]CommissionRule{
		{Dimensions: dims, Vigencia: day("2025-01-01"), Broker: decimal.NewFromInt(70), Key: "exact"},
		{Dimensions: wild, Vigencia: day("2024-01-01"), Broker: decimal.NewFromInt(30), Key: "wild"},
	}, nil)

	tests := []struct {
		name    string
		q       Dimensions
		asOf    string
		wantKey string
	}{
		{"exact match", dims, "2025-02-01", "exact"},
		{"exact not yet effective", dims, "2024-06-01", "wild"},
		{"unknown entity", Dimensions{Operator: dims.Operator, Entity: "OUTRA", Plan: dims.Plan, BeneficiaryType: dims.BeneficiaryType, AgeBand: dims.AgeBand, Product: dims.Product}, "2024-06-01", "wild"},
		{"case and spacing", Dimensions{Operator: " nova saude", Entity: "abrae", Plan: "nova ad copart", BeneficiaryType: "titular", AgeBand: "faixa 02", Product: "adesao"}, "2025-02-01", "exact"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := r.Commission(tc.q, day(tc.asOf))
			if res.Status != Resolved || res.Rule.Key != tc.wantKey {
				t.Fatalf("got %s %q, want resolved %q", res.Status, res.Rule.Key, tc.wantKey)
			}
		})
	}
}

func TestAgeBandCascade(t *testing.T) {
	t.Parallel()

	scope := BandScope{Operator: "NOVA SAUDE", Entity: "ABRAE", Plan: "NOVA AD COPART", BeneficiaryType: "Titular"}
	at := func(entity, plan string) BandScope {
		s := scope
		s.Entity, s.Plan = entity, plan
		return s
	}
	v := day("2024-01-01")
	bands := []AgeBand{
		{BandScope: at("ABRAE", config.Wildcard), Vigencia: v, MinAge: 0, MaxAge: 29, Label: "Faixa 01"},
		{BandScope: at(config.Wildcard, "NOVA AD COPART"), Vigencia: v, MinAge: 0, MaxAge: 99, Label: "Plano"},
		{BandScope: at(config.Wildcard, config.Wildcard), Vigencia: v, MinAge: 0, MaxAge: 99, Label: "Geral"},
	}
	r := NewResolver(nil, bands)

	// The (entity, -) level has rows, so the age 40 miss there is final.
	if got := r.AgeBand(scope, 40, day("2024-06-01")); !got.OutOfBand {
		t.Fatalf("AgeBand(40) = %+v, want out of band", got)
	}
	if got := r.AgeBand(scope, 20, day("2024-06-01")); got.Label != "Faixa 01" {
		t.Fatalf("AgeBand(20) = %+v, want Faixa 01", got)
	}

	other := at("OUTRA", "OUTRO PLANO")
	if got := r.AgeBand(other, 40, day("2024-06-01")); got.OutOfBand || got.Label != "Geral" {
		t.Fatalf("AgeBand wildcard fallback = %+v, want Geral", got)
	}
	onlyPlan := at("OUTRA", "NOVA AD COPART")
	if got := r.AgeBand(onlyPlan, 40, day("2024-06-01")); got.Label != "Plano" {
		t.Fatalf("AgeBand plan level = %+v, want Plano", got)
	}
}

func TestAgeBandLatestVersionAndBounds(t *testing.T) {
	t.Parallel()

	scope := BandScope{Operator: "AMIL", Entity: config.Wildcard, Plan: config.Wildcard, BeneficiaryType: "Titular"}
	r := NewResolver(nil, []AgeBand{
		{BandScope: scope, Vigencia: day("2023-01-01"), MinAge: 0, MaxAge: 59, Label: "Antiga"},
		{BandScope: scope, Vigencia: day("2024-01-01"), MinAge: 19, MaxAge: 23, Label: "Faixa 02"},
		{BandScope: scope, Vigencia: day("2024-01-01"), MinAge: 0, MaxAge: 18, Label: "Faixa 01"},
	})

	tests := []struct {
		age  int
		asOf string
		want string
	}{
		{18, "2024-02-01", "Faixa 01"},
		{19, "2024-02-01", "Faixa 02"},
		{23, "2024-02-01", "Faixa 02"},
		{24, "2024-02-01", ""},
		{40, "2023-06-01", "Antiga"},
	}
	for _, tc := range tests {
		got := r.AgeBand(BandScope{Operator: "amil", Entity: "QUALQUER", Plan: "QUALQUER", BeneficiaryType: "Titular"}, tc.age, day(tc.asOf))
		if tc.want == "" {
			if !got.OutOfBand {
				t.Fatalf("AgeBand(%d, %s) = %+v, want out of band", tc.age, tc.asOf, got)
			}
			continue
		}
		if got.Label != tc.want {
			t.Fatalf("AgeBand(%d, %s) = %+v, want %s", tc.age, tc.asOf, got, tc.want)
		}
	}

	if got := r.AgeBand(scope, 30, day("2022-01-01")); !got.OutOfBand {
		t.Fatalf("no effective version = %+v, want out of band", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	overrides := config.DefaultEngineConfig().BandOverrides
	tests := []struct {
		name     string
		s        OverrideSubject
		wantName string
	}{
		{
			name:     "abrae copart minor",
			s:        OverrideSubject{Operator: "NOVA SAUDE", Entity: "ABRAE RJ", Plan: "NOVA AD COPART ENF", BeneficiaryType: "Titular", Age: 10, Vigencia: day("2025-11-20")},
			wantName: "nova-saude-abrae-copart",
		},
		{
			name: "abrae copart after window",
			s:    OverrideSubject{Operator: "NOVA SAUDE", Entity: "ABRAE RJ", Plan: "NOVA AD COPART ENF", BeneficiaryType: "Titular", Age: 10, Vigencia: day("2025-11-21")},
		},
		{
			name: "abrae copart adult",
			s:    OverrideSubject{Operator: "NOVA SAUDE", Entity: "ABRAE", Plan: "AD COPART", BeneficiaryType: "Titular", Age: 19, Vigencia: day("2025-01-01")},
		},
		{
			name:     "dependent minor",
			s:        OverrideSubject{Operator: "NOVA SAUDE", Entity: "OUTRA", Plan: "OUTRO", BeneficiaryType: "Dependente", Age: 0, Vigencia: day("2026-01-01")},
			wantName: "nova-saude-dependents",
		},
		{
			name: "other operator",
			s:    OverrideSubject{Operator: "AMIL", Entity: "ABRAE", Plan: "AD COPART", BeneficiaryType: "Dependente", Age: 5, Vigencia: day("2025-01-01")},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			band, name, ok := ApplyOverrides(overrides, tc.s)
			if tc.wantName == "" {
				if ok {
					t.Fatalf("override %q applied, want none", name)
				}
				return
			}
			if !ok || name != tc.wantName || band != "Faixa 01" {
				t.Fatalf("ApplyOverrides = (%q, %q, %v), want (Faixa 01, %q, true)", band, name, ok, tc.wantName)
			}
		})
	}
}
