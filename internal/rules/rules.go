// Package rules resolves commission values and age bands from versioned rule tables.
//
// Every rule carries a vigencia (effective-from date). For a given lookup the latest vigencia on or
// before the as-of date is authoritative; older versions are shadowed. Resolution never performs
// I/O and never fails: callers branch on the Status of the returned result.
package rules

import (
	"sort"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindFixed      Kind = "FIXED"
	KindPercentage Kind = "PERCENTAGE"
)

type Status int

const (
	NotFound Status = iota
	Resolved
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Dimensions identify a commission rule. AgeBand holds a band label, not an age.
type Dimensions struct {
	Operator        string
	Entity          string
	Plan            string
	BeneficiaryType string
	AgeBand         string
	Product         string
}

func (d Dimensions) normalized() Dimensions {
	return Dimensions{
		Operator:        model.NormalizeName(d.Operator),
		Entity:          model.NormalizeName(d.Entity),
		Plan:            model.NormalizeName(d.Plan),
		BeneficiaryType: model.NormalizeName(d.BeneficiaryType),
		AgeBand:         model.NormalizeName(d.AgeBand),
		Product:         model.NormalizeName(d.Product),
	}
}

type CommissionRule struct {
	Dimensions
	Vigencia   time.Time
	Kind       Kind
	Broker     decimal.Decimal
	Supervisor decimal.Decimal
	Key        string
}

// Amounts returns what the rule pays the broker and the supervisor for one invoice.
func (r CommissionRule) Amounts(invoice decimal.Decimal) (broker, supervisor decimal.Decimal) {
	if r.Kind == KindPercentage {
		hundred := decimal.NewFromInt(100)
		return r.Broker.Div(hundred).Mul(invoice).Round(2), r.Supervisor.Div(hundred).Mul(invoice).Round(2)
	}
	return r.Broker, r.Supervisor
}

type CommissionResult struct {
	Status Status
	Rule   CommissionRule
}

// BandScope identifies the age-band table that applies to a beneficiary.
type BandScope struct {
	Operator        string
	Entity          string
	Plan            string
	BeneficiaryType string
}

func (s BandScope) normalized() BandScope {
	return BandScope{
		Operator:        model.NormalizeName(s.Operator),
		Entity:          model.NormalizeName(s.Entity),
		Plan:            model.NormalizeName(s.Plan),
		BeneficiaryType: model.NormalizeName(s.BeneficiaryType),
	}
}

type AgeBand struct {
	BandScope
	Vigencia time.Time
	MinAge   int
	MaxAge   int
	Label    string
}

func (b AgeBand) contains(age int) bool {
	return age >= b.MinAge && age <= b.MaxAge
}

type BandResult struct {
	Label     string
	OutOfBand bool
}

type Resolver struct {
	commissions map[Dimensions][]CommissionRule
	bands       map[BandScope][]AgeBand
}

// NewResolver indexes both tables. Input slices are not retained.
func NewResolver(commissions []CommissionRule, bands []AgeBand) *Resolver {
	r := &Resolver{
		commissions: make(map[Dimensions][]CommissionRule),
		bands:       make(map[BandScope][]AgeBand),
	}
	for _, c := range commissions {
		k := c.Dimensions.normalized()
		r.commissions[k] = append(r.commissions[k], c)
	}
	for _, b := range bands {
		k := b.BandScope.normalized()
		r.bands[k] = append(r.bands[k], b)
	}
	for _, rows := range r.bands {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].MinAge < rows[j].MinAge })
	}
	return r
}

// Commission looks up the rule for q. When the exact dimensions have no version effective at asOf
// the lookup is retried with the wildcard entity. Ambiguity on the exact dimensions is final.
func (r *Resolver) Commission(q Dimensions, asOf time.Time) CommissionResult {
	q = q.normalized()
	res := latestCommission(r.commissions[q], asOf)
	if res.Status != NotFound || q.Entity == config.Wildcard {
		return res
	}
	q.Entity = config.Wildcard
	return latestCommission(r.commissions[q], asOf)
}

func latestCommission(rows []CommissionRule, asOf time.Time) CommissionResult {
	asOf = model.Day(asOf)
	var latest time.Time
	var hits []CommissionRule
	for _, row := range rows {
		v := model.Day(row.Vigencia)
		if v.After(asOf) {
			continue
		}
		switch {
		case len(hits) == 0 || v.After(latest):
			latest = v
			hits = append(hits[:0], row)
		case v.Equal(latest):
			hits = append(hits, row)
		}
	}
	switch len(hits) {
	case 0:
		return CommissionResult{Status: NotFound}
	case 1:
		return CommissionResult{Status: Resolved, Rule: hits[0]}
	default:
		return CommissionResult{Status: Ambiguous, Rule: hits[0]}
	}
}

// AgeBand walks (entity, plan), (entity, -), (-, plan), (-, -) and stops at the first level that
// has any rows. Within that level the latest vigencia on or before asOf applies.
func (r *Resolver) AgeBand(scope BandScope, age int, asOf time.Time) BandResult {
	scope = scope.normalized()
	levels := [...][2]string{
		{scope.Entity, scope.Plan},
		{scope.Entity, config.Wildcard},
		{config.Wildcard, scope.Plan},
		{config.Wildcard, config.Wildcard},
	}
	for _, lv := range levels {
		k := scope
		k.Entity, k.Plan = lv[0], lv[1]
		rows := r.bands[k]
		if len(rows) == 0 {
			continue
		}
		return bandAt(rows, age, asOf)
	}
	return BandResult{OutOfBand: true}
}

func bandAt(rows []AgeBand, age int, asOf time.Time) BandResult {
	asOf = model.Day(asOf)
	var latest time.Time
	found := false
	for _, row := range rows {
		v := model.Day(row.Vigencia)
		if v.After(asOf) {
			continue
		}
		if !found || v.After(latest) {
			latest, found = v, true
		}
	}
	if !found {
		return BandResult{OutOfBand: true}
	}
	for _, row := range rows {
		if model.Day(row.Vigencia).Equal(latest) && row.contains(age) {
			return BandResult{Label: row.Label}
		}
	}
	return BandResult{OutOfBand: true}
}
