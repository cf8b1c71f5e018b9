// Package pipeline joins the extracts of a competence period with the reference tables and
// decides, record by record, what each broker and supervisor is owed.
//
// Nothing here fails: unmapped names, missing rules and out-of-band ages are routed into report
// buckets so a run always explains why a record was dropped.
package pipeline

import (
	"sort"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/logsink"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/refdata"
	"CommissionEngine/internal/rules"

	"github.com/shopspring/decimal"
)

// Unmapped dimension names.
const (
	DimOperators    = "OPERATORS"
	DimEntities     = "ENTITIES"
	DimDistributors = "DISTRIBUTORS"
	DimPlans        = "PLANS"
	DimRuleKeys     = "RULE_KEYS"
)

// Registry answers whether a proposal was already handled by a migration.
type Registry interface {
	Contains(proposal string) bool
}

type Input struct {
	Beneficiaries []Beneficiary
	Contracts     []Contract
	Billings      []Billing
	Tables        *refdata.Tables
	Config        config.EngineConfig
	RunDate       time.Time
	Migrations    Registry
	Log           *logsink.Sink
}

type Result struct {
	Lines              []ResolvedLine
	Merges             []JoinReport
	Unmapped           map[string][]string
	Eligibility        map[Reason][]string
	Filtered           map[string]int
	OverridesApplied   map[string]int
	BilledLives        int
	MigrationConflicts int
}

func newResult() Result {
	return Result{
		Unmapped: map[string][]string{
			DimOperators: {}, DimEntities: {}, DimDistributors: {}, DimPlans: {}, DimRuleKeys: {},
		},
		Eligibility: map[Reason][]string{
			ReasonNoRule: {}, ReasonAmbiguous: {}, ReasonNotEligible: {}, ReasonZero: {}, ReasonOutOfBand: {},
		},
		Filtered:         make(map[string]int),
		OverridesApplied: make(map[string]int),
	}
}

// Process runs the full join and eligibility chain over one batch.
func Process(in Input) Result {
	res := newResult()
	log := in.Log
	if log == nil {
		log = logsink.Discard(config.MaxLogBytes)
	}
	tables := in.Tables

	records := joinSources(in, &res)
	for _, r := range records {
		if r.Parcel == 1 {
			res.BilledLives++
		}
	}
	log.Printf("| - joined records: %d (billed lives: %d)", len(records), res.BilledLives)

	records = joinReferences(records, tables, &res)
	records = applyExclusions(records, in.Config.Exclusions, &res)
	records = partitionUnmapped(records, &res)
	log.Printf("| - records after filters and mapping: %d", len(records))

	resolver := tables.Resolver()
	ruleKeys := make(map[string]struct{})
	zeroKeys := make(map[string]struct{})
	var lines []ResolvedLine
	for _, r := range records {
		line := ResolvedLine{
			Record:  r,
			Age:     r.Age(in.RunDate),
			Product: r.Product(),
			Region:  r.Region(),
		}

		band := resolver.AgeBand(rules.BandScope{
			Operator:        r.OperatorName,
			Entity:          r.EntityName,
			Plan:            r.PlanName,
			BeneficiaryType: r.BeneficiaryType,
		}, line.Age, r.Vigencia)
		line.AgeBand = band.Label
		if forced, name, ok := rules.ApplyOverrides(in.Config.BandOverrides, rules.OverrideSubject{
			Operator:        r.Operator,
			Entity:          r.Entity,
			Plan:            r.Plan,
			BeneficiaryType: r.BeneficiaryType,
			Age:             line.Age,
			Vigencia:        r.Vigencia,
		}); ok {
			line.AgeBand, line.Override = forced, name
			band.OutOfBand = false
			res.OverridesApplied[name]++
		}
		if band.OutOfBand {
			res.Eligibility[ReasonOutOfBand] = append(res.Eligibility[ReasonOutOfBand], r.Proposal)
			continue
		}

		resolve(&line, resolver, in.Config.SupervisorCutoff)
		if line.Reason == ReasonNoRule {
			ruleKeys[ruleKeyText(line)] = struct{}{}
		}

		if in.Migrations != nil && in.Migrations.Contains(r.Proposal) {
			res.MigrationConflicts++
			continue
		}

		switch line.Reason {
		case Eligible:
			line.Broker = Party{CPF: r.BrokerCPF, Name: r.BrokerName}
			line.Supervisor = Party{CPF: r.SupervisorCPF, Name: r.SupervisorName}
			lines = append(lines, line)
		case ReasonZero:
			if _, seen := zeroKeys[line.RuleKey]; !seen {
				zeroKeys[line.RuleKey] = struct{}{}
				res.Eligibility[ReasonZero] = append(res.Eligibility[ReasonZero], line.RuleKey)
			}
		default:
			res.Eligibility[line.Reason] = append(res.Eligibility[line.Reason], r.Proposal)
		}
	}

	res.Unmapped[DimRuleKeys] = sortedKeys(ruleKeys)
	res.Lines, res.Merges = joinContacts(lines, tables, res.Merges)
	for name, n := range res.OverridesApplied {
		log.Printf("| - band override %s applied to %d record(s)", name, n)
	}
	if res.MigrationConflicts > 0 {
		log.Printf("| - %d record(s) already handled by migrations", res.MigrationConflicts)
	}
	log.Printf("| - eligible lines: %d", len(res.Lines))
	return res
}

func joinSources(in Input, res *Result) []Record {
	base := make([]Record, 0, len(in.Beneficiaries))
	for _, b := range in.Beneficiaries {
		base = append(base, Record{
			Proposal:        strings.TrimSpace(b.Proposal),
			BeneficiaryID:   strings.TrimSpace(b.BeneficiaryID),
			CPF:             b.CPF,
			Name:            model.NormalizeName(b.Name),
			BirthDate:       model.Day(b.BirthDate),
			BeneficiaryType: strings.TrimSpace(b.BeneficiaryType),
			Operator:        strings.TrimSpace(b.Operator),
			Entity:          strings.TrimSpace(b.Entity),
			Plan:            strings.TrimSpace(b.Plan),
			Vigencia:        model.Day(b.Vigencia),
			Branch:          strings.TrimSpace(b.Branch),
			Cancelled:       b.Cancelled,
			ContractNumber:  strings.TrimSpace(b.ContractNumber),
		})
	}

	contracts := make(map[string][]Contract, len(in.Contracts))
	for _, c := range in.Contracts {
		n := strings.TrimSpace(c.Number)
		if _, ok := contracts[n]; !ok {
			contracts[n] = []Contract{c}
		}
	}
	records, rep := LeftJoin("contracts", base, func(r Record) string { return r.ContractNumber }, contracts,
		func(r Record, c Contract, ok bool) Record {
			if !ok {
				return r
			}
			r.DistributorCode = strings.TrimSpace(c.DistributorCode)
			r.BrokerCPF = model.NormalizeCPF(c.BrokerCPF)
			r.BrokerName = model.NormalizeName(c.BrokerName)
			r.SupervisorCPF = model.NormalizeCPF(c.SupervisorCPF)
			r.SupervisorName = model.NormalizeName(c.SupervisorName)
			return r
		})
	res.Merges = append(res.Merges, rep)

	billing := IndexBy(in.Billings, func(b Billing) string { return strings.TrimSpace(b.ContractNumber) })
	records, rep = LeftJoin("billing", records, func(r Record) string { return r.ContractNumber }, billing,
		func(r Record, b Billing, ok bool) Record {
			if !ok {
				return r
			}
			r.Parcel = b.Parcel
			r.InvoiceStatus = b.Status
			r.PaymentDate = b.PaymentDate
			r.Invoice = b.Amount
			return r
		})
	res.Merges = append(res.Merges, rep)
	return records
}

func joinReferences(records []Record, t *refdata.Tables, res *Result) []Record {
	var rep JoinReport
	name := func(f func(Record) string) func(Record) string {
		return func(r Record) string { return model.NormalizeName(f(r)) }
	}

	records, rep = LookupJoin("entity", records, name(func(r Record) string { return r.Entity }), t.Entities,
		func(r Record, v string, ok bool) Record {
			if ok {
				r.EntityName = v
			}
			return r
		})
	res.Merges = append(res.Merges, rep)

	records, rep = LookupJoin("operator", records, name(func(r Record) string { return r.Operator }), t.Operators,
		func(r Record, v string, ok bool) Record {
			if ok {
				r.OperatorName = v
			}
			return r
		})
	res.Merges = append(res.Merges, rep)

	records, rep = LookupJoin("distributor", records, func(r Record) string { return r.DistributorCode }, t.Distributors,
		func(r Record, v string, ok bool) Record {
			if ok {
				r.DistributorName = v
			}
			return r
		})
	res.Merges = append(res.Merges, rep)

	records, rep = LookupJoin("plan", records, name(func(r Record) string { return r.Plan }), t.Plans,
		func(r Record, v string, ok bool) Record {
			if ok {
				r.PlanName = v
			}
			return r
		})
	res.Merges = append(res.Merges, rep)
	return records
}

func applyExclusions(records []Record, ex config.Exclusions, res *Result) []Record {
	operators := upperSet(ex.Operators)
	distributors := upperSet(ex.Distributors)
	plans := upperSet(ex.Plans)
	entities := upperSet(ex.Entities)
	parcels := make(map[int]struct{}, len(ex.PayableParcels))
	for _, p := range ex.PayableParcels {
		parcels[p] = struct{}{}
	}

	kept := records[:0:0]
	for _, r := range records {
		reason := ""
		switch {
		case has(operators, r.Operator):
			reason = "operator"
		case r.Cancelled:
			reason = "cancelled"
		case !hasParcel(parcels, r.Parcel):
			reason = "parcel"
		case r.DistributorName != "" && has(distributors, r.DistributorName):
			reason = "distributor"
		case has(plans, r.Plan) || containsAny(r.Plan, ex.PlanSubstrings):
			reason = "plan"
		case has(entities, r.Entity):
			reason = "entity"
		}
		if reason != "" {
			res.Filtered[reason]++
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func partitionUnmapped(records []Record, res *Result) []Record {
	seen := map[string]map[string]struct{}{
		DimOperators: {}, DimEntities: {}, DimDistributors: {}, DimPlans: {},
	}
	note := func(dim, value string) {
		seen[dim][value] = struct{}{}
	}

	kept := records[:0:0]
	for _, r := range records {
		ok := true
		if r.EntityName == "" {
			note(DimEntities, r.Entity)
			ok = false
		}
		if r.PlanName == "" {
			note(DimPlans, r.Plan)
			ok = false
		}
		if r.DistributorName == "" {
			note(DimDistributors, r.DistributorCode)
			ok = false
		}
		if r.OperatorName == "" {
			note(DimOperators, r.Operator)
			ok = false
		}
		if ok {
			kept = append(kept, r)
		}
	}
	for dim, values := range seen {
		res.Unmapped[dim] = sortedKeys(values)
	}
	return kept
}

func resolve(line *ResolvedLine, resolver *rules.Resolver, cutoff config.SupervisorCutoff) {
	r := line.Record
	if strings.EqualFold(line.AgeBand, config.NotEligibleBand) {
		line.Reason = ReasonNotEligible
		return
	}
	got := resolver.Commission(rules.Dimensions{
		Operator:        r.Operator,
		Entity:          r.Entity,
		Plan:            r.PlanName,
		BeneficiaryType: r.BeneficiaryType,
		AgeBand:         line.AgeBand,
		Product:         line.Product,
	}, r.Vigencia)

	switch got.Status {
	case rules.NotFound:
		line.Reason = ReasonNoRule
		return
	case rules.Ambiguous:
		line.Reason = ReasonAmbiguous
		return
	}

	line.RuleKey = got.Rule.Key + " - " + model.MonthYear(r.Vigencia)
	line.BrokerGross, line.SupervisorGross = got.Rule.Amounts(r.Invoice)
	if !cutoff.Before.IsZero() && r.Vigencia.Before(cutoff.Before.Time) && !strings.EqualFold(r.Branch, cutoff.ExemptBranch) {
		line.SupervisorGross = decimal.Zero
	}
	if line.BrokerGross.IsZero() {
		line.Reason = ReasonZero
	}
}

// ruleKeyText renders a missing rule the way the rule maintenance screen lists it.
func ruleKeyText(l ResolvedLine) string {
	return strings.Join([]string{
		model.MonthYear(l.Vigencia),
		l.Operator,
		l.EntityName,
		parcelLabel(l.Parcel),
		l.PlanName,
		l.AgeBand,
		l.BeneficiaryType,
		l.Product,
	}, " - ")
}

// joinContacts attaches e-mail, phone and pix data to both recipients of every line.
func joinContacts(lines []ResolvedLine, t *refdata.Tables, merges []JoinReport) ([]ResolvedLine, []JoinReport) {
	var rep JoinReport
	lines, rep = LookupJoin("broker_contact", lines, func(l ResolvedLine) string { return l.Broker.CPF }, t.Contacts,
		func(l ResolvedLine, c refdata.Contact, ok bool) ResolvedLine {
			if ok {
				l.Broker.Email, l.Broker.Phone = c.Email, c.Phone
			}
			return l
		})
	merges = append(merges, rep)

	lines, rep = LookupJoin("supervisor_contact", lines, func(l ResolvedLine) string { return l.Supervisor.CPF }, t.Contacts,
		func(l ResolvedLine, c refdata.Contact, ok bool) ResolvedLine {
			if ok {
				l.Supervisor.Email, l.Supervisor.Phone = c.Email, c.Phone
			}
			return l
		})
	merges = append(merges, rep)

	lines, rep = LookupJoin("broker_pix", lines, func(l ResolvedLine) string { return l.Broker.CPF }, t.Pix,
		func(l ResolvedLine, p refdata.PixKey, ok bool) ResolvedLine {
			if ok {
				l.Broker.PixKey, l.Broker.PixType = p.Key, p.KeyType
			}
			return l
		})
	merges = append(merges, rep)

	lines, rep = LookupJoin("supervisor_pix", lines, func(l ResolvedLine) string { return l.Supervisor.CPF }, t.Pix,
		func(l ResolvedLine, p refdata.PixKey, ok bool) ResolvedLine {
			if ok {
				l.Supervisor.PixKey, l.Supervisor.PixType = p.Key, p.KeyType
			}
			return l
		})
	merges = append(merges, rep)
	return lines, merges
}

func upperSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[model.NormalizeName(v)] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, v string) bool {
	_, ok := set[model.NormalizeName(v)]
	return ok
}

func hasParcel(set map[int]struct{}, n int) bool {
	_, ok := set[n]
	return ok
}

func containsAny(s string, subs []string) bool {
	s = strings.ToUpper(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToUpper(sub)) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
