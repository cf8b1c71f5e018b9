// Package refdata loads and standardizes the lookup tables a commission run depends on.
package refdata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/rules"

	"github.com/shopspring/decimal"
)

// ErrMissingRuleTable is returned when the commission-value or the age-band table is empty.
var ErrMissingRuleTable = errors.New("refdata: rule table is empty")

type Alias struct {
	Old string
	New string
}

type Distributor struct {
	Code string
	Name string
}

type PixKey struct {
	CPF     string
	Key     string
	KeyType string
}

type Contact struct {
	CPF   string
	Name  string
	Email string
	Phone string
}

// CommissionRow is a commission-value row as stored; values are still text.
type CommissionRow struct {
	Operator        string
	Entity          string
	Plan            string
	BeneficiaryType string
	AgeBand         string
	Product         string
	Vigencia        time.Time
	PaidBy          string
	Broker          string
	Supervisor      string
	Key             string
}

type AgeBandRow struct {
	Operator        string
	Entity          string
	Plan            string
	BeneficiaryType string
	Vigencia        time.Time
	MinAge          int
	MaxAge          int
	Label           string
}

// Raw holds the reference tables exactly as the upstream sources deliver them.
type Raw struct {
	Entities     []Alias
	Operators    []Alias
	Plans        []Alias
	Distributors []Distributor
	Commissions  []CommissionRow
	AgeBands     []AgeBandRow
	Pix          []PixKey
	Contacts     []Contact
}

// Tables is the normalized, read-only view of Raw used for the rest of a run.
type Tables struct {
	Entities     map[string]string
	Operators    map[string]string
	Plans        map[string]string
	Distributors map[string]string
	Pix          map[string]PixKey
	Contacts     map[string]Contact
	Commissions  []rules.CommissionRule
	AgeBands     []rules.AgeBand

	// Duplicates counts rows dropped per table because their natural key was already seen.
	Duplicates map[string]int
	// Rejected describes the commission rows skipped because a value could not be parsed.
	Rejected []string
}

// Normalize dedupes every alias table (first row wins), coerces types and sorts the commission
// table by vigencia, latest first. Commission rows with unparseable values are skipped and listed
// in Rejected. Only rule tables left empty are an error.
func Normalize(raw Raw) (*Tables, error) {
	if len(raw.Commissions) == 0 {
		return nil, fmt.Errorf("commission values: %w", ErrMissingRuleTable)
	}
	if len(raw.AgeBands) == 0 {
		return nil, fmt.Errorf("age bands: %w", ErrMissingRuleTable)
	}

	t := &Tables{
		Entities:     make(map[string]string, len(raw.Entities)),
		Operators:    make(map[string]string, len(raw.Operators)),
		Plans:        make(map[string]string, len(raw.Plans)),
		Distributors: make(map[string]string, len(raw.Distributors)),
		Pix:          make(map[string]PixKey, len(raw.Pix)),
		Contacts:     make(map[string]Contact, len(raw.Contacts)),
		Duplicates:   make(map[string]int),
	}

	t.aliases("entities", raw.Entities, t.Entities)
	t.aliases("operators", raw.Operators, t.Operators)
	t.aliases("plans", raw.Plans, t.Plans)

	for _, d := range raw.Distributors {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			continue
		}
		if _, ok := t.Distributors[code]; ok {
			t.Duplicates["distributors"]++
			continue
		}
		t.Distributors[code] = model.NormalizeName(d.Name)
	}

	for _, p := range raw.Pix {
		cpf := model.NormalizeCPF(p.CPF)
		if _, ok := t.Pix[cpf]; ok {
			t.Duplicates["pix"]++
			continue
		}
		p.CPF = cpf
		p.Key = strings.TrimSpace(p.Key)
		t.Pix[cpf] = p
	}

	for _, c := range raw.Contacts {
		cpf := model.NormalizeCPF(c.CPF)
		if _, ok := t.Contacts[cpf]; ok {
			t.Duplicates["contacts"]++
			continue
		}
		t.Contacts[cpf] = Contact{
			CPF:   cpf,
			Name:  model.NormalizeName(c.Name),
			Email: strings.ToLower(strings.TrimSpace(c.Email)),
			Phone: strings.TrimSpace(c.Phone),
		}
	}

	for _, row := range raw.Commissions {
		rule, err := commissionRule(row)
		if err != nil {
			t.Rejected = append(t.Rejected, err.Error())
			continue
		}
		t.Commissions = append(t.Commissions, rule)
	}
	if len(t.Commissions) == 0 {
		return nil, fmt.Errorf("commission values: %d row(s) rejected: %w", len(t.Rejected), ErrMissingRuleTable)
	}
	sort.SliceStable(t.Commissions, func(i, j int) bool {
		return t.Commissions[i].Vigencia.After(t.Commissions[j].Vigencia)
	})

	for _, row := range raw.AgeBands {
		t.AgeBands = append(t.AgeBands, rules.AgeBand{
			BandScope: rules.BandScope{
				Operator:        orWildcard(row.Operator),
				Entity:          orWildcard(row.Entity),
				Plan:            orWildcard(row.Plan),
				BeneficiaryType: strings.TrimSpace(row.BeneficiaryType),
			},
			Vigencia: model.Day(row.Vigencia),
			MinAge:   row.MinAge,
			MaxAge:   row.MaxAge,
			Label:    strings.TrimSpace(row.Label),
		})
	}
	return t, nil
}

func (t *Tables) aliases(name string, rows []Alias, into map[string]string) {
	for _, a := range rows {
		old := model.NormalizeName(a.Old)
		if old == "" {
			continue
		}
		if _, ok := into[old]; ok {
			t.Duplicates[name]++
			continue
		}
		into[old] = model.NormalizeName(a.New)
	}
}

// Resolver builds the rule resolver over the normalized tables.
func (t *Tables) Resolver() *rules.Resolver {
	return rules.NewResolver(t.Commissions, t.AgeBands)
}

func commissionRule(row CommissionRow) (rules.CommissionRule, error) {
	broker, err := parseAmount(row.Broker)
	if err != nil {
		return rules.CommissionRule{}, fmt.Errorf("commission rule %q broker value: %w", row.Key, err)
	}
	supervisor, err := parseAmount(row.Supervisor)
	if err != nil {
		return rules.CommissionRule{}, fmt.Errorf("commission rule %q supervisor value: %w", row.Key, err)
	}
	return rules.CommissionRule{
		Dimensions: rules.Dimensions{
			Operator:        strings.TrimSpace(row.Operator),
			Entity:          orWildcard(row.Entity),
			Plan:            strings.TrimSpace(row.Plan),
			BeneficiaryType: strings.TrimSpace(row.BeneficiaryType),
			AgeBand:         strings.TrimSpace(row.AgeBand),
			Product:         strings.TrimSpace(row.Product),
		},
		Vigencia:   model.Day(row.Vigencia),
		Kind:       ruleKind(row.PaidBy),
		Broker:     broker,
		Supervisor: supervisor,
		Key:        strings.TrimSpace(row.Key),
	}, nil
}

func ruleKind(paidBy string) rules.Kind {
	switch strings.ToUpper(strings.TrimSpace(paidBy)) {
	case "PERCENTAGE", "PERCENTUAL", "PORCENTAGEM", "%":
		return rules.KindPercentage
	default:
		return rules.KindFixed
	}
}

// parseAmount accepts "1234.5", "1.234,50" and "". Empty means zero.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}

func orWildcard(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return config.Wildcard
	}
	return s
}
