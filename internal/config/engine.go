package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Date is a calendar date read from YAML as "2006-01-02".
type Date struct {
	time.Time
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(DateFormat, raw)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", raw, err)
	}
	d.Time = t
	return nil
}

func MustDate(s string) Date {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		panic(err)
	}
	return Date{Time: t}
}

// Exclusions are records removed before any rule resolution.
type Exclusions struct {
	Operators      []string `yaml:"operators"`
	Distributors   []string `yaml:"distributors"`
	Plans          []string `yaml:"plans"`
	PlanSubstrings []string `yaml:"plan_substrings"`
	Entities       []string `yaml:"entities"`
	PayableParcels []int    `yaml:"payable_parcels"`
}

// BandOverride forces an age band for records matching every non-empty criterion.
// Operator, plan and entity are matched against the names delivered by the source.
type BandOverride struct {
	Name            string `yaml:"name"`
	Operator        string `yaml:"operator"`
	BeneficiaryType string `yaml:"beneficiary_type"`
	MinAge          int    `yaml:"min_age"`
	MaxAge          int    `yaml:"max_age"`
	PlanContains    string `yaml:"plan_contains"`
	EntityContains  string `yaml:"entity_contains"`
	VigenciaUntil   Date   `yaml:"vigencia_until"`
	Band            string `yaml:"band"`
}

// SupervisorCutoff zeroes supervisor commission for contracts that started before Before,
// unless the contract belongs to ExemptBranch.
type SupervisorCutoff struct {
	Before       Date   `yaml:"before"`
	ExemptBranch string `yaml:"exempt_branch"`
}

type EngineConfig struct {
	Exclusions       Exclusions       `yaml:"exclusions"`
	BandOverrides    []BandOverride   `yaml:"band_overrides"`
	SupervisorCutoff SupervisorCutoff `yaml:"supervisor_cutoff"`
	MigrationsPath   string           `yaml:"migrations_path"`
	MaxLogBytes      int              `yaml:"max_log_bytes"`
	TimeZone         string           `yaml:"time_zone"`
}

// DefaultEngineConfig mirrors the production filters and overrides.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Exclusions: Exclusions{
			Operators: []string{"INTEGRAL SAÚDE POP RIO"},
			Distributors: []string{
				"A2 CORRETORA", "BRISE CORRETORA", "MB2 CORRETORA", "FAST CORRETORA",
				"FAST-PORT CORRETORA", "FAST CORRETORA-TLV", "A2_PME CORRETORA", "MIGRACAO CORRETORA",
				"MIGRACAO - CORRETORA", "A2 CORRETORA-TLV CORRETORA", "FAST CORRETORA-TLV CORRETORA",
			},
			Plans:          []string{"DENTAL", "UNIMED DENTAL", "DENTSIM 10", "DENTSIM 20"},
			PlanSubstrings: []string{"DENT"},
			Entities:       []string{"AERO", "AFAMA", "AGERIO", "UNASPLAERJ", "UNEICEF", "NUCLEP", "ASMED"},
			PayableParcels: []int{1},
		},
		BandOverrides: []BandOverride{
			{
				Name:           "nova-saude-abrae-copart",
				Operator:       "NOVA SAUDE",
				MinAge:         3,
				MaxAge:         18,
				PlanContains:   "AD COPART",
				EntityContains: "ABRAE",
				VigenciaUntil:  MustDate("2025-11-20"),
				Band:           "Faixa 01",
			},
			{
				Name:            "nova-saude-dependents",
				Operator:        "NOVA SAUDE",
				BeneficiaryType: "Dependente",
				MinAge:          0,
				MaxAge:          18,
				Band:            "Faixa 01",
			},
		},
		SupervisorCutoff: SupervisorCutoff{
			Before:       MustDate("2024-01-01"),
			ExemptBranch: "FILIAL SP",
		},
		MigrationsPath: "faturas_migracao/faturas_migracao.xlsx",
		MaxLogBytes:    MaxLogBytes,
		TimeZone:       DefaultTimeZone,
	}
}

// LoadEngineConfig reads engine.yaml on top of the defaults. A missing file yields the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}
	if cfg.MaxLogBytes <= 0 {
		cfg.MaxLogBytes = MaxLogBytes
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = DefaultTimeZone
	}
	if len(cfg.Exclusions.PayableParcels) == 0 {
		cfg.Exclusions.PayableParcels = []int{1}
	}
	return cfg, nil
}
