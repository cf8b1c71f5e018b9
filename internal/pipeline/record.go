package pipeline

import (
	"strings"
	"time"

	"CommissionEngine/internal/model"

	"github.com/shopspring/decimal"
)

// Beneficiary, Contract and Billing are the extracts delivered by the search index.
type Beneficiary struct {
	ContractNumber  string
	Proposal        string
	BeneficiaryID   string
	CPF             string
	Name            string
	BirthDate       time.Time
	BeneficiaryType string
	Operator        string
	Entity          string
	Plan            string
	Branch          string
	Vigencia        time.Time
	Cancelled       bool
}

type Contract struct {
	Number          string
	DistributorCode string
	BrokerCPF       string
	BrokerName      string
	SupervisorCPF   string
	SupervisorName  string
}

type Billing struct {
	ContractNumber string
	Parcel         int
	Status         string
	PaymentDate    time.Time
	Amount         decimal.Decimal
}

// Record is a beneficiary joined with its contract, its billing line and the reference names.
type Record struct {
	Proposal        string
	BeneficiaryID   string
	CPF             string
	Name            string
	BirthDate       time.Time
	BeneficiaryType string
	Operator        string
	Entity          string
	Plan            string
	Vigencia        time.Time
	Branch          string
	Cancelled       bool

	ContractNumber  string
	DistributorCode string
	BrokerCPF       string
	BrokerName      string
	SupervisorCPF   string
	SupervisorName  string

	Parcel        int
	InvoiceStatus string
	PaymentDate   time.Time
	Invoice       decimal.Decimal

	OperatorName    string
	EntityName      string
	PlanName        string
	DistributorName string
}

// Age is the number of completed years at asOf.
func (r Record) Age(asOf time.Time) int {
	return model.AgeAt(r.BirthDate, asOf)
}

func (r Record) CompositeKey() string {
	return r.Proposal + r.BeneficiaryID
}

// Product is PME for business proposals and ADESAO for affinity-group ones.
func (r Record) Product() string {
	if r.Proposal == "" || strings.Contains(r.Proposal, "PA") {
		return "PME"
	}
	return "ADESAO"
}

// Region derives the paying region from the distributor name.
func (r Record) Region() string {
	switch {
	case strings.Contains(r.DistributorName, "(PE)"):
		return "PE"
	case strings.Contains(r.DistributorName, "(SP)"):
		return "SP"
	default:
		return "RJ"
	}
}

// Party is one recipient of a line with the contact data found for it.
type Party struct {
	CPF     string
	Name    string
	Email   string
	Phone   string
	PixKey  string
	PixType string
}

type Reason string

const (
	Eligible          Reason = ""
	ReasonNoRule      Reason = "no_rule"
	ReasonAmbiguous   Reason = "ambiguous_rule"
	ReasonNotEligible Reason = "not_eligible"
	ReasonZero        Reason = "zero_commission"
	ReasonOutOfBand   Reason = "out_of_band"
)

// ResolvedLine is a record after band and commission resolution.
type ResolvedLine struct {
	Record
	Age             int
	AgeBand         string
	Override        string
	Product         string
	RuleKey         string
	Region          string
	Broker          Party
	Supervisor      Party
	BrokerGross     decimal.Decimal
	SupervisorGross decimal.Decimal
	Reason          Reason
}

func parcelLabel(n int) string {
	switch n {
	case 1:
		return "1ª Parcela"
	case 2:
		return "2ª Parcela"
	default:
		return "erro"
	}
}
