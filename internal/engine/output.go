package engine

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/dedup"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/netting"
	"CommissionEngine/internal/pipeline"

	"github.com/shopspring/decimal"
)

const (
	recipientBroker     = "QV. SAÚDE - BONIFICAÇÃO CORRETOR"
	recipientSupervisor = "QV. SAÚDE - BONIFICAÇÃO SUPERVISOR"
	notApplicable       = "N/A"
)

func recipientType(r model.Role) string {
	if r == model.RoleSupervisor {
		return recipientSupervisor
	}
	return recipientBroker
}

// stamp carries the labels shared by every payment row of a run.
type stamp struct {
	month       string
	competence  string
	paymentDate string
	registered  string
	today       string
}

func newStamp(w Window, now time.Time) stamp {
	label := model.MonthYear(w.PaymentDate)
	return stamp{
		month:       label,
		competence:  strconv.Itoa(w.Competence) + "ª - " + strings.ReplaceAll(label, "/", ""),
		paymentDate: w.PaymentDate.Format(config.DateFormat),
		registered:  now.Format(config.DateTimeFormat),
		today:       now.Format(config.DateFormat),
	}
}

type PayableRow struct {
	CPF           string          `json:"cpf"`
	Name          string          `json:"name"`
	Role          model.Role      `json:"role"`
	RecipientType string          `json:"recipient_type"`
	Gross         decimal.Decimal `json:"gross"`
	Discount      decimal.Decimal `json:"discount"`
	Net           decimal.Decimal `json:"net"`
	PixKey        string          `json:"pix_key"`
	PixType       string          `json:"pix_type"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	Month         string          `json:"month"`
	Competence    string          `json:"competence"`
	PaymentDate   string          `json:"payment_date"`
	RegisteredAt  string          `json:"registered_at"`
}

type MissingPixRow struct {
	Proposal        string          `json:"proposal"`
	ContractNumber  string          `json:"contract_number"`
	BeneficiaryCPF  string          `json:"beneficiary_cpf"`
	BeneficiaryName string          `json:"beneficiary_name"`
	Role            model.Role      `json:"role"`
	CPF             string          `json:"cpf"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	Gross           decimal.Decimal `json:"gross"`
}

type LineRow struct {
	ContractNumber    string          `json:"contract_number"`
	Operator          string          `json:"operator"`
	Entity            string          `json:"entity"`
	Plan              string          `json:"plan"`
	Proposal          string          `json:"proposal"`
	Vigencia          string          `json:"vigencia"`
	BeneficiaryCPF    string          `json:"beneficiary_cpf"`
	BeneficiaryName   string          `json:"beneficiary_name"`
	BeneficiaryType   string          `json:"beneficiary_type"`
	BeneficiaryID     string          `json:"beneficiary_id"`
	Age               int             `json:"age"`
	AgeBand           string          `json:"age_band"`
	Override          string          `json:"override,omitempty"`
	Product           string          `json:"product"`
	Parcel            int             `json:"parcel"`
	InvoiceStatus     string          `json:"invoice_status"`
	PaymentDate       string          `json:"payment_date"`
	Distributor       string          `json:"distributor"`
	Region            string          `json:"region"`
	RuleKey           string          `json:"rule_key"`
	BrokerCPF         string          `json:"broker_cpf"`
	BrokerName        string          `json:"broker_name"`
	BrokerGross       decimal.Decimal `json:"broker_gross"`
	BrokerEmail       string          `json:"broker_email"`
	BrokerPhone       string          `json:"broker_phone"`
	BrokerPixKey      string          `json:"broker_pix_key"`
	BrokerPixType     string          `json:"broker_pix_type"`
	SupervisorCPF     string          `json:"supervisor_cpf"`
	SupervisorName    string          `json:"supervisor_name"`
	SupervisorGross   decimal.Decimal `json:"supervisor_gross"`
	SupervisorEmail   string          `json:"supervisor_email"`
	SupervisorPhone   string          `json:"supervisor_phone"`
	SupervisorPixKey  string          `json:"supervisor_pix_key"`
	SupervisorPixType string          `json:"supervisor_pix_type"`
}

type LedgerRecordRow struct {
	PaymentDate     string          `json:"payment_date"`
	Operator        string          `json:"operator"`
	Entity          string          `json:"entity"`
	Proposal        string          `json:"proposal"`
	Vigencia        string          `json:"vigencia"`
	CPF             string          `json:"cpf"`
	Name            string          `json:"name"`
	BeneficiaryType string          `json:"beneficiary_type"`
	Age             int             `json:"age"`
	Parcel          int             `json:"parcel"`
	DistributorCode string          `json:"distributor_code"`
	BrokerCPF       string          `json:"broker_cpf"`
	BrokerName      string          `json:"broker_name"`
	BrokerGross     decimal.Decimal `json:"broker_gross"`
	SupervisorCPF   string          `json:"supervisor_cpf"`
	SupervisorName  string          `json:"supervisor_name"`
	SupervisorGross decimal.Decimal `json:"supervisor_gross"`
	BeneficiaryID   string          `json:"beneficiary_id"`
	PlanKey         string          `json:"plan_key"`
	KeyID           string          `json:"key_id"`
	Discounted      int             `json:"discounted"`
	AnalysisDate    string          `json:"analysis_date"`
	RegisteredAt    string          `json:"registered_at"`
}

type PaymentRecordRow struct {
	CPF           string          `json:"cpf"`
	Name          string          `json:"name"`
	CardID        string          `json:"card_id"`
	LoadAmount    decimal.Decimal `json:"load_amount"`
	CardType      string          `json:"card_type"`
	LoadType      string          `json:"load_type"`
	Award         string          `json:"award"`
	RecipientType string          `json:"recipient_type"`
	Month         string          `json:"month"`
	Competence    string          `json:"competence"`
	Note          string          `json:"note"`
	PaymentDate   string          `json:"payment_date"`
	RegisteredAt  string          `json:"registered_at"`
	SentAt        string          `json:"sent_at"`
}

type AnalysisRow struct {
	CPF            string          `json:"cpf"`
	Name           string          `json:"name"`
	Gross          decimal.Decimal `json:"gross"`
	Discount       decimal.Decimal `json:"discount"`
	Net            decimal.Decimal `json:"net"`
	RecipientTypes string          `json:"recipient_types"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	Month          string          `json:"month"`
	Competence     string          `json:"competence"`
	PaymentDate    string          `json:"payment_date"`
	RegisteredAt   string          `json:"registered_at"`
}

func dateText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(config.DateFormat)
}

func payableRows(lines []netting.PayableLine, parties map[string]pipeline.Party, st stamp) []PayableRow {
	out := make([]PayableRow, 0, len(lines))
	for _, l := range lines {
		p := parties[partyKey(l.Role, l.CPF)]
		out = append(out, PayableRow{
			CPF:           l.CPF,
			Name:          l.Name,
			Role:          l.Role,
			RecipientType: recipientType(l.Role),
			Gross:         l.Gross,
			Discount:      l.Discount,
			Net:           l.Net,
			PixKey:        p.PixKey,
			PixType:       p.PixType,
			Email:         p.Email,
			Phone:         p.Phone,
			Month:         st.month,
			Competence:    st.competence,
			PaymentDate:   st.paymentDate,
			RegisteredAt:  st.today,
		})
	}
	return out
}

func partyKey(role model.Role, cpf string) string {
	return string(role) + "|" + model.NormalizeCPF(cpf)
}

func partiesOf(subs []dedup.SubLine) map[string]pipeline.Party {
	out := make(map[string]pipeline.Party, len(subs))
	for _, s := range subs {
		k := partyKey(s.Role, s.Recipient.CPF)
		if _, ok := out[k]; !ok {
			out[k] = s.Recipient
		}
	}
	return out
}

func missingPixRows(subs []dedup.SubLine) []MissingPixRow {
	out := make([]MissingPixRow, 0, len(subs))
	for _, s := range subs {
		out = append(out, MissingPixRow{
			Proposal:        s.Line.Proposal,
			ContractNumber:  s.Line.ContractNumber,
			BeneficiaryCPF:  s.Line.CPF,
			BeneficiaryName: s.Line.Name,
			Role:            s.Role,
			CPF:             s.Recipient.CPF,
			Name:            s.Recipient.Name,
			Email:           s.Recipient.Email,
			Phone:           s.Recipient.Phone,
			Gross:           s.Gross,
		})
	}
	return out
}

// lineRows lists one row per paid sub-line; the other role's columns are marked N/A.
func lineRows(subs []dedup.SubLine) []LineRow {
	out := make([]LineRow, 0, len(subs))
	for _, s := range subs {
		l := s.Line
		row := LineRow{
			ContractNumber:  l.ContractNumber,
			Operator:        l.OperatorName,
			Entity:          l.EntityName,
			Plan:            l.PlanName,
			Proposal:        l.Proposal,
			Vigencia:        dateText(l.Vigencia),
			BeneficiaryCPF:  l.CPF,
			BeneficiaryName: l.Name,
			BeneficiaryType: l.BeneficiaryType,
			BeneficiaryID:   l.BeneficiaryID,
			Age:             l.Age,
			AgeBand:         l.AgeBand,
			Override:        l.Override,
			Product:         l.Product,
			Parcel:          l.Parcel,
			InvoiceStatus:   l.InvoiceStatus,
			PaymentDate:     dateText(l.PaymentDate),
			Distributor:     l.DistributorName,
			Region:          l.Region,
			RuleKey:         l.RuleKey,
		}
		na := pipeline.Party{CPF: notApplicable, Name: notApplicable, Email: notApplicable, Phone: notApplicable, PixKey: notApplicable, PixType: notApplicable}
		broker, supervisor := na, na
		brokerGross, supervisorGross := decimal.Zero, decimal.Zero
		if s.Role == model.RoleBroker {
			broker, brokerGross = s.Recipient, s.Gross
		} else {
			supervisor, supervisorGross = s.Recipient, s.Gross
		}
		row.BrokerCPF, row.BrokerName, row.BrokerGross = broker.CPF, broker.Name, brokerGross
		row.BrokerEmail, row.BrokerPhone = broker.Email, broker.Phone
		row.BrokerPixKey, row.BrokerPixType = broker.PixKey, broker.PixType
		row.SupervisorCPF, row.SupervisorName, row.SupervisorGross = supervisor.CPF, supervisor.Name, supervisorGross
		row.SupervisorEmail, row.SupervisorPhone = supervisor.Email, supervisor.Phone
		row.SupervisorPixKey, row.SupervisorPixType = supervisor.PixKey, supervisor.PixType
		out = append(out, row)
	}
	return out
}

// ledgerRecordRows builds the rows appended to the unified ledger: paid broker sub-lines, each
// with the supervisor of its proposal and the supervisor amount of the same beneficiary.
func ledgerRecordRows(paid []dedup.SubLine, eligible []pipeline.ResolvedLine, st stamp) []LedgerRecordRow {
	type sup struct{ cpf, name string }
	supervisors := make(map[string]sup)
	supervisorGross := make(map[string]decimal.Decimal)
	for _, l := range eligible {
		supervisors[l.Proposal] = sup{l.Supervisor.CPF, l.Supervisor.Name}
		if l.SupervisorGross.IsPositive() {
			k := l.Proposal + l.CPF
			if _, ok := supervisorGross[k]; !ok {
				supervisorGross[k] = l.SupervisorGross
			}
		}
	}

	var out []LedgerRecordRow
	for _, s := range paid {
		if s.Role != model.RoleBroker {
			continue
		}
		l := s.Line
		sv := supervisors[l.Proposal]
		out = append(out, LedgerRecordRow{
			PaymentDate:     dateText(l.PaymentDate),
			Operator:        l.OperatorName,
			Entity:          l.EntityName,
			Proposal:        l.Proposal,
			Vigencia:        dateText(l.Vigencia),
			CPF:             l.CPF,
			Name:            l.Name,
			BeneficiaryType: l.BeneficiaryType,
			Age:             l.Age,
			Parcel:          l.Parcel,
			DistributorCode: l.DistributorCode,
			BrokerCPF:       model.NormalizeCPF(s.Recipient.CPF),
			BrokerName:      s.Recipient.Name,
			BrokerGross:     s.Gross,
			SupervisorCPF:   sv.cpf,
			SupervisorName:  sv.name,
			SupervisorGross: supervisorGross[l.Proposal+l.CPF],
			BeneficiaryID:   l.BeneficiaryID,
			PlanKey:         l.RuleKey,
			KeyID:           l.CompositeKey(),
			AnalysisDate:    st.paymentDate,
			RegisteredAt:    st.registered,
		})
	}
	return out
}

func paymentRecordRows(lines []netting.PayableLine, st stamp) []PaymentRecordRow {
	out := make([]PaymentRecordRow, 0, len(lines))
	for _, l := range lines {
		out = append(out, PaymentRecordRow{
			CPF:           l.CPF,
			Name:          l.Name,
			CardID:        "Pix",
			LoadAmount:    l.Net,
			CardType:      "chave - Pix",
			LoadType:      "Carga",
			Award:         "BONIFICAÇÃO",
			RecipientType: recipientType(l.Role),
			Month:         st.month,
			Competence:    st.competence,
			Note:          "Transferência realizada",
			PaymentDate:   st.paymentDate,
			RegisteredAt:  st.today,
			SentAt:        st.today,
		})
	}
	return out
}

// analysisRows totals the payable lines per recipient and sets them beside the recipient's
// ledger balance, largest net first.
func analysisRows(lines []netting.PayableLine, balances map[string]decimal.Decimal, st stamp) []AnalysisRow {
	type key struct{ cpf, name string }
	index := make(map[key]int)
	var out []AnalysisRow
	types := make([][]string, 0)
	for _, l := range lines {
		k := key{l.CPF, l.Name}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, AnalysisRow{
				CPF:           l.CPF,
				Name:          l.Name,
				LedgerBalance: balances[l.CPF],
				Month:         st.month,
				Competence:    st.competence,
				PaymentDate:   st.paymentDate,
				RegisteredAt:  st.registered,
			})
			types = append(types, nil)
		}
		out[i].Gross = out[i].Gross.Add(l.Gross)
		out[i].Discount = out[i].Discount.Add(l.Discount)
		out[i].Net = out[i].Net.Add(l.Net)
		rt := recipientType(l.Role)
		if !contains(types[i], rt) {
			types[i] = append(types[i], rt)
		}
	}
	for i := range out {
		out[i].RecipientTypes = strings.Join(types[i], ", ")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Net.GreaterThan(out[j].Net) })
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Indicators are the headline figures of a run.
type Indicators struct {
	GrossTotal         decimal.Decimal
	GrossBroker        decimal.Decimal
	GrossSupervisor    decimal.Decimal
	DiscountTotal      decimal.Decimal
	DiscountBroker     decimal.Decimal
	DiscountSupervisor decimal.Decimal
	NetTotal           decimal.Decimal
	NetBroker          decimal.Decimal
	NetSupervisor      decimal.Decimal
	BilledLives        int
	PaidLives          int
	AverageTicket      decimal.Decimal
}

func computeIndicators(lines []netting.PayableLine, billedLives, paidLives int) Indicators {
	var ind Indicators
	for _, l := range lines {
		if l.Role == model.RoleSupervisor {
			ind.GrossSupervisor = ind.GrossSupervisor.Add(l.Gross)
			ind.DiscountSupervisor = ind.DiscountSupervisor.Add(l.Discount)
			ind.NetSupervisor = ind.NetSupervisor.Add(l.Net)
			continue
		}
		ind.GrossBroker = ind.GrossBroker.Add(l.Gross)
		ind.DiscountBroker = ind.DiscountBroker.Add(l.Discount)
		ind.NetBroker = ind.NetBroker.Add(l.Net)
	}
	ind.GrossTotal = ind.GrossBroker.Add(ind.GrossSupervisor)
	ind.DiscountTotal = ind.DiscountBroker.Add(ind.DiscountSupervisor)
	ind.NetTotal = ind.NetBroker.Add(ind.NetSupervisor)
	ind.BilledLives, ind.PaidLives = billedLives, paidLives
	if paidLives > 0 {
		ind.AverageTicket = ind.NetTotal.Div(decimal.NewFromInt(int64(paidLives))).Round(2)
	}
	return ind
}

// Formatted renders the indicators the way the payment screen shows them.
func (ind Indicators) Formatted() map[string]string {
	return map[string]string{
		"vlr_bruto_total":   model.FormatBRL(ind.GrossTotal),
		"vlr_bruto_cor":     model.FormatBRL(ind.GrossBroker),
		"vlr_bruto_sup":     model.FormatBRL(ind.GrossSupervisor),
		"desc_total":        model.FormatBRL(ind.DiscountTotal),
		"desc_cor":          model.FormatBRL(ind.DiscountBroker),
		"desc_sup":          model.FormatBRL(ind.DiscountSupervisor),
		"vlr_liquido_total": model.FormatBRL(ind.NetTotal),
		"vlr_liquido_cor":   model.FormatBRL(ind.NetBroker),
		"vlr_liquido_sup":   model.FormatBRL(ind.NetSupervisor),
		"prop_inicial":      strconv.Itoa(ind.BilledLives),
		"vidas_pagas":       strconv.Itoa(ind.PaidLives),
		"ticket_medio":      model.FormatBRL(ind.AverageTicket),
	}
}

// Numeric is the same set as plain numbers, rounded to cents.
func (ind Indicators) Numeric() map[string]any {
	return map[string]any{
		"vlr_bruto_total":   ind.GrossTotal.Round(2),
		"vlr_bruto_cor":     ind.GrossBroker.Round(2),
		"vlr_bruto_sup":     ind.GrossSupervisor.Round(2),
		"desc_total":        ind.DiscountTotal.Round(2),
		"desc_cor":          ind.DiscountBroker.Round(2),
		"desc_sup":          ind.DiscountSupervisor.Round(2),
		"vlr_liquido_total": ind.NetTotal.Round(2),
		"vlr_liquido_cor":   ind.NetBroker.Round(2),
		"vlr_liquido_sup":   ind.NetSupervisor.Round(2),
		"prop_inicial":      ind.BilledLives,
		"vidas_pagas":       ind.PaidLives,
		"ticket_medio":      ind.AverageTicket,
	}
}
