// Package netting nets outstanding debit balances against gross broker commission.
//
// Only brokers are netted. Supervisors are paid gross, whatever their balance.
package netting

import (
	"sort"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/dedup"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/model"

	"github.com/shopspring/decimal"
)

type PayableLine struct {
	CPF      string          `json:"cpf"`
	Name     string          `json:"name"`
	Role     model.Role      `json:"role"`
	Gross    decimal.Decimal `json:"gross"`
	Balance  decimal.Decimal `json:"balance"`
	Discount decimal.Decimal `json:"discount"`
	Net      decimal.Decimal `json:"net"`
}

type Params struct {
	CapRatio      decimal.Decimal
	ReferenceDate time.Time
	MovementDate  time.Time
	RunID         string
	SessionID     string
	OperatorID    string
	Now           time.Time
}

func DefaultCapRatio() decimal.Decimal {
	return decimal.RequireFromString(config.DiscountCapRatio)
}

type Result struct {
	Lines     []PayableLine
	Movements []ledger.Movement
	// Dropped counts recipients left out because their net amount rounds to zero.
	Dropped int
}

type recipient struct {
	role model.Role
	cpf  string
}

// Net aggregates gross per role and normalized CPF, keeping the first name seen, and applies
//
//	cap = ratio * gross
//	discount = balance if -balance <= cap, else -cap
//	net = gross + discount
//
// to brokers. Credits never produce a discount. Lines come out brokers first, then supervisors,
// each by gross descending.
func Net(subs []dedup.SubLine, balances map[string]decimal.Decimal, p Params) Result {
	ratio := p.CapRatio
	if ratio.IsZero() {
		ratio = DefaultCapRatio()
	}

	gross := make(map[recipient]decimal.Decimal)
	names := make(map[recipient]string)
	var order []recipient
	for _, s := range subs {
		k := recipient{role: s.Role, cpf: model.NormalizeCPF(s.Recipient.CPF)}
		if _, ok := gross[k]; !ok {
			order = append(order, k)
			names[k] = s.Recipient.Name
		}
		gross[k] = gross[k].Add(s.Gross)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.role != b.role {
			return a.role == model.RoleBroker
		}
		return gross[a].GreaterThan(gross[b])
	})

	var res Result
	for _, k := range order {
		line := PayableLine{
			CPF:      k.cpf,
			Name:     names[k],
			Role:     k.role,
			Gross:    gross[k],
			Balance:  balances[k.cpf],
			Discount: decimal.Zero,
		}
		if k.role == model.RoleBroker {
			line.Discount = discount(line.Gross, line.Balance, ratio)
		}
		line.Net = line.Gross.Add(line.Discount)
		if line.Net.Round(2).IsZero() {
			res.Dropped++
			continue
		}
		res.Lines = append(res.Lines, line)

		if !line.Discount.IsZero() {
			res.Movements = append(res.Movements, movement(line, p))
		}
	}
	return res
}

func discount(gross, balance, ratio decimal.Decimal) decimal.Decimal {
	if !balance.IsNegative() || !gross.IsPositive() {
		return decimal.Zero
	}
	limit := gross.Mul(ratio).Truncate(2)
	if balance.Neg().LessThanOrEqual(limit) {
		return balance
	}
	return limit.Neg()
}

func movement(line PayableLine, p Params) ledger.Movement {
	ref := model.Day(p.ReferenceDate)
	return ledger.Movement{
		RecipientCPF:  line.CPF,
		RecipientName: line.Name,
		MovementDate:  model.Day(p.MovementDate),
		ReferenceDate: ref,
		AnalysisDate:  ref,
		Amount:        line.Discount.Neg(),
		MovementType:  config.MovementType,
		BusinessKey:   ledger.BusinessKey(ref, line.CPF, config.MovementType),
		RunID:         p.RunID,
		SessionID:     p.SessionID,
		OperatorID:    p.OperatorID,
		Status:        ledger.StatusStaging,
		IsActive:      false,
		Origin:        config.MovementOrigin,
		RegisteredAt:  p.Now,
	}
}
