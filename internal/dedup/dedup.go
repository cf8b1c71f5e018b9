// Package dedup drops commission sub-lines that the historical unified ledger shows as paid.
package dedup

import (
	"strings"
	"time"

	"CommissionEngine/internal/model"
	"CommissionEngine/internal/pipeline"

	"github.com/shopspring/decimal"
)

type Entry = model.LedgerEntry

// Key joins the trimmed components and upper-cases the result.
func Key(proposal, recipientCPF, beneficiaryCPF string) string {
	return strings.ToUpper(strings.TrimSpace(proposal) + strings.TrimSpace(recipientCPF) + strings.TrimSpace(beneficiaryCPF))
}

// Index is the set of already-paid keys.
type Index struct {
	keys map[string]struct{}
}

// BuildIndex derives the paid keys. Before cutoff the ledger did not record which role was paid,
// so both the broker and the supervisor derivation count; from cutoff on only the broker one does.
func BuildIndex(entries []Entry, cutoff time.Time) *Index {
	ix := &Index{keys: make(map[string]struct{}, len(entries))}
	cutoff = model.Day(cutoff)
	for _, e := range entries {
		ix.add(Key(e.Proposal, e.BrokerCPF, e.BeneficiaryCPF))
		if model.Day(e.AnalysisDate).Before(cutoff) {
			ix.add(Key(e.Proposal, e.SupervisorCPF, e.BeneficiaryCPF))
		}
	}
	return ix
}

func (ix *Index) add(k string) {
	if k != "" {
		ix.keys[k] = struct{}{}
	}
}

func (ix *Index) Contains(proposal, recipientCPF, beneficiaryCPF string) bool {
	_, ok := ix.keys[Key(proposal, recipientCPF, beneficiaryCPF)]
	return ok
}

func (ix *Index) Len() int { return len(ix.keys) }

// SubLine is the share of a resolved line owed to one recipient.
type SubLine struct {
	Line      *pipeline.ResolvedLine
	Role      model.Role
	Recipient pipeline.Party
	Gross     decimal.Decimal
}

func (s SubLine) Key() string {
	return Key(s.Line.Proposal, s.Recipient.CPF, s.Line.CPF)
}

func (s SubLine) HasPix() bool {
	return strings.TrimSpace(s.Recipient.PixKey) != ""
}

// Split turns each line into its broker and its supervisor sub-line, in that order.
func Split(lines []pipeline.ResolvedLine) []SubLine {
	out := make([]SubLine, 0, 2*len(lines))
	for i := range lines {
		l := &lines[i]
		out = append(out,
			SubLine{Line: l, Role: model.RoleBroker, Recipient: l.Broker, Gross: l.BrokerGross},
			SubLine{Line: l, Role: model.RoleSupervisor, Recipient: l.Supervisor, Gross: l.SupervisorGross},
		)
	}
	return out
}

// Filter makes exactly one keep or drop decision per sub-line.
func (ix *Index) Filter(lines []pipeline.ResolvedLine) (kept, dropped []SubLine) {
	for _, s := range Split(lines) {
		if ix.Contains(s.Line.Proposal, s.Recipient.CPF, s.Line.CPF) {
			dropped = append(dropped, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, dropped
}

// PartitionPix sets aside sub-lines whose recipient has no pix key; those are not paid.
func PartitionPix(subs []SubLine) (withPix, missing []SubLine) {
	for _, s := range subs {
		if s.HasPix() {
			withPix = append(withPix, s)
		} else {
			missing = append(missing, s)
		}
	}
	return withPix, missing
}
