package dedup

import (
	"testing"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/pipeline"

	"github.com/shopspring/decimal"
)

func line(proposal, beneficiaryCPF, broker, supervisor string) pipeline.ResolvedLine {
	return pipeline.ResolvedLine{
		Record:          pipeline.Record{Proposal: proposal, CPF: beneficiaryCPF},
		Broker:          pipeline.Party{CPF: broker, PixKey: "pix-" + broker},
		Supervisor:      pipeline.Party{CPF: supervisor},
		BrokerGross:     decimal.NewFromInt(100),
		SupervisorGross: decimal.NewFromInt(20),
	}
}

func roles(subs []SubLine) []model.Role {
	out := make([]model.Role, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Role)
	}
	return out
}

func TestFilterSupervisorKeyBeforeCutoff(t *testing.T) {
	t.Parallel()

	before := config.LedgerRoleCutoff.AddDate(0, 0, -1)
	ix := BuildIndex([]Entry{
		// Paid to the supervisor 222 under the legacy layout.
		{Proposal: "P1", BrokerCPF: "999", SupervisorCPF: "222", BeneficiaryCPF: "B1", AnalysisDate: before},
	}, config.LedgerRoleCutoff)

	kept, dropped := ix.Filter([]pipeline.ResolvedLine{line("P1", "B1", "111", "222")})
	if len(dropped) != 1 || dropped[0].Role != model.RoleSupervisor {
		t.Fatalf("dropped = %v, want the supervisor sub-line", roles(dropped))
	}
	if len(kept) != 1 || kept[0].Role != model.RoleBroker {
		t.Fatalf("kept = %v, want the broker sub-line", roles(kept))
	}
}

func TestFilterAfterCutoffUsesBrokerOnly(t *testing.T) {
	t.Parallel()

	ix := BuildIndex([]Entry{
		{Proposal: "P1", BrokerCPF: "111", SupervisorCPF: "222", BeneficiaryCPF: "B1", AnalysisDate: config.LedgerRoleCutoff},
		{Proposal: "P2", BrokerCPF: "999", SupervisorCPF: "222", BeneficiaryCPF: "B2", AnalysisDate: config.LedgerRoleCutoff.AddDate(0, 1, 0)},
	}, config.LedgerRoleCutoff)

	if ix.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ix.Len())
	}
	kept, dropped := ix.Filter([]pipeline.ResolvedLine{
		line("P1", "B1", "111", "222"),
		line("P2", "B2", "111", "222"),
	})
	if len(dropped) != 1 || dropped[0].Line.Proposal != "P1" || dropped[0].Role != model.RoleBroker {
		t.Fatalf("dropped = %+v, want only the P1 broker sub-line", dropped)
	}
	if len(kept) != 3 {
		t.Fatalf("len(kept) = %d, want 3", len(kept))
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	t.Parallel()

	ix := BuildIndex([]Entry{
		{Proposal: " p1 ", BrokerCPF: "111", BeneficiaryCPF: "b1", AnalysisDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, config.LedgerRoleCutoff)
	lines := []pipeline.ResolvedLine{line("P1", "B1", "111", "222"), line("P3", "B3", "333", "444")}

	keptA, droppedA := ix.Filter(lines)
	keptB, droppedB := ix.Filter(lines)
	if len(droppedA) != 1 || len(droppedB) != 1 || droppedA[0].Key() != droppedB[0].Key() {
		t.Fatalf("dropped differs between runs: %d vs %d", len(droppedA), len(droppedB))
	}
	if len(keptA)+len(droppedA) != 2*len(lines) || len(keptA) != len(keptB) {
		t.Fatalf("every sub-line needs exactly one decision: kept %d dropped %d", len(keptA), len(droppedA))
	}
}

func TestPartitionPix(t *testing.T) {
	t.Parallel()

	subs := Split([]pipeline.ResolvedLine{line("P1", "B1", "111", "222")})
	withPix, missing := PartitionPix(subs)
	if len(withPix) != 1 || withPix[0].Role != model.RoleBroker {
		t.Fatalf("withPix = %v", roles(withPix))
	}
	if len(missing) != 1 || missing[0].Role != model.RoleSupervisor {
		t.Fatalf("missing = %v", roles(missing))
	}
}
