package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/ledger/sqlite"
	"CommissionEngine/internal/session"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func stagedMovement(cpf, runID string) ledger.Movement {
	ref := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	return ledger.Movement{
		RecipientCPF:  cpf,
		RecipientName: "NOME",
		MovementDate:  ref,
		ReferenceDate: ref,
		AnalysisDate:  ref,
		Amount:        decimal.NewFromInt(30),
		MovementType:  config.MovementType,
		BusinessKey:   ledger.BusinessKey(ref, cpf, config.MovementType),
		RunID:         runID,
		Status:        ledger.StatusStaging,
		Origin:        config.MovementOrigin,
	}
}

func TestMaintenanceJobs(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	_, err = store.InsertMovements(ctx, []ledger.Movement{
		stagedMovement("111", ""),
		stagedMovement("222", "run-stale"),
		stagedMovement("333", "run-live"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := SweepLegacyMovements(ctx, store)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}

	clock := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	sessions := session.NewManager(10 * time.Minute).WithClock(func() time.Time { return clock })
	if _, err := sessions.CreateSession(session.Session{OperatorID: "op", Reference: "2025-09-14", RunID: "run-stale"}); err != nil {
		t.Fatalf("session: %v", err)
	}
	clock = clock.Add(20 * time.Minute)
	if _, err := sessions.CreateSession(session.Session{OperatorID: "op", Reference: "2025-09-15", RunID: "run-live"}); err != nil {
		t.Fatalf("session: %v", err)
	}

	if purged := PurgeStaleSessions(ctx, store, sessions); purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if rows, _ := store.Movements(ctx, "run-stale"); len(rows) != 0 {
		t.Fatalf("stale rows left: %+v", rows)
	}
	if rows, _ := store.Movements(ctx, "run-live"); len(rows) != 1 {
		t.Fatalf("live rows = %+v", rows)
	}
}

func TestCronServiceRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	svc := NewCronService(map[string]interface{}{"ledger_sweep_schedule": "every day"}, nil, session.NewManager(time.Minute))
	if err := svc.Start(); err == nil {
		t.Fatalf("Start accepted an invalid schedule")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
