package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/ledger/sqlite"
	"CommissionEngine/internal/logsink"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/pipeline"
	"CommissionEngine/internal/refdata"
	"CommissionEngine/internal/source"
	"CommissionEngine/internal/validation"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeRefs struct {
	raw refdata.Raw
	err error
}

func (f fakeRefs) Load(context.Context) (refdata.Raw, error) { return f.raw, f.err }

func (f fakeRefs) LoadLedger(context.Context) ([]model.LedgerEntry, error) { return nil, nil }

type fakeExtractor struct {
	batch      source.Batch
	start, end time.Time
}

func (f *fakeExtractor) Extract(_ context.Context, start, end time.Time, _ *logsink.Sink) (source.Batch, error) {
	f.start, f.end = start, end
	return f.batch, nil
}

func (f *fakeExtractor) Brokers(context.Context, *logsink.Sink) ([]refdata.Contact, error) {
	return []refdata.Contact{{CPF: "111", Name: "Broker", Email: "broker@x.com"}}, nil
}

type noMigrations struct{}

func (noMigrations) Contains(string) bool { return false }

func referenceData() refdata.Raw {
	return refdata.Raw{
		Entities:     []refdata.Alias{{Old: "ABRAE", New: "ABRAE"}},
		Operators:    []refdata.Alias{{Old: "NOVA SAUDE", New: "NOVA SAUDE"}},
		Plans:        []refdata.Alias{{Old: "PLANO A", New: "PLANO A"}},
		Distributors: []refdata.Distributor{{Code: "10", Name: "CORRETORA X (PE)"}},
		Pix:          []refdata.PixKey{{CPF: "111", Key: "broker@pix", KeyType: "email"}},
		Commissions: []refdata.CommissionRow{
			{Operator: "NOVA SAUDE", Entity: "ABRAE", Plan: "PLANO A", BeneficiaryType: "Titular", AgeBand: "Faixa 02", Product: "ADESAO", Vigencia: day(2024, 1, 1), Broker: "100", Supervisor: "20", Key: "R1"},
		},
		AgeBands: []refdata.AgeBandRow{
			{Operator: "NOVA SAUDE", Entity: "-", Plan: "-", BeneficiaryType: "Titular", Vigencia: day(2020, 1, 1), MinAge: 19, MaxAge: 59, Label: "Faixa 02"},
		},
	}
}

func extractBatch() source.Batch {
	return source.Batch{
		Beneficiaries: []pipeline.Beneficiary{{
			ContractNumber:  "C1",
			Proposal:        "P1",
			BeneficiaryID:   "B1",
			CPF:             "99999999999",
			Name:            "beneficiario",
			BirthDate:       day(1985, 1, 1),
			BeneficiaryType: "Titular",
			Operator:        "NOVA SAUDE",
			Entity:          "ABRAE",
			Plan:            "PLANO A",
			Branch:          "FILIAL RJ",
			Vigencia:        day(2024, 3, 1),
		}},
		Contracts: []pipeline.Contract{{Number: "C1", DistributorCode: "10", BrokerCPF: "111", BrokerName: "Broker", SupervisorCPF: "222", SupervisorName: "Supervisor"}},
		Billings:  []pipeline.Billing{{ContractNumber: "C1", Parcel: 1, PaymentDate: day(2025, 10, 9), Amount: decimal.NewFromInt(300)}},
	}
}

func newTestEngine(t *testing.T, refs ReferenceLoader, ex Extractor) (*Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := New(refs, ex, store, config.DefaultEngineConfig(), zerolog.Nop()).
		WithClock(func() time.Time { return time.Date(2025, 10, 15, 9, 30, 0, 0, time.UTC) }).
		WithMigrations(func(string, *logsink.Sink) (pipeline.Registry, error) { return noMigrations{}, nil })
	return e, store
}

func TestRun(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{batch: extractBatch()}
	e, store := newTestEngine(t, fakeRefs{raw: referenceData()}, ex)
	ctx := context.Background()

	previous := day(2025, 9, 1)
	_, err := store.InsertMovements(ctx, []ledger.Movement{{
		RecipientCPF:  "111",
		RecipientName: "Broker",
		MovementDate:  previous,
		ReferenceDate: previous,
		AnalysisDate:  previous,
		Amount:        decimal.NewFromInt(-200),
		MovementType:  "adiantamento",
		BusinessKey:   ledger.BusinessKey(previous, "111", "adiantamento"),
		Status:        ledger.StatusFinalized,
		Origin:        "manual",
	}})
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	var steps []float64
	out := e.Run(ctx, RunConfig{
		RunID:         "run-1",
		ReturnMode:    "detailed",
		IncludeTables: IncludeTables{PayableLines: true, MissingPix: true, Movements: true},
	}, func(pct float64, _ string) { steps = append(steps, pct) })

	doc := out.Document
	if !doc.Success {
		t.Fatalf("run failed: %s", doc.Error)
	}
	if !ex.start.Equal(day(2025, 9, 14)) || !ex.end.Equal(day(2025, 10, 14)) {
		t.Fatalf("period = %s to %s", ex.start, ex.end)
	}
	if doc.PaymentDate != "2025-10-15" || doc.CompetenceNumber != 15 {
		t.Fatalf("payment = %s competence %d", doc.PaymentDate, doc.CompetenceNumber)
	}
	if len(steps) == 0 || steps[len(steps)-1] != 100 {
		t.Fatalf("steps = %v", steps)
	}

	if got := doc.Indicators["vlr_liquido_cor"]; got != model.FormatBRL(decimal.NewFromInt(55)) {
		t.Fatalf("vlr_liquido_cor = %s", got)
	}
	if doc.Indicators["vidas_pagas"] != "1" {
		t.Fatalf("vidas_pagas = %s", doc.Indicators["vidas_pagas"])
	}
	if doc.Meta.RowCounts["payable_lines_total"] != 1 || doc.Meta.RowCounts["missing_pix_total"] != 1 {
		t.Fatalf("row counts = %v", doc.Meta.RowCounts)
	}
	if len(doc.Movements) != 1 || doc.Lines != nil {
		t.Fatalf("movements = %d, lines = %d", len(doc.Movements), len(doc.Lines))
	}

	staged, err := store.Movements(ctx, "run-1")
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(staged) != 1 || !staged[0].Amount.Equal(decimal.NewFromInt(45)) || staged[0].Status != ledger.StatusStaging {
		t.Fatalf("staged = %+v", staged)
	}

	var body map[string]any
	if err := json.Unmarshal(out.Body, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("body success = %v", body["success"])
	}

	again := e.Run(ctx, RunConfig{RunID: "run-1"}, nil)
	if !again.Document.Success || again.Document.Ledger["duplicates"] != 1 {
		t.Fatalf("rerun ledger = %v", again.Document.Ledger)
	}
}

func TestRunNormalizesReturnMode(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, fakeRefs{raw: referenceData()}, &fakeExtractor{batch: extractBatch()})
	out := e.Run(context.Background(), RunConfig{RunID: "run-m", ReturnMode: " Detailed "}, nil)
	if !out.Document.Success || out.Document.Meta.ReturnMode != "detailed" {
		t.Fatalf("success = %v, return_mode = %q", out.Document.Success, out.Document.Meta.ReturnMode)
	}
}

func TestRunSkipsInvalidCommissionRows(t *testing.T) {
	t.Parallel()

	raw := referenceData()
	bad := raw.Commissions[0]
	bad.Key, bad.Broker = "R2", "cem"
	raw.Commissions = append(raw.Commissions, bad)

	e, _ := newTestEngine(t, fakeRefs{raw: raw}, &fakeExtractor{batch: extractBatch()})
	out := e.Run(context.Background(), RunConfig{RunID: "run-r"}, nil)
	if !out.Document.Success {
		t.Fatalf("run failed: %s", out.Document.Error)
	}
	if got := out.Document.Filtered["invalid_commission_rows"]; got != 1 {
		t.Fatalf("invalid_commission_rows = %d, want 1", got)
	}
}

func TestRunFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		refs fakeRefs
		rc   RunConfig
		want string
	}{
		{"invalid mode", fakeRefs{raw: referenceData()}, RunConfig{Mode: "weekly"}, "mode"},
		{"period without end", fakeRefs{raw: referenceData()}, RunConfig{Mode: "period", StartDate: "2025-10-01"}, "period"},
		{"reference tables", fakeRefs{err: errors.New("connection refused")}, RunConfig{}, "connection refused"},
		{"empty rule tables", fakeRefs{}, RunConfig{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e, _ := newTestEngine(t, tc.refs, &fakeExtractor{batch: extractBatch()})
			out := e.Run(context.Background(), tc.rc, nil)
			if out.Document.Success {
				t.Fatalf("run succeeded")
			}
			if !strings.Contains(out.Document.Error, tc.want) {
				t.Fatalf("error = %q, want it to mention %q", out.Document.Error, tc.want)
			}
			if !strings.Contains(string(out.Body), `"success":false`) {
				t.Fatalf("body = %s", out.Body)
			}
		})
	}
}

type panickingRefs struct{ fakeRefs }

func (panickingRefs) Load(context.Context) (refdata.Raw, error) { panic("boom") }

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, panickingRefs{}, &fakeExtractor{})
	out := e.Run(context.Background(), RunConfig{}, nil)
	if out.Document.Success || !strings.Contains(out.Document.Error, "boom") {
		t.Fatalf("document = %+v", out.Document)
	}
}

func TestComputeWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		today     time.Time
		mode      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   error
	}{
		{"monday skips weekend", day(2025, 10, 20), "", "", "", day(2025, 9, 17), day(2025, 10, 17), nil},
		{"midweek", day(2025, 10, 15), "automatic", "", "", day(2025, 9, 14), day(2025, 10, 14), nil},
		{"explicit period", day(2025, 11, 3), "period", "2025-10-01", "2025-10-31", day(2025, 10, 1), day(2025, 10, 31), nil},
		{"before cutover", day(2025, 9, 30), "", "", "", time.Time{}, time.Time{}, ErrBeforeCutover},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rc := RunConfig{Mode: tc.mode, StartDate: tc.start, EndDate: tc.end}
			v, err := validation.PreValidateRun(rc.request())
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			w, err := ComputeWindow(v, tc.today)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if !w.Start.Equal(tc.wantStart) || !w.End.Equal(tc.wantEnd) {
				t.Fatalf("window = %s to %s", w.Start, w.End)
			}
			if !w.PaymentDate.Equal(tc.today) || w.Competence != tc.today.Day() {
				t.Fatalf("payment = %s competence %d", w.PaymentDate, w.Competence)
			}
		})
	}
}

func TestIndicators(t *testing.T) {
	t.Parallel()

	ind := computeIndicators(nil, 3, 0)
	if !ind.AverageTicket.IsZero() || ind.BilledLives != 3 {
		t.Fatalf("indicators = %+v", ind)
	}
	if got := ind.Formatted()["prop_inicial"]; got != "3" {
		t.Fatalf("prop_inicial = %s", got)
	}
}
