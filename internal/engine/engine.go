// Package engine runs one commission batch end to end: it loads the reference data and the
// period extracts, resolves every record, dedups against the unified ledger, nets debit balances,
// stages the discount movements and assembles the bounded result document.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"CommissionEngine/internal/assembler"
	"CommissionEngine/internal/config"
	"CommissionEngine/internal/dedup"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/logsink"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/netting"
	"CommissionEngine/internal/pipeline"
	"CommissionEngine/internal/refdata"
	"CommissionEngine/internal/source"
	"CommissionEngine/internal/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReferenceLoader delivers the relational reference tables and the historical unified ledger.
type ReferenceLoader interface {
	Load(ctx context.Context) (refdata.Raw, error)
	LoadLedger(ctx context.Context) ([]model.LedgerEntry, error)
}

// Extractor delivers the period extracts and the broker directory.
type Extractor interface {
	Extract(ctx context.Context, start, end time.Time, sink *logsink.Sink) (source.Batch, error)
	Brokers(ctx context.Context, sink *logsink.Sink) ([]refdata.Contact, error)
}

// MigrationsFunc opens the migrations registry.
type MigrationsFunc func(path string, sink *logsink.Sink) (pipeline.Registry, error)

// LoadMigrations opens the spreadsheet registry kept by the operations team.
func LoadMigrations(path string, sink *logsink.Sink) (pipeline.Registry, error) {
	reg, err := source.LoadMigrations(path, sink)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

type Engine struct {
	refs       ReferenceLoader
	extractor  Extractor
	store      ledger.Store
	migrations MigrationsFunc
	cfg        config.EngineConfig
	log        zerolog.Logger
	now        func() time.Time
}

func New(refs ReferenceLoader, extractor Extractor, store ledger.Store, cfg config.EngineConfig, log zerolog.Logger) *Engine {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Warn().Err(err).Str("time_zone", cfg.TimeZone).Msg("unknown time zone, using UTC")
		loc = time.UTC
	}
	return &Engine{
		refs:       refs,
		extractor:  extractor,
		store:      store,
		migrations: LoadMigrations,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().In(loc) },
	}
}

// WithClock replaces the wall clock; tests pin the run date with it.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithMigrations replaces the registry loader.
func (e *Engine) WithMigrations(fn MigrationsFunc) *Engine {
	e.migrations = fn
	return e
}

// Window validates rc and returns the period it would run over today.
func (e *Engine) Window(rc RunConfig) (Window, error) {
	v, err := validation.PreValidateRun(rc.request())
	if err != nil {
		return Window{}, err
	}
	return ComputeWindow(v, e.now())
}

// Outcome is the result of a run: the document and its serialized form.
type Outcome struct {
	Document assembler.Document
	Body     []byte
}

// Run executes one batch. It never returns an error: every failure, panics included, becomes an
// error document. onStep, when set, receives the progress markers.
func (e *Engine) Run(ctx context.Context, rc RunConfig, onStep logsink.StepFunc) (out Outcome) {
	sink := logsink.New(e.cfg.MaxLogBytes, config.LogHeadShare, e.log)
	if onStep != nil {
		sink.OnStep(onStep)
	}
	if valid, err := validation.PreValidateRun(rc.request()); err == nil {
		rc.ReturnMode = valid.ReturnMode
	}
	asm := assembler.New(assembler.Options{
		ReturnMode:      rc.ReturnMode,
		MaxRowsPerTable: rc.MaxRowsPerTable,
		IncludeLogs:     rc.includeLogs(),
		Include:         rc.IncludeTables.Map(),
		LogBudget:       e.cfg.MaxLogBytes,
	})

	fail := func(msg string) Outcome {
		doc := assembler.ErrorDocument(msg, "")
		asm.AttachLogs(&doc, sink)
		doc.Meta.RunID, doc.Meta.SessionID = rc.RunID, rc.SessionID
		return Outcome{Document: doc, Body: asm.Encode(doc)}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("commission run panicked")
			sink.Printf("[ERROR] unexpected failure: %v", r)
			out = fail(fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	doc, err := e.run(ctx, &rc, sink, asm)
	if err != nil {
		e.log.Error().Err(err).Str("run_id", rc.RunID).Msg("commission run failed")
		sink.Printf("[ERROR] %v", err)
		return fail(err.Error())
	}
	asm.AttachLogs(&doc, sink)
	return Outcome{Document: doc, Body: asm.Encode(doc)}
}

func (e *Engine) run(ctx context.Context, rc *RunConfig, sink *logsink.Sink, asm *assembler.Assembler) (assembler.Document, error) {
	var doc assembler.Document

	valid, err := validation.PreValidateRun(rc.request())
	if err != nil {
		return doc, err
	}
	rc.ReturnMode = valid.ReturnMode
	now := e.now()
	window, err := ComputeWindow(valid, now)
	if err != nil {
		return doc, err
	}
	if rc.RunID == "" {
		rc.RunID = uuid.NewString()
	}
	sink.Printf("run %s | payment %s | period %s to %s", rc.RunID,
		dateText(window.PaymentDate), dateText(window.Start), dateText(window.End))

	sink.Step(2, "Classifying legacy ledger movements...")
	if n, err := e.store.ClassifyLegacy(ctx); err != nil {
		e.log.Warn().Err(err).Msg("legacy ledger classification failed")
		sink.Printf("[WARN] legacy movement classification failed: %v", err)
	} else if n > 0 {
		sink.Printf("[MIGRATION] %d legacy movement(s) finalized", n)
	}

	sink.Step(5, "Loading reference tables...")
	raw, err := e.refs.Load(ctx)
	if err != nil {
		return doc, fmt.Errorf("load reference tables: %w", err)
	}
	sink.Step(12, "Loading broker directory...")
	if raw.Contacts, err = e.extractor.Brokers(ctx, sink); err != nil {
		return doc, fmt.Errorf("load broker directory: %w", err)
	}
	tables, err := refdata.Normalize(raw)
	if err != nil {
		return doc, err
	}
	for table, n := range tables.Duplicates {
		if n > 0 {
			sink.Printf("| - %s: %d duplicate row(s) ignored", table, n)
		}
	}
	for _, r := range tables.Rejected {
		sink.Printf("[WARN] %s", r)
	}

	sink.Step(20, "Loading unified ledger...")
	entries, err := e.refs.LoadLedger(ctx)
	if err != nil {
		return doc, fmt.Errorf("load unified ledger: %w", err)
	}
	index := dedup.BuildIndex(entries, config.LedgerRoleCutoff)
	sink.Printf("| - ledger keys: %d", index.Len())

	sink.Step(30, "Downloading billing, contracts and beneficiaries...")
	batch, err := e.extractor.Extract(ctx, window.Start, window.End, sink)
	if err != nil {
		return doc, fmt.Errorf("extract period %s to %s: %w", dateText(window.Start), dateText(window.End), err)
	}

	sink.Step(55, "Loading migrations registry...")
	registry, err := e.migrations(e.cfg.MigrationsPath, sink)
	if err != nil {
		return doc, fmt.Errorf("load migrations registry: %w", err)
	}

	sink.Step(60, "Resolving commissions...")
	res := pipeline.Process(pipeline.Input{
		Beneficiaries: batch.Beneficiaries,
		Contracts:     batch.Contracts,
		Billings:      batch.Billings,
		Tables:        tables,
		Config:        e.cfg,
		RunDate:       model.Day(now),
		Migrations:    registry,
		Log:           sink,
	})
	for _, m := range res.Merges {
		if m.Status == pipeline.JoinLossy {
			sink.Printf("| - join %s: %d -> %d rows", m.Name, m.Expected, m.Actual)
		}
	}

	sink.Step(75, "Removing lines already paid...")
	kept, dropped := index.Filter(res.Lines)
	owed := kept[:0:0]
	for _, s := range kept {
		if s.Gross.IsPositive() {
			owed = append(owed, s)
		}
	}
	paid, missing := dedup.PartitionPix(owed)
	sink.Printf("| - sub-lines kept: %d | already paid: %d | without pix: %d", len(kept), len(dropped), len(missing))

	sink.Step(85, "Netting discounts...")
	balances, err := e.store.Balances(ctx)
	if err != nil {
		return doc, fmt.Errorf("load ledger balances: %w", err)
	}
	net := netting.Net(paid, balances, netting.Params{
		CapRatio:      netting.DefaultCapRatio(),
		ReferenceDate: window.Start,
		MovementDate:  window.PaymentDate,
		RunID:         rc.RunID,
		SessionID:     rc.SessionID,
		OperatorID:    rc.OperatorID,
		Now:           now,
	})

	sink.Step(88, "Staging discount movements...")
	stats := ledger.InsertStats{}
	if len(net.Movements) > 0 {
		stats, err = e.store.InsertMovements(ctx, net.Movements)
		if err != nil {
			e.log.Error().Err(err).Msg("stage discount movements")
			sink.Printf("[ERROR] staging discount movements failed: %v", err)
			stats.Errors = append(stats.Errors, err.Error())
		}
		sink.Printf("[DISCOUNTS] inserted: %d | duplicates: %d | failed: %d", stats.Inserted, stats.Duplicates, stats.Failed)
	}

	sink.Step(90, "Assembling result...")
	st := newStamp(window, now)
	ind := computeIndicators(net.Lines, res.BilledLives, len(paid))
	sink.Printf("| gross: %s | discounts: %s | net: %s | billed lives: %d | paid lives: %d | average ticket: %s",
		model.FormatBRL(ind.GrossTotal), model.FormatBRL(ind.DiscountTotal), model.FormatBRL(ind.NetTotal),
		ind.BilledLives, ind.PaidLives, model.FormatBRL(ind.AverageTicket))

	doc = assembler.Document{
		Success:          true,
		PaymentDate:      dateText(window.PaymentDate),
		StartDate:        dateText(window.Start),
		EndDate:          dateText(window.End),
		CompetenceNumber: window.Competence,
		Indicators:       ind.Formatted(),
		NumericSummary:   ind.Numeric(),
		Eligibility:      eligibility(res.Eligibility),
		Unmapped:         res.Unmapped,
		Merges:           res.Merges,
		Filtered:         res.Filtered,
		Overrides:        res.OverridesApplied,
		Ledger: map[string]any{
			"run_id":              rc.RunID,
			"inserted":            stats.Inserted,
			"duplicates":          stats.Duplicates,
			"failed":              stats.Failed,
			"errors":              stats.Errors,
			"already_paid":        len(dropped),
			"missing_pix":         len(missing),
			"migration_conflicts": res.MigrationConflicts,
			"zero_net_dropped":    net.Dropped,
			"discount_total":      sumMovements(net.Movements),
		},
		Meta: assembler.Meta{RunID: rc.RunID, SessionID: rc.SessionID},
	}
	if len(tables.Rejected) > 0 {
		if doc.Filtered == nil {
			doc.Filtered = make(map[string]int)
		}
		doc.Filtered["invalid_commission_rows"] = len(tables.Rejected)
	}

	asm.OnProgress(func(table string, done, total int) {
		sink.Printf("| - %s: %d/%d rows converted", table, done, total)
	})
	err = asm.Attach(&doc,
		assembler.NewTable(assembler.TablePayableLines, payableRows(net.Lines, partiesOf(paid), st)),
		assembler.NewTable(assembler.TableMissingPix, missingPixRows(missing)),
		assembler.NewTable(assembler.TableLines, lineRows(paid)),
		assembler.NewTable(assembler.TableMovements, net.Movements),
		assembler.NewTable(assembler.TableLedgerRecords, ledgerRecordRows(paid, res.Lines, st)),
		assembler.NewTable(assembler.TablePaymentRecords, paymentRecordRows(net.Lines, st)),
		assembler.NewTable(assembler.TableAnalysis, analysisRows(net.Lines, balances, st)),
	)
	if err != nil {
		return doc, err
	}
	sink.Step(100, "Done")
	return doc, nil
}

func eligibility(in map[pipeline.Reason][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for reason, values := range in {
		out[string(reason)] = values
	}
	return out
}

func sumMovements(ms []ledger.Movement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range ms {
		total = total.Add(m.Amount)
	}
	return total
}

// IsConfigError reports whether err comes from a malformed run request.
func IsConfigError(err error) bool {
	return errors.Is(err, validation.ErrInvalidMode) ||
		errors.Is(err, validation.ErrMissingPeriod) ||
		errors.Is(err, validation.ErrInvalidDate) ||
		errors.Is(err, validation.ErrInvertedPeriod) ||
		errors.Is(err, validation.ErrInvalidReturnMode)
}
