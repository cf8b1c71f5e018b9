package engine

import (
	"CommissionEngine/internal/assembler"
	"CommissionEngine/internal/validation"
)

// RunConfig is the JSON body of a run request.
type RunConfig struct {
	Mode            string        `json:"mode"`
	StartDate       string        `json:"start_date,omitempty"`
	EndDate         string        `json:"end_date,omitempty"`
	ReturnMode      string        `json:"return_mode,omitempty"`
	MaxRowsPerTable int           `json:"max_rows_per_table,omitempty"`
	IncludeLogs     *bool         `json:"include_logs,omitempty"`
	IncludeTables   IncludeTables `json:"include_tables"`
	RunID           string        `json:"run_id,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
	OperatorID      string        `json:"operator_id,omitempty"`
}

// IncludeTables selects the tables returned in the document. Nothing is returned by default.
type IncludeTables struct {
	PayableLines   bool `json:"payable_lines"`
	MissingPix     bool `json:"missing_pix"`
	Lines          bool `json:"lines"`
	Movements      bool `json:"movements"`
	LedgerRecords  bool `json:"ledger_records"`
	PaymentRecords bool `json:"payment_records"`
	Analysis       bool `json:"analysis"`
}

func (t IncludeTables) Map() map[string]bool {
	return map[string]bool{
		assembler.TablePayableLines:   t.PayableLines,
		assembler.TableMissingPix:     t.MissingPix,
		assembler.TableLines:          t.Lines,
		assembler.TableMovements:      t.Movements,
		assembler.TableLedgerRecords:  t.LedgerRecords,
		assembler.TablePaymentRecords: t.PaymentRecords,
		assembler.TableAnalysis:       t.Analysis,
	}
}

func (c RunConfig) includeLogs() bool {
	return c.IncludeLogs == nil || *c.IncludeLogs
}

func (c RunConfig) request() validation.RunRequest {
	return validation.RunRequest{
		Mode:       c.Mode,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		ReturnMode: c.ReturnMode,
	}
}
