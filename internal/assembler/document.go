// Package assembler turns the outcome of a run into the single JSON document returned to the
// caller, keeping its size bounded whatever the volume of the period.
package assembler

import (
	"encoding/json"

	"CommissionEngine/internal/pipeline"
)

// Table names, as they appear in include_tables and in the document.
const (
	TablePayableLines   = "payable_lines"
	TableMissingPix     = "missing_pix"
	TableLines          = "lines"
	TableMovements      = "movements"
	TableLedgerRecords  = "ledger_records"
	TablePaymentRecords = "payment_records"
	TableAnalysis       = "analysis"
)

// Return modes.
const (
	ModeSummary  = "summary"
	ModeDetailed = "detailed"
)

// Serialization tiers recorded in Meta.Tier.
const (
	TierFull        = "full"
	TierReducedLogs = "reduced_logs"
	TierMinimal     = "minimal"
)

type Meta struct {
	ReturnMode      string         `json:"return_mode"`
	MaxRowsPerTable int            `json:"max_rows_per_table"`
	RowCounts       map[string]int `json:"row_counts"`
	TablesIncluded  []string       `json:"tables_included"`
	TablesSkipped   []string       `json:"tables_skipped,omitempty"`
	LogsTruncated   bool           `json:"logs_truncated,omitempty"`
	Tier            string         `json:"serialization_tier,omitempty"`
	RunID           string         `json:"run_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
}

// Document is the response of a run. Tables that were not requested stay nil and are omitted.
type Document struct {
	Success          bool                  `json:"success"`
	Error            string                `json:"error,omitempty"`
	PaymentDate      string                `json:"payment_date,omitempty"`
	StartDate        string                `json:"start_date,omitempty"`
	EndDate          string                `json:"end_date,omitempty"`
	CompetenceNumber int                   `json:"competence_number,omitempty"`
	Logs             string                `json:"logs,omitempty"`
	Indicators       map[string]string     `json:"indicators,omitempty"`
	NumericSummary   map[string]any        `json:"numeric_summary,omitempty"`
	Eligibility      map[string][]string   `json:"eligibility,omitempty"`
	Unmapped         map[string][]string   `json:"unmapped,omitempty"`
	Merges           []pipeline.JoinReport `json:"merges,omitempty"`
	Filtered         map[string]int        `json:"filtered,omitempty"`
	Overrides        map[string]int        `json:"overrides,omitempty"`
	Ledger           map[string]any        `json:"ledger,omitempty"`

	PayableLines   []json.RawMessage `json:"payable_lines,omitempty"`
	MissingPix     []json.RawMessage `json:"missing_pix,omitempty"`
	Lines          []json.RawMessage `json:"lines,omitempty"`
	Movements      []json.RawMessage `json:"movements,omitempty"`
	LedgerRecords  []json.RawMessage `json:"ledger_records,omitempty"`
	PaymentRecords []json.RawMessage `json:"payment_records,omitempty"`
	Analysis       []json.RawMessage `json:"analysis,omitempty"`

	Meta Meta `json:"meta"`
}

// ErrorDocument is the document of a run that failed before producing anything.
func ErrorDocument(msg string, logs string) Document {
	return Document{
		Success: false,
		Error:   msg,
		Logs:    logs,
		Meta:    Meta{RowCounts: map[string]int{}, TablesIncluded: []string{}},
	}
}

func (d *Document) setTable(name string, rows []json.RawMessage) {
	if rows == nil {
		rows = []json.RawMessage{}
	}
	switch name {
	case TablePayableLines:
		d.PayableLines = rows
	case TableMissingPix:
		d.MissingPix = rows
	case TableLines:
		d.Lines = rows
	case TableMovements:
		d.Movements = rows
	case TableLedgerRecords:
		d.LedgerRecords = rows
	case TablePaymentRecords:
		d.PaymentRecords = rows
	case TableAnalysis:
		d.Analysis = rows
	}
}

type minimal struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}
