// Package ledger persists discount movements through the staging -> finalized lifecycle.
//
// A run inserts its movements as staging and inactive. They become finalized and active either when
// the operator confirms the run or when the legacy sweep classifies rows that never belonged to an
// identified run. Finalized rows are never reverted by anything in this package.
package ledger

import (
	"context"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/model"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusStaging   Status = "staging"
	StatusFinalized Status = "finalized"
	StatusCancelled Status = "cancelled"
)

type Movement struct {
	ID            int64           `json:"id,omitempty"`
	RecipientCPF  string          `json:"cpf"`
	RecipientName string          `json:"name"`
	MovementDate  time.Time       `json:"movement_date"`
	ReferenceDate time.Time       `json:"reference_date"`
	AnalysisDate  time.Time       `json:"analysis_date"`
	Amount        decimal.Decimal `json:"amount"`
	MovementType  string          `json:"movement_type"`
	BusinessKey   string          `json:"business_key"`
	RunID         string          `json:"run_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	OperatorID    string          `json:"operator_id,omitempty"`
	Status        Status          `json:"status"`
	IsActive      bool            `json:"is_active"`
	Origin        string          `json:"origin"`
	RegisteredAt  time.Time       `json:"registered_at"`
}

// BusinessKey is "reference_date|normalized_cpf|movement_type".
func BusinessKey(reference time.Time, cpf, movementType string) string {
	return reference.Format(config.DateFormat) + "|" + model.NormalizeCPF(cpf) + "|" + movementType
}

// InsertStats counts the outcome of a batch insert. Duplicates are rows whose business key
// was already taken by a live movement.
type InsertStats struct {
	Inserted   int
	Duplicates int
	Failed     int
	Errors     []string
}

// Store is implemented by the Postgres and SQLite backends.
type Store interface {
	// Balances sums the non-cancelled movements of every recipient, keyed by normalized CPF.
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	// InsertMovements inserts row by row. Only a failure to start the batch is returned.
	InsertMovements(ctx context.Context, movements []Movement) (InsertStats, error)
	// ClassifyLegacy finalizes rows without status and staging rows without run id.
	ClassifyLegacy(ctx context.Context) (int64, error)
	// Finalize promotes the staging rows of a run.
	Finalize(ctx context.Context, runID, operatorID string) (int64, error)
	// Cancel marks the staging rows of a run as cancelled.
	Cancel(ctx context.Context, runID string) (int64, error)
	// PurgeStaging deletes the staging rows of an abandoned run.
	PurgeStaging(ctx context.Context, runID string) (int64, error)
	// Movements lists the rows of a run, oldest first.
	Movements(ctx context.Context, runID string) ([]Movement, error)
	Ping(ctx context.Context) error
	Close() error
}

// Statements splits an embedded schema into individual statements.
func Statements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
