// Package sqlite provides the embedded discount-ledger store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

type Store struct {
	sqlDB *sql.DB
	log   zerolog.Logger
}

// Open opens the SQLite file at path and applies the embedded schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range ledger.Statements(schema) {
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT cpf, valor FROM registro_bonificacao_descontos
		WHERE status IS NULL OR status <> 'cancelled'`)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var cpf, valor string
		if err := rows.Scan(&cpf, &valor); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		amount, err := decimal.NewFromString(valor)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", cpf, err)
		}
		k := model.NormalizeCPF(cpf)
		out[k] = out[k].Add(amount)
	}
	return out, rows.Err()
}

func (s *Store) InsertMovements(ctx context.Context, movements []ledger.Movement) (ledger.InsertStats, error) {
	var stats ledger.InsertStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	for _, m := range movements {
		registered := m.RegisteredAt
		if registered.IsZero() {
			registered = time.Now()
		}
		_, err := s.sqlDB.ExecContext(ctx, `
			INSERT INTO registro_bonificacao_descontos (
			  cpf, nome, valor, dt_movimentacao, dt_apuracao, dt_referencia, tipo_movimentacao,
			  registro, run_id, session_id, usuario_id, status, is_active, chave_negocio, origem
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			model.NormalizeCPF(m.RecipientCPF),
			m.RecipientName,
			m.Amount.StringFixed(2),
			dateText(m.MovementDate),
			dateText(m.AnalysisDate),
			dateText(m.ReferenceDate),
			m.MovementType,
			registered.Format(config.DateTimeFormat),
			nullable(m.RunID),
			nullable(m.SessionID),
			nullable(m.OperatorID),
			string(m.Status),
			m.IsActive,
			m.BusinessKey,
			m.Origin,
		)
		switch {
		case err == nil:
			stats.Inserted++
		case isUniqueViolation(err):
			stats.Duplicates++
			s.log.Warn().Str("business_key", m.BusinessKey).Msg("discount movement already registered")
		default:
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", m.BusinessKey, err))
			s.log.Error().Err(err).Str("business_key", m.BusinessKey).Msg("insert discount movement")
		}
	}
	return stats, nil
}

func (s *Store) ClassifyLegacy(ctx context.Context) (int64, error) {
	return s.exec(ctx, "classify legacy movements", `
		UPDATE registro_bonificacao_descontos
		SET status = 'finalized', is_active = 1
		WHERE status IS NULL OR (status = 'staging' AND (run_id IS NULL OR run_id = ''))`)
}

func (s *Store) Finalize(ctx context.Context, runID, operatorID string) (int64, error) {
	return s.exec(ctx, "finalize run", `
		UPDATE registro_bonificacao_descontos
		SET status = 'finalized', is_active = 1, finalizado_em = ?, finalizado_por = ?
		WHERE run_id = ? AND status = 'staging'`,
		time.Now().Format(config.DateTimeFormat), nullable(operatorID), runID)
}

func (s *Store) Cancel(ctx context.Context, runID string) (int64, error) {
	return s.exec(ctx, "cancel run", `
		UPDATE registro_bonificacao_descontos
		SET status = 'cancelled', is_active = 0
		WHERE run_id = ? AND status = 'staging'`, runID)
}

func (s *Store) PurgeStaging(ctx context.Context, runID string) (int64, error) {
	return s.exec(ctx, "purge staging", `
		DELETE FROM registro_bonificacao_descontos
		WHERE run_id = ? AND status = 'staging'`, runID)
}

func (s *Store) Movements(ctx context.Context, runID string) ([]ledger.Movement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, cpf, nome, valor, dt_movimentacao, dt_apuracao, dt_referencia, tipo_movimentacao,
		       registro, run_id, session_id, usuario_id, status, is_active, chave_negocio, origem
		FROM registro_bonificacao_descontos
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		var valor, registro string
		var movDate, anaDate, refDate, run, session, operator, status, key, origin sql.NullString
		if err := rows.Scan(&m.ID, &m.RecipientCPF, &m.RecipientName, &valor, &movDate, &anaDate, &refDate,
			&m.MovementType, &registro, &run, &session, &operator, &status, &m.IsActive, &key, &origin); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		if m.Amount, err = decimal.NewFromString(valor); err != nil {
			return nil, fmt.Errorf("movement %d amount: %w", m.ID, err)
		}
		m.MovementDate = parseDate(movDate.String)
		m.AnalysisDate = parseDate(anaDate.String)
		m.ReferenceDate = parseDate(refDate.String)
		m.RegisteredAt, _ = time.Parse(config.DateTimeFormat, registro)
		m.RunID, m.SessionID, m.OperatorID = run.String, session.String, operator.String
		m.Status, m.BusinessKey, m.Origin = ledger.Status(status.String), key.String, origin.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func dateText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(config.DateFormat)
}

func parseDate(s string) time.Time {
	if len(s) > len(config.DateFormat) {
		s = s[:len(config.DateFormat)]
	}
	t, _ := time.Parse(config.DateFormat, s)
	return t
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

var _ ledger.Store = (*Store)(nil)
