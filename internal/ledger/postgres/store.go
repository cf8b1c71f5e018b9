// Package postgres provides the production discount-ledger store on top of pgxpool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New wraps an existing pool. Migrate must run once before the store is used on a fresh database.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range ledger.Statements(schema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op: the pool belongs to the caller.
func (s *Store) Close() error { return nil }

func (s *Store) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cpf, SUM(valor)::text
		FROM registro_bonificacao_descontos
		WHERE status IS NULL OR status <> 'cancelled'
		GROUP BY cpf`)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var cpf, total string
		if err := rows.Scan(&cpf, &total); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		amount, err := decimal.NewFromString(total)
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
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return stats, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	for _, m := range movements {
		registered := m.RegisteredAt
		if registered.IsZero() {
			registered = time.Now()
		}
		_, err := conn.Exec(ctx, `
			INSERT INTO registro_bonificacao_descontos (
			  cpf, nome, valor, dt_movimentacao, dt_apuracao, dt_referencia, tipo_movimentacao,
			  registro, run_id, session_id, usuario_id, status, is_active, chave_negocio, origem
			) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			model.NormalizeCPF(m.RecipientCPF),
			m.RecipientName,
			m.Amount.StringFixed(2),
			nullableDate(m.MovementDate),
			nullableDate(m.AnalysisDate),
			nullableDate(m.ReferenceDate),
			m.MovementType,
			registered,
			nullable(m.RunID),
			nullable(m.SessionID),
			nullable(m.OperatorID),
			string(m.Status),
			m.IsActive,
			m.BusinessKey,
			m.Origin,
		)
		var pgErr *pgconn.PgError
		switch {
		case err == nil:
			stats.Inserted++
		case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
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
		SET status = 'finalized', is_active = TRUE
		WHERE status IS NULL OR (status = 'staging' AND (run_id IS NULL OR run_id = ''))`)
}

func (s *Store) Finalize(ctx context.Context, runID, operatorID string) (int64, error) {
	return s.exec(ctx, "finalize run", `
		UPDATE registro_bonificacao_descontos
		SET status = 'finalized', is_active = TRUE, finalizado_em = now(), finalizado_por = $2
		WHERE run_id = $1 AND status = 'staging'`, runID, nullable(operatorID))
}

func (s *Store) Cancel(ctx context.Context, runID string) (int64, error) {
	return s.exec(ctx, "cancel run", `
		UPDATE registro_bonificacao_descontos
		SET status = 'cancelled', is_active = FALSE
		WHERE run_id = $1 AND status = 'staging'`, runID)
}

func (s *Store) PurgeStaging(ctx context.Context, runID string) (int64, error) {
	return s.exec(ctx, "purge staging", `
		DELETE FROM registro_bonificacao_descontos
		WHERE run_id = $1 AND status = 'staging'`, runID)
}

func (s *Store) Movements(ctx context.Context, runID string) ([]ledger.Movement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cpf, nome, valor::text, dt_movimentacao, dt_apuracao, dt_referencia, tipo_movimentacao,
		       registro, COALESCE(run_id, ''), COALESCE(session_id, ''), COALESCE(usuario_id, ''),
		       COALESCE(status, ''), is_active, COALESCE(chave_negocio, ''), COALESCE(origem, '')
		FROM registro_bonificacao_descontos
		WHERE run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Movement, error) {
		var m ledger.Movement
		var valor, status string
		var movDate, anaDate, refDate *time.Time
		if err := row.Scan(&m.ID, &m.RecipientCPF, &m.RecipientName, &valor, &movDate, &anaDate, &refDate,
			&m.MovementType, &m.RegisteredAt, &m.RunID, &m.SessionID, &m.OperatorID, &status, &m.IsActive,
			&m.BusinessKey, &m.Origin); err != nil {
			return m, fmt.Errorf("scan movement: %w", err)
		}
		amount, err := decimal.NewFromString(valor)
		if err != nil {
			return m, fmt.Errorf("movement %d amount: %w", m.ID, err)
		}
		m.Amount, m.Status = amount, ledger.Status(status)
		m.MovementDate, m.AnalysisDate, m.ReferenceDate = deref(movDate), deref(anaDate), deref(refDate)
		return m, nil
	})
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

var _ ledger.Store = (*Store)(nil)
