package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CommissionEngine/internal/model"
)

// SQLLoader reads the reference tables and the unified ledger from the relational store.
type SQLLoader struct {
	db *sql.DB
}

func NewSQLLoader(db *sql.DB) *SQLLoader {
	return &SQLLoader{db: db}
}

// Load fills every table of Raw except Contacts, which come from the search index.
func (l *SQLLoader) Load(ctx context.Context) (Raw, error) {
	var raw Raw
	var err error

	if raw.Entities, err = l.aliases(ctx, "auxiliar_entidades"); err != nil {
		return raw, err
	}
	if raw.Operators, err = l.aliases(ctx, "auxiliar_operadoras"); err != nil {
		return raw, err
	}
	if raw.Plans, err = l.aliases(ctx, "auxiliar_planos"); err != nil {
		return raw, err
	}
	if raw.Distributors, err = l.distributors(ctx); err != nil {
		return raw, err
	}
	if raw.AgeBands, err = l.ageBands(ctx); err != nil {
		return raw, err
	}
	if raw.Commissions, err = l.commissions(ctx); err != nil {
		return raw, err
	}
	if raw.Pix, err = l.pix(ctx); err != nil {
		return raw, err
	}
	return raw, nil
}

func (l *SQLLoader) aliases(ctx context.Context, table string) ([]Alias, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT nome_antigo, nome_novo FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var out []Alias
	for rows.Next() {
		var oldName, newName *string
		if err := rows.Scan(&oldName, &newName); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, Alias{Old: str(oldName), New: str(newName)})
	}
	return out, rows.Err()
}

func (l *SQLLoader) distributors(ctx context.Context) ([]Distributor, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT codigo::text, nome_fantasia FROM auxiliar_concessionarias_02`)
	if err != nil {
		return nil, fmt.Errorf("load auxiliar_concessionarias_02: %w", err)
	}
	defer rows.Close()

	var out []Distributor
	for rows.Next() {
		var code, name *string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, fmt.Errorf("scan auxiliar_concessionarias_02: %w", err)
		}
		out = append(out, Distributor{Code: str(code), Name: str(name)})
	}
	return out, rows.Err()
}

func (l *SQLLoader) ageBands(ctx context.Context) ([]AgeBandRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT operadora, entidade, plano, tipo_beneficiario, vigencia, idade_min, idade_max, chave_faixa
		FROM registro_bonificacao_idades`)
	if err != nil {
		return nil, fmt.Errorf("load registro_bonificacao_idades: %w", err)
	}
	defer rows.Close()

	var out []AgeBandRow
	for rows.Next() {
		var operator, entity, plan, benefType, label *string
		var vigencia *time.Time
		var minAge, maxAge *int
		if err := rows.Scan(&operator, &entity, &plan, &benefType, &vigencia, &minAge, &maxAge, &label); err != nil {
			return nil, fmt.Errorf("scan registro_bonificacao_idades: %w", err)
		}
		row := AgeBandRow{
			Operator:        str(operator),
			Entity:          str(entity),
			Plan:            str(plan),
			BeneficiaryType: str(benefType),
			Label:           str(label),
		}
		if vigencia != nil {
			row.Vigencia = *vigencia
		}
		if minAge != nil {
			row.MinAge = *minAge
		}
		if maxAge != nil {
			row.MaxAge = *maxAge
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (l *SQLLoader) commissions(ctx context.Context) ([]CommissionRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT operadora, entidade, plano, tipo_beneficiario, tipo_faixa, produto, vigencia,
		       pagamento_por, bonificacao_corretor::text, bonificacao_supervisor::text, chave_sem_formula
		FROM registro_bonificacao_valores_v2`)
	if err != nil {
		return nil, fmt.Errorf("load registro_bonificacao_valores_v2: %w", err)
	}
	defer rows.Close()

	var out []CommissionRow
	for rows.Next() {
		var operator, entity, plan, benefType, band, product, paidBy, broker, supervisor, key *string
		var vigencia *time.Time
		if err := rows.Scan(&operator, &entity, &plan, &benefType, &band, &product, &vigencia,
			&paidBy, &broker, &supervisor, &key); err != nil {
			return nil, fmt.Errorf("scan registro_bonificacao_valores_v2: %w", err)
		}
		row := CommissionRow{
			Operator:        str(operator),
			Entity:          str(entity),
			Plan:            str(plan),
			BeneficiaryType: str(benefType),
			AgeBand:         str(band),
			Product:         str(product),
			PaidBy:          str(paidBy),
			Broker:          str(broker),
			Supervisor:      str(supervisor),
			Key:             str(key),
		}
		if vigencia != nil {
			row.Vigencia = *vigencia
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (l *SQLLoader) pix(ctx context.Context) ([]PixKey, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT cpf, chave_pix, tipo_chave FROM registro_chave_pix`)
	if err != nil {
		return nil, fmt.Errorf("load registro_chave_pix: %w", err)
	}
	defer rows.Close()

	var out []PixKey
	for rows.Next() {
		var cpf, key, keyType *string
		if err := rows.Scan(&cpf, &key, &keyType); err != nil {
			return nil, fmt.Errorf("scan registro_chave_pix: %w", err)
		}
		out = append(out, PixKey{CPF: str(cpf), Key: str(key), KeyType: str(keyType)})
	}
	return out, rows.Err()
}

// LoadLedger reads the historical unified ledger used for deduplication.
func (l *SQLLoader) LoadLedger(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT numero_proposta, cpf_corretor, cpf_supervisor, cpf, dt_analise
		FROM unificado_bonificacao`)
	if err != nil {
		return nil, fmt.Errorf("load unificado_bonificacao: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var proposal, broker, supervisor, beneficiary *string
		var analysis *time.Time
		if err := rows.Scan(&proposal, &broker, &supervisor, &beneficiary, &analysis); err != nil {
			return nil, fmt.Errorf("scan unificado_bonificacao: %w", err)
		}
		e := model.LedgerEntry{
			Proposal:       str(proposal),
			BrokerCPF:      str(broker),
			SupervisorCPF:  str(supervisor),
			BeneficiaryCPF: str(beneficiary),
		}
		if analysis != nil {
			e.AnalysisDate = *analysis
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping reports whether the relational store is reachable.
func (l *SQLLoader) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
