package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"esic/internal/textutil"
)

const solicitacaoColumns = `id, protocolo, nome, email, telefone, documento, assunto, descricao,
	forma_recebimento, data_solicitacao, data_limite, data_prorrogacao, data_resposta,
	status, prioridade, setor_responsavel, responsavel_id, updated_at`

// Solicitacao represents a solicitacoes row
type Solicitacao struct {
	ID               string
	Protocolo        string
	Nome             string
	Email            string
	Telefone         *string
	Documento        *string
	Assunto          string
	Descricao        string
	FormaRecebimento string
	DataSolicitacao  time.Time
	DataLimite       time.Time
	DataProrrogacao  *time.Time
	DataResposta     *time.Time
	Status           string
	Prioridade       string
	SetorResponsavel *string
	ResponsavelID    *string
	UpdatedAt        time.Time
}

func scanSolicitacao(row pgx.Row) (Solicitacao, error) {
	var s Solicitacao
	err := row.Scan(
		&s.ID, &s.Protocolo, &s.Nome, &s.Email, &s.Telefone, &s.Documento, &s.Assunto, &s.Descricao,
		&s.FormaRecebimento, &s.DataSolicitacao, &s.DataLimite, &s.DataProrrogacao, &s.DataResposta,
		&s.Status, &s.Prioridade, &s.SetorResponsavel, &s.ResponsavelID, &s.UpdatedAt,
	)
	return s, err
}

type CreateSolicitacaoParams struct {
	ID               string
	Protocolo        string
	Nome             string
	Email            string
	Telefone         *string
	Documento        *string
	Assunto          string
	Descricao        string
	FormaRecebimento string
	DataSolicitacao  time.Time
	DataLimite       time.Time
	Status           string
	Prioridade       string
}

func (q *Queries) CreateSolicitacao(ctx context.Context, p CreateSolicitacaoParams) (Solicitacao, error) {
	s, err := scanSolicitacao(q.q(ctx).QueryRow(ctx,
		`INSERT INTO solicitacoes (
			id, protocolo, nome, email, telefone, documento, assunto, descricao,
			forma_recebimento, data_solicitacao, data_limite, status, prioridade, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $10)
		RETURNING `+solicitacaoColumns,
		p.ID, p.Protocolo, p.Nome, p.Email, p.Telefone, p.Documento, p.Assunto, p.Descricao,
		p.FormaRecebimento, p.DataSolicitacao, p.DataLimite, p.Status, p.Prioridade,
	))
	if err != nil {
		return Solicitacao{}, mapError(err, "solicitacao", p.Protocolo)
	}
	return s, nil
}

func (q *Queries) GetSolicitacaoByID(ctx context.Context, id string) (Solicitacao, error) {
	s, err := scanSolicitacao(q.q(ctx).QueryRow(ctx,
		`SELECT `+solicitacaoColumns+` FROM solicitacoes WHERE id = $1`,
		id,
	))
	if err != nil {
		return Solicitacao{}, mapError(err, "solicitacao", id)
	}
	return s, nil
}

// GetSolicitacaoForUpdate reads the row with FOR UPDATE so that concurrent
// mutations of the same solicitação serialize. The lock is held until the
// transaction carried by ctx ends.
func (q *Queries) GetSolicitacaoForUpdate(ctx context.Context, id string) (Solicitacao, error) {
	s, err := scanSolicitacao(q.q(ctx).QueryRow(ctx,
		`SELECT `+solicitacaoColumns+` FROM solicitacoes WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		return Solicitacao{}, mapError(err, "solicitacao", id)
	}
	return s, nil
}

// GetSolicitacaoByProtocolo matches case-insensitively.
func (q *Queries) GetSolicitacaoByProtocolo(ctx context.Context, protocolo string) (Solicitacao, error) {
	protocolo = textutil.NormalizeProtocolo(protocolo)
	s, err := scanSolicitacao(q.q(ctx).QueryRow(ctx,
		`SELECT `+solicitacaoColumns+` FROM solicitacoes WHERE UPPER(protocolo) = $1`,
		protocolo,
	))
	if err != nil {
		return Solicitacao{}, mapError(err, "solicitacao", protocolo)
	}
	return s, nil
}

// UpdateSolicitacaoParams holds a partial update; nil fields are left untouched.
type UpdateSolicitacaoParams struct {
	Status           *string
	DataLimite       *time.Time
	DataProrrogacao  *time.Time
	DataResposta     *time.Time
	SetorResponsavel *string
	ResponsavelID    *string
	UpdatedAt        time.Time
}

func (q *Queries) UpdateSolicitacao(ctx context.Context, id string, p UpdateSolicitacaoParams) (Solicitacao, error) {
	b := psql.Update("solicitacoes").
		Set("updated_at", p.UpdatedAt).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + solicitacaoColumns)
	if p.Status != nil {
		b = b.Set("status", *p.Status)
	}
	if p.DataLimite != nil {
		b = b.Set("data_limite", *p.DataLimite)
	}
	if p.DataProrrogacao != nil {
		b = b.Set("data_prorrogacao", *p.DataProrrogacao)
	}
	if p.DataResposta != nil {
		b = b.Set("data_resposta", *p.DataResposta)
	}
	if p.SetorResponsavel != nil {
		b = b.Set("setor_responsavel", *p.SetorResponsavel)
	}
	if p.ResponsavelID != nil {
		b = b.Set("responsavel_id", *p.ResponsavelID)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return Solicitacao{}, fmt.Errorf("failed to build update: %w", err)
	}

	s, err := scanSolicitacao(q.q(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return Solicitacao{}, mapError(err, "solicitacao", id)
	}
	return s, nil
}

// ListSolicitacoesParams filters the listing. Zero values disable a filter.
type ListSolicitacoesParams struct {
	Status   string
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
}

func (q *Queries) ListSolicitacoes(ctx context.Context, p ListSolicitacoesParams) ([]Solicitacao, error) {
	b := psql.Select(solicitacaoColumns).
		From("solicitacoes").
		OrderBy("data_solicitacao DESC")

	if p.Status != "" {
		b = b.Where(sq.Eq{"status": p.Status})
	}
	if term := strings.TrimSpace(p.Search); term != "" {
		folded := "%" + textutil.EscapeLike(textutil.Fold(term)) + "%"
		upper := "%" + textutil.EscapeLike(strings.ToUpper(term)) + "%"
		b = b.Where(sq.Or{
			sq.Expr("UPPER(protocolo) LIKE ?", upper),
			sq.Expr("unaccent(lower(nome)) LIKE ?", folded),
			sq.Expr("lower(email) LIKE ?", folded),
			sq.Expr("unaccent(lower(assunto)) LIKE ?", folded),
		})
	}
	if p.DateFrom != nil {
		b = b.Where(sq.GtOrEq{"data_solicitacao": *p.DateFrom})
	}
	if p.DateTo != nil {
		b = b.Where(sq.LtOrEq{"data_solicitacao": *p.DateTo})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := q.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list solicitacoes: %w", err)
	}
	defer rows.Close()

	result := make([]Solicitacao, 0)
	for rows.Next() {
		s, err := scanSolicitacao(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solicitacao: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
