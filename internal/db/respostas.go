package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const respostaColumns = `id, solicitacao_id, tipo, conteudo, fundamentacao_legal, anexos, respondido_por, data_resposta`

// Resposta represents a respostas row. Anexos is raw JSONB.
type Resposta struct {
	ID                 string
	SolicitacaoID      string
	Tipo               string
	Conteudo           string
	FundamentacaoLegal *string
	Anexos             []byte
	RespondidoPor      *string
	DataResposta       time.Time
}

func scanResposta(row pgx.Row) (Resposta, error) {
	var r Resposta
	err := row.Scan(
		&r.ID, &r.SolicitacaoID, &r.Tipo, &r.Conteudo, &r.FundamentacaoLegal,
		&r.Anexos, &r.RespondidoPor, &r.DataResposta,
	)
	return r, err
}

type CreateRespostaParams struct {
	ID                 string
	SolicitacaoID      string
	Tipo               string
	Conteudo           string
	FundamentacaoLegal *string
	Anexos             []byte
	RespondidoPor      *string
	DataResposta       time.Time
}

func (q *Queries) CreateResposta(ctx context.Context, p CreateRespostaParams) (Resposta, error) {
	anexos := p.Anexos
	if len(anexos) == 0 {
		anexos = []byte("[]")
	}
	r, err := scanResposta(q.q(ctx).QueryRow(ctx,
		`INSERT INTO respostas (id, solicitacao_id, tipo, conteudo, fundamentacao_legal, anexos, respondido_por, data_resposta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+respostaColumns,
		p.ID, p.SolicitacaoID, p.Tipo, p.Conteudo, p.FundamentacaoLegal, anexos, p.RespondidoPor, p.DataResposta,
	))
	if err != nil {
		return Resposta{}, mapError(err, "resposta", p.SolicitacaoID)
	}
	return r, nil
}

// ListRespostas returns responses oldest first.
func (q *Queries) ListRespostas(ctx context.Context, solicitacaoID string) ([]Resposta, error) {
	rows, err := q.q(ctx).Query(ctx,
		`SELECT `+respostaColumns+` FROM respostas
		WHERE solicitacao_id = $1
		ORDER BY data_resposta ASC`,
		solicitacaoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list respostas: %w", err)
	}
	defer rows.Close()

	result := make([]Resposta, 0)
	for rows.Next() {
		r, err := scanResposta(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resposta: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
