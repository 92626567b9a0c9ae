package db

import (
	"context"
	"fmt"
	"time"
)

// Historico represents an append-only historico row. Snapshot is raw JSONB.
type Historico struct {
	ID            string
	SolicitacaoID string
	Acao          string
	Descricao     string
	Snapshot      []byte
	UsuarioID     *string
	CreatedAt     time.Time
}

type CreateHistoricoParams struct {
	ID            string
	SolicitacaoID string
	Acao          string
	Descricao     string
	Snapshot      []byte
	UsuarioID     *string
	CreatedAt     time.Time
}

func (q *Queries) CreateHistorico(ctx context.Context, p CreateHistoricoParams) error {
	_, err := q.q(ctx).Exec(ctx,
		`INSERT INTO historico (id, solicitacao_id, acao, descricao, snapshot, usuario_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SolicitacaoID, p.Acao, p.Descricao, p.Snapshot, p.UsuarioID, p.CreatedAt,
	)
	if err != nil {
		return mapError(err, "historico", p.SolicitacaoID)
	}
	return nil
}

func (q *Queries) ListHistorico(ctx context.Context, solicitacaoID string) ([]Historico, error) {
	rows, err := q.q(ctx).Query(ctx,
		`SELECT id, solicitacao_id, acao, descricao, snapshot, usuario_id, created_at
		FROM historico
		WHERE solicitacao_id = $1
		ORDER BY created_at ASC`,
		solicitacaoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list historico: %w", err)
	}
	defer rows.Close()

	result := make([]Historico, 0)
	for rows.Next() {
		var h Historico
		if err := rows.Scan(&h.ID, &h.SolicitacaoID, &h.Acao, &h.Descricao, &h.Snapshot, &h.UsuarioID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan historico: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}
