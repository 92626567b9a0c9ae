package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const recursoColumns = `id, solicitacao_id, instancia, motivo, data_recurso, data_limite,
	decisao, fundamentacao, decidido_por, data_decisao`

// Recurso represents a recursos row
type Recurso struct {
	ID            string
	SolicitacaoID string
	Instancia     string
	Motivo        string
	DataRecurso   time.Time
	DataLimite    time.Time
	Decisao       *string
	Fundamentacao *string
	DecididoPor   *string
	DataDecisao   *time.Time
}

func scanRecurso(row pgx.Row) (Recurso, error) {
	var r Recurso
	err := row.Scan(
		&r.ID, &r.SolicitacaoID, &r.Instancia, &r.Motivo, &r.DataRecurso, &r.DataLimite,
		&r.Decisao, &r.Fundamentacao, &r.DecididoPor, &r.DataDecisao,
	)
	return r, err
}

type CreateRecursoParams struct {
	ID            string
	SolicitacaoID string
	Instancia     string
	Motivo        string
	DataRecurso   time.Time
	DataLimite    time.Time
}

func (q *Queries) CreateRecurso(ctx context.Context, p CreateRecursoParams) (Recurso, error) {
	r, err := scanRecurso(q.q(ctx).QueryRow(ctx,
		`INSERT INTO recursos (id, solicitacao_id, instancia, motivo, data_recurso, data_limite)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+recursoColumns,
		p.ID, p.SolicitacaoID, p.Instancia, p.Motivo, p.DataRecurso, p.DataLimite,
	))
	if err != nil {
		return Recurso{}, mapError(err, "recurso", p.SolicitacaoID)
	}
	return r, nil
}

func (q *Queries) GetRecursoByID(ctx context.Context, id string) (Recurso, error) {
	r, err := scanRecurso(q.q(ctx).QueryRow(ctx,
		`SELECT `+recursoColumns+` FROM recursos WHERE id = $1`,
		id,
	))
	if err != nil {
		return Recurso{}, mapError(err, "recurso", id)
	}
	return r, nil
}

// ListRecursos returns appeals oldest first.
func (q *Queries) ListRecursos(ctx context.Context, solicitacaoID string) ([]Recurso, error) {
	rows, err := q.q(ctx).Query(ctx,
		`SELECT `+recursoColumns+` FROM recursos
		WHERE solicitacao_id = $1
		ORDER BY data_recurso ASC`,
		solicitacaoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recursos: %w", err)
	}
	defer rows.Close()

	result := make([]Recurso, 0)
	for rows.Next() {
		r, err := scanRecurso(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurso: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type DecideRecursoParams struct {
	Decisao       string
	Fundamentacao *string
	DecididoPor   string
	DataDecisao   time.Time
}

func (q *Queries) DecideRecurso(ctx context.Context, id string, p DecideRecursoParams) (Recurso, error) {
	r, err := scanRecurso(q.q(ctx).QueryRow(ctx,
		`UPDATE recursos
		SET decisao = $2, fundamentacao = $3, decidido_por = $4, data_decisao = $5
		WHERE id = $1
		RETURNING `+recursoColumns,
		id, p.Decisao, p.Fundamentacao, p.DecididoPor, p.DataDecisao,
	))
	if err != nil {
		return Recurso{}, mapError(err, "recurso", id)
	}
	return r, nil
}
