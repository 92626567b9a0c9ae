package db

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

// Queries wraps database queries
type Queries struct {
	db Querier
}

// NewQueries creates a new Queries instance
func NewQueries(db Querier) *Queries {
	return &Queries{db: db}
}

// q returns the transaction carried by ctx, if any.
func (q *Queries) q(ctx context.Context) Querier {
	return querierFromCtx(ctx, q.db)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
