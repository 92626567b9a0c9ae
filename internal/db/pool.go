package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// PoolConfig is the connection tuning read from configuration. Zero values
// keep pgxpool's defaults.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

func (c PoolConfig) apply(pc *pgxpool.Config) {
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
}

// Pool bundles the connection pool with the query set and transaction
// manager built on it.
type Pool struct {
	*pgxpool.Pool
	*Queries
	Tx  *TxManager
	log *zap.Logger
}

// NewPool connects and pings once so a bad URL fails at startup.
func NewPool(ctx context.Context, cfg PoolConfig, log *zap.Logger) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.apply(pc)

	pp, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pp.Ping(pingCtx); err != nil {
		pp.Close()
		return nil, fmt.Errorf("failed to reach database %s: %w", pc.ConnConfig.Host, err)
	}

	log.Info("Connected to database",
		zap.String("host", pc.ConnConfig.Host),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns),
	)

	return &Pool{
		Pool:    pp,
		Queries: NewQueries(pp),
		Tx:      NewTxManager(pp),
		log:     log,
	}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
	p.log.Info("Database pool closed")
}
