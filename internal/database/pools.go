package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/t2o2/betfair-go/internal/config"
)

// Connect creates the journal connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Schema is the order journal DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS order_events (
    id              UUID PRIMARY KEY,
    market_id       TEXT NOT NULL,
    selection_id    BIGINT NOT NULL,
    bet_id          TEXT NOT NULL,
    side            TEXT NOT NULL,
    status          TEXT NOT NULL,
    price           DOUBLE PRECISION NOT NULL,
    size            DOUBLE PRECISION NOT NULL,
    size_matched    DOUBLE PRECISION NOT NULL,
    size_remaining  DOUBLE PRECISION NOT NULL,
    size_cancelled  DOUBLE PRECISION NOT NULL,
    size_lapsed     DOUBLE PRECISION NOT NULL,
    size_voided     DOUBLE PRECISION NOT NULL,
    avg_price       DOUBLE PRECISION NOT NULL,
    strategy_ref    TEXT,
    placed_at       TIMESTAMPTZ,
    published_at    TIMESTAMPTZ,
    received_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_events_market_idx ON order_events (market_id, received_at);
CREATE INDEX IF NOT EXISTS order_events_bet_idx ON order_events (bet_id);
`
