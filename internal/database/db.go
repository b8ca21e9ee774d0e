package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// New opens a pool for uri and verifies the connection.
func New(ctx context.Context, uri string, log zerolog.Logger) (*DB, error) {
	if uri == "" {
		return nil, fmt.Errorf("database uri is empty")
	}
	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database uri: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
