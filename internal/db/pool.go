// Package db provides the shared connection-pool abstraction and bulk
// write helpers used by the store and the ingestion pipeline.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the query surface shared by a pool and a transaction.
// Store methods are written against Querier so the same code runs
// inside whatever transaction boundary the caller has opened.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of *pgxpool.Pool the application depends on.
// pgxmock.PgxPoolIface satisfies it too, which is what makes the
// store unit-testable without a database.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}
