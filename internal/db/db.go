// Package db defines the minimal database handle every store depends on,
// so store code can run against either a pooled connection or a single
// transaction without changing a single query.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting store methods
// be called either directly against the pool or inside a caller-managed
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX. No store in this repository uses it: each store holds
// a DBTX or a pool directly and issues its SQL against that handle.
type Queries struct {
	db DBTX
}

// New wraps dbtx in a Queries handle.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}

// WithTx returns a copy of q that issues queries against tx instead of the
// pool it was originally constructed with.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
