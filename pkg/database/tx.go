package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoTenantScope is returned when a repository is called without a tenant-scoped connection.
var ErrNoTenantScope = errors.New("no tenant scope in context")

// Querier is the subset of pgx shared by a pooled connection and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the open transaction if InTx started one, otherwise the tenant connection.
// Repositories use this so the same method participates in a caller's transaction when present.
func GetQuerier(ctx context.Context) (Querier, error) {
	if tx, ok := getTx(ctx); ok {
		return tx, nil
	}
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return nil, ErrNoTenantScope
	}
	return scope.Conn, nil
}

// TxRunner runs a function inside a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txRunner struct{}

// NewTxRunner creates a TxRunner that opens transactions on the tenant connection in context.
func NewTxRunner() TxRunner {
	return &txRunner{}
}

// InTx begins a transaction on the tenant connection, runs fn with the transaction
// in context, and commits only if fn returns nil. Nested calls reuse the outer transaction.
func (r *txRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := getTx(ctx); ok {
		return fn(ctx)
	}

	scope, ok := GetTenantScope(ctx)
	if !ok {
		return ErrNoTenantScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background()) //nolint:errcheck // rollback on defer is best-effort

	if err := fn(setTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
