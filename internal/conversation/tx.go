package conversation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docchat/docchat/internal/postgres"
)

// PgxRunner runs functions inside a pgx transaction.
type PgxRunner struct {
	pool *pgxpool.Pool
}

// NewPgxRunner creates a TxRunner backed by a connection pool.
func NewPgxRunner(pool *pgxpool.Pool) *PgxRunner {
	return &PgxRunner{pool: pool}
}

// RunInTx begins a transaction, hands transactional queries to fn, and
// commits when fn returns nil.
func (r *PgxRunner) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(postgres.New(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
