package adapters

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mablae/pdo-event-store/eventstore"
)

// PGXAdapter implements DBAdapter for pgxpool.Pool.
type PGXAdapter struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// NewPGXAdapter creates a new PGX adapter.
func NewPGXAdapter(pool *pgxpool.Pool) *PGXAdapter {
	return &PGXAdapter{pool: pool}
}

// Query executes a query through the open transaction if one is started,
// otherwise through the pool.
func (p *PGXAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	var rows pgx.Rows
	var err error

	if p.tx != nil {
		rows, err = p.tx.Query(ctx, query, args...)
	} else {
		rows, err = p.pool.Query(ctx, query, args...)
	}

	if err != nil {
		return nil, err
	}

	return &pgxRows{rows: rows}, nil
}

// Exec executes a statement and returns the wrapped command tag.
func (p *PGXAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	var tag pgconn.CommandTag
	var err error

	if p.tx != nil {
		tag, err = p.tx.Exec(ctx, query, args...)
	} else {
		tag, err = p.pool.Exec(ctx, query, args...)
	}

	if err != nil {
		return nil, err
	}

	return &pgxResult{tag: tag}, nil
}

func (p *PGXAdapter) Begin(ctx context.Context) error {
	if p.tx != nil {
		return eventstore.ErrTransactionAlreadyStarted
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}

	p.tx = tx

	return nil
}

func (p *PGXAdapter) Commit(ctx context.Context) error {
	if p.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := p.tx.Commit(ctx)
	p.tx = nil

	return err
}

func (p *PGXAdapter) Rollback(ctx context.Context) error {
	if p.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := p.tx.Rollback(ctx)
	p.tx = nil

	return err
}

func (p *PGXAdapter) InTransaction() bool {
	return p.tx != nil
}

// pgxRows wraps pgx.Rows to implement the DBRows interface.
type pgxRows struct {
	rows pgx.Rows
}

// Next advances to the next row.
func (p *pgxRows) Next() bool {
	return p.rows.Next()
}

// Scan copies row values into provided destinations.
func (p *pgxRows) Scan(dest ...any) error {
	return p.rows.Scan(dest...)
}

// Close closes the rows iterator.
func (p *pgxRows) Close() error {
	p.rows.Close()
	return nil
}

// pgxResult wraps pgconn.CommandTag to implement the DBResult interface.
type pgxResult struct {
	tag pgconn.CommandTag
}

// RowsAffected returns the number of rows affected by the command.
func (p *pgxResult) RowsAffected() (int64, error) {
	return p.tag.RowsAffected(), nil
}
