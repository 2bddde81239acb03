package adapters

import (
	"context"
	"database/sql"

	"github.com/mablae/pdo-event-store/eventstore"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	db *sql.DB
	tx *sql.Tx
}

// NewSQLAdapter creates a new SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

func (s *SQLAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	var rows *sql.Rows
	var err error

	if s.tx != nil {
		rows, err = s.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, query, args...)
	}

	if err != nil {
		return nil, err
	}

	return &sqlRows{rows: rows}, nil
}

func (s *SQLAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	var result sql.Result
	var err error

	if s.tx != nil {
		result, err = s.tx.ExecContext(ctx, query, args...)
	} else {
		result, err = s.db.ExecContext(ctx, query, args...)
	}

	if err != nil {
		return nil, err
	}

	return &sqlResult{result: result}, nil
}

func (s *SQLAdapter) Begin(ctx context.Context) error {
	if s.tx != nil {
		return eventstore.ErrTransactionAlreadyStarted
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	s.tx = tx

	return nil
}

func (s *SQLAdapter) Commit(_ context.Context) error {
	if s.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := s.tx.Commit()
	s.tx = nil

	return err
}

func (s *SQLAdapter) Rollback(_ context.Context) error {
	if s.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := s.tx.Rollback()
	s.tx = nil

	return err
}

func (s *SQLAdapter) InTransaction() bool {
	return s.tx != nil
}

type sqlRows struct {
	rows *sql.Rows
}

func (s *sqlRows) Next() bool {
	return s.rows.Next()
}

func (s *sqlRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *sqlRows) Close() error {
	return s.rows.Close()
}

type sqlResult struct {
	result sql.Result
}

func (s *sqlResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
