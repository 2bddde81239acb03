package adapters

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/mablae/pdo-event-store/eventstore"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

// NewSQLXAdapter creates a new sqlx adapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{db: db}
}

func (s *SQLXAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
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

func (s *SQLXAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
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

func (s *SQLXAdapter) Begin(ctx context.Context) error {
	if s.tx != nil {
		return eventstore.ErrTransactionAlreadyStarted
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	s.tx = tx

	return nil
}

func (s *SQLXAdapter) Commit(_ context.Context) error {
	if s.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := s.tx.Commit()
	s.tx = nil

	return err
}

func (s *SQLXAdapter) Rollback(_ context.Context) error {
	if s.tx == nil {
		return eventstore.ErrNoTransactionStarted
	}

	err := s.tx.Rollback()
	s.tx = nil

	return err
}

func (s *SQLXAdapter) InTransaction() bool {
	return s.tx != nil
}
