package sqlengine_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/sqlengine"
	"github.com/mablae/pdo-event-store/eventstore/strategy"
)

func Test_NewEventStore_With_NilConnection(t *testing.T) {
	_, err := sqlengine.NewEventStoreFromPGXPool(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = sqlengine.NewEventStoreFromSQLDB(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = sqlengine.NewEventStoreFromSQLX(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)
}

func Test_NewEventStore_Validates_Options(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost:5432/postgres")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = sqlengine.NewEventStoreFromSQLDB(db, sqlengine.WithEventStreamsTable(""))
	assert.ErrorIs(t, err, eventstore.ErrEmptyEventStreamsTableName)

	_, err = sqlengine.NewEventStoreFromSQLDB(db, sqlengine.WithLoadBatchSize(0))
	assert.ErrorIs(t, err, eventstore.ErrInvalidLoadBatchSize)

	_, err = sqlengine.NewEventStoreFromSQLDB(db, sqlengine.WithPersistenceStrategy(nil))
	assert.ErrorIs(t, err, eventstore.ErrNilPersistenceStrategy)
}

func Test_NewEventStoreFromPGXPool_Rejects_MySQLStrategies(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://localhost:5432/postgres")
	require.NoError(t, err)
	defer pool.Close()

	_, err = sqlengine.NewEventStoreFromPGXPool(
		pool,
		sqlengine.WithPersistenceStrategy(strategy.NewMySQLSingleStreamStrategy()),
	)

	assert.ErrorIs(t, err, eventstore.ErrIncompatiblePersistenceStrategy)
}

func Test_EventStore_Satisfies_TheStoreContract(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost:5432/postgres")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	es, err := sqlengine.NewEventStoreFromSQLDB(db)
	require.NoError(t, err)

	var _ eventstore.TransactionalEventStore = es
}
