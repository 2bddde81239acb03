package sqlengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/strategy"
)

func newStoreUnderTest(db *fakeAdapter) EventStore {
	es := newDefaultEventStore(db)
	es.loadBatchSize = 10

	return es
}

func givenStorableEvent(t *testing.T) eventstore.EventEnvelope {
	t.Helper()

	envelope, err := eventstore.NewEventEnvelope(
		"SomethingHappened",
		map[string]any{"what": "it"},
		map[string]any{
			eventstore.MetadataAggregateType:    "thing",
			eventstore.MetadataAggregateID:      "0e51b9ad-52b4-4ad1-9eb2-f0ebb6566c6c",
			eventstore.MetadataAggregateVersion: 1,
		},
	)
	require.NoError(t, err)

	return envelope
}

func Test_Create_Wraps_RegistryRow_Schema_And_Events_InOneTransaction(t *testing.T) {
	// arrange
	db := &fakeAdapter{rowsAffected: 1}
	es := newStoreUnderTest(db)

	// act
	err := es.Create(
		context.Background(),
		eventstore.NewStream("user-123", map[string]any{"owner": "tests"}, givenStorableEvent(t)),
	)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, db.beginCount)
	assert.Equal(t, 1, db.commitCount)
	assert.Zero(t, db.rollbacks)

	// registry insert, 3 DDL statements, one event insert
	require.Len(t, db.calls, 5)
	assert.Contains(t, db.calls[0].query, "event_streams")
	assert.Contains(t, db.calls[0].args, "user-123")
	assert.Contains(t, db.calls[0].args, "_d5ecfb11836d0806d18f2fd4c815d970bdc54ddc")
	assert.Contains(t, db.calls[1].query, "CREATE TABLE")
	assert.Contains(t, db.calls[4].query, "INSERT")
}

func Test_Create_DuplicateStream_RollsBack(t *testing.T) {
	db := &fakeAdapter{execErr: &pgconn.PgError{Code: "23505"}}
	es := newStoreUnderTest(db)

	err := es.Create(context.Background(), eventstore.NewStream("user-123", nil))

	assert.ErrorIs(t, err, eventstore.ErrStreamAlreadyExists)
	assert.Equal(t, 1, db.rollbacks)
	assert.Zero(t, db.commitCount)
}

func Test_Create_Participates_InAnOuterTransaction(t *testing.T) {
	db := &fakeAdapter{rowsAffected: 1}
	es := newStoreUnderTest(db)

	require.NoError(t, es.BeginTransaction(context.Background()))
	require.NoError(t, es.Create(context.Background(), eventstore.NewStream("user-123", nil)))

	assert.Equal(t, 1, db.beginCount, "create must not begin a nested transaction")
	assert.Zero(t, db.commitCount, "create must leave committing to the caller")
	assert.True(t, es.InTransaction())

	require.NoError(t, es.Commit(context.Background()))
	assert.Equal(t, 1, db.commitCount)
}

func Test_AppendTo_AbsentStream_Fails(t *testing.T) {
	db := &fakeAdapter{streamExists: false}
	es := newStoreUnderTest(db)

	err := es.AppendTo(context.Background(), "user-123", givenStorableEvent(t))

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

func Test_AppendTo_ZeroEvents_IsANoOp(t *testing.T) {
	db := &fakeAdapter{streamExists: true}
	es := newStoreUnderTest(db)

	err := es.AppendTo(context.Background(), "user-123")

	assert.NoError(t, err)
	require.Len(t, db.calls, 1, "only the registry lookup may be executed")
}

func Test_AppendTo_Builds_OneMultiRowInsert(t *testing.T) {
	db := &fakeAdapter{streamExists: true, rowsAffected: 2}
	es := newStoreUnderTest(db)

	err := es.AppendTo(context.Background(), "user-123", givenStorableEvent(t), givenStorableEvent(t))

	require.NoError(t, err)
	require.Len(t, db.calls, 2)

	insert := db.calls[1]
	assert.Contains(t, insert.query, "INSERT")
	assert.Contains(t, insert.query, "_d5ecfb11836d0806d18f2fd4c815d970bdc54ddc")
	assert.Len(t, insert.args, 2*len(es.strategy.ColumnNames()), "one placeholder tuple per event")
}

func Test_AppendTo_Maps_UniqueViolations_OntoConcurrencyConflict(t *testing.T) {
	driverErrors := []error{
		&pgconn.PgError{Code: "23505"},
		&pq.Error{Code: "23505"},
	}

	for _, driverErr := range driverErrors {
		db := &fakeAdapter{streamExists: true, execErr: driverErr}
		es := newStoreUnderTest(db)

		err := es.AppendTo(context.Background(), "user-123", givenStorableEvent(t))

		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	}
}

func Test_AppendTo_MySQL_UniqueViolation(t *testing.T) {
	db := &fakeAdapter{streamExists: true, execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}}
	es := newStoreUnderTest(db)
	require.NoError(t, WithPersistenceStrategy(strategy.NewMySQLSingleStreamStrategy())(&es))

	err := es.AppendTo(context.Background(), "user-123", givenStorableEvent(t))

	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func Test_AppendTo_Propagates_OtherDatabaseErrors(t *testing.T) {
	driverErr := &pgconn.PgError{Code: "57014", Message: "canceling statement"}
	db := &fakeAdapter{streamExists: true, execErr: driverErr}
	es := newStoreUnderTest(db)

	err := es.AppendTo(context.Background(), "user-123", givenStorableEvent(t))

	assert.ErrorIs(t, err, eventstore.ErrAppendingEventsFailed)
	assert.ErrorContains(t, err, "canceling statement")
}

func Test_Load_AbsentStream_Fails(t *testing.T) {
	db := &fakeAdapter{streamExists: false}
	es := newStoreUnderTest(db)

	_, err := es.Load(context.Background(), "user-123", 1, 0, eventstore.MetadataMatcher{})

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

func Test_Load_Returns_LazyStream(t *testing.T) {
	db := &fakeAdapter{streamExists: true, eventPages: [][]fakeEventRow{{eventRow(1), eventRow(2)}}}
	es := newStoreUnderTest(db)

	stream, err := es.Load(context.Background(), "user-123", 1, 0, eventstore.MetadataMatcher{})
	require.NoError(t, err)
	assert.Equal(t, eventstore.StreamName("user-123"), stream.Name)
	require.Len(t, db.calls, 1, "no event query before the first Next")

	events, err := eventstore.CollectEvents(stream.Events)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func Test_Load_Attaches_MatcherConditions(t *testing.T) {
	db := &fakeAdapter{streamExists: true, eventPages: [][]fakeEventRow{{}}}
	es := newStoreUnderTest(db)

	matcher, err := eventstore.NewMetadataMatcher(
		eventstore.MatchMetadata("tenant", eventstore.OpEquals, "acme"),
	)
	require.NoError(t, err)

	stream, err := es.Load(context.Background(), "user-123", 1, 0, matcher)
	require.NoError(t, err)

	_, err = eventstore.CollectEvents(stream.Events)
	require.NoError(t, err)

	pageQuery := db.calls[1]
	assert.Contains(t, pageQuery.query, "metadata->>'tenant'")
	assert.Contains(t, pageQuery.args, "acme")
}

func Test_LoadReverse_FromZero_StartsAtTheEnd(t *testing.T) {
	db := &fakeAdapter{streamExists: true, eventPages: [][]fakeEventRow{{}}}
	es := newStoreUnderTest(db)

	stream, err := es.LoadReverse(context.Background(), "user-123", 0, 0, eventstore.MetadataMatcher{})
	require.NoError(t, err)

	_, err = eventstore.CollectEvents(stream.Events)
	require.NoError(t, err)

	assert.Contains(t, db.calls[1].query, `"no" <=`)
}

func Test_Delete_AbsentStream_Fails(t *testing.T) {
	db := &fakeAdapter{rowsAffected: 0}
	es := newStoreUnderTest(db)

	err := es.Delete(context.Background(), "user-123")

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
	assert.Equal(t, 1, db.rollbacks)
}

func Test_Delete_Removes_RegistryRow_And_DropsTheTable(t *testing.T) {
	db := &fakeAdapter{rowsAffected: 1}
	es := newStoreUnderTest(db)

	err := es.Delete(context.Background(), "user-123")

	require.NoError(t, err)
	require.Len(t, db.calls, 2)
	assert.Contains(t, db.calls[0].query, "DELETE")
	assert.Contains(t, db.calls[1].query, "DROP TABLE")
	assert.Equal(t, 1, db.commitCount)
}

func Test_SqlStateOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{"pgx error", &pgconn.PgError{Code: "23505"}, "23505"},
		{"pq error", &pq.Error{Code: "23000"}, "23000"},
		{"mysql error with sqlstate", &mysql.MySQLError{Number: 1062, SQLState: [5]byte{'2', '3', '0', '0', '0'}}, "23000"},
		{"mysql duplicate entry without sqlstate", &mysql.MySQLError{Number: 1062}, "23000"},
		{"mysql other error", &mysql.MySQLError{Number: 1146}, ""},
		{"wrapped pgx error", errors.Join(errors.New("outer"), &pgconn.PgError{Code: "23505"}), "23505"},
		{"plain error", errors.New("boom"), ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, sqlStateOf(tc.err))
		})
	}
}

func Test_Instrument_Records_DurationMetric(t *testing.T) {
	collected := make(map[string]string)
	db := &fakeAdapter{streamExists: true}
	es := newStoreUnderTest(db)
	es.metricsCollector = metricsCollectorFunc(func(metric string, _ time.Duration, labels map[string]string) {
		collected[metric] = labels[labelOperation]
	})

	_, err := es.HasStream(context.Background(), "user-123")

	require.NoError(t, err)
	assert.Equal(t, opHasStream, collected[metricOperationDuration])
}

type metricsCollectorFunc func(metric string, duration time.Duration, labels map[string]string)

func (f metricsCollectorFunc) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	f(metric, duration, labels)
}

func (f metricsCollectorFunc) IncrementCounter(metric string, labels map[string]string) {
	f(metric, 0, labels)
}
