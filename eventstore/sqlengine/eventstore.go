package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect import
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/sqlengine/internal/adapters"
	"github.com/mablae/pdo-event-store/eventstore/strategy"
)

const (
	defaultEventStreamsTable = "event_streams"
	defaultLoadBatchSize     = 10000

	colRealStreamName = "real_stream_name"
	colStreamName     = "stream_name"
	colMetadata       = "metadata"

	opCreate               = "create"
	opAppend               = "append"
	opLoad                 = "load"
	opLoadReverse          = "load_reverse"
	opDelete               = "delete"
	opHasStream            = "has_stream"
	opFetchMetadata        = "fetch_stream_metadata"
	opFetchStreamNames     = "fetch_stream_names"
	opUpdateStreamMetadata = "update_stream_metadata"

	logMsgStreamCreated       = "stream created"
	logMsgStreamDeleted       = "stream deleted"
	logMsgEventsAppended      = "events appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logAttrStream             = "stream"
	logAttrEventCount         = "event_count"
	logAttrDurationMS         = "duration_ms"
)

// EventStore is the SQL persistence engine: stream lifecycle, transactional
// append with concurrency detection, forward and reverse paged reads, and
// registry queries. The dialect and table layout are delegated to the
// configured strategy.PersistenceStrategy.
type EventStore struct {
	db                adapters.DBAdapter
	strategy          strategy.PersistenceStrategy
	eventStreamsTable string
	loadBatchSize     uint64
	logger            Logger
	metricsCollector  MetricsCollector
	tracingCollector  TracingCollector
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx pool with
// optional configuration. The strategy defaults to the Postgres single-stream
// layout; only Postgres strategies are compatible with this connection type.
func NewEventStoreFromPGXPool(pool *pgxpool.Pool, options ...Option) (EventStore, error) {
	if pool == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	es := newDefaultEventStore(adapters.NewPGXAdapter(pool))

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	if es.strategy.Dialect() != strategy.DialectPostgres {
		return EventStore{}, eventstore.ErrIncompatiblePersistenceStrategy
	}

	return es, nil
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional
// configuration. Configure a MySQL strategy when the connection uses the
// MySQL driver.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	es := newDefaultEventStore(adapters.NewSQLAdapter(db))

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	return es, nil
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional
// configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	es := newDefaultEventStore(adapters.NewSQLXAdapter(db))

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	return es, nil
}

func newDefaultEventStore(db adapters.DBAdapter) EventStore {
	return EventStore{
		db:                db,
		strategy:          strategy.NewPostgresSingleStreamStrategy(),
		eventStreamsTable: defaultEventStreamsTable,
		loadBatchSize:     defaultLoadBatchSize,
	}
}

// SetUp creates the stream registry table if it does not exist yet.
func (es EventStore) SetUp(ctx context.Context) error {
	for _, ddl := range es.strategy.EventStreamsSchema(es.eventStreamsTable) {
		if _, err := es.db.Exec(ctx, ddl); err != nil {
			return errors.Join(eventstore.ErrCreatingSchemaFailed, err)
		}
	}

	return nil
}

// Create persists the registry row, the physical table and the stream's
// initial events. On Postgres the whole operation is atomic; MySQL commits
// DDL implicitly, so there the registry row and the initial events are only
// covered up to the CREATE TABLE statement.
func (es EventStore) Create(ctx context.Context, stream eventstore.Stream) (err error) {
	ctx, finish := es.instrument(ctx, opCreate)
	defer func() { finish(err) }()

	if stream.Name == "" {
		return eventstore.ErrEmptyStreamName
	}

	events, err := eventstore.CollectEvents(stream.Events)
	if err != nil {
		return err
	}

	ownTx := !es.db.InTransaction()
	if ownTx {
		if err = es.db.Begin(ctx); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				es.rollbackQuietly(ctx)
			}
		}()
	}

	if err = es.insertStreamRow(ctx, stream.Name, stream.Metadata); err != nil {
		return err
	}

	tableName := es.strategy.TableNameFor(stream.Name)
	for _, ddl := range es.strategy.CreateSchema(tableName) {
		if _, execErr := es.db.Exec(ctx, ddl); execErr != nil {
			err = errors.Join(eventstore.ErrCreatingSchemaFailed, execErr)
			return err
		}
	}

	if len(events) > 0 {
		if err = es.appendEvents(ctx, tableName, events); err != nil {
			return err
		}
	}

	if ownTx {
		if err = es.db.Commit(ctx); err != nil {
			return err
		}
	}

	es.logOperation(logMsgStreamCreated, logAttrStream, stream.Name.String(), logAttrEventCount, len(events))

	return nil
}

// AppendTo appends the given events onto an existing stream as a single
// multi-row insert statement. A violation of the strategy's uniqueness rules
// surfaces as eventstore.ErrConcurrencyConflict and leaves no rows behind.
// Appending zero events succeeds and mutates nothing.
func (es EventStore) AppendTo(ctx context.Context, name eventstore.StreamName, events ...eventstore.EventEnvelope) (err error) {
	ctx, finish := es.instrument(ctx, opAppend)
	defer func() { finish(err) }()

	if name == "" {
		return eventstore.ErrEmptyStreamName
	}

	exists, err := es.streamExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return eventstore.ErrStreamNotFound
	}

	if len(events) == 0 {
		return nil
	}

	if err = es.appendEvents(ctx, es.strategy.TableNameFor(name), events); err != nil {
		return err
	}

	es.logOperation(logMsgEventsAppended, logAttrStream, name.String(), logAttrEventCount, len(events))
	es.countEvents(opAppend, len(events))

	return nil
}

func (es EventStore) appendEvents(ctx context.Context, tableName string, events eventstore.EventEnvelopes) error {
	columns := es.strategy.ColumnNames()

	data, err := es.strategy.PrepareData(events)
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(events))
	for offset := 0; offset < len(data); offset += len(columns) {
		rows = append(rows, data[offset:offset+len(columns)])
	}

	cols := make([]any, len(columns))
	for i, column := range columns {
		cols[i] = column
	}

	insertStmt := goqu.Dialect(es.strategy.Dialect()).
		Insert(tableName).
		Prepared(true).
		Cols(cols...).
		Vals(rows...)

	sqlQuery, args, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	start := nowFunc()
	_, execErr := es.db.Exec(ctx, sqlQuery, args...)
	es.logQueryWithDuration(sqlQuery, opAppend, nowFunc().Sub(start))

	if execErr != nil {
		if es.isUniqueViolation(execErr) {
			es.logOperation(logMsgConcurrencyConflict, logAttrEventCount, len(events))
			es.countConflict()

			return errors.Join(eventstore.ErrConcurrencyConflict, execErr)
		}

		return errors.Join(eventstore.ErrAppendingEventsFailed, execErr)
	}

	return nil
}

// Load returns the stream with a lazy forward iterator starting at fromNo
// (inclusive; 0 is treated as 1). count limits the number of events produced,
// 0 means unbounded. The matcher narrows the result by metadata and message
// properties.
func (es EventStore) Load(
	ctx context.Context,
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
) (stream eventstore.Stream, err error) {

	ctx, finish := es.instrument(ctx, opLoad)
	defer func() { finish(err) }()

	return es.openStream(ctx, name, fromNo, count, matcher, true)
}

// LoadReverse is Load with descending order: it starts at fromNo (0 meaning
// the end of the stream) and pages towards the stream's beginning.
func (es EventStore) LoadReverse(
	ctx context.Context,
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
) (stream eventstore.Stream, err error) {

	ctx, finish := es.instrument(ctx, opLoadReverse)
	defer func() { finish(err) }()

	return es.openStream(ctx, name, fromNo, count, matcher, false)
}

func (es EventStore) openStream(
	ctx context.Context,
	name eventstore.StreamName,
	fromNo uint64,
	count uint64,
	matcher eventstore.MetadataMatcher,
	forward bool,
) (eventstore.Stream, error) {

	if name == "" {
		return eventstore.Stream{}, eventstore.ErrEmptyStreamName
	}

	metadata, found, err := es.readStreamMetadata(ctx, name)
	if err != nil {
		return eventstore.Stream{}, err
	}
	if !found {
		return eventstore.Stream{}, eventstore.ErrStreamNotFound
	}

	conditions, err := es.strategy.MatcherConditions(matcher)
	if err != nil {
		return eventstore.Stream{}, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	if forward && fromNo == 0 {
		fromNo = 1
	}
	if !forward && fromNo == 0 {
		fromNo = math.MaxInt64
	}

	iterator := newStreamIterator(streamIteratorConfig{
		ctx:        ctx,
		db:         es.db,
		dialect:    es.strategy.Dialect(),
		tableName:  es.strategy.TableNameFor(name),
		conditions: conditions,
		forward:    forward,
		fromNo:     fromNo,
		count:      count,
		batchSize:  es.loadBatchSize,
		logger:     es.logger,
	})

	return eventstore.Stream{Name: name, Metadata: metadata, Events: iterator}, nil
}

// Delete removes the registry row and drops the stream's physical table.
func (es EventStore) Delete(ctx context.Context, name eventstore.StreamName) (err error) {
	ctx, finish := es.instrument(ctx, opDelete)
	defer func() { finish(err) }()

	if name == "" {
		return eventstore.ErrEmptyStreamName
	}

	ownTx := !es.db.InTransaction()
	if ownTx {
		if err = es.db.Begin(ctx); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				es.rollbackQuietly(ctx)
			}
		}()
	}

	deleteStmt := goqu.Dialect(es.strategy.Dialect()).
		Delete(es.eventStreamsTable).
		Prepared(true).
		Where(goqu.C(colRealStreamName).Eq(name.String()))

	sqlQuery, args, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		err = errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
		return err
	}

	result, execErr := es.db.Exec(ctx, sqlQuery, args...)
	if execErr != nil {
		err = errors.Join(eventstore.ErrDeletingStreamFailed, execErr)
		return err
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		err = errors.Join(eventstore.ErrDeletingStreamFailed, rowsErr)
		return err
	}
	if rowsAffected == 0 {
		err = eventstore.ErrStreamNotFound
		return err
	}

	for _, ddl := range es.strategy.DropSchema(es.strategy.TableNameFor(name)) {
		if _, execErr = es.db.Exec(ctx, ddl); execErr != nil {
			err = errors.Join(eventstore.ErrDeletingStreamFailed, execErr)
			return err
		}
	}

	if ownTx {
		if err = es.db.Commit(ctx); err != nil {
			return err
		}
	}

	es.logOperation(logMsgStreamDeleted, logAttrStream, name.String())

	return nil
}

// HasStream reports whether a stream is present in the registry.
func (es EventStore) HasStream(ctx context.Context, name eventstore.StreamName) (has bool, err error) {
	ctx, finish := es.instrument(ctx, opHasStream)
	defer func() { finish(err) }()

	return es.streamExists(ctx, name)
}

// FetchStreamMetadata returns the metadata persisted when the stream was
// created. The bool result reports presence; an absent stream is not an error.
func (es EventStore) FetchStreamMetadata(ctx context.Context, name eventstore.StreamName) (
	metadata map[string]any,
	found bool,
	err error,
) {

	ctx, finish := es.instrument(ctx, opFetchMetadata)
	defer func() { finish(err) }()

	return es.readStreamMetadata(ctx, name)
}

// UpdateStreamMetadata replaces the stream's registry metadata.
func (es EventStore) UpdateStreamMetadata(ctx context.Context, name eventstore.StreamName, metadata map[string]any) (err error) {
	ctx, finish := es.instrument(ctx, opUpdateStreamMetadata)
	defer func() { finish(err) }()

	exists, err := es.streamExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return eventstore.ErrStreamNotFound
	}

	metadataJSON, err := marshalStreamMetadata(metadata)
	if err != nil {
		return err
	}

	updateStmt := goqu.Dialect(es.strategy.Dialect()).
		Update(es.eventStreamsTable).
		Prepared(true).
		Set(goqu.Record{colMetadata: metadataJSON}).
		Where(goqu.C(colRealStreamName).Eq(name.String()))

	sqlQuery, args, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	if _, execErr := es.db.Exec(ctx, sqlQuery, args...); execErr != nil {
		return errors.Join(eventstore.ErrQueryingStreamsFailed, execErr)
	}

	return nil
}

// FetchStreamNames lists all registered streams, internal ones included,
// ordered by name.
func (es EventStore) FetchStreamNames(ctx context.Context) (names []eventstore.StreamName, err error) {
	ctx, finish := es.instrument(ctx, opFetchStreamNames)
	defer func() { finish(err) }()

	return es.queryStreamNames(ctx, "")
}

// FetchCategoryStreamNames lists all streams whose real name starts with
// "<category>-".
func (es EventStore) FetchCategoryStreamNames(ctx context.Context, category string) (names []eventstore.StreamName, err error) {
	ctx, finish := es.instrument(ctx, opFetchStreamNames)
	defer func() { finish(err) }()

	return es.queryStreamNames(ctx, category)
}

// BeginTransaction opens a transaction on the underlying connection.
// Create and AppendTo participate in it instead of starting their own.
func (es EventStore) BeginTransaction(ctx context.Context) error {
	return es.db.Begin(ctx)
}

// Commit commits the open transaction.
func (es EventStore) Commit(ctx context.Context) error {
	return es.db.Commit(ctx)
}

// Rollback rolls the open transaction back.
func (es EventStore) Rollback(ctx context.Context) error {
	return es.db.Rollback(ctx)
}

// InTransaction reports whether a transaction is open.
func (es EventStore) InTransaction() bool {
	return es.db.InTransaction()
}

/***** registry helpers *****/

func (es EventStore) insertStreamRow(ctx context.Context, name eventstore.StreamName, metadata map[string]any) error {
	metadataJSON, err := marshalStreamMetadata(metadata)
	if err != nil {
		return err
	}

	insertStmt := goqu.Dialect(es.strategy.Dialect()).
		Insert(es.eventStreamsTable).
		Prepared(true).
		Cols(colRealStreamName, colStreamName, colMetadata).
		Vals([]any{name.String(), es.strategy.TableNameFor(name), metadataJSON})

	sqlQuery, args, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	if _, execErr := es.db.Exec(ctx, sqlQuery, args...); execErr != nil {
		if es.isUniqueViolation(execErr) {
			return eventstore.ErrStreamAlreadyExists
		}

		return errors.Join(eventstore.ErrQueryingStreamsFailed, execErr)
	}

	return nil
}

func (es EventStore) streamExists(ctx context.Context, name eventstore.StreamName) (bool, error) {
	_, found, err := es.readStreamMetadata(ctx, name)

	return found, err
}

func (es EventStore) readStreamMetadata(ctx context.Context, name eventstore.StreamName) (map[string]any, bool, error) {
	selectStmt := goqu.Dialect(es.strategy.Dialect()).
		From(es.eventStreamsTable).
		Prepared(true).
		Select(colMetadata).
		Where(goqu.C(colRealStreamName).Eq(name.String()))

	sqlQuery, args, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, false, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, queryErr := es.db.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		return nil, false, errors.Join(eventstore.ErrQueryingStreamsFailed, queryErr)
	}
	defer es.closeRows(rows)

	if !rows.Next() {
		return nil, false, nil
	}

	var metadataJSON []byte
	if scanErr := rows.Scan(&metadataJSON); scanErr != nil {
		return nil, false, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
	}

	metadata, unmarshalErr := eventstore.UnmarshalMetadataJSON(metadataJSON)
	if unmarshalErr != nil {
		return nil, false, unmarshalErr
	}

	return metadata, true, nil
}

func (es EventStore) queryStreamNames(ctx context.Context, category string) ([]eventstore.StreamName, error) {
	selectStmt := goqu.Dialect(es.strategy.Dialect()).
		From(es.eventStreamsTable).
		Prepared(true).
		Select(colRealStreamName).
		Order(goqu.C(colRealStreamName).Asc())

	if category != "" {
		selectStmt = selectStmt.Where(goqu.C(colRealStreamName).Like(escapeLikePattern(category) + "-%"))
	}

	sqlQuery, args, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, queryErr := es.db.Query(ctx, sqlQuery, args...)
	if queryErr != nil {
		return nil, errors.Join(eventstore.ErrQueryingStreamsFailed, queryErr)
	}
	defer es.closeRows(rows)

	var names []eventstore.StreamName
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		names = append(names, eventstore.StreamName(name))
	}

	return names, nil
}

func (es EventStore) rollbackQuietly(ctx context.Context) {
	if rollbackErr := es.db.Rollback(ctx); rollbackErr != nil {
		if es.logger != nil {
			es.logger.Warn(logMsgRollbackFailed, "error", rollbackErr.Error())
		}
	}
}

func marshalStreamMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	metadataJSON, err := jsoniter.ConfigFastest.Marshal(metadata)
	if err != nil {
		return "", errors.Join(eventstore.ErrMarshalingMetadataFailed, err)
	}

	return string(metadataJSON), nil
}

// escapeLikePattern escapes LIKE wildcards in a category so that the prefix
// match stays literal.
func escapeLikePattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return replacer.Replace(s)
}
