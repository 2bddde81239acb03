package eventstore

import (
	"errors"
)

var ErrEmptyStreamName = errors.New("empty stream name supplied")
var ErrStreamAlreadyExists = errors.New("stream already exists")
var ErrStreamNotFound = errors.New("stream not found")
var ErrConcurrencyConflict = errors.New("concurrency conflict, unique constraint violated during append")

var ErrNilDatabaseConnection = errors.New("database connection must not be nil")
var ErrNilPersistenceStrategy = errors.New("persistence strategy must not be nil")
var ErrIncompatiblePersistenceStrategy = errors.New("persistence strategy dialect does not match the database connection")
var ErrEmptyEventStreamsTableName = errors.New("empty eventStreamsTable name supplied")
var ErrInvalidLoadBatchSize = errors.New("loadBatchSize must be greater than zero")

var ErrTransactionAlreadyStarted = errors.New("a transaction is already started on this connection")
var ErrNoTransactionStarted = errors.New("no transaction is started on this connection")

var ErrBuildingQueryFailed = errors.New("building query failed")
var ErrQueryingEventsFailed = errors.New("querying events failed")
var ErrAppendingEventsFailed = errors.New("appending events failed")
var ErrScanningDBRowFailed = errors.New("scanning database row failed")
var ErrCreatingSchemaFailed = errors.New("creating stream schema failed")
var ErrDeletingStreamFailed = errors.New("deleting stream failed")
var ErrQueryingStreamsFailed = errors.New("querying the event streams table failed")
