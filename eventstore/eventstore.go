package eventstore

import (
	"context"
)

// ReadOnlyEventStore is the query surface of an event store. The projection
// engine only depends on this interface.
//
// Load and LoadReverse return a Stream whose Events iterator pages lazily;
// an existing stream without matching events yields an empty iterator, never
// an error. Both return ErrStreamNotFound for an absent stream.
//
// fromNo is the first position to read (inclusive). For LoadReverse a fromNo
// of 0 means "from the end of the stream". count limits the number of events
// produced; 0 means unbounded.
type ReadOnlyEventStore interface {
	Load(ctx context.Context, name StreamName, fromNo uint64, count uint64, matcher MetadataMatcher) (Stream, error)
	LoadReverse(ctx context.Context, name StreamName, fromNo uint64, count uint64, matcher MetadataMatcher) (Stream, error)
	HasStream(ctx context.Context, name StreamName) (bool, error)
	FetchStreamMetadata(ctx context.Context, name StreamName) (map[string]any, bool, error)
	FetchStreamNames(ctx context.Context) ([]StreamName, error)
	FetchCategoryStreamNames(ctx context.Context, category string) ([]StreamName, error)
}

// EventStore is the full store contract.
//
// Create persists the registry row, the physical table and the stream's
// initial events atomically; it returns ErrStreamAlreadyExists for a present
// stream. AppendTo appends the given events in one statement and returns
// ErrConcurrencyConflict when the persistence strategy's uniqueness rules are
// violated. Delete removes the registry row and drops the physical table.
//
// Middleware can wrap any implementation of this interface to intercept
// operations, e.g. for transaction management or request-scoped logging.
type EventStore interface {
	ReadOnlyEventStore

	Create(ctx context.Context, stream Stream) error
	AppendTo(ctx context.Context, name StreamName, events ...EventEnvelope) error
	Delete(ctx context.Context, name StreamName) error
	UpdateStreamMetadata(ctx context.Context, name StreamName, metadata map[string]any) error
}

// TransactionalEventStore is an EventStore whose connection supports explicit
// transactions. At most one transaction per store may be open; Create and
// AppendTo participate in an open outer transaction instead of starting their
// own.
type TransactionalEventStore interface {
	EventStore

	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
}
