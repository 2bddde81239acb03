package strategy

import (
	"crypto/sha1" //nolint:gosec // table-name derivation, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mablae/pdo-event-store/eventstore"
)

// Dialect names as registered with goqu.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Column identifiers shared by all strategies.
const (
	ColNo        = "no"
	ColEventID   = "event_id"
	ColEventName = "event_name"
	ColPayload   = "payload"
	ColMetadata  = "metadata"
	ColCreatedAt = "created_at"
)

var ErrAggregateVersionMissing = errors.New("event metadata is missing a numeric _aggregate_version entry")

// MatcherCondition is one rendered matcher term: a SQL fragment using "?"
// placeholders plus the values to bind. The engine attaches the fragments to
// its SELECT statements; all conditions are combined with AND.
type MatcherCondition struct {
	SQL  string
	Args []any
}

// PersistenceStrategy is the dialect/layout policy the SQL engine is built on.
type PersistenceStrategy interface {
	// Dialect returns the goqu dialect name the engine builds queries with.
	Dialect() string

	// CreateSchema returns the ordered DDL statements that create the
	// physical table for one stream.
	CreateSchema(tableName string) []string

	// DropSchema returns the ordered DDL statements that drop it again.
	DropSchema(tableName string) []string

	// EventStreamsSchema returns the DDL for the stream registry table.
	EventStreamsSchema(tableName string) []string

	// ColumnNames returns the ordered column identifiers for inserts.
	ColumnNames() []string

	// PrepareData flattens the events into a positional parameter vector,
	// row-major, matching ColumnNames repeated per event.
	PrepareData(events eventstore.EventEnvelopes) ([]any, error)

	// UniqueViolationErrorCodes returns the SQLSTATE codes that signal a
	// concurrency conflict on append.
	UniqueViolationErrorCodes() []string

	// TableNameFor derives the deterministic physical table name of a stream.
	TableNameFor(streamName eventstore.StreamName) string

	// MatcherConditions translates a metadata matcher into SQL fragments
	// with bound values, one per term.
	MatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error)
}

// GenerateTableName derives the physical table name of a stream:
// an underscore followed by the hex sha1 of the real stream name.
func GenerateTableName(streamName eventstore.StreamName) string {
	digest := sha1.Sum([]byte(streamName)) //nolint:gosec // see import note

	return "_" + hex.EncodeToString(digest[:])
}

var singleStreamColumns = []string{ColEventID, ColEventName, ColPayload, ColMetadata, ColCreatedAt}
var aggregateStreamColumns = []string{ColNo, ColEventID, ColEventName, ColPayload, ColMetadata, ColCreatedAt}

// prepareSingleStreamData flattens events for the single-stream layouts where
// the position column is assigned by the database.
func prepareSingleStreamData(events eventstore.EventEnvelopes) ([]any, error) {
	data := make([]any, 0, len(events)*len(singleStreamColumns))

	for _, event := range events {
		payloadJSON, err := event.PayloadJSON()
		if err != nil {
			return nil, err
		}

		metadataJSON, err := event.MetadataJSON()
		if err != nil {
			return nil, err
		}

		data = append(
			data,
			event.EventID.String(),
			event.EventName,
			string(payloadJSON),
			string(metadataJSON),
			event.CreatedAtString(),
		)
	}

	return data, nil
}

// prepareAggregateStreamData flattens events for the aggregate-stream layouts,
// prepending the position taken from the "_aggregate_version" metadata entry.
func prepareAggregateStreamData(events eventstore.EventEnvelopes) ([]any, error) {
	data := make([]any, 0, len(events)*len(aggregateStreamColumns))

	for _, event := range events {
		version, ok := event.AggregateVersion()
		if !ok {
			return nil, fmt.Errorf("%w: event %s", ErrAggregateVersionMissing, event.EventID)
		}

		payloadJSON, err := event.PayloadJSON()
		if err != nil {
			return nil, err
		}

		metadataJSON, err := event.MetadataJSON()
		if err != nil {
			return nil, err
		}

		data = append(
			data,
			version,
			event.EventID.String(),
			event.EventName,
			string(payloadJSON),
			string(metadataJSON),
			event.CreatedAtString(),
		)
	}

	return data, nil
}

// isNumeric reports whether a matcher value compares as a number.
func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// isBool reports whether a matcher value compares as a boolean.
func isBool(value any) bool {
	_, ok := value.(bool)
	return ok
}

// placeholders renders n comma-separated "?" marks for IN lists.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}

	marks := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			marks = append(marks, ", "...)
		}
		marks = append(marks, '?')
	}

	return string(marks)
}
