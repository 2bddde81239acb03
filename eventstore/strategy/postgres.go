package strategy

import (
	"fmt"
	"time"

	"github.com/mablae/pdo-event-store/eventstore"
)

// postgresUniqueViolationCodes are the SQLSTATE codes Postgres drivers report
// for integrity violations on append: 23000 (integrity constraint violation)
// and 23505 (unique violation).
var postgresUniqueViolationCodes = []string{"23000", "23505"}

// PostgresSingleStreamStrategy lays out one physical table per logical stream
// with a database-assigned position column. A functional unique index over the
// aggregate metadata enforces one append per aggregate version across all
// aggregates stored in the same table.
type PostgresSingleStreamStrategy struct{}

// NewPostgresSingleStreamStrategy creates the default Postgres strategy.
func NewPostgresSingleStreamStrategy() PostgresSingleStreamStrategy {
	return PostgresSingleStreamStrategy{}
}

func (PostgresSingleStreamStrategy) Dialect() string {
	return DialectPostgres
}

func (PostgresSingleStreamStrategy) CreateSchema(tableName string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE "%s" (
    no BIGSERIAL,
    event_id UUID NOT NULL,
    event_name VARCHAR(100) NOT NULL,
    payload JSON NOT NULL,
    metadata JSONB NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    PRIMARY KEY (no),
    CONSTRAINT aggregate_version_not_null CHECK ((metadata->>'_aggregate_version') IS NOT NULL),
    CONSTRAINT aggregate_type_not_null CHECK ((metadata->>'_aggregate_type') IS NOT NULL),
    CONSTRAINT aggregate_id_not_null CHECK ((metadata->>'_aggregate_id') IS NOT NULL),
    UNIQUE (event_id)
)`, tableName),
		fmt.Sprintf(`CREATE UNIQUE INDEX ON "%s" ((metadata->>'_aggregate_version'), (metadata->>'_aggregate_id'), (metadata->>'_aggregate_type'))`, tableName),
		fmt.Sprintf(`CREATE INDEX ON "%s" ((metadata->>'_aggregate_type'), (metadata->>'_aggregate_id'), no)`, tableName),
	}
}

func (PostgresSingleStreamStrategy) DropSchema(tableName string) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tableName),
	}
}

func (PostgresSingleStreamStrategy) EventStreamsSchema(tableName string) []string {
	return postgresEventStreamsSchema(tableName)
}

func (PostgresSingleStreamStrategy) ColumnNames() []string {
	return singleStreamColumns
}

func (PostgresSingleStreamStrategy) PrepareData(events eventstore.EventEnvelopes) ([]any, error) {
	return prepareSingleStreamData(events)
}

func (PostgresSingleStreamStrategy) UniqueViolationErrorCodes() []string {
	return postgresUniqueViolationCodes
}

func (PostgresSingleStreamStrategy) TableNameFor(streamName eventstore.StreamName) string {
	return GenerateTableName(streamName)
}

func (PostgresSingleStreamStrategy) MatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	return postgresMatcherConditions(matcher)
}

// PostgresAggregateStreamStrategy lays out a table intended for a stream that
// holds exactly one aggregate instance. The position column is written
// explicitly from the "_aggregate_version" metadata entry, so the primary key
// enforces contiguous version numbering.
type PostgresAggregateStreamStrategy struct{}

// NewPostgresAggregateStreamStrategy creates the aggregate-stream Postgres strategy.
func NewPostgresAggregateStreamStrategy() PostgresAggregateStreamStrategy {
	return PostgresAggregateStreamStrategy{}
}

func (PostgresAggregateStreamStrategy) Dialect() string {
	return DialectPostgres
}

func (PostgresAggregateStreamStrategy) CreateSchema(tableName string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE "%s" (
    no BIGINT NOT NULL,
    event_id UUID NOT NULL,
    event_name VARCHAR(100) NOT NULL,
    payload JSON NOT NULL,
    metadata JSONB NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    PRIMARY KEY (no),
    UNIQUE (event_id)
)`, tableName),
		fmt.Sprintf(`CREATE UNIQUE INDEX ON "%s" ((metadata->>'_aggregate_version'))`, tableName),
	}
}

func (PostgresAggregateStreamStrategy) DropSchema(tableName string) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tableName),
	}
}

func (PostgresAggregateStreamStrategy) EventStreamsSchema(tableName string) []string {
	return postgresEventStreamsSchema(tableName)
}

func (PostgresAggregateStreamStrategy) ColumnNames() []string {
	return aggregateStreamColumns
}

func (PostgresAggregateStreamStrategy) PrepareData(events eventstore.EventEnvelopes) ([]any, error) {
	return prepareAggregateStreamData(events)
}

func (PostgresAggregateStreamStrategy) UniqueViolationErrorCodes() []string {
	return postgresUniqueViolationCodes
}

func (PostgresAggregateStreamStrategy) TableNameFor(streamName eventstore.StreamName) string {
	return GenerateTableName(streamName)
}

func (PostgresAggregateStreamStrategy) MatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	return postgresMatcherConditions(matcher)
}

func postgresEventStreamsSchema(tableName string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
    real_stream_name VARCHAR(150) NOT NULL,
    stream_name CHAR(41) NOT NULL,
    metadata JSONB NOT NULL,
    PRIMARY KEY (real_stream_name),
    UNIQUE (stream_name)
)`, tableName),
	}
}

func postgresMatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	conditions := make([]MatcherCondition, 0, len(matcher.Terms()))

	for _, term := range matcher.Terms() {
		expr := postgresFieldExpression(term)

		switch term.Operator {
		case eventstore.OpIn, eventstore.OpNotIn:
			values := normalizeMatcherValues(eventstore.TermValues(term))
			if len(values) == 0 {
				// IN () is not valid SQL; an empty list matches nothing
				// resp. everything.
				if term.Operator == eventstore.OpIn {
					conditions = append(conditions, MatcherCondition{SQL: "FALSE"})
				}
				continue
			}

			conditions = append(conditions, MatcherCondition{
				SQL:  fmt.Sprintf("%s %s (%s)", expr, term.Operator, placeholders(len(values))),
				Args: values,
			})

		case eventstore.OpRegex:
			conditions = append(conditions, MatcherCondition{
				SQL:  expr + " ~ ?",
				Args: []any{term.Value},
			})

		default:
			conditions = append(conditions, MatcherCondition{
				SQL:  fmt.Sprintf("%s %s ?", expr, term.Operator),
				Args: normalizeMatcherValues([]any{term.Value}),
			})
		}
	}

	return conditions, nil
}

// postgresFieldExpression renders the left-hand side of a term. Metadata
// fields are accessed through the jsonb text accessor and cast to the value's
// type; message properties map onto the real columns. Field names have been
// validated against the matcher's charset when the matcher was built.
func postgresFieldExpression(term eventstore.MatchTerm) string {
	if term.FieldType == eventstore.FieldTypeMessageProperty {
		switch term.Field {
		case eventstore.PropertyEventID:
			return "event_id::text"
		case eventstore.PropertyCreatedAt:
			return "created_at"
		default:
			return "event_name"
		}
	}

	accessor := fmt.Sprintf("metadata->>'%s'", term.Field)

	probe := term.Value
	if values := eventstore.TermValues(term); len(values) > 0 {
		probe = values[0]
	}

	switch {
	case isNumeric(probe):
		return fmt.Sprintf("(%s)::numeric", accessor)
	case isBool(probe):
		return fmt.Sprintf("(%s)::boolean", accessor)
	default:
		return accessor
	}
}

// normalizeMatcherValues converts values that need a canonical textual form
// before binding, currently only timestamps.
func normalizeMatcherValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		if t, ok := value.(time.Time); ok {
			normalized[i] = t.UTC().Format(eventstore.CreatedAtFormat)
			continue
		}
		normalized[i] = value
	}

	return normalized
}
