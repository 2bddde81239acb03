package strategy

import (
	"fmt"

	"github.com/mablae/pdo-event-store/eventstore"
)

// mysqlUniqueViolationCodes is the SQLSTATE code MySQL reports for integrity
// violations on append (ER_DUP_ENTRY maps onto 23000).
var mysqlUniqueViolationCodes = []string{"23000"}

// MySQLSingleStreamStrategy lays out one physical table per logical stream
// with an AUTO_INCREMENT position column. MySQL cannot index JSON fields
// directly, so the aggregate metadata is exposed through generated stored
// columns feeding the unique index.
type MySQLSingleStreamStrategy struct{}

// NewMySQLSingleStreamStrategy creates the default MySQL strategy.
func NewMySQLSingleStreamStrategy() MySQLSingleStreamStrategy {
	return MySQLSingleStreamStrategy{}
}

func (MySQLSingleStreamStrategy) Dialect() string {
	return DialectMySQL
}

func (MySQLSingleStreamStrategy) CreateSchema(tableName string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE `%s` (\n"+
			"    `no` BIGINT NOT NULL AUTO_INCREMENT,\n"+
			"    `event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `payload` JSON NOT NULL,\n"+
			"    `metadata` JSON NOT NULL,\n"+
			"    `created_at` DATETIME(6) NOT NULL,\n"+
			"    `aggregate_version` INT UNSIGNED GENERATED ALWAYS AS (JSON_EXTRACT(metadata, '$._aggregate_version')) STORED NOT NULL,\n"+
			"    `aggregate_id` CHAR(36) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_id'))) STORED NOT NULL,\n"+
			"    `aggregate_type` VARCHAR(150) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_type'))) STORED NOT NULL,\n"+
			"    PRIMARY KEY (`no`),\n"+
			"    UNIQUE KEY `ix_event_id` (`event_id`),\n"+
			"    UNIQUE KEY `ix_unique_event` (`aggregate_version`, `aggregate_id`, `aggregate_type`),\n"+
			"    KEY `ix_query_aggregate` (`aggregate_type`, `aggregate_id`, `no`)\n"+
			") ENGINE = InnoDB DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin", tableName),
	}
}

func (MySQLSingleStreamStrategy) DropSchema(tableName string) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS `%s`", tableName),
	}
}

func (MySQLSingleStreamStrategy) EventStreamsSchema(tableName string) []string {
	return mysqlEventStreamsSchema(tableName)
}

func (MySQLSingleStreamStrategy) ColumnNames() []string {
	return singleStreamColumns
}

func (MySQLSingleStreamStrategy) PrepareData(events eventstore.EventEnvelopes) ([]any, error) {
	return prepareSingleStreamData(events)
}

func (MySQLSingleStreamStrategy) UniqueViolationErrorCodes() []string {
	return mysqlUniqueViolationCodes
}

func (MySQLSingleStreamStrategy) TableNameFor(streamName eventstore.StreamName) string {
	return GenerateTableName(streamName)
}

func (MySQLSingleStreamStrategy) MatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	return mysqlMatcherConditions(matcher)
}

// MySQLAggregateStreamStrategy lays out a table intended for a stream that
// holds exactly one aggregate instance, writing the position explicitly from
// the "_aggregate_version" metadata entry.
type MySQLAggregateStreamStrategy struct{}

// NewMySQLAggregateStreamStrategy creates the aggregate-stream MySQL strategy.
func NewMySQLAggregateStreamStrategy() MySQLAggregateStreamStrategy {
	return MySQLAggregateStreamStrategy{}
}

func (MySQLAggregateStreamStrategy) Dialect() string {
	return DialectMySQL
}

func (MySQLAggregateStreamStrategy) CreateSchema(tableName string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE `%s` (\n"+
			"    `no` BIGINT NOT NULL,\n"+
			"    `event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `payload` JSON NOT NULL,\n"+
			"    `metadata` JSON NOT NULL,\n"+
			"    `created_at` DATETIME(6) NOT NULL,\n"+
			"    `aggregate_version` INT UNSIGNED GENERATED ALWAYS AS (JSON_EXTRACT(metadata, '$._aggregate_version')) STORED NOT NULL,\n"+
			"    PRIMARY KEY (`no`),\n"+
			"    UNIQUE KEY `ix_event_id` (`event_id`),\n"+
			"    UNIQUE KEY `ix_aggregate_version` (`aggregate_version`)\n"+
			") ENGINE = InnoDB DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin", tableName),
	}
}

func (MySQLAggregateStreamStrategy) DropSchema(tableName string) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS `%s`", tableName),
	}
}

func (MySQLAggregateStreamStrategy) EventStreamsSchema(tableName string) []string {
	return mysqlEventStreamsSchema(tableName)
}

func (MySQLAggregateStreamStrategy) ColumnNames() []string {
	return aggregateStreamColumns
}

func (MySQLAggregateStreamStrategy) PrepareData(events eventstore.EventEnvelopes) ([]any, error) {
	return prepareAggregateStreamData(events)
}

func (MySQLAggregateStreamStrategy) UniqueViolationErrorCodes() []string {
	return mysqlUniqueViolationCodes
}

func (MySQLAggregateStreamStrategy) TableNameFor(streamName eventstore.StreamName) string {
	return GenerateTableName(streamName)
}

func (MySQLAggregateStreamStrategy) MatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	return mysqlMatcherConditions(matcher)
}

func mysqlEventStreamsSchema(tableName string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (\n"+
			"    `real_stream_name` VARCHAR(150) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `stream_name` CHAR(41) COLLATE utf8mb4_bin NOT NULL,\n"+
			"    `metadata` JSON NOT NULL,\n"+
			"    PRIMARY KEY (`real_stream_name`),\n"+
			"    UNIQUE KEY `ix_stream_name` (`stream_name`)\n"+
			") ENGINE = InnoDB DEFAULT CHARSET = utf8mb4 COLLATE = utf8mb4_bin", tableName),
	}
}

func mysqlMatcherConditions(matcher eventstore.MetadataMatcher) ([]MatcherCondition, error) {
	conditions := make([]MatcherCondition, 0, len(matcher.Terms()))

	for _, term := range matcher.Terms() {
		expr := mysqlFieldExpression(term)

		switch term.Operator {
		case eventstore.OpIn, eventstore.OpNotIn:
			values := normalizeMatcherValues(eventstore.TermValues(term))
			if len(values) == 0 {
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
				SQL:  expr + " REGEXP ?",
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

// mysqlFieldExpression renders the left-hand side of a term. String-typed
// metadata values must be unquoted out of the JSON document before comparing;
// numbers and booleans compare against the extracted JSON scalar directly.
func mysqlFieldExpression(term eventstore.MatchTerm) string {
	if term.FieldType == eventstore.FieldTypeMessageProperty {
		switch term.Field {
		case eventstore.PropertyEventID:
			return "`event_id`"
		case eventstore.PropertyCreatedAt:
			return "`created_at`"
		default:
			return "`event_name`"
		}
	}

	accessor := fmt.Sprintf(`JSON_EXTRACT(metadata, '$."%s"')`, term.Field)

	probe := term.Value
	if values := eventstore.TermValues(term); len(values) > 0 {
		probe = values[0]
	}

	if isNumeric(probe) || isBool(probe) {
		return accessor
	}

	return "JSON_UNQUOTE(" + accessor + ")"
}
