package sqlengine

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/mablae/pdo-event-store/eventstore/sqlengine/internal/adapters"
)

const (
	metricOperationDuration    = "eventstore_operation_duration_seconds"
	metricEventsAppended       = "eventstore_events_appended_total"
	metricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"

	spanNamePrefix    = "eventstore."
	spanAttrOperation = "operation"
	labelOperation    = "operation"
	labelStatus       = "status"
	statusSuccess     = "success"
	statusError       = "error"

	logMsgOperation   = "eventstore operation: "
	logMsgSQLExecuted = "executed sql for: "
)

// nowFunc is the clock behind the package's duration measurements.
var nowFunc = time.Now

// instrument opens a tracing span for an operation and returns a finish
// callback recording duration metrics and span status. All collectors are
// optional; without them the callback is a cheap no-op.
func (es EventStore) instrument(ctx context.Context, operation string) (context.Context, func(err error)) {
	start := nowFunc()

	var span SpanContext
	if es.tracingCollector != nil {
		ctx, span = es.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{spanAttrOperation: operation})
	}

	return ctx, func(err error) {
		status := statusSuccess
		if err != nil {
			status = statusError
		}

		if es.metricsCollector != nil {
			es.metricsCollector.RecordDuration(
				metricOperationDuration,
				nowFunc().Sub(start),
				map[string]string{labelOperation: operation, labelStatus: status},
			)
		}

		if es.tracingCollector != nil {
			es.tracingCollector.FinishSpan(span, status, nil)
		}
	}
}

func (es EventStore) countEvents(operation string, count int) {
	if es.metricsCollector == nil {
		return
	}

	for i := 0; i < count; i++ {
		es.metricsCollector.IncrementCounter(metricEventsAppended, map[string]string{labelOperation: operation})
	}
}

func (es EventStore) countConflict() {
	if es.metricsCollector != nil {
		es.metricsCollector.IncrementCounter(metricConcurrencyConflicts, map[string]string{labelOperation: opAppend})
	}
}

// logQueryWithDuration logs SQL queries with execution time at debug level if the logger is configured.
func (es EventStore) logQueryWithDuration(sqlQuery string, action string, duration time.Duration) {
	if es.logger != nil {
		es.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), "query", sqlQuery)
	}
}

// logOperation logs operational information at info level if the logger is configured.
func (es EventStore) logOperation(action string, args ...any) {
	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}
}

// closeRows safely closes database rows and logs any errors.
func (es EventStore) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if es.logger != nil {
			es.logger.Warn("failed to close database rows", "error", closeErr.Error())
		}
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// isUniqueViolation reports whether the driver error carries one of the
// strategy's unique-violation SQLSTATE codes.
func (es EventStore) isUniqueViolation(err error) bool {
	state := sqlStateOf(err)
	if state == "" {
		return false
	}

	return slices.Contains(es.strategy.UniqueViolationErrorCodes(), state)
}

// sqlStateOf extracts the SQLSTATE code from the known driver error types.
func sqlStateOf(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if mysqlErr.SQLState != [5]byte{} {
			return string(mysqlErr.SQLState[:])
		}

		// older servers omit the SQLSTATE in the error packet
		if mysqlErr.Number == 1062 {
			return "23000"
		}
	}

	return ""
}
