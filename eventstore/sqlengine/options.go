package sqlengine

import (
	"context"
	"time"

	"github.com/mablae/pdo-event-store/eventstore"
	"github.com/mablae/pdo-event-store/eventstore/strategy"
)

// Logger interface for SQL query logging, operational metrics, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting EventStore performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information
// from EventStore operations. It is dependency-free so users can integrate
// with any tracing backend (OpenTelemetry, Jaeger, Zipkin, etc.) by
// implementing this interface.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithPersistenceStrategy sets the dialect/layout policy for the EventStore.
// The default is strategy.NewPostgresSingleStreamStrategy; stores connected
// to MySQL must configure one of the MySQL strategies.
func WithPersistenceStrategy(s strategy.PersistenceStrategy) Option {
	return func(es *EventStore) error {
		if s == nil {
			return eventstore.ErrNilPersistenceStrategy
		}

		es.strategy = s

		return nil
	}
}

// WithEventStreamsTable sets the name of the stream registry table.
func WithEventStreamsTable(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventStreamsTableName
		}

		es.eventStreamsTable = tableName

		return nil
	}
}

// WithLoadBatchSize sets the number of rows fetched per SELECT page by the
// stream iterators.
func WithLoadBatchSize(batchSize uint64) Option {
	return func(es *EventStore) error {
		if batchSize == 0 {
			return eventstore.ErrInvalidLoadBatchSize
		}

		es.loadBatchSize = batchSize

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL of appends and load pages with execution timing (development use)
// Info level: Streams created and deleted, appended event counts, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like row-close and rollback failures
// The Error level is not used; failures are returned to the caller.
func WithLogger(logger Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// The collector will receive operation durations, event counts, concurrency
// conflicts, and database errors.
func WithMetrics(collector MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// The collector will receive span creation for store operations, context
// propagation, and error tracking.
func WithTracing(collector TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}
