package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dbSystem),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// dbSystem names the active driver in DB spans; main sets it once at startup
var dbSystem = "sqlite"

// SetDBSystem records which database driver is in use
func SetDBSystem(system string) {
	dbSystem = system
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// DatabaseMetrics holds database-related metrics
type DatabaseMetrics struct {
	queryDuration   metric.Float64Histogram
	queryCount      metric.Int64Counter
	errorCount      metric.Int64Counter
	connectionCount metric.Int64UpDownCounter
}

// NewDatabaseMetrics creates database metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	connectionCount, err := meter.Int64UpDownCounter(
		"db.connection.count",
		metric.WithDescription("Number of active database connections"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration:   queryDuration,
		queryCount:      queryCount,
		errorCount:      errorCount,
		connectionCount: connectionCount,
	}, nil
}

// RecordQuery records a database query metrics
func (m *DatabaseMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	}

	m.queryCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// TraceDB wraps sql.DB with tracing
type TraceDB struct {
	db      *sql.DB
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper
func NewTraceDB(db *sql.DB) (*TraceDB, error) {
	metrics, err := NewDatabaseMetrics()
	if err != nil {
		return nil, err
	}

	return &TraceDB{
		db:      db,
		metrics: metrics,
	}, nil
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := StartSpan(ctx, "DB Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dbSystem),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := StartSpan(ctx, "DB Exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dbSystem),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := StartSpan(ctx, "DB QueryRow",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", dbSystem),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	// Note: span.End() should be called after scanning the row
	// This is a limitation of the sql.Row interface

	row := t.db.QueryRowContext(ctx, query, args...)
	span.End()
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// SyncMetrics holds custom sync engine metrics
type SyncMetrics struct {
	syncRuns          metric.Int64Counter
	syncDuration      metric.Float64Histogram
	changesPulled     metric.Int64Counter
	changesPushed     metric.Int64Counter
	conflictsDetected metric.Int64Counter
	queueDepth        metric.Int64Gauge
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	syncRuns, err := meter.Int64Counter(
		"propsync.sync.runs",
		metric.WithDescription("Total number of sync runs"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"propsync.sync.duration",
		metric.WithDescription("Full sync duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	changesPulled, err := meter.Int64Counter(
		"propsync.sync.changes_pulled",
		metric.WithDescription("Total number of server changes applied locally"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	changesPushed, err := meter.Int64Counter(
		"propsync.sync.changes_pushed",
		metric.WithDescription("Total number of local changes acknowledged by the server"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	conflictsDetected, err := meter.Int64Counter(
		"propsync.sync.conflicts",
		metric.WithDescription("Total number of conflicts reported by the server"),
		metric.WithUnit("{conflicts}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"propsync.queue.depth",
		metric.WithDescription("Pending changes in the outbox after the last sync"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncRuns:          syncRuns,
		syncDuration:      syncDuration,
		changesPulled:     changesPulled,
		changesPushed:     changesPushed,
		conflictsDetected: conflictsDetected,
		queueDepth:        queueDepth,
	}, nil
}

// RecordSyncRun records one full sync pass
func (m *SyncMetrics) RecordSyncRun(ctx context.Context, trigger string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	}
	m.syncRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.syncDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordPull records server changes applied during a pull
func (m *SyncMetrics) RecordPull(ctx context.Context, applied, skipped int) {
	m.changesPulled.Add(ctx, int64(applied))
	if skipped > 0 {
		m.changesPulled.Add(ctx, int64(skipped),
			metric.WithAttributes(attribute.Bool("skipped_dirty", true)))
	}
}

// RecordPush records the outcome of a push batch
func (m *SyncMetrics) RecordPush(ctx context.Context, applied, conflicts, errors int) {
	m.changesPushed.Add(ctx, int64(applied))
	if conflicts > 0 {
		m.conflictsDetected.Add(ctx, int64(conflicts))
	}
	if errors > 0 {
		m.changesPushed.Add(ctx, int64(errors),
			metric.WithAttributes(attribute.Bool("failed", true)))
	}
}

// RecordQueueDepth records the outbox depth after a sync pass
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, pending, parked int) {
	m.queueDepth.Record(ctx, int64(pending))
	if parked > 0 {
		m.queueDepth.Record(ctx, int64(parked),
			metric.WithAttributes(attribute.Bool("parked", true)))
	}
}
