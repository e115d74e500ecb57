package tempest

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/otel"
	otelattr "go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// MaxBatchSize is the maximum number of requests in one BatchWriteItem call.
	MaxBatchSize = 25
	// MaxBatchLoadSize is the maximum number of keys in one BatchGetItem call.
	MaxBatchLoadSize = 100
	// MaxTransactionItems is the maximum number of operations in one transaction.
	MaxTransactionItems = 25
	// DefaultPageSize is the page size of queries and scans without an explicit one.
	DefaultPageSize = 100

	tracerName = "github.com/cashapp/tempest-sub001"
)

// TableNameResolver maps a logical table name to the physical one.
type TableNameResolver func(name string) string

// DB is the logical database: the registry of tables and bound types, and
// the entry point for batch and transactional operations across them.
type DB struct {
	client       Client
	logger       *zap.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	resolveName  TableNameResolver
	batchRetries int
	retryBackoff time.Duration
	registry     registry
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) { db.logger = logger }
}

// WithMetrics records every DynamoDB call in m.
func WithMetrics(m *Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// WithTracerProvider traces every DynamoDB call with tp. The default is the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(db *DB) { db.tracer = tp.Tracer(tracerName) }
}

// WithTableNameResolver maps logical table names before they are sent to DynamoDB.
func WithTableNameResolver(resolve TableNameResolver) Option {
	return func(db *DB) { db.resolveName = resolve }
}

// WithBatchRetries sets how many times BatchLoad re-requests unprocessed keys
// and the initial backoff between attempts, doubled on every retry.
func WithBatchRetries(retries int, backoff time.Duration) Option {
	return func(db *DB) {
		db.batchRetries = retries
		db.retryBackoff = backoff
	}
}

// New creates a DB that talks to DynamoDB through client.
func New(client Client, opts ...Option) *DB {
	db := &DB{
		client:       client,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		resolveName:  func(name string) string { return name },
		batchRetries: 3,
		retryBackoff: 50 * time.Millisecond,
		registry: registry{
			tables: make(map[string]*Table),
			items:  make(map[reflect.Type]*boundItem),
			keys:   make(map[reflect.Type]*boundKey),
		},
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Table binds the physical table name to shape. Binding the same name twice
// returns the same table as long as the shapes agree.
func (db *DB) Table(name string, shape Shape) (*Table, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("table %q: %w", name, err)
	}
	physical := db.resolveName(name)

	db.registry.mu.Lock()
	defer db.registry.mu.Unlock()

	if t, ok := db.registry.tables[physical]; ok {
		if !reflect.DeepEqual(t.shape, shape) {
			return nil, fmt.Errorf("table %q is already bound to a different shape", physical)
		}
		return t, nil
	}
	t := &Table{
		db:      db,
		name:    physical,
		shape:   shape,
		columns: make(map[string]column),
	}
	db.registry.tables[physical] = t
	return t, nil
}

// call runs one DynamoDB request with tracing, metrics and debug logging.
func call[T, U any](ctx context.Context, db *DB, op, table string, fn func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error), in *T) (*U, error) {
	ctx, span := db.tracer.Start(ctx, "DynamoDB."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			otelattr.String("db.system", "dynamodb"),
			otelattr.String("db.operation", op),
			otelattr.String("aws.dynamodb.table_names", table),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := fn(ctx, in)
	db.metrics.observe(op, table, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		db.logger.Debug("DynamoDB call failed",
			zap.String("operation", op),
			zap.String("table", table),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return out, err
	}
	db.logger.Debug("DynamoDB call",
		zap.String("operation", op),
		zap.String("table", table),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
