package tempest

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures a BreakerClient.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32        // Requests allowed while half-open
	Interval         time.Duration // Closed-state period after which counts reset
	Timeout          time.Duration // Open-state period before going half-open
	FailureThreshold float64       // Failure ratio that trips the breaker
	MinRequests      uint32        // Requests needed before the ratio is considered
	Logger           *zap.Logger
}

// DefaultBreakerSettings returns settings suited to a DynamoDB client.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerClient is a Client that stops calling DynamoDB while it is failing.
// Conditional check failures and cancelled transactions are answers from a
// healthy table and never trip the breaker.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

var _ Client = (*BreakerClient)(nil)

// NewBreakerClient wraps next with a circuit breaker. While the breaker is
// open calls fail with gobreaker.ErrOpenState.
func NewBreakerClient(next Client, settings BreakerSettings) *BreakerClient {
	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isConditionalCheckFailed(err) || isTransactionCanceled(err)
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// State returns the breaker's current state.
func (c *BreakerClient) State() gobreaker.State { return c.cb.State() }

func guard[T, U any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error), in *T, optFns []func(*dynamodb.Options)) (*U, error) {
	out, err := cb.Execute(func() (any, error) {
		return fn(ctx, in, optFns...)
	})
	if err != nil {
		if u, ok := out.(*U); ok {
			return u, err
		}
		return nil, err
	}
	return out.(*U), nil
}

func (c *BreakerClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return guard(ctx, c.cb, c.next.GetItem, in, optFns)
}

func (c *BreakerClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return guard(ctx, c.cb, c.next.PutItem, in, optFns)
}

func (c *BreakerClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return guard(ctx, c.cb, c.next.DeleteItem, in, optFns)
}

func (c *BreakerClient) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return guard(ctx, c.cb, c.next.BatchGetItem, in, optFns)
}

func (c *BreakerClient) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return guard(ctx, c.cb, c.next.BatchWriteItem, in, optFns)
}

func (c *BreakerClient) TransactGetItems(ctx context.Context, in *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return guard(ctx, c.cb, c.next.TransactGetItems, in, optFns)
}

func (c *BreakerClient) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return guard(ctx, c.cb, c.next.TransactWriteItems, in, optFns)
}

func (c *BreakerClient) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return guard(ctx, c.cb, c.next.Query, in, optFns)
}

func (c *BreakerClient) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return guard(ctx, c.cb, c.next.Scan, in, optFns)
}
