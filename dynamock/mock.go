package dynamock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	tempest "github.com/cashapp/tempest-sub001"
)

type DynamoDBAPICall[T, U any] = func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error)

// MockClient is a simple expectation-based mock for DynamoDB operations.
// Users set the functions for the operations a test expects; any other call
// fails the test.
type MockClient struct {
	GetItemFunc            DynamoDBAPICall[dynamodb.GetItemInput, dynamodb.GetItemOutput]
	PutItemFunc            DynamoDBAPICall[dynamodb.PutItemInput, dynamodb.PutItemOutput]
	DeleteItemFunc         DynamoDBAPICall[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput]
	BatchGetItemFunc       DynamoDBAPICall[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput]
	BatchWriteItemFunc     DynamoDBAPICall[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput]
	TransactGetItemsFunc   DynamoDBAPICall[dynamodb.TransactGetItemsInput, dynamodb.TransactGetItemsOutput]
	TransactWriteItemsFunc DynamoDBAPICall[dynamodb.TransactWriteItemsInput, dynamodb.TransactWriteItemsOutput]
	QueryFunc              DynamoDBAPICall[dynamodb.QueryInput, dynamodb.QueryOutput]
	ScanFunc               DynamoDBAPICall[dynamodb.ScanInput, dynamodb.ScanOutput]
}

// Ensure MockClient implements tempest.Client
var _ tempest.Client = (*MockClient)(nil)

// NewMockClient creates a new mock DynamoDB client on which every operation
// fails the test until replaced.
func NewMockClient(t testing.TB) *MockClient {
	return &MockClient{
		GetItemFunc:            defaultFunc[dynamodb.GetItemInput, dynamodb.GetItemOutput](t, "GetItem"),
		PutItemFunc:            defaultFunc[dynamodb.PutItemInput, dynamodb.PutItemOutput](t, "PutItem"),
		DeleteItemFunc:         defaultFunc[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput](t, "DeleteItem"),
		BatchGetItemFunc:       defaultFunc[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput](t, "BatchGetItem"),
		BatchWriteItemFunc:     defaultFunc[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput](t, "BatchWriteItem"),
		TransactGetItemsFunc:   defaultFunc[dynamodb.TransactGetItemsInput, dynamodb.TransactGetItemsOutput](t, "TransactGetItems"),
		TransactWriteItemsFunc: defaultFunc[dynamodb.TransactWriteItemsInput, dynamodb.TransactWriteItemsOutput](t, "TransactWriteItems"),
		QueryFunc:              defaultFunc[dynamodb.QueryInput, dynamodb.QueryOutput](t, "Query"),
		ScanFunc:               defaultFunc[dynamodb.ScanInput, dynamodb.ScanOutput](t, "Scan"),
	}
}

func defaultFunc[T, U any](t testing.TB, op string) DynamoDBAPICall[T, U] {
	return func(ctx context.Context, params *T, optFns ...func(*dynamodb.Options)) (*U, error) {
		t.Helper()
		t.Fatalf("unexpected call to %s", op)
		return nil, nil
	}
}

// GetItem retrieves an item from the mock table.
func (m *MockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return m.GetItemFunc(ctx, params, optFns...)
}

// PutItem stores an item in the mock table.
func (m *MockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.PutItemFunc(ctx, params, optFns...)
}

// DeleteItem removes an item from the mock table.
func (m *MockClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return m.DeleteItemFunc(ctx, params, optFns...)
}

// BatchGetItem processes batch read operations.
func (m *MockClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return m.BatchGetItemFunc(ctx, params, optFns...)
}

// BatchWriteItem processes batch write operations.
func (m *MockClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return m.BatchWriteItemFunc(ctx, params, optFns...)
}

// TransactGetItems processes transactional reads.
func (m *MockClient) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	return m.TransactGetItemsFunc(ctx, params, optFns...)
}

// TransactWriteItems processes transactional writes.
func (m *MockClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return m.TransactWriteItemsFunc(ctx, params, optFns...)
}

// Query performs a query operation.
func (m *MockClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.QueryFunc(ctx, params, optFns...)
}

// Scan performs a scan operation.
func (m *MockClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return m.ScanFunc(ctx, params, optFns...)
}
