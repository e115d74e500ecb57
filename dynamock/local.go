package dynamock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
)

// DefaultLocalPort is the default port for DynamoDB Local.
const DefaultLocalPort = 8000

// LocalDynamoDB represents a connection to a local DynamoDB instance.
type LocalDynamoDB struct {
	Client   *dynamodb.Client
	Endpoint string
	Port     int
}

// NewLocalClient creates a DynamoDB client configured to connect to a local
// DynamoDB instance on the given port.
//
//	client := dynamock.NewLocalClient(8000)
//	db := tempest.New(client)
func NewLocalClient(port int) *dynamodb.Client {
	cfg := aws.Config{
		Region:      "us-east-1", // DynamoDB Local doesn't care about region
		Credentials: aws.AnonymousCredentials{},
	}
	return NewLocalClientFromConfig(cfg, port)
}

// NewLocalClientFromConfig creates a local DynamoDB client from an existing
// AWS config, replacing its endpoint and credentials.
func NewLocalClientFromConfig(cfg aws.Config, port int) *dynamodb.Client {
	cfg.Credentials = aws.AnonymousCredentials{}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(localEndpoint(port))
	})
}

// MustNewLocalClient creates a local DynamoDB client and panics if DynamoDB
// Local does not answer.
func MustNewLocalClient(port int) *dynamodb.Client {
	client := NewLocalClient(port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.ListTables(ctx, &dynamodb.ListTablesInput{}); err != nil {
		panic(fmt.Sprintf("failed to connect to DynamoDB Local on port %d: %v", port, err))
	}
	return client
}

// NewLocalDynamoDB creates a LocalDynamoDB instance with the specified port.
func NewLocalDynamoDB(port int) *LocalDynamoDB {
	return &LocalDynamoDB{
		Client:   NewLocalClient(port),
		Endpoint: localEndpoint(port),
		Port:     port,
	}
}

// NewDefaultLocalDynamoDB creates a LocalDynamoDB instance on DefaultLocalPort.
func NewDefaultLocalDynamoDB() *LocalDynamoDB {
	return NewLocalDynamoDB(DefaultLocalPort)
}

func localEndpoint(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}

// IsAvailable checks if DynamoDB Local is running on the configured port.
func (l *LocalDynamoDB) IsAvailable(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", l.Port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()

	// Make sure it is actually DynamoDB
	_, err = l.Client.ListTables(ctx, &dynamodb.ListTablesInput{})
	return err == nil
}

// WaitForAvailable waits for DynamoDB Local to become available.
func (l *LocalDynamoDB) WaitForAvailable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l.IsAvailable(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("DynamoDB Local not available at %s after %v", l.Endpoint, timeout)
}

// CreateTableInput builds the request creating a table of the given shape.
// Tables are billed per request and every index projects all attributes.
func CreateTableInput(tableName string, shape tempest.Shape) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(tableName),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema:   keySchema(shape.HashKey, shape.RangeKey),
	}

	defined := make(map[string]struct{})
	define := func(names ...string) {
		for _, name := range names {
			if _, ok := defined[name]; ok || name == "" {
				continue
			}
			defined[name] = struct{}{}
			input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
				AttributeName: aws.String(name),
				AttributeType: shape.AttributeType(name),
			})
		}
	}
	define(shape.HashKey, shape.RangeKey)

	projection := &types.Projection{ProjectionType: types.ProjectionTypeAll}
	for _, idx := range shape.Indexes {
		switch idx.Kind {
		case tempest.LocalIndex:
			define(idx.RangeKey)
			input.LocalSecondaryIndexes = append(input.LocalSecondaryIndexes, types.LocalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keySchema(shape.HashKey, idx.RangeKey),
				Projection: projection,
			})
		case tempest.GlobalIndex:
			define(idx.HashKey, idx.RangeKey)
			input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keySchema(idx.HashKey, idx.RangeKey),
				Projection: projection,
			})
		}
	}
	return input
}

func keySchema(hash, rng string) []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
	if rng != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
	}
	return schema
}

// CreateTable creates a table of the given shape and waits for it to become
// active.
func (l *LocalDynamoDB) CreateTable(ctx context.Context, tableName string, shape tempest.Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if _, err := l.Client.CreateTable(ctx, CreateTableInput(tableName, shape)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	return l.WaitForTableActive(ctx, tableName, 30*time.Second)
}

// WaitForTableActive waits for a table to become active.
func (l *LocalDynamoDB) WaitForTableActive(ctx context.Context, tableName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		output, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", tableName, err)
		}
		if output.Table.TableStatus == types.TableStatusActive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("table %s did not become active within %v", tableName, timeout)
}

// DeleteTable deletes a table and waits for it to be fully deleted.
func (l *LocalDynamoDB) DeleteTable(ctx context.Context, tableName string) error {
	_, err := l.Client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", tableName, err)
	}
	return l.WaitForTableDeleted(ctx, tableName, 30*time.Second)
}

// WaitForTableDeleted waits for a table to be fully deleted.
func (l *LocalDynamoDB) WaitForTableDeleted(ctx context.Context, tableName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return nil
			}
			return fmt.Errorf("error checking table deletion status: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("table %s was not deleted within %v", tableName, timeout)
}

// ListTables returns all table names in the local DynamoDB instance.
func (l *LocalDynamoDB) ListTables(ctx context.Context) ([]string, error) {
	output, err := l.Client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return output.TableNames, nil
}

// Cleanup deletes all tables in the local DynamoDB instance.
func (l *LocalDynamoDB) Cleanup(ctx context.Context) error {
	tables, err := l.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables for cleanup: %w", err)
	}
	for _, tableName := range tables {
		if err := l.DeleteTable(ctx, tableName); err != nil {
			return fmt.Errorf("failed to delete table %s during cleanup: %w", tableName, err)
		}
	}
	return nil
}
