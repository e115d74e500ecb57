package dynamock

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	tempest "github.com/cashapp/tempest-sub001"
)

// TableManager manages DynamoDB tables for testing, providing automatic cleanup.
type TableManager struct {
	local  *LocalDynamoDB
	tables []string // created tables, in creation order
}

// NewTableManager creates a new table manager with the given DynamoDB client.
func NewTableManager(client *dynamodb.Client) *TableManager {
	return &TableManager{local: &LocalDynamoDB{Client: client}}
}

// CreateTestTable creates a table of the given shape and tracks it for
// cleanup.
func (tm *TableManager) CreateTestTable(ctx context.Context, tableName string, shape tempest.Shape) error {
	if err := tm.local.CreateTable(ctx, tableName, shape); err != nil {
		return err
	}
	tm.tables = append(tm.tables, tableName)
	return nil
}

// Cleanup deletes all tables created by this manager.
func (tm *TableManager) Cleanup(ctx context.Context) error {
	for _, tableName := range tm.tables {
		if err := tm.local.DeleteTable(ctx, tableName); err != nil {
			return fmt.Errorf("failed to delete table %s: %w", tableName, err)
		}
	}
	tm.tables = tm.tables[:0]
	return nil
}

// GetTableNames returns the names of all tables managed by this manager.
func (tm *TableManager) GetTableNames() []string {
	names := make([]string, len(tm.tables))
	copy(names, tm.tables)
	return names
}

// WithIsolatedTable runs fn against a table of the given shape that exists
// only for the duration of the test.
func WithIsolatedTable(t *testing.T, client *dynamodb.Client, shape tempest.Shape, fn func(tableName string)) {
	t.Helper()
	ctx := context.Background()
	tableName := NewTestTable("test-" + t.Name())

	tm := NewTableManager(client)
	defer func() {
		if err := tm.Cleanup(ctx); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", tableName, err)
		}
	}()

	if err := tm.CreateTestTable(ctx, tableName, shape); err != nil {
		t.Fatalf("Failed to create test table %s: %v", tableName, err)
	}
	fn(tableName)
}

// WithLocalDynamoDB runs a test function with a local DynamoDB instance.
// The test is skipped in short mode or when DynamoDB Local is not running.
func WithLocalDynamoDB(t *testing.T, port int, fn func(local *LocalDynamoDB)) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	local := NewLocalDynamoDB(port)
	if !local.IsAvailable(context.Background()) {
		t.Skipf("DynamoDB Local not available on port %d", port)
	}
	fn(local)
}

// WithDefaultLocalDynamoDB runs a test function against DynamoDB Local on
// DefaultLocalPort.
func WithDefaultLocalDynamoDB(t *testing.T, fn func(local *LocalDynamoDB)) {
	t.Helper()
	WithLocalDynamoDB(t, DefaultLocalPort, fn)
}

// NewTestTable generates a unique, valid table name for testing.
func NewTestTable(prefix string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return '-'
	}, prefix)
	return fmt.Sprintf("%s-%d", clean, time.Now().UnixNano())
}

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	Port             int
	SkipIfNotRunning bool
	TablePrefix      string
	CleanupTimeout   time.Duration
}

// DefaultIntegrationTestConfig returns a default configuration for integration tests.
func DefaultIntegrationTestConfig() *IntegrationTestConfig {
	return &IntegrationTestConfig{
		Port:             DefaultLocalPort,
		SkipIfNotRunning: true,
		TablePrefix:      "integration-test",
		CleanupTimeout:   30 * time.Second,
	}
}

// RunIntegrationTest creates a table of the given shape on DynamoDB Local,
// runs fn and deletes the table afterwards.
func RunIntegrationTest(t *testing.T, config *IntegrationTestConfig, shape tempest.Shape, fn func(local *LocalDynamoDB, tableName string)) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if config == nil {
		config = DefaultIntegrationTestConfig()
	}

	local := NewLocalDynamoDB(config.Port)
	ctx := context.Background()
	if !local.IsAvailable(ctx) {
		if config.SkipIfNotRunning {
			t.Skipf("DynamoDB Local not available on port %d", config.Port)
		}
		t.Fatalf("DynamoDB Local not available on port %d", config.Port)
	}

	tableName := NewTestTable(config.TablePrefix)
	if err := local.CreateTable(ctx, tableName, shape); err != nil {
		t.Fatalf("Failed to create test table %s: %v", tableName, err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
		defer cancel()
		if err := local.DeleteTable(cleanupCtx, tableName); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", tableName, err)
		}
	}()

	fn(local, tableName)
}

// AssertTableExists verifies that a table exists.
func AssertTableExists(t *testing.T, client *dynamodb.Client, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: &tableName,
	})
	if err != nil {
		t.Errorf("Table %s does not exist: %v", tableName, err)
	}
}

// AssertTableNotExists verifies that a table does not exist.
func AssertTableNotExists(t *testing.T, client *dynamodb.Client, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: &tableName,
	})
	if err == nil {
		t.Errorf("Table %s should not exist but it does", tableName)
	}
}
