// Package dynamock provides testing utilities for tempest.
//
// This package includes:
//   - Expectation-based mock DynamoDB client for unit testing
//   - An in-memory DynamoDB client with real conditions and paging
//   - Local DynamoDB integration utilities
//   - Test data seeding helpers
//   - Integration test utilities with automatic cleanup
//
// # Mock Client
//
// The MockClient fails the test on any call that has no expectation set:
//
//	mock := dynamock.NewMockClient(t)
//	mock.GetItemFunc = func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
//		return &dynamodb.GetItemOutput{Item: dynamock.Item("partition_key", "ALBUM_1", "sort_key", "INFO_")}, nil
//	}
//	db := tempest.New(mock)
//
// # Memory Client
//
// The MemoryClient keeps tables in memory. It evaluates condition, key
// condition, filter and projection expressions, keeps secondary indexes
// sparse and cancels transactions atomically:
//
//	mem := dynamock.NewMemoryClient()
//	_ = mem.CreateTable("music_items", musiclibrary.Shape())
//	db := tempest.New(mem)
//
// Setting BatchLimit makes batch calls leave requests unprocessed, which
// exercises retry paths. Transactions returns the committed transactions.
//
// # Local DynamoDB Integration
//
// For integration tests against DynamoDB Local:
//
//	dynamock.RunIntegrationTest(t, nil, musiclibrary.Shape(), func(local *dynamock.LocalDynamoDB, tableName string) {
//		db := tempest.New(local.Client)
//		// ...
//	})
//
// Integration tests are skipped in short mode and when DynamoDB Local is not
// running.
//
// # Seeding
//
// SeedTestData writes physical rows, either directly or from a JSON array of
// objects. SeedValues writes mapped records through a tempest.DB.
package dynamock
