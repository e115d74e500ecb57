package dynamock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
)

// seedRetries bounds how often unprocessed seed writes are resent.
const seedRetries = 5

// SeedTestData is a helper for seeding physical rows into a table.
type SeedTestData struct {
	client    tempest.Client
	tableName string
}

// NewSeedTestData creates a new test data seeder.
func NewSeedTestData(client tempest.Client, tableName string) *SeedTestData {
	return &SeedTestData{
		client:    client,
		tableName: tableName,
	}
}

// SeedItems writes rows to the table in batches, resending unprocessed
// writes.
func (s *SeedTestData) SeedItems(ctx context.Context, items ...tempest.Item) error {
	for start := 0; start < len(items); start += tempest.MaxBatchSize {
		end := min(start+tempest.MaxBatchSize, len(items))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := s.write(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (s *SeedTestData) write(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: requests}
	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > seedRetries {
			return fmt.Errorf("failed to seed %s: %d writes unprocessed", s.tableName, len(pending[s.tableName]))
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch write: %w", err)
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// SeedFromJSON reads a JSON array of flat objects and stores each object as
// one row. Strings become S, numbers N, booleans BOOL, arrays L and objects
// M. Returns the number of rows written.
//
//	[
//	  {"partition_key": "ALBUM_1", "sort_key": "INFO_", "album_title": "The Wall"},
//	  {"partition_key": "ALBUM_1", "sort_key": "TRACK_0000000000000001", "run_length": 1000000000}
//	]
func (s *SeedTestData) SeedFromJSON(ctx context.Context, r io.Reader) (int, error) {
	var document []map[string]any
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return 0, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	items := make([]tempest.Item, 0, len(document))
	for i, object := range document {
		item, err := attributevalue.MarshalMap(object)
		if err != nil {
			return 0, fmt.Errorf("failed to convert row at index %d: %w", i, err)
		}
		items = append(items, item)
	}
	if err := s.SeedItems(ctx, items...); err != nil {
		return 0, err
	}
	return len(items), nil
}

// SeedValues stores mapped values, of any registered record type, through
// db. Values may belong to several tables.
func SeedValues(ctx context.Context, db *tempest.DB, values ...any) error {
	set, err := tempest.NewBatchWriteSetBuilder().Clobber(values...).Build()
	if err != nil {
		return err
	}
	result, err := db.BatchWrite(ctx, set)
	if err != nil {
		return err
	}
	if !result.IsSuccessful() {
		return fmt.Errorf("failed to seed %d values", len(result.UnprocessedClobbers))
	}
	return nil
}

// Item builds a row of string attributes from name/value pairs.
func Item(pairs ...string) tempest.Item {
	if len(pairs)%2 != 0 {
		panic("dynamock: Item needs name/value pairs")
	}
	item := make(tempest.Item, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		item[pairs[i]] = &types.AttributeValueMemberS{Value: pairs[i+1]}
	}
	return item
}
