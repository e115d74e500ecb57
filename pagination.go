package tempest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

func init() {
	gob.Register(map[string]types.AttributeValue{})
	gob.Register(&types.AttributeValueMemberS{})
	gob.Register(&types.AttributeValueMemberN{})
	gob.Register(&types.AttributeValueMemberB{})
	gob.Register(&types.AttributeValueMemberSS{})
	gob.Register(&types.AttributeValueMemberNS{})
	gob.Register(&types.AttributeValueMemberBS{})
	gob.Register(&types.AttributeValueMemberM{})
	gob.Register(&types.AttributeValueMemberL{})
	gob.Register(&types.AttributeValueMemberNULL{})
	gob.Register(&types.AttributeValueMemberBOOL{})
}

// Paginator converts last evaluated keys into opaque cursors for clients,
// and client cursors back into start keys to continue a query or scan.
type Paginator interface {
	// PageCursor returns a token for lastKey, or "" when lastKey is empty.
	PageCursor(ctx context.Context, lastKey Item) (string, error)
	// StartKey returns the start key for cursor, or nil when cursor is "".
	StartKey(ctx context.Context, cursor string) (Item, error)
}

// TokenPaginator encodes the key itself into the cursor. Cursors are
// stateless but expose the key attributes to whoever holds them.
type TokenPaginator struct{}

var _ Paginator = TokenPaginator{}

func (TokenPaginator) PageCursor(_ context.Context, lastKey Item) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	data, err := encodeKey(lastKey)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func (TokenPaginator) StartKey(_ context.Context, cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return decodeKey(data)
}

// CursorTable describes where a TablePaginator keeps its cursors.
type CursorTable struct {
	Name             string        // Physical table name
	HashKey          string        // Receives the cursor id
	RangeKey         string        // Optional; receives the cursor id as well
	DataAttribute    string        // Binary attribute holding the encoded key (default "cursor_data")
	ExpiresAttribute string        // Numeric TTL attribute in epoch seconds (default "expires_at")
	TTL              time.Duration // Cursor lifetime (default 24h)
}

// TablePaginator stores start keys in a DynamoDB table and hands out random
// cursor ids that reference them.
type TablePaginator struct {
	db    *DB
	table CursorTable
	now   func() time.Time
}

var _ Paginator = (*TablePaginator)(nil)

// NewTablePaginator returns a paginator storing cursors in table.
func NewTablePaginator(db *DB, table CursorTable) *TablePaginator {
	if table.DataAttribute == "" {
		table.DataAttribute = "cursor_data"
	}
	if table.ExpiresAttribute == "" {
		table.ExpiresAttribute = "expires_at"
	}
	if table.TTL == 0 {
		table.TTL = 24 * time.Hour
	}
	return &TablePaginator{db: db, table: table, now: time.Now}
}

// PageCursor stores lastKey under a new cursor id. If lastKey is empty, an
// empty cursor is returned and nothing is stored.
func (p *TablePaginator) PageCursor(ctx context.Context, lastKey Item) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	data, err := encodeKey(lastKey)
	if err != nil {
		return "", err
	}
	cursor := uuid.NewString()
	row := p.cursorKey(cursor)
	row[p.table.DataAttribute] = &types.AttributeValueMemberB{Value: data}
	row[p.table.ExpiresAttribute] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(p.now().Add(p.table.TTL).Unix(), 10),
	}

	input := &dynamodb.PutItemInput{TableName: aws.String(p.table.Name), Item: row}
	if _, err := call(ctx, p.db, "PutItem", p.table.Name, p.db.client.PutItem, input); err != nil {
		return "", fmt.Errorf("failed to store page cursor: %w", err)
	}
	return cursor, nil
}

// StartKey loads the key stored under cursor. Unknown and expired cursors
// yield nil, restarting from the first page.
func (p *TablePaginator) StartKey(ctx context.Context, cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}
	input := &dynamodb.GetItemInput{TableName: aws.String(p.table.Name), Key: p.cursorKey(cursor)}
	out, err := call(ctx, p.db, "GetItem", p.table.Name, p.db.client.GetItem, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get page cursor: %w", err)
	}
	if len(out.Item) == 0 || p.expired(out.Item) {
		return nil, nil
	}
	data, ok := out.Item[p.table.DataAttribute].(*types.AttributeValueMemberB)
	if !ok || len(data.Value) == 0 {
		return nil, nil
	}
	return decodeKey(data.Value)
}

func (p *TablePaginator) cursorKey(cursor string) Item {
	key := Item{p.table.HashKey: &types.AttributeValueMemberS{Value: cursor}}
	if p.table.RangeKey != "" {
		key[p.table.RangeKey] = &types.AttributeValueMemberS{Value: cursor}
	}
	return key
}

// expired covers the window before DynamoDB's TTL sweep removes the row.
func (p *TablePaginator) expired(row Item) bool {
	n, ok := row[p.table.ExpiresAttribute].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	at, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && p.now().Unix() >= at
}

func encodeKey(key Item) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return nil, fmt.Errorf("failed to encode last key: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeKey(data []byte) (Item, error) {
	var key map[string]types.AttributeValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&key); err != nil {
		return nil, fmt.Errorf("failed to decode last key: %w", err)
	}
	return key, nil
}
