package dynamock

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	tempest "github.com/cashapp/tempest-sub001"
)

// MemoryClient is an in-memory tempest.Client for tests that need a table
// with real read and write semantics but no DynamoDB Local. Conditions, key
// conditions, filters and projections are evaluated; indexes are sparse;
// transactions are atomic and cancel with per-operation reasons.
type MemoryClient struct {
	// BatchLimit caps the requests one BatchGetItem or BatchWriteItem call
	// processes. The rest are returned as unprocessed. Zero means no cap.
	BatchLimit int

	mu           sync.Mutex
	tables       map[string]*memoryTable
	transactions []*dynamodb.TransactWriteItemsInput
	calls        map[string]int
}

type memoryTable struct {
	shape tempest.Shape
	rows  map[string]tempest.Item
}

// Ensure MemoryClient implements tempest.Client
var _ tempest.Client = (*MemoryClient)(nil)

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables: make(map[string]*memoryTable),
		calls:  make(map[string]int),
	}
}

// CreateTable adds an empty table with the given shape.
func (m *MemoryClient) CreateTable(name string, shape tempest.Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; ok {
		return &types.ResourceInUseException{Message: aws.String("table already exists: " + name)}
	}
	m.tables[name] = &memoryTable{shape: shape, rows: make(map[string]tempest.Item)}
	return nil
}

// Rows returns every row of the table ordered by primary key.
func (m *MemoryClient) Rows(table string) []tempest.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	rows := t.ordered("")
	for i, row := range rows {
		rows[i] = maps.Clone(row)
	}
	return rows
}

// Transactions returns the committed TransactWriteItems requests in order.
func (m *MemoryClient) Transactions() []*dynamodb.TransactWriteItemsInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.transactions)
}

// Calls returns how many times the named operation was called.
func (m *MemoryClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryClient) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls[op]++
	return nil
}

func (m *MemoryClient) table(name *string) (*memoryTable, error) {
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

// GetItem returns the row with the given key, or no item.
func (m *MemoryClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := m.begin(ctx, "GetItem"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.rowID(params.Key)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, err := project(row, params.ProjectionExpression, params.ExpressionAttributeNames)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// PutItem replaces the row with the item's key when the condition holds.
func (m *MemoryClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := m.begin(ctx, "PutItem"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.rowID(params.Item)
	if err != nil {
		return nil, err
	}
	old := t.rows[id]
	if err := check(old, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t.rows[id] = maps.Clone(params.Item)

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// DeleteItem removes the row with the given key when the condition holds.
func (m *MemoryClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := m.begin(ctx, "DeleteItem"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.rowID(params.Key)
	if err != nil {
		return nil, err
	}
	old := t.rows[id]
	if err := check(old, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(t.rows, id)

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// BatchGetItem returns the rows for up to BatchLimit keys.
func (m *MemoryClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if err := m.begin(ctx, "BatchGetItem"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	processed := 0
	for _, name := range slices.Sorted(maps.Keys(params.RequestItems)) {
		req := params.RequestItems[name]
		t, err := m.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, key := range req.Keys {
			if m.BatchLimit > 0 && processed >= m.BatchLimit {
				unprocessed := out.UnprocessedKeys[name]
				unprocessed.Keys = append(unprocessed.Keys, key)
				unprocessed.ProjectionExpression = req.ProjectionExpression
				unprocessed.ExpressionAttributeNames = req.ExpressionAttributeNames
				unprocessed.ConsistentRead = req.ConsistentRead
				out.UnprocessedKeys[name] = unprocessed
				continue
			}
			processed++
			id, err := t.rowID(key)
			if err != nil {
				return nil, err
			}
			row, ok := t.rows[id]
			if !ok {
				continue
			}
			item, err := project(row, req.ProjectionExpression, req.ExpressionAttributeNames)
			if err != nil {
				return nil, err
			}
			out.Responses[name] = append(out.Responses[name], item)
		}
	}
	return out, nil
}

// BatchWriteItem applies up to BatchLimit put and delete requests.
func (m *MemoryClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := m.begin(ctx, "BatchWriteItem"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: make(map[string][]types.WriteRequest)}
	processed := 0
	for _, name := range slices.Sorted(maps.Keys(params.RequestItems)) {
		t, err := m.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, req := range params.RequestItems[name] {
			if m.BatchLimit > 0 && processed >= m.BatchLimit {
				out.UnprocessedItems[name] = append(out.UnprocessedItems[name], req)
				continue
			}
			processed++
			switch {
			case req.PutRequest != nil:
				id, err := t.rowID(req.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				t.rows[id] = maps.Clone(req.PutRequest.Item)
			case req.DeleteRequest != nil:
				id, err := t.rowID(req.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.rows, id)
			}
		}
	}
	return out, nil
}

// TransactGetItems returns one response per requested key, empty for
// missing rows.
func (m *MemoryClient) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	if err := m.begin(ctx, "TransactGetItems"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := &dynamodb.TransactGetItemsOutput{}
	for _, req := range params.TransactItems {
		get := req.Get
		if get == nil {
			return nil, validationError("transact get item without Get")
		}
		t, err := m.table(get.TableName)
		if err != nil {
			return nil, err
		}
		id, err := t.rowID(get.Key)
		if err != nil {
			return nil, err
		}
		var item tempest.Item
		if row, ok := t.rows[id]; ok {
			if item, err = project(row, get.ProjectionExpression, get.ExpressionAttributeNames); err != nil {
				return nil, err
			}
		}
		out.Responses = append(out.Responses, types.ItemResponse{Item: item})
	}
	return out, nil
}

// TransactWriteItems applies every operation or none of them. When a
// condition fails the call returns a TransactionCanceledException with one
// reason per operation.
func (m *MemoryClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if err := m.begin(ctx, "TransactWriteItems"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if n := len(params.TransactItems); n == 0 || n > 100 {
		return nil, validationError(fmt.Sprintf("transaction must have between 1 and 100 operations, got %d", n))
	}

	type write struct {
		table *memoryTable
		id    string
		item  tempest.Item // nil deletes the row
		keep  bool         // condition checks leave the row alone
	}
	writes := make([]write, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	targets := make(map[string]struct{}, len(params.TransactItems))
	failed := false

	for i, op := range params.TransactItems {
		var (
			tableName, cond *string
			key, item       tempest.Item
			names           map[string]string
			values          map[string]types.AttributeValue
			keep            bool
		)
		switch {
		case op.Put != nil:
			tableName, cond, names, values = op.Put.TableName, op.Put.ConditionExpression, op.Put.ExpressionAttributeNames, op.Put.ExpressionAttributeValues
			key, item = op.Put.Item, op.Put.Item
		case op.Delete != nil:
			tableName, cond, names, values = op.Delete.TableName, op.Delete.ConditionExpression, op.Delete.ExpressionAttributeNames, op.Delete.ExpressionAttributeValues
			key = op.Delete.Key
		case op.ConditionCheck != nil:
			tableName, cond, names, values = op.ConditionCheck.TableName, op.ConditionCheck.ConditionExpression, op.ConditionCheck.ExpressionAttributeNames, op.ConditionCheck.ExpressionAttributeValues
			key, keep = op.ConditionCheck.Key, true
		default:
			return nil, validationError("unsupported transact write item")
		}

		t, err := m.table(tableName)
		if err != nil {
			return nil, err
		}
		id, err := t.rowID(key)
		if err != nil {
			return nil, err
		}
		target := aws.ToString(tableName) + "\x00" + id
		if _, dup := targets[target]; dup {
			return nil, validationError("transaction cannot include multiple operations on one item")
		}
		targets[target] = struct{}{}

		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if err := check(t.rows[id], cond, names, values); err != nil {
			if _, ok := err.(*types.ConditionalCheckFailedException); !ok {
				return nil, err
			}
			failed = true
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
		}
		writes = append(writes, write{table: t, id: id, item: item, keep: keep})
	}

	if failed {
		codes := make([]string, len(reasons))
		for i, r := range reasons {
			codes[i] = aws.ToString(r.Code)
		}
		return nil, &types.TransactionCanceledException{
			Message:             aws.String(fmt.Sprintf("Transaction cancelled, please refer cancellation reasons for specific reasons %v", codes)),
			CancellationReasons: reasons,
		}
	}

	for _, w := range writes {
		switch {
		case w.keep:
		case w.item == nil:
			delete(w.table.rows, w.id)
		default:
			w.table.rows[w.id] = maps.Clone(w.item)
		}
	}
	m.transactions = append(m.transactions, params)
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// Query returns the rows of one partition of the table or index, in range
// key order.
func (m *MemoryClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := m.begin(ctx, "Query"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	index := aws.ToString(params.IndexName)
	if _, ok := t.shape.Index(index); index != "" && !ok {
		return nil, validationError("unknown index: " + index)
	}
	if params.KeyConditionExpression == nil {
		return nil, validationError("query needs a key condition")
	}
	keyCond, err := parseCondition(*params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, validationError(err.Error())
	}

	var matched []tempest.Item
	for _, row := range t.ordered(index) {
		if keyCond(row) {
			matched = append(matched, row)
		}
	}
	descending := params.ScanIndexForward != nil && !*params.ScanIndexForward
	if descending {
		slices.Reverse(matched)
	}

	page, err := t.page(index, matched, pageRequest{
		startKey:   params.ExclusiveStartKey,
		limit:      aws.ToInt32(params.Limit),
		descending: descending,
		filter:     params.FilterExpression,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items:            page.items,
		Count:            int32(len(page.items)),
		ScannedCount:     page.scanned,
		LastEvaluatedKey: page.lastKey,
	}, nil
}

// Scan returns the rows of the table or index in key order. A segmented scan
// sees the rows whose hash key falls in its segment.
func (m *MemoryClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := m.begin(ctx, "Scan"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	index := aws.ToString(params.IndexName)
	if _, ok := t.shape.Index(index); index != "" && !ok {
		return nil, validationError("unknown index: " + index)
	}
	total := aws.ToInt32(params.TotalSegments)
	segment := aws.ToInt32(params.Segment)
	if total < 0 || (total > 0 && (segment < 0 || segment >= total)) {
		return nil, validationError(fmt.Sprintf("invalid segment %d of %d", segment, total))
	}

	var rows []tempest.Item
	for _, row := range t.ordered(index) {
		if total > 0 && segmentOf(row[t.shape.HashKey], total) != segment {
			continue
		}
		rows = append(rows, row)
	}

	page, err := t.page(index, rows, pageRequest{
		startKey:   params.ExclusiveStartKey,
		limit:      aws.ToInt32(params.Limit),
		filter:     params.FilterExpression,
		projection: params.ProjectionExpression,
		names:      params.ExpressionAttributeNames,
		values:     params.ExpressionAttributeValues,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            page.items,
		Count:            int32(len(page.items)),
		ScannedCount:     page.scanned,
		LastEvaluatedKey: page.lastKey,
	}, nil
}

type pageRequest struct {
	startKey   tempest.Item
	limit      int32
	descending bool
	filter     *string
	projection *string
	names      map[string]string
	values     map[string]types.AttributeValue
}

type pageResult struct {
	items   []tempest.Item
	scanned int32
	lastKey tempest.Item
}

// page evaluates rows after the start key, up to the limit, then filters and
// projects them. The limit counts evaluated rows, not returned ones.
func (t *memoryTable) page(index string, rows []tempest.Item, req pageRequest) (pageResult, error) {
	order := t.orderAttributes(index)
	if req.startKey != nil {
		start := 0
		for start < len(rows) {
			c := compareRows(rows[start], req.startKey, order)
			if (!req.descending && c > 0) || (req.descending && c < 0) {
				break
			}
			start++
		}
		rows = rows[start:]
	}

	var result pageResult
	if req.limit > 0 && int(req.limit) < len(rows) {
		rows = rows[:req.limit]
		result.lastKey = make(tempest.Item, len(order))
		last := rows[len(rows)-1]
		for _, name := range order {
			result.lastKey[name] = last[name]
		}
	}

	var filter condition
	if req.filter != nil {
		var err error
		if filter, err = parseCondition(*req.filter, req.names, req.values); err != nil {
			return pageResult{}, validationError(err.Error())
		}
	}
	for _, row := range rows {
		result.scanned++
		if filter != nil && !filter(row) {
			continue
		}
		item, err := project(row, req.projection, req.names)
		if err != nil {
			return pageResult{}, err
		}
		result.items = append(result.items, item)
	}
	return result, nil
}

// rowID encodes the primary key of an item.
func (t *memoryTable) rowID(item tempest.Item) (string, error) {
	id := ""
	for _, name := range []string{t.shape.HashKey, t.shape.RangeKey} {
		if name == "" {
			continue
		}
		v, ok := item[name]
		if !ok {
			return "", validationError(fmt.Sprintf("missing key attribute %s", name))
		}
		enc, ok := encodeScalar(v)
		if !ok {
			return "", validationError(fmt.Sprintf("key attribute %s must be a string, number or binary", name))
		}
		id += enc + "\x00"
	}
	return id, nil
}

// orderAttributes returns the attributes rows of an index are ordered by:
// the index keys, then the primary key.
func (t *memoryTable) orderAttributes(index string) []string {
	var attrs []string
	if idx, ok := t.shape.Index(index); ok {
		hash := idx.HashKey
		if hash == "" {
			hash = t.shape.HashKey
		}
		attrs = append(attrs, hash)
		if idx.RangeKey != "" {
			attrs = append(attrs, idx.RangeKey)
		}
	}
	for _, name := range []string{t.shape.HashKey, t.shape.RangeKey} {
		if name != "" && !slices.Contains(attrs, name) {
			attrs = append(attrs, name)
		}
	}
	return attrs
}

// ordered returns the rows present in the index, sorted. Rows missing an
// index key attribute are not part of the index.
func (t *memoryTable) ordered(index string) []tempest.Item {
	order := t.orderAttributes(index)
	rows := make([]tempest.Item, 0, len(t.rows))
	for _, row := range t.rows {
		if !hasAll(row, order) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j], order) < 0
	})
	return rows
}

func hasAll(row tempest.Item, names []string) bool {
	for _, name := range names {
		if _, ok := encodeScalar(row[name]); !ok {
			return false
		}
	}
	return true
}

func compareRows(a, b tempest.Item, order []string) int {
	for _, name := range order {
		if c, _ := compareValues(a[name], b[name]); c != 0 {
			return c
		}
	}
	return 0
}

func encodeScalar(v types.AttributeValue) (string, bool) {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value, true
	case *types.AttributeValueMemberN:
		return "N:" + v.Value, true
	case *types.AttributeValueMemberB:
		return fmt.Sprintf("B:%x", v.Value), true
	}
	return "", false
}

func segmentOf(v types.AttributeValue, total int32) int32 {
	enc, _ := encodeScalar(v)
	h := fnv.New32a()
	h.Write([]byte(enc))
	return int32(h.Sum32() % uint32(total))
}

func check(row tempest.Item, expr *string, names map[string]string, values map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}
	cond, err := parseCondition(*expr, names, values)
	if err != nil {
		return validationError(err.Error())
	}
	if !cond(row) {
		return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	return nil
}

func project(row tempest.Item, expr *string, names map[string]string) (tempest.Item, error) {
	if expr == nil {
		return maps.Clone(row), nil
	}
	attrs, err := projectNames(*expr, names)
	if err != nil {
		return nil, validationError(err.Error())
	}
	item := make(tempest.Item, len(attrs))
	for _, name := range attrs {
		if v, ok := row[name]; ok {
			item[name] = v
		}
	}
	return item, nil
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}
