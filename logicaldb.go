package tempest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Transactor applies transaction write sets. *DB implements it.
type Transactor interface {
	TransactionWrite(ctx context.Context, set TransactionWriteSet) error
}

var _ Transactor = (*DB)(nil)

// resolvedKey is a key value with its record binding and physical key.
type resolvedKey struct {
	item *boundItem
	key  Item
}

func (r resolvedKey) id() string {
	return r.item.table.keyString(r.key)
}

// resolveKey finds the record binding of key, which may be a bound key type
// or a bound record type, and encodes its primary key.
func (db *DB) resolveKey(key any) (resolvedKey, error) {
	typ := reflect.TypeOf(key)
	if typ == nil {
		return resolvedKey{}, fmt.Errorf("%w: nil key", ErrUnregisteredType)
	}
	if kb, ok := db.registry.key(typ); ok {
		row, err := kb.erased.encode(key)
		if err != nil {
			return resolvedKey{}, err
		}
		pk, err := kb.item.table.primaryKey(row)
		if err != nil {
			return resolvedKey{}, err
		}
		return resolvedKey{item: kb.item, key: pk}, nil
	}
	if ib, ok := db.registry.item(typ); ok {
		row, err := ib.erased.encode(key)
		if err != nil {
			return resolvedKey{}, err
		}
		pk, err := ib.table.primaryKey(row)
		if err != nil {
			return resolvedKey{}, err
		}
		return resolvedKey{item: ib, key: pk}, nil
	}
	return resolvedKey{}, fmt.Errorf("%w: %s", ErrUnregisteredType, typ)
}

// resolveItem finds the binding of a record value and encodes it.
func (db *DB) resolveItem(item any) (*boundItem, Item, error) {
	typ := reflect.TypeOf(item)
	if typ == nil {
		return nil, nil, fmt.Errorf("%w: nil item", ErrUnregisteredType)
	}
	ib, ok := db.registry.item(typ)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnregisteredType, typ)
	}
	row, err := ib.erased.encode(item)
	if err != nil {
		return nil, nil, err
	}
	return ib, row, nil
}

// BatchLoad loads the rows of keys, in the order of keys, skipping keys
// without a row. Keys still unprocessed after the configured retries are
// reported as ErrUnprocessedKeys together with the rows that were loaded.
func (db *DB) BatchLoad(ctx context.Context, keys KeySet, opts ...func(*LoadOptions)) (ItemSet, error) {
	var options LoadOptions
	for _, opt := range opts {
		opt(&options)
	}

	order := make([]resolvedKey, 0, keys.Len())
	rows := make(map[string]Item, keys.Len())
	tables := make(map[string]*Table)
	var pending []resolvedKey
	for _, key := range keys.values {
		rk, err := db.resolveKey(key)
		if err != nil {
			return ItemSet{}, err
		}
		order = append(order, rk)
		if _, ok := rows[rk.id()]; ok {
			continue
		}
		rows[rk.id()] = nil
		pending = append(pending, rk)
		tables[rk.item.table.name] = rk.item.table
	}

	var unprocessed int
	for start := 0; start < len(pending); start += MaxBatchLoadSize {
		end := min(start+MaxBatchLoadSize, len(pending))
		request := make(map[string]types.KeysAndAttributes)
		for _, rk := range pending[start:end] {
			ka := request[rk.item.table.name]
			ka.Keys = append(ka.Keys, rk.key)
			if options.ConsistentRead {
				ka.ConsistentRead = aws.Bool(true)
			}
			request[rk.item.table.name] = ka
		}
		left, err := db.batchGet(ctx, request, tables, rows)
		if err != nil {
			return ItemSet{}, err
		}
		unprocessed += left
	}

	var out []any
	for _, rk := range order {
		row := rows[rk.id()]
		if row == nil {
			continue
		}
		v, err := rk.item.erased.decode(row)
		if err != nil {
			return ItemSet{}, err
		}
		out = append(out, v)
	}
	if unprocessed > 0 {
		return ItemSet{values: out}, fmt.Errorf("%w: %d keys", ErrUnprocessedKeys, unprocessed)
	}
	return ItemSet{values: out}, nil
}

// batchGet issues one BatchGetItem request, re-requesting unprocessed keys
// with exponential backoff. It returns the number of keys left unprocessed.
func (db *DB) batchGet(ctx context.Context, request map[string]types.KeysAndAttributes, tables map[string]*Table, rows map[string]Item) (int, error) {
	backoff := db.retryBackoff
	for attempt := 0; ; attempt++ {
		input := &dynamodb.BatchGetItemInput{RequestItems: request}
		out, err := call(ctx, db, "BatchGetItem", joinTables(request), db.client.BatchGetItem, input)
		if err != nil {
			return 0, fmt.Errorf("failed to batch get items: %w", err)
		}
		for name, items := range out.Responses {
			t := tables[name]
			if t == nil {
				continue
			}
			for _, row := range items {
				pk, err := t.primaryKey(row)
				if err != nil {
					return 0, err
				}
				rows[t.keyString(pk)] = row
			}
		}

		left := 0
		for _, ka := range out.UnprocessedKeys {
			left += len(ka.Keys)
		}
		if left == 0 {
			return 0, nil
		}
		if attempt >= db.batchRetries {
			db.logger.Warn("giving up on unprocessed keys",
				zap.Int("keys", left),
				zap.Int("attempts", attempt+1))
			return left, nil
		}
		db.logger.Debug("retrying unprocessed keys",
			zap.Int("keys", left),
			zap.Duration("backoff", backoff))
		if err := sleep(ctx, backoff); err != nil {
			return 0, err
		}
		backoff *= 2
		request = out.UnprocessedKeys
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func joinTables[V any](request map[string]V) string {
	if len(request) == 1 {
		for name := range request {
			return name
		}
	}
	return "multiple"
}

// BatchWriteResult lists the requests DynamoDB left unprocessed.
type BatchWriteResult struct {
	UnprocessedClobbers []Item
	UnprocessedDeletes  []Item
}

// IsSuccessful reports whether every request was processed.
func (r BatchWriteResult) IsSuccessful() bool {
	return len(r.UnprocessedClobbers) == 0 && len(r.UnprocessedDeletes) == 0
}

// BatchWrite puts and deletes the rows of set in chunks of MaxBatchSize.
// Unprocessed requests are returned, not retried.
func (db *DB) BatchWrite(ctx context.Context, set BatchWriteSet) (BatchWriteResult, error) {
	type request struct {
		table string
		req   types.WriteRequest
	}
	var requests []request
	for _, e := range set.clobbers.entries {
		ib, row, err := db.resolveItem(e.value)
		if err != nil {
			return BatchWriteResult{}, err
		}
		requests = append(requests, request{ib.table.name, types.WriteRequest{PutRequest: &types.PutRequest{Item: row}}})
	}
	for _, e := range set.deletes.entries {
		rk, err := db.resolveKey(e.value)
		if err != nil {
			return BatchWriteResult{}, err
		}
		requests = append(requests, request{rk.item.table.name, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: rk.key}}})
	}

	var result BatchWriteResult
	for start := 0; start < len(requests); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(requests))
		items := make(map[string][]types.WriteRequest)
		for _, r := range requests[start:end] {
			items[r.table] = append(items[r.table], r.req)
		}
		input := &dynamodb.BatchWriteItemInput{RequestItems: items}
		out, err := call(ctx, db, "BatchWriteItem", joinTables(items), db.client.BatchWriteItem, input)
		if err != nil {
			return result, fmt.Errorf("failed to batch write items: %w", err)
		}
		for _, reqs := range out.UnprocessedItems {
			for _, req := range reqs {
				switch {
				case req.PutRequest != nil:
					result.UnprocessedClobbers = append(result.UnprocessedClobbers, req.PutRequest.Item)
				case req.DeleteRequest != nil:
					result.UnprocessedDeletes = append(result.UnprocessedDeletes, req.DeleteRequest.Key)
				}
			}
		}
	}
	if !result.IsSuccessful() {
		db.logger.Debug("batch write left requests unprocessed",
			zap.Int("clobbers", len(result.UnprocessedClobbers)),
			zap.Int("deletes", len(result.UnprocessedDeletes)))
	}
	return result, nil
}

// TransactionLoad reads the rows of keys atomically, in the order of keys,
// skipping keys without a row.
func (db *DB) TransactionLoad(ctx context.Context, keys KeySet) (ItemSet, error) {
	if keys.Len() > MaxTransactionItems {
		return ItemSet{}, fmt.Errorf("%w: %d keys, max %d", ErrTransactionTooLarge, keys.Len(), MaxTransactionItems)
	}
	resolved := make([]resolvedKey, 0, keys.Len())
	gets := make([]types.TransactGetItem, 0, keys.Len())
	tables := make(map[string]struct{})
	for _, key := range keys.values {
		rk, err := db.resolveKey(key)
		if err != nil {
			return ItemSet{}, err
		}
		resolved = append(resolved, rk)
		tables[rk.item.table.name] = struct{}{}
		gets = append(gets, types.TransactGetItem{Get: &types.Get{
			TableName: aws.String(rk.item.table.name),
			Key:       rk.key,
		}})
	}
	if len(gets) == 0 {
		return ItemSet{}, nil
	}

	input := &dynamodb.TransactGetItemsInput{TransactItems: gets}
	out, err := call(ctx, db, "TransactGetItems", joinTables(tables), db.client.TransactGetItems, input)
	if err != nil {
		return ItemSet{}, fmt.Errorf("failed to transact get items: %w", err)
	}
	var values []any
	for i, resp := range out.Responses {
		if i >= len(resolved) || len(resp.Item) == 0 {
			continue
		}
		v, err := resolved[i].item.erased.decode(resp.Item)
		if err != nil {
			return ItemSet{}, err
		}
		values = append(values, v)
	}
	return ItemSet{values: values}, nil
}

// TransactionWrite applies set atomically. A cancelled transaction is
// reported as a *TransactionCancelledError listing every operation by key.
func (db *DB) TransactionWrite(ctx context.Context, set TransactionWriteSet) error {
	if set.Size() > MaxTransactionItems {
		return fmt.Errorf("%w: %d operations, max %d", ErrTransactionTooLarge, set.Size(), MaxTransactionItems)
	}
	if set.Size() == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, set.Size())
	operations := make([]string, 0, set.Size())
	tables := make(map[string]struct{})

	for _, e := range set.saves.entries {
		ib, row, err := db.resolveItem(e.value)
		if err != nil {
			return err
		}
		pk, err := ib.table.primaryKey(row)
		if err != nil {
			return err
		}
		put := &types.Put{TableName: aws.String(ib.table.name), Item: row}
		if cond := e.options.Condition; cond.IsSet() {
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return fmt.Errorf("failed to build expression: %w", err)
			}
			put.ConditionExpression = expr.Condition()
			put.ExpressionAttributeNames = expr.Names()
			put.ExpressionAttributeValues = expr.Values()
		}
		items = append(items, types.TransactWriteItem{Put: put})
		operations = append(operations, "Save item (non-key attributes omitted) "+ib.table.describeKey(pk))
		tables[ib.table.name] = struct{}{}
	}

	for _, e := range set.deletes.entries {
		rk, err := db.resolveKey(e.value)
		if err != nil {
			return err
		}
		del := &types.Delete{TableName: aws.String(rk.item.table.name), Key: rk.key}
		if cond := e.options.Condition; cond.IsSet() {
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return fmt.Errorf("failed to build expression: %w", err)
			}
			del.ConditionExpression = expr.Condition()
			del.ExpressionAttributeNames = expr.Names()
			del.ExpressionAttributeValues = expr.Values()
		}
		items = append(items, types.TransactWriteItem{Delete: del})
		operations = append(operations, "Delete key "+rk.item.table.describeKey(rk.key))
		tables[rk.item.table.name] = struct{}{}
	}

	for _, e := range set.checks.entries {
		rk, err := db.resolveKey(e.value)
		if err != nil {
			return err
		}
		cond := e.options.Condition
		if !cond.IsSet() {
			cond = expression.AttributeExists(expression.Name(rk.item.table.shape.HashKey))
		}
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return fmt.Errorf("failed to build expression: %w", err)
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(rk.item.table.name),
			Key:                       rk.key,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}})
		operations = append(operations, "Check key "+rk.item.table.describeKey(rk.key))
		tables[rk.item.table.name] = struct{}{}
	}

	input := &dynamodb.TransactWriteItemsInput{TransactItems: items}
	if set.token != "" {
		input.ClientRequestToken = aws.String(set.token)
	}
	if _, err := call(ctx, db, "TransactWriteItems", joinTables(tables), db.client.TransactWriteItems, input); err != nil {
		if isTransactionCanceled(err) {
			tce := &TransactionCancelledError{Operations: operations, Err: err}
			var canceled *types.TransactionCanceledException
			if errors.As(err, &canceled) {
				tce.Reasons = canceled.CancellationReasons
			}
			return tce
		}
		return fmt.Errorf("failed to write transaction: %w", err)
	}
	return nil
}
