package tempest

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// view holds what inline views and secondary indexes share: the table, the
// bound record type and the codecs of the record and key types.
type view[K, I any] struct {
	table     *Table
	index     string
	item      *boundItem
	itemCodec *mappingCodec[I]
	keyCodec  *mappingCodec[K]
}

// Table returns the table the view reads from.
func (v *view[K, I]) Table() *Table { return v.table }

// ItemCodec returns the codec of the record type.
func (v *view[K, I]) ItemCodec() Codec[I] { return v.itemCodec }

// KeyCodec returns the codec of the key or offset type.
func (v *view[K, I]) KeyCodec() Codec[K] { return v.keyCodec }

// InlineView is one logical table: a record type and its primary key type
// stored in a shared physical table.
type InlineView[K, I any] struct {
	view[K, I]
}

// SecondaryIndex is a record type read through one of the table's secondary
// indexes, addressed by an offset type.
type SecondaryIndex[K, I any] struct {
	view[K, I]
}

// LoadOptions configures reads.
type LoadOptions struct {
	ConsistentRead bool
}

// WithConsistentRead requests a strongly consistent read.
func WithConsistentRead() func(*LoadOptions) {
	return func(o *LoadOptions) { o.ConsistentRead = true }
}

// WriteOptions configures saves, deletes and condition checks.
type WriteOptions struct {
	Condition expression.ConditionBuilder
}

// WriteOption configures a write.
type WriteOption func(*WriteOptions)

// WithCondition makes the write conditional on cond.
func WithCondition(cond expression.ConditionBuilder) WriteOption {
	return func(o *WriteOptions) { o.Condition = cond }
}

func newWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MarshalGet builds the get item request for key.
func (v *InlineView[K, I]) MarshalGet(key K, opts ...func(*LoadOptions)) (*dynamodb.GetItemInput, error) {
	var options LoadOptions
	for _, opt := range opts {
		opt(&options)
	}
	row, err := v.keyCodec.ToPhysical(key)
	if err != nil {
		return nil, err
	}
	pk, err := v.table.primaryKey(row)
	if err != nil {
		return nil, err
	}
	expr, err := expression.NewBuilder().WithProjection(v.projection()).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &dynamodb.GetItemInput{
		TableName:                aws.String(v.table.name),
		Key:                      pk,
		ConsistentRead:           aws.Bool(options.ConsistentRead),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	}, nil
}

// MarshalPut builds the put item request for item.
func (v *InlineView[K, I]) MarshalPut(item I, opts ...WriteOption) (*dynamodb.PutItemInput, error) {
	row, err := v.itemCodec.ToPhysical(item)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(v.table.name),
		Item:      row,
	}
	if cond := newWriteOptions(opts).Condition; cond.IsSet() {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	return input, nil
}

// MarshalDelete builds the delete item request for key. The request asks
// for the deleted row back.
func (v *InlineView[K, I]) MarshalDelete(key K, opts ...WriteOption) (*dynamodb.DeleteItemInput, error) {
	row, err := v.keyCodec.ToPhysical(key)
	if err != nil {
		return nil, err
	}
	return v.marshalDeleteRow(row, opts)
}

func (v *InlineView[K, I]) marshalDeleteRow(row Item, opts []WriteOption) (*dynamodb.DeleteItemInput, error) {
	pk, err := v.table.primaryKey(row)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.DeleteItemInput{
		TableName:    aws.String(v.table.name),
		Key:          pk,
		ReturnValues: types.ReturnValueAllOld,
	}
	if cond := newWriteOptions(opts).Condition; cond.IsSet() {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	return input, nil
}

// Load reads the record stored under key. It returns ErrItemNotFound when
// there is none.
func (v *InlineView[K, I]) Load(ctx context.Context, key K, opts ...func(*LoadOptions)) (I, error) {
	var zero I
	input, err := v.MarshalGet(key, opts...)
	if err != nil {
		return zero, err
	}
	out, err := call(ctx, v.table.db, "GetItem", v.table.name, v.table.db.client.GetItem, input)
	if err != nil {
		return zero, fmt.Errorf("failed to get item: %w", err)
	}
	if len(out.Item) == 0 {
		return zero, ErrItemNotFound
	}
	return v.itemCodec.ToApplication(out.Item)
}

// Save writes item, replacing any row with the same primary key. A failed
// condition is reported as ErrConditionalCheckFailed.
func (v *InlineView[K, I]) Save(ctx context.Context, item I, opts ...WriteOption) error {
	input, err := v.MarshalPut(item, opts...)
	if err != nil {
		return err
	}
	if _, err := call(ctx, v.table.db, "PutItem", v.table.name, v.table.db.client.PutItem, input); err != nil {
		return writeError("put item", err)
	}
	return nil
}

// DeleteKey deletes the row stored under key and returns it, or nil if there
// was none.
func (v *InlineView[K, I]) DeleteKey(ctx context.Context, key K, opts ...WriteOption) (*I, error) {
	input, err := v.MarshalDelete(key, opts...)
	if err != nil {
		return nil, err
	}
	return v.delete(ctx, input)
}

// Delete deletes the row stored under item's primary key and returns it, or
// nil if there was none.
func (v *InlineView[K, I]) Delete(ctx context.Context, item I, opts ...WriteOption) (*I, error) {
	row, err := v.itemCodec.ToPhysical(item)
	if err != nil {
		return nil, err
	}
	input, err := v.marshalDeleteRow(row, opts)
	if err != nil {
		return nil, err
	}
	return v.delete(ctx, input)
}

func (v *InlineView[K, I]) delete(ctx context.Context, input *dynamodb.DeleteItemInput) (*I, error) {
	out, err := call(ctx, v.table.db, "DeleteItem", v.table.name, v.table.db.client.DeleteItem, input)
	if err != nil {
		return nil, writeError("delete item", err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	old, err := v.itemCodec.ToApplication(out.Attributes)
	if err != nil {
		return nil, err
	}
	return &old, nil
}

// projection lists the attributes of the record type.
func (v *view[K, I]) projection() expression.ProjectionBuilder {
	names := v.item.attributeNames()
	proj := expression.NamesList(expression.Name(names[0]))
	for _, name := range names[1:] {
		proj = proj.AddNames(expression.Name(name))
	}
	return proj
}

func writeError(op string, err error) error {
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("%w: %w", ErrConditionalCheckFailed, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
