package tempest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyCondition selects the range of keys a query reads. It is either
// BeginsWith or Between.
type KeyCondition[K any] interface {
	isKeyCondition(K)
}

// BeginsWith matches keys in the hash key of Prefix whose range key starts
// with the encoded range key of Prefix. When the encoded range key is empty
// the whole hash key matches.
type BeginsWith[K any] struct {
	Prefix K
}

// Between matches keys in the hash key of Start whose range key lies between
// the range keys of Start and End, inclusive.
type Between[K any] struct {
	Start K
	End   K
}

func (BeginsWith[K]) isKeyCondition(K) {}
func (Between[K]) isKeyCondition(K)    {}

// Offset is the position a query or scan resumes from.
type Offset[K any] struct {
	Key K
}

// Page is one page of query or scan results.
type Page[K, I any] struct {
	Contents []I
	Offset   *Offset[K] // nil on the last page, or when the last row evaluated is of another type
	LastKey  Item       // raw last evaluated key; resumes the read in every case
}

// HasMore reports whether another page follows.
func (p *Page[K, I]) HasMore() bool {
	return len(p.LastKey) > 0
}

// QueryOptions configures a query.
type QueryOptions[K any] struct {
	Descending     bool                        // Scan direction (default: ascending)
	PageSize       int                         // Maximum number of items per page
	ConsistentRead bool                        // Strongly consistent read; not supported on global indexes
	Filter         expression.ConditionBuilder // Optional filter on non-key attributes
	Offset         *Offset[K]                  // Resume after this key
	StartKey       Item                        // Resume after this raw key; ignored when Offset is set
}

// MarshalQuery builds the query request for cond.
func (v *view[K, I]) MarshalQuery(cond KeyCondition[K], opts ...func(*QueryOptions[K])) (*dynamodb.QueryInput, error) {
	options := QueryOptions[K]{PageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&options)
	}

	hash, rng := v.table.shape.keysOf(v.index)
	keyCond, err := v.keyConditionBuilder(cond, hash, rng)
	if err != nil {
		return nil, err
	}

	builder := expression.NewBuilder().
		WithKeyCondition(keyCond).
		WithProjection(v.projection())

	filter := options.Filter
	if v.index != "" && !v.table.shape.isIndexKey(v.index, v.table.shape.RangeKey) {
		filter = v.kindFilter(filter)
	}
	if filter.IsSet() {
		builder = builder.WithFilter(filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(v.table.name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ScanIndexForward:          aws.Bool(!options.Descending),
	}
	if v.index != "" {
		input.IndexName = aws.String(v.index)
	}
	if input.Limit, err = pageLimit(options.PageSize); err != nil {
		return nil, err
	}
	if options.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}
	startKey, err := v.exclusiveStartKey(options.Offset, options.StartKey)
	if err != nil {
		return nil, err
	}
	input.ExclusiveStartKey = startKey
	return input, nil
}

// pageLimit converts a page size to a request limit. Sizes below one leave
// the limit unset.
func pageLimit(size int) (*int32, error) {
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrInvalidPageSize, size, math.MaxInt32)
	}
	if size < 1 {
		return nil, nil
	}
	return aws.Int32(int32(size)), nil
}

// Query reads one page of records matching cond.
func (v *view[K, I]) Query(ctx context.Context, cond KeyCondition[K], opts ...func(*QueryOptions[K])) (*Page[K, I], error) {
	input, err := v.MarshalQuery(cond, opts...)
	if err != nil {
		return nil, err
	}
	out, err := call(ctx, v.table.db, "Query", v.table.name, v.table.db.client.Query, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return v.page(out.Items, out.LastEvaluatedKey)
}

// QueryAll iterates over every page of records matching cond.
func (v *view[K, I]) QueryAll(ctx context.Context, cond KeyCondition[K], opts ...func(*QueryOptions[K])) iter.Seq2[*Page[K, I], error] {
	return func(yield func(*Page[K, I], error) bool) {
		var last Item
		resume := func(o *QueryOptions[K]) {
			if last != nil {
				o.Offset = nil
				o.StartKey = last
			}
		}
		all := append(slices.Clip(opts), resume)
		for {
			page, err := v.Query(ctx, cond, all...)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) || !page.HasMore() {
				return
			}
			last = page.LastKey
		}
	}
}

func (v *view[K, I]) keyConditionBuilder(cond KeyCondition[K], hash, rng string) (expression.KeyConditionBuilder, error) {
	switch c := cond.(type) {
	case BeginsWith[K]:
		row, err := v.keyCodec.ToPhysical(c.Prefix)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		keyCond, err := hashCondition(row, hash)
		if err != nil {
			return keyCond, err
		}
		if rng == "" {
			return keyCond, nil
		}
		av, ok := row[rng]
		if !ok {
			return keyCond, nil
		}
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return keyCond, fmt.Errorf("begins with needs a string range key, %q is %T", rng, av)
		}
		if s.Value == "" {
			return keyCond, nil
		}
		return keyCond.And(expression.Key(rng).BeginsWith(s.Value)), nil

	case Between[K]:
		if rng == "" {
			return expression.KeyConditionBuilder{}, fmt.Errorf("%w: between on %s", ErrRangeKeyRequired, v.describeIndex())
		}
		start, err := v.keyCodec.ToPhysical(c.Start)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		end, err := v.keyCodec.ToPhysical(c.End)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		keyCond, err := hashCondition(start, hash)
		if err != nil {
			return keyCond, err
		}
		lower, err := operand(start, rng)
		if err != nil {
			return keyCond, err
		}
		upper, err := operand(end, rng)
		if err != nil {
			return keyCond, err
		}
		return keyCond.And(expression.Key(rng).Between(lower, upper)), nil

	default:
		return expression.KeyConditionBuilder{}, fmt.Errorf("unsupported key condition %T", cond)
	}
}

func hashCondition(row Item, hash string) (expression.KeyConditionBuilder, error) {
	value, err := operand(row, hash)
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	return expression.Key(hash).Equal(value), nil
}

// operand turns the attribute name of row into an expression value.
func operand(row Item, name string) (expression.ValueBuilder, error) {
	av, ok := row[name]
	if !ok {
		return expression.ValueBuilder{}, fmt.Errorf("key condition is missing attribute %q", name)
	}
	var value any
	err := attributevalue.UnmarshalWithOptions(av, &value, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return expression.ValueBuilder{}, fmt.Errorf("failed to decode key attribute %q: %w", name, err)
	}
	return expression.Value(value), nil
}

// kindFilter narrows reads to rows of the view's record type by the prefix
// of the table range key.
func (v *view[K, I]) kindFilter(filter expression.ConditionBuilder) expression.ConditionBuilder {
	if v.item.rangePrefix == "" {
		return filter
	}
	kind := expression.Name(v.table.shape.RangeKey).BeginsWith(v.item.rangePrefix)
	if filter.IsSet() {
		return kind.And(filter)
	}
	return kind
}

func (v *view[K, I]) exclusiveStartKey(offset *Offset[K], raw Item) (Item, error) {
	if offset != nil {
		row, err := v.keyCodec.ToPhysical(offset.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to encode offset: %w", err)
		}
		return v.table.startKey(row, v.index), nil
	}
	if len(raw) > 0 {
		return raw, nil
	}
	return nil, nil
}

func (v *view[K, I]) page(rows []Item, lastKey Item) (*Page[K, I], error) {
	page := &Page[K, I]{Contents: make([]I, 0, len(rows))}
	for _, row := range rows {
		item, err := v.itemCodec.ToApplication(row)
		if err != nil {
			return nil, err
		}
		page.Contents = append(page.Contents, item)
	}
	if len(lastKey) > 0 {
		page.LastKey = lastKey
		key, err := v.keyCodec.ToApplication(lastKey)
		switch {
		case err == nil:
			page.Offset = &Offset[K]{Key: key}
		case !errors.Is(err, ErrPrefixMismatch):
			return nil, fmt.Errorf("failed to decode offset: %w", err)
		}
	}
	return page, nil
}

func (v *view[K, I]) describeIndex() string {
	if v.index == "" {
		return "table " + v.table.name
	}
	return "index " + v.index
}
