package tempest

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"golang.org/x/sync/errgroup"
)

// WorkerID selects one segment of a parallel scan.
type WorkerID struct {
	Segment       int
	TotalSegments int
}

func (w WorkerID) validate() error {
	if w.TotalSegments < 1 || w.TotalSegments > math.MaxInt32 || w.Segment < 0 || w.Segment >= w.TotalSegments {
		return fmt.Errorf("%w: segment %d of %d", ErrInvalidWorker, w.Segment, w.TotalSegments)
	}
	return nil
}

// ScanOptions configures a scan.
type ScanOptions[K any] struct {
	PageSize       int                         // Maximum number of rows evaluated per page
	ConsistentRead bool                        // Strongly consistent read; not supported on global indexes
	Filter         expression.ConditionBuilder // Optional filter on non-key attributes
	Worker         *WorkerID                   // Scan a single segment
	Offset         *Offset[K]                  // Resume after this key
	StartKey       Item                        // Resume after this raw key; ignored when Offset is set
}

// MarshalScan builds the scan request.
func (v *view[K, I]) MarshalScan(opts ...func(*ScanOptions[K])) (*dynamodb.ScanInput, error) {
	options := ScanOptions[K]{PageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&options)
	}

	builder := expression.NewBuilder().WithProjection(v.projection())
	if filter := v.kindFilter(options.Filter); filter.IsSet() {
		builder = builder.WithFilter(filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(v.table.name),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
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
	if w := options.Worker; w != nil {
		if err := w.validate(); err != nil {
			return nil, err
		}
		input.Segment = aws.Int32(int32(w.Segment))
		input.TotalSegments = aws.Int32(int32(w.TotalSegments))
	}
	startKey, err := v.exclusiveStartKey(options.Offset, options.StartKey)
	if err != nil {
		return nil, err
	}
	input.ExclusiveStartKey = startKey
	return input, nil
}

// Scan reads one page of records of the view's type.
func (v *view[K, I]) Scan(ctx context.Context, opts ...func(*ScanOptions[K])) (*Page[K, I], error) {
	input, err := v.MarshalScan(opts...)
	if err != nil {
		return nil, err
	}
	out, err := call(ctx, v.table.db, "Scan", v.table.name, v.table.db.client.Scan, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return v.page(out.Items, out.LastEvaluatedKey)
}

// ScanAll iterates over every page of the scan.
func (v *view[K, I]) ScanAll(ctx context.Context, opts ...func(*ScanOptions[K])) iter.Seq2[*Page[K, I], error] {
	return func(yield func(*Page[K, I], error) bool) {
		var last Item
		resume := func(o *ScanOptions[K]) {
			if last != nil {
				o.Offset = nil
				o.StartKey = last
			}
		}
		all := append(slices.Clip(opts), resume)
		for {
			page, err := v.Scan(ctx, all...)
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

// ScanAllContents iterates over every record of the scan.
func (v *view[K, I]) ScanAllContents(ctx context.Context, opts ...func(*ScanOptions[K])) iter.Seq2[I, error] {
	return func(yield func(I, error) bool) {
		for page, err := range v.ScanAll(ctx, opts...) {
			if err != nil {
				var zero I
				yield(zero, err)
				return
			}
			for _, item := range page.Contents {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// ScanSegments scans the view in totalSegments parallel segments and calls
// fn with every page. fn is called concurrently from different segments. The
// first error cancels the remaining segments.
func (v *view[K, I]) ScanSegments(ctx context.Context, totalSegments int, fn func(ctx context.Context, segment int, page *Page[K, I]) error, opts ...func(*ScanOptions[K])) error {
	if totalSegments < 1 {
		return fmt.Errorf("%w: %d total segments", ErrInvalidWorker, totalSegments)
	}
	g, ctx := errgroup.WithContext(ctx)
	for segment := range totalSegments {
		worker := func(o *ScanOptions[K]) {
			o.Worker = &WorkerID{Segment: segment, TotalSegments: totalSegments}
		}
		segmentOpts := append(slices.Clip(opts), worker)
		g.Go(func() error {
			for page, err := range v.ScanAll(ctx, segmentOpts...) {
				if err != nil {
					return fmt.Errorf("segment %d: %w", segment, err)
				}
				if err := fn(ctx, segment, page); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
