package tempest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PagerHandler supplies the per-page and per-item logic of a WritingPager.
type PagerHandler[T any] interface {
	// EachPage wraps the writing of one page. It must call proceed exactly
	// once; a pass that does not is reported as ErrPagerStalled.
	EachPage(ctx context.Context, proceed func(context.Context) error) error
	// BeforePage returns how many of the remaining updates belong in the
	// next page, usually maxTransactionItems less the operations FinishPage
	// adds.
	BeforePage(ctx context.Context, remaining []T, maxTransactionItems int) (int, error)
	// Item adds the operations of one update to builder.
	Item(ctx context.Context, builder *TransactionWriteSetBuilder, item T) error
	// FinishPage adds page-level operations, such as an aggregate save.
	FinishPage(ctx context.Context, builder *TransactionWriteSetBuilder) error
	// PageWritten is called after the page's transaction commits.
	PageWritten(ctx context.Context, set TransactionWriteSet) error
}

// PagerFuncs adapts functions to PagerHandler. Nil functions fall back to
// defaults: EachPage proceeds, BeforePage takes as many updates as fit, and
// the other hooks do nothing.
type PagerFuncs[T any] struct {
	EachPageFunc    func(ctx context.Context, proceed func(context.Context) error) error
	BeforePageFunc  func(ctx context.Context, remaining []T, maxTransactionItems int) (int, error)
	ItemFunc        func(ctx context.Context, builder *TransactionWriteSetBuilder, item T) error
	FinishPageFunc  func(ctx context.Context, builder *TransactionWriteSetBuilder) error
	PageWrittenFunc func(ctx context.Context, set TransactionWriteSet) error
}

var _ PagerHandler[struct{}] = PagerFuncs[struct{}]{}

func (f PagerFuncs[T]) EachPage(ctx context.Context, proceed func(context.Context) error) error {
	if f.EachPageFunc == nil {
		return proceed(ctx)
	}
	return f.EachPageFunc(ctx, proceed)
}

func (f PagerFuncs[T]) BeforePage(ctx context.Context, remaining []T, maxTransactionItems int) (int, error) {
	if f.BeforePageFunc == nil {
		return min(len(remaining), maxTransactionItems), nil
	}
	return f.BeforePageFunc(ctx, remaining, maxTransactionItems)
}

func (f PagerFuncs[T]) Item(ctx context.Context, builder *TransactionWriteSetBuilder, item T) error {
	if f.ItemFunc == nil {
		return nil
	}
	return f.ItemFunc(ctx, builder, item)
}

func (f PagerFuncs[T]) FinishPage(ctx context.Context, builder *TransactionWriteSetBuilder) error {
	if f.FinishPageFunc == nil {
		return nil
	}
	return f.FinishPageFunc(ctx, builder)
}

func (f PagerFuncs[T]) PageWritten(ctx context.Context, set TransactionWriteSet) error {
	if f.PageWrittenFunc == nil {
		return nil
	}
	return f.PageWrittenFunc(ctx, set)
}

// PagerOptions configures a WritingPager.
type PagerOptions struct {
	MaxTransactionItems int         // Operations per transaction (default MaxTransactionItems)
	Logger              *zap.Logger // Default discards everything
	Metrics             *Metrics    // Optional
}

// WritingPager applies a list of updates as a sequence of transactions of
// at most MaxTransactionItems operations each. Pages are written one at a
// time; a failed transaction stops the pager with every earlier page
// committed.
type WritingPager[T any] struct {
	db           Transactor
	updates      []T
	handler      PagerHandler[T]
	maxItems     int
	logger       *zap.Logger
	metrics      *Metrics
	updatedCount int
}

// NewWritingPager returns a pager over updates.
func NewWritingPager[T any](db Transactor, updates []T, handler PagerHandler[T], opts ...func(*PagerOptions)) *WritingPager[T] {
	options := PagerOptions{MaxTransactionItems: MaxTransactionItems}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &WritingPager[T]{
		db:       db,
		updates:  updates,
		handler:  handler,
		maxItems: options.MaxTransactionItems,
		logger:   options.Logger,
		metrics:  options.Metrics,
	}
}

// UpdatedCount returns the number of updates committed so far.
func (p *WritingPager[T]) UpdatedCount() int { return p.updatedCount }

// RemainingUpdates returns the updates not yet committed. The result shares
// storage with the slice passed to NewWritingPager.
func (p *WritingPager[T]) RemainingUpdates() []T { return p.updates[p.updatedCount:] }

// Execute writes pages until every update is committed. The context is
// checked between pages.
func (p *WritingPager[T]) Execute(ctx context.Context) error {
	for p.updatedCount < len(p.updates) {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied := 0
		err := p.handler.EachPage(ctx, func(ctx context.Context) error {
			n, err := p.writePage(ctx)
			applied += n
			return err
		})
		if err != nil {
			return err
		}
		if applied == 0 {
			return fmt.Errorf("%w: %d of %d updates applied", ErrPagerStalled, p.updatedCount, len(p.updates))
		}
	}
	return nil
}

// writePage writes one page and returns the number of updates it applied.
// A page into which no update fits is abandoned without a transaction.
func (p *WritingPager[T]) writePage(ctx context.Context) (int, error) {
	remaining := p.RemainingUpdates()
	size, err := p.handler.BeforePage(ctx, remaining, p.maxItems)
	if err != nil {
		return 0, err
	}
	size = max(0, min(size, len(remaining)))

	page := NewTransactionWriteSetBuilder()
	count := 0
	for _, update := range remaining[:size] {
		builder := NewTransactionWriteSetBuilder()
		if err := p.handler.Item(ctx, builder, update); err != nil {
			return 0, err
		}
		ops, err := builder.Build()
		if err != nil {
			return 0, err
		}
		if page.Size()+ops.Size() > p.maxItems {
			break
		}
		if err := page.AddAll(ops).Err(); err != nil {
			return 0, err
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}

	if err := p.handler.FinishPage(ctx, page); err != nil {
		return 0, err
	}
	set, err := page.Build()
	if err != nil {
		return 0, err
	}
	if set.Size() > p.maxItems {
		return 0, fmt.Errorf("%w: page has %d operations, max %d", ErrPagerInvariant, set.Size(), p.maxItems)
	}
	if err := p.db.TransactionWrite(ctx, set); err != nil {
		return 0, err
	}

	p.updatedCount += count
	p.metrics.pageWritten(count)
	p.logger.Info("pager wrote page",
		zap.Int("items", count),
		zap.Int("operations", set.Size()),
		zap.Int("updated", p.updatedCount),
		zap.Int("total", len(p.updates)))
	return count, p.handler.PageWritten(ctx, set)
}
