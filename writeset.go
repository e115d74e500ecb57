package tempest

import (
	"fmt"
	"reflect"
)

// ItemSet is a collection of records of any bound types, as returned by
// BatchLoad and TransactionLoad.
type ItemSet struct {
	values []any
}

// NewItemSet returns a set holding items in order.
func NewItemSet(items ...any) ItemSet {
	return ItemSet{values: append([]any(nil), items...)}
}

// Len returns the number of items.
func (s ItemSet) Len() int { return len(s.values) }

// All returns every item in order.
func (s ItemSet) All() []any { return append([]any(nil), s.values...) }

// ItemsOf returns the items of s whose type is T.
func ItemsOf[T any](s ItemSet) []T {
	return filter[T](s.values)
}

// KeySet is a collection of keys of any bound key or record types.
type KeySet struct {
	values []any
}

// NewKeySet returns a set holding keys in order.
func NewKeySet(keys ...any) KeySet {
	return KeySet{values: append([]any(nil), keys...)}
}

// Len returns the number of keys.
func (s KeySet) Len() int { return len(s.values) }

// All returns every key in order.
func (s KeySet) All() []any { return append([]any(nil), s.values...) }

// KeysOf returns the keys of s whose type is K.
func KeysOf[K any](s KeySet) []K {
	return filter[K](s.values)
}

func filter[T any](values []any) []T {
	var out []T
	for _, v := range values {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// writeEntry is one value of a write set with its options.
type writeEntry struct {
	value   any
	options WriteOptions
}

// entrySet is an insertion-ordered set of write entries for one role.
type entrySet struct {
	entries []writeEntry
	seen    map[string]struct{}
}

// add records value, or reports ErrDuplicateWriteSetEntry if an equal value
// is already present.
func (s *entrySet) add(role string, e writeEntry) error {
	id := identity(e.value)
	if _, ok := s.seen[id]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicateWriteSetEntry, role, id)
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	s.seen[id] = struct{}{}
	s.entries = append(s.entries, e)
	return nil
}

func (s *entrySet) values() []any {
	values := make([]any, len(s.entries))
	for i, e := range s.entries {
		values[i] = e.value
	}
	return values
}

func (s *entrySet) clone() entrySet {
	return entrySet{entries: append([]writeEntry(nil), s.entries...)}
}

// identity compares values by type and content. Pointer fields compare by
// address.
func identity(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String() + ":" + fmt.Sprintf("%#v", v)
}

// TransactionWriteSet is an immutable set of saves, deletes and condition
// checks applied atomically by DB.TransactionWrite.
type TransactionWriteSet struct {
	saves, deletes, checks entrySet
	token                  string
}

// ItemsToSave returns the records to save.
func (s TransactionWriteSet) ItemsToSave() ItemSet { return ItemSet{values: s.saves.values()} }

// KeysToDelete returns the keys to delete.
func (s TransactionWriteSet) KeysToDelete() KeySet { return KeySet{values: s.deletes.values()} }

// KeysToCheck returns the keys whose conditions are checked.
func (s TransactionWriteSet) KeysToCheck() KeySet { return KeySet{values: s.checks.values()} }

// IdempotencyToken returns the client request token, if any.
func (s TransactionWriteSet) IdempotencyToken() string { return s.token }

// Size returns the number of operations in the transaction.
func (s TransactionWriteSet) Size() int {
	return len(s.saves.entries) + len(s.deletes.entries) + len(s.checks.entries)
}

// TransactionWriteSetBuilder accumulates a TransactionWriteSet. The first
// duplicate entry is recorded and returned by Err and Build; operations
// added after it are ignored.
type TransactionWriteSetBuilder struct {
	saves, deletes, checks entrySet
	token                  string
	err                    error
}

// NewTransactionWriteSetBuilder returns an empty builder.
func NewTransactionWriteSetBuilder() *TransactionWriteSetBuilder {
	return &TransactionWriteSetBuilder{}
}

// Save adds a record to save.
func (b *TransactionWriteSetBuilder) Save(item any, opts ...WriteOption) *TransactionWriteSetBuilder {
	return b.add(&b.saves, "save", writeEntry{value: item, options: newWriteOptions(opts)})
}

// Delete adds a key to delete.
func (b *TransactionWriteSetBuilder) Delete(key any, opts ...WriteOption) *TransactionWriteSetBuilder {
	return b.add(&b.deletes, "delete", writeEntry{value: key, options: newWriteOptions(opts)})
}

// CheckCondition adds a key whose condition must hold for the transaction
// to commit. Without WithCondition the row must exist.
func (b *TransactionWriteSetBuilder) CheckCondition(key any, opts ...WriteOption) *TransactionWriteSetBuilder {
	return b.add(&b.checks, "check", writeEntry{value: key, options: newWriteOptions(opts)})
}

// IdempotencyToken makes retries of the same transaction idempotent.
func (b *TransactionWriteSetBuilder) IdempotencyToken(token string) *TransactionWriteSetBuilder {
	b.token = token
	return b
}

// AddAll adds every operation of set.
func (b *TransactionWriteSetBuilder) AddAll(set TransactionWriteSet) *TransactionWriteSetBuilder {
	for _, e := range set.saves.entries {
		b.add(&b.saves, "save", e)
	}
	for _, e := range set.deletes.entries {
		b.add(&b.deletes, "delete", e)
	}
	for _, e := range set.checks.entries {
		b.add(&b.checks, "check", e)
	}
	if set.token != "" {
		b.token = set.token
	}
	return b
}

func (b *TransactionWriteSetBuilder) add(s *entrySet, role string, e writeEntry) *TransactionWriteSetBuilder {
	if b.err != nil {
		return b
	}
	b.err = s.add(role, e)
	return b
}

// Size returns the number of operations added so far.
func (b *TransactionWriteSetBuilder) Size() int {
	return len(b.saves.entries) + len(b.deletes.entries) + len(b.checks.entries)
}

// Err returns the first duplicate entry error, if any.
func (b *TransactionWriteSetBuilder) Err() error { return b.err }

// Build returns a snapshot of the builder.
func (b *TransactionWriteSetBuilder) Build() (TransactionWriteSet, error) {
	if b.err != nil {
		return TransactionWriteSet{}, b.err
	}
	return TransactionWriteSet{
		saves:   b.saves.clone(),
		deletes: b.deletes.clone(),
		checks:  b.checks.clone(),
		token:   b.token,
	}, nil
}

// BatchWriteSet is an immutable set of unconditional puts and deletes
// applied best-effort by DB.BatchWrite.
type BatchWriteSet struct {
	clobbers, deletes entrySet
}

// ItemsToClobber returns the records to put.
func (s BatchWriteSet) ItemsToClobber() ItemSet { return ItemSet{values: s.clobbers.values()} }

// KeysToDelete returns the keys to delete.
func (s BatchWriteSet) KeysToDelete() KeySet { return KeySet{values: s.deletes.values()} }

// Size returns the number of write requests.
func (s BatchWriteSet) Size() int { return len(s.clobbers.entries) + len(s.deletes.entries) }

// BatchWriteSetBuilder accumulates a BatchWriteSet.
type BatchWriteSetBuilder struct {
	clobbers, deletes entrySet
	err               error
}

// NewBatchWriteSetBuilder returns an empty builder.
func NewBatchWriteSetBuilder() *BatchWriteSetBuilder {
	return &BatchWriteSetBuilder{}
}

// Clobber adds records to put, replacing any existing rows.
func (b *BatchWriteSetBuilder) Clobber(items ...any) *BatchWriteSetBuilder {
	for _, item := range items {
		b.add(&b.clobbers, "clobber", writeEntry{value: item})
	}
	return b
}

// Delete adds keys to delete.
func (b *BatchWriteSetBuilder) Delete(keys ...any) *BatchWriteSetBuilder {
	for _, key := range keys {
		b.add(&b.deletes, "delete", writeEntry{value: key})
	}
	return b
}

// AddAll adds every request of set.
func (b *BatchWriteSetBuilder) AddAll(set BatchWriteSet) *BatchWriteSetBuilder {
	for _, e := range set.clobbers.entries {
		b.add(&b.clobbers, "clobber", e)
	}
	for _, e := range set.deletes.entries {
		b.add(&b.deletes, "delete", e)
	}
	return b
}

func (b *BatchWriteSetBuilder) add(s *entrySet, role string, e writeEntry) {
	if b.err == nil {
		b.err = s.add(role, e)
	}
}

// Err returns the first duplicate entry error, if any.
func (b *BatchWriteSetBuilder) Err() error { return b.err }

// Build returns a snapshot of the builder.
func (b *BatchWriteSetBuilder) Build() (BatchWriteSet, error) {
	if b.err != nil {
		return BatchWriteSet{}, b.err
	}
	return BatchWriteSet{clobbers: b.clobbers.clone(), deletes: b.deletes.clone()}, nil
}
