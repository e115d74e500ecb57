package tempest

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table is a physical DynamoDB table bound to its row shape. Record, key and
// offset types are bound to a table through NewInlineView and
// NewSecondaryIndex.
type Table struct {
	db      *DB
	name    string
	shape   Shape
	columns map[string]column // guarded by db.registry.mu
}

// Name returns the physical table name.
func (t *Table) Name() string { return t.name }

// Shape returns the table's row shape.
func (t *Table) Shape() Shape { return t.shape }

// NewInlineView binds record type I and its primary key type K to t.
func NewInlineView[K, I any](t *Table, key Mapping[K], item Mapping[I]) (*InlineView[K, I], error) {
	if key.index != "" {
		return nil, fmt.Errorf("key mapping for index %q: use NewSecondaryIndex", key.index)
	}
	v, err := newView(t, key, item)
	if err != nil {
		return nil, err
	}
	return &InlineView[K, I]{view: v}, nil
}

// NewSecondaryIndex binds record type I and the offset type K of one of t's
// secondary indexes. The offset mapping must name its index with ForIndex.
func NewSecondaryIndex[K, I any](t *Table, offset Mapping[K], item Mapping[I]) (*SecondaryIndex[K, I], error) {
	if offset.index == "" {
		return nil, fmt.Errorf("offset mapping for %s: missing ForIndex", typeName(reflect.TypeFor[K]()))
	}
	v, err := newView(t, offset, item)
	if err != nil {
		return nil, err
	}
	return &SecondaryIndex[K, I]{view: v}, nil
}

func newView[K, I any](t *Table, key Mapping[K], item Mapping[I]) (view[K, I], error) {
	ib, err := bindItem(t, item)
	if err != nil {
		return view[K, I]{}, err
	}
	kb, err := bindKey(t, key, ib)
	if err != nil {
		return view[K, I]{}, err
	}
	return view[K, I]{
		table:     t,
		index:     kb.index,
		item:      ib,
		itemCodec: ib.codec.(*mappingCodec[I]),
		keyCodec:  kb.codec.(*mappingCodec[K]),
	}, nil
}

// CodecFor returns the codec of a record, key or offset type bound to t.
func CodecFor[T any](t *Table) (Codec[T], error) {
	typ := reflect.TypeFor[T]()
	if b, ok := t.db.registry.item(typ); ok && b.table == t {
		return b.codec.(*mappingCodec[T]), nil
	}
	if b, ok := t.db.registry.key(typ); ok && b.item.table == t {
		return b.codec.(*mappingCodec[T]), nil
	}
	return nil, fmt.Errorf("%w: %s is not bound to table %q", ErrUnregisteredType, typeName(typ), t.name)
}

// primaryKey extracts the primary key attributes of row.
func (t *Table) primaryKey(row Item) (Item, error) {
	key := make(Item, 2)
	for _, name := range t.shape.keyAttributes() {
		av, ok := row[name]
		if !ok {
			return nil, fmt.Errorf("row for table %q is missing key attribute %q", t.name, name)
		}
		key[name] = av
	}
	return key, nil
}

// startKey keeps the attributes of row that DynamoDB accepts as an exclusive
// start key for index: the primary key plus the index key.
func (t *Table) startKey(row Item, index string) Item {
	names := t.shape.keyAttributes()
	if index != "" {
		hash, rng := t.shape.keysOf(index)
		names = append(names, hash)
		if rng != "" {
			names = append(names, rng)
		}
	}
	key := make(Item, len(names))
	for _, name := range names {
		if av, ok := row[name]; ok {
			key[name] = av
		}
	}
	return key
}

// describeKey formats a primary key as table{hash=value, range=value}.
func (t *Table) describeKey(key Item) string {
	var b strings.Builder
	b.WriteString(t.name)
	b.WriteByte('{')
	for i, name := range t.shape.keyAttributes() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(formatKeyValue(key[name]))
	}
	b.WriteByte('}')
	return b.String()
}

func formatKeyValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(v.Value)
	case nil:
		return "<missing>"
	default:
		return fmt.Sprintf("<%T>", av)
	}
}

// keyString identifies a primary key within a table for request matching.
func (t *Table) keyString(key Item) string {
	return t.describeKey(key)
}
