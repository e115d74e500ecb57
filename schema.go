package tempest

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
)

// attribute is a field of a bound type with its directive resolved.
type attribute struct {
	field     string
	names     []string
	directive Directive
	typ       reflect.Type
}

func (a attribute) maps(name string) bool {
	return slices.Contains(a.names, name)
}

// boundItem is a record type validated against its table.
type boundItem struct {
	typ         reflect.Type
	table       *Table
	attributes  []attribute
	byField     map[string]attribute
	rangePrefix string // prefix of the field backing the table range key
	codec       any    // *mappingCodec[T]
	erased      erasedCodec
}

// boundKey is a key or offset type validated against its record type.
type boundKey struct {
	typ    reflect.Type
	item   *boundItem
	index  string
	codec  any // *mappingCodec[K]
	erased erasedCodec
}

// column records the first binding of a physical attribute within a table,
// against which later bindings must agree on type.
type column struct {
	owner reflect.Type
	field string
	typ   reflect.Type
}

// registry caches bound types by type identity. Bindings are computed
// outside the lock and published under it; the first published binding of a
// type wins and later duplicates are discarded.
type registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
	items  map[reflect.Type]*boundItem
	keys   map[reflect.Type]*boundKey
}

func (r *registry) item(typ reflect.Type) (*boundItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[typ]
	return b, ok
}

func (r *registry) key(typ reflect.Type) (*boundKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.keys[typ]
	return b, ok
}

func (r *registry) publishItem(b *boundItem) (*boundItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[b.typ]; ok {
		return existing, sameTable(existing, b.table)
	}
	for _, a := range b.attributes {
		for _, name := range a.names {
			c, ok := b.table.columns[name]
			if ok && c.typ != a.typ {
				return nil, &SchemaBindingError{
					Kind:      TypeMismatch,
					Type:      b.typ,
					Field:     a.field,
					Attribute: name,
					Other:     typeName(c.owner) + "." + c.field,
					Msg: fmt.Sprintf("attribute %q is %s here but %s in %s.%s",
						name, a.typ, c.typ, typeName(c.owner), c.field),
				}
			}
		}
	}
	for _, a := range b.attributes {
		for _, name := range a.names {
			if _, ok := b.table.columns[name]; !ok {
				b.table.columns[name] = column{owner: b.typ, field: a.field, typ: a.typ}
			}
		}
	}
	r.items[b.typ] = b
	return b, nil
}

func (r *registry) publishKey(b *boundKey) (*boundKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.keys[b.typ]; ok {
		return existing, sameItem(existing, b.item, b.index)
	}
	r.keys[b.typ] = b
	return b, nil
}

func sameTable(b *boundItem, t *Table) error {
	if b.table == t {
		return nil
	}
	return &SchemaBindingError{
		Kind:  AlreadyBound,
		Type:  b.typ,
		Other: b.table.name,
		Msg:   fmt.Sprintf("already bound to table %q", b.table.name),
	}
}

func sameItem(b *boundKey, item *boundItem, index string) error {
	if b.item == item && b.index == index {
		return nil
	}
	return &SchemaBindingError{
		Kind:  AlreadyBound,
		Type:  b.typ,
		Index: index,
		Other: typeName(b.item.typ),
		Msg: fmt.Sprintf("cannot bind %s to %s: already bound to %s",
			typeName(b.typ), typeName(item.typ), typeName(b.item.typ)),
	}
}

// bindItem validates a record mapping against t and returns its binding.
func bindItem[T any](t *Table, m Mapping[T]) (*boundItem, error) {
	typ := reflect.TypeFor[T]()
	if b, ok := t.db.registry.item(typ); ok {
		return b, sameTable(b, t)
	}
	if m.index != "" {
		return nil, &SchemaBindingError{
			Kind:  MisplacedDirective,
			Type:  typ,
			Index: m.index,
			Msg:   fmt.Sprintf("record types cannot be bound to index %q; bind an offset type instead", m.index),
		}
	}

	attrs, err := resolveFields(typ, m.fields)
	if err != nil {
		return nil, err
	}
	if err := validateItem(typ, t.shape, attrs); err != nil {
		return nil, err
	}
	if err := checkConstructible(typ, m.newFn != nil); err != nil {
		return nil, err
	}

	codec := &mappingCodec[T]{typ: typ, newFn: m.newFn}
	b := &boundItem{
		typ:        typ,
		table:      t,
		attributes: attrs,
		byField:    make(map[string]attribute, len(attrs)),
	}
	for i, a := range attrs {
		b.byField[a.field] = a
		if t.shape.RangeKey != "" && a.maps(t.shape.RangeKey) {
			b.rangePrefix = a.directive.Prefix
		}
		codec.fields = append(codec.fields, codecField[T]{
			field:      m.fields[i],
			names:      a.names,
			prefix:     a.directive.Prefix,
			allowEmpty: a.directive.AllowEmpty,
			required:   a.directive.Required,
		})
	}
	b.codec = codec
	b.erased = erase[T](codec)
	return t.db.registry.publishItem(b)
}

// bindKey validates a key or offset mapping against the record type it
// addresses and returns its binding.
func bindKey[K any](t *Table, m Mapping[K], item *boundItem) (*boundKey, error) {
	typ := reflect.TypeFor[K]()
	if b, ok := t.db.registry.key(typ); ok {
		return b, sameItem(b, item, m.index)
	}
	if m.index != "" {
		if _, ok := t.shape.Index(m.index); !ok {
			declared := make([]string, 0, len(t.shape.Indexes))
			for _, idx := range t.shape.Indexes {
				declared = append(declared, idx.Name)
			}
			return nil, &SchemaBindingError{
				Kind:  UnknownIndex,
				Type:  typ,
				Index: m.index,
				Msg:   fmt.Sprintf("index %q is not declared (declared indexes: %v)", m.index, declared),
			}
		}
	}

	codec := &mappingCodec[K]{typ: typ, newFn: m.newFn}
	var attrs []attribute
	seen := make(map[string]struct{}, len(m.fields))
	for _, f := range m.fields {
		if _, ok := seen[f.name]; ok {
			return nil, &SchemaBindingError{Kind: DuplicateAttribute, Type: typ, Field: f.name, Msg: "field declared twice"}
		}
		seen[f.name] = struct{}{}

		ia, ok := item.byField[f.name]
		if !ok {
			return nil, &SchemaBindingError{
				Kind:      UnknownAttribute,
				Type:      typ,
				Field:     f.name,
				Available: item.fieldNames(),
				Msg:       fmt.Sprintf("field %q must be declared on %s", f.name, typeName(item.typ)),
			}
		}
		if f.typ != ia.typ {
			return nil, &SchemaBindingError{
				Kind:  TypeMismatch,
				Type:  typ,
				Field: f.name,
				Other: typeName(item.typ) + "." + f.name,
				Msg:   fmt.Sprintf("field is %s here but %s on %s", f.typ, ia.typ, typeName(item.typ)),
			}
		}
		if f.directive.declared() && !f.directive.equal(ia.directive) {
			return nil, &SchemaBindingError{
				Kind:  MisplacedDirective,
				Type:  typ,
				Field: f.name,
				Other: typeName(item.typ) + "." + f.name,
				Msg: fmt.Sprintf("remove the directive from %s.%s; it is declared on %s.%s",
					typeName(typ), f.name, typeName(item.typ), f.name),
			}
		}
		attrs = append(attrs, ia)
		codec.fields = append(codec.fields, codecField[K]{
			field:      f,
			names:      ia.names,
			prefix:     ia.directive.Prefix,
			allowEmpty: ia.directive.AllowEmpty,
		})
	}

	// Offsets cover the primary key too, so a resumed read has a complete
	// start key.
	if err := checkKeyCoverage(typ, attrs, t.shape.HashKey, t.shape.RangeKey, ""); err != nil {
		return nil, err
	}
	if m.index != "" {
		hash, rng := t.shape.keysOf(m.index)
		if err := checkKeyCoverage(typ, attrs, hash, rng, m.index); err != nil {
			return nil, err
		}
	}
	if err := checkConstructible(typ, m.newFn != nil); err != nil {
		return nil, err
	}

	b := &boundKey{typ: typ, item: item, index: m.index, codec: codec, erased: erase[K](codec)}
	return t.db.registry.publishKey(b)
}

func checkKeyCoverage(typ reflect.Type, attrs []attribute, hash, rng, index string) error {
	if !covers(attrs, hash) {
		return &SchemaBindingError{
			Kind:      MissingHashKey,
			Type:      typ,
			Attribute: hash,
			Index:     index,
			Msg:       fmt.Sprintf("no field maps to hash key %q", hash),
		}
	}
	if rng != "" && !covers(attrs, rng) {
		return &SchemaBindingError{
			Kind:      MissingRangeKey,
			Type:      typ,
			Attribute: rng,
			Index:     index,
			Msg:       fmt.Sprintf("no field maps to range key %q", rng),
		}
	}
	return nil
}

func resolveFields[T any](typ reflect.Type, fields []Field[T]) ([]attribute, error) {
	attrs := make([]attribute, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f.name]; ok {
			return nil, &SchemaBindingError{Kind: DuplicateAttribute, Type: typ, Field: f.name, Msg: "field declared twice"}
		}
		seen[f.name] = struct{}{}

		names, kind, err := f.directive.resolve(f.name)
		if err != nil {
			return nil, &SchemaBindingError{Kind: kind, Type: typ, Field: f.name, Msg: err.Error()}
		}
		attrs = append(attrs, attribute{field: f.name, names: names, directive: f.directive, typ: f.typ})
	}
	return attrs, nil
}

func validateItem(typ reflect.Type, shape Shape, attrs []attribute) error {
	if !covers(attrs, shape.HashKey) {
		return &SchemaBindingError{
			Kind:      MissingHashKey,
			Type:      typ,
			Attribute: shape.HashKey,
			Msg:       fmt.Sprintf("no field maps to hash key %q", shape.HashKey),
		}
	}
	if shape.RangeKey != "" && !covers(attrs, shape.RangeKey) {
		return &SchemaBindingError{
			Kind:      MissingRangeKey,
			Type:      typ,
			Attribute: shape.RangeKey,
			Msg:       fmt.Sprintf("no field maps to range key %q", shape.RangeKey),
		}
	}

	available := shape.AttributeNames()
	owners := make(map[string]string)
	for _, a := range attrs {
		for _, name := range a.names {
			if _, ok := slices.BinarySearch(available, name); !ok {
				return &SchemaBindingError{
					Kind:      UnknownAttribute,
					Type:      typ,
					Field:     a.field,
					Attribute: name,
					Available: available,
					Msg:       fmt.Sprintf("attribute %q is not declared by the table", name),
				}
			}
			if other, ok := owners[name]; ok {
				return &SchemaBindingError{
					Kind:      DuplicateAttribute,
					Type:      typ,
					Field:     a.field,
					Attribute: name,
					Other:     other,
					Msg:       fmt.Sprintf("attribute %q is also mapped by field %q", name, other),
				}
			}
			owners[name] = a.field
		}
	}

	for _, a := range attrs {
		if name, kind, err := a.directive.checkPrefix(shape, a.names); err != nil {
			return &SchemaBindingError{Kind: kind, Type: typ, Field: a.field, Attribute: name, Msg: err.Error()}
		}
		if a.directive.Prefix != "" && a.typ.Kind() != reflect.String {
			return &SchemaBindingError{
				Kind:  PrefixNotString,
				Type:  typ,
				Field: a.field,
				Msg:   fmt.Sprintf("prefix %q needs a string field, got %s", a.directive.Prefix, a.typ),
			}
		}
	}
	return nil
}

func checkConstructible(typ reflect.Type, hasConstructor bool) error {
	if hasConstructor {
		return nil
	}
	switch typ.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Func, reflect.Chan:
		return &SchemaBindingError{
			Kind: NotConstructible,
			Type: typ,
			Msg:  fmt.Sprintf("%s values cannot be created from their zero value; provide a constructor", typ.Kind()),
		}
	}
	return nil
}

func covers(attrs []attribute, name string) bool {
	for _, a := range attrs {
		if a.maps(name) {
			return true
		}
	}
	return false
}

func (b *boundItem) fieldNames() []string {
	names := make([]string, 0, len(b.byField))
	for name := range b.byField {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// attributeNames returns the sorted physical attributes of the record type.
func (b *boundItem) attributeNames() []string {
	var names []string
	for _, a := range b.attributes {
		names = append(names, a.names...)
	}
	sort.Strings(names)
	return slices.Compact(names)
}
