package tempest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string
	Kind  string
	Title string
	Year  int
	Label string
}

type recordKey struct {
	ID   string
	Kind string
}

type labelOffset struct {
	Label string
	ID    string
}

type otherRecord struct {
	ID   string
	Year string
}

func recordShape() Shape {
	return Shape{
		HashKey:    "pk",
		RangeKey:   "sk",
		Attributes: []string{"title", "year"},
		Indexes:    []IndexShape{{Name: "by_label", Kind: GlobalIndex, HashKey: "label", RangeKey: "pk"}},
	}
}

func recordFields(extra ...Field[record]) Mapping[record] {
	fields := []Field[record]{
		Bind("id", func(r *record) *string { return &r.ID }, Name("pk")),
		Bind("kind", func(r *record) *string { return &r.Kind }, Name("sk"), Prefix("REC_")),
		Bind("year", func(r *record) *int { return &r.Year }),
	}
	return Map(append(fields, extra...)...)
}

var recordKeyMapping = Map(
	Bind("id", func(k *recordKey) *string { return &k.ID }),
	Bind("kind", func(k *recordKey) *string { return &k.Kind }),
)

func newRecordTable(t *testing.T) *Table {
	t.Helper()
	table, err := New(nil).Table("records", recordShape())
	require.NoError(t, err)
	return table
}

func bindingError(t *testing.T, err error, kind BindingErrorKind) *SchemaBindingError {
	t.Helper()
	var be *SchemaBindingError
	require.True(t, errors.As(err, &be), "expected a schema binding error, got %v", err)
	assert.Equal(t, kind, be.Kind, be.Error())
	return be
}

func TestBindItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mapping Mapping[record]
		kind    BindingErrorKind
		msg     string
	}{
		{
			name: "missing hash key",
			mapping: Map(
				Bind("kind", func(r *record) *string { return &r.Kind }, Name("sk"), Prefix("REC_")),
			),
			kind: MissingHashKey,
			msg:  `missing hash key: record: no field maps to hash key "pk"`,
		},
		{
			name: "missing range key",
			mapping: Map(
				Bind("id", func(r *record) *string { return &r.ID }, Name("pk")),
			),
			kind: MissingRangeKey,
			msg:  `missing range key: record: no field maps to range key "sk"`,
		},
		{
			name:    "unknown attribute",
			mapping: recordFields(Bind("colour", func(r *record) *string { return &r.Title })),
			kind:    UnknownAttribute,
			msg:     `unknown attribute: record.colour: attribute "colour" is not declared by the table (available attributes: label, pk, sk, title, year)`,
		},
		{
			name:    "ambiguous directive",
			mapping: recordFields(Bind("title", func(r *record) *string { return &r.Title }, Name("title"), Names("title", "label"))),
			kind:    AmbiguousDirective,
			msg:     `ambiguous directive: record.title: declare either name "title" or names [title label], not both`,
		},
		{
			name: "missing prefix",
			mapping: Map(
				Bind("id", func(r *record) *string { return &r.ID }, Name("pk")),
				Bind("kind", func(r *record) *string { return &r.Kind }, Name("sk")),
			),
			kind: MissingPrefix,
			msg:  `missing prefix: record.kind: attribute "sk" is a range key and needs a prefix`,
		},
		{
			name:    "unexpected prefix",
			mapping: recordFields(Bind("title", func(r *record) *string { return &r.Title }, Prefix("T_"))),
			kind:    UnexpectedPrefix,
			msg:     `unexpected prefix: record.title: prefix "T_" is only allowed on key attributes`,
		},
		{
			name: "prefix on a number",
			mapping: Map(
				Bind("id", func(r *record) *string { return &r.ID }, Name("pk")),
				Bind("kind", func(r *record) *string { return &r.Kind }, Name("sk"), Prefix("REC_")),
				Bind("year", func(r *record) *int { return &r.Year }, Name("label"), Prefix("Y_")),
			),
			kind: PrefixNotString,
		},
		{
			name:    "two fields on one attribute",
			mapping: recordFields(Bind("title", func(r *record) *string { return &r.Title }, Name("year"))),
			kind:    DuplicateAttribute,
			msg:     `duplicate attribute: record.title: attribute "year" is also mapped by field "year"`,
		},
		{
			name:    "field declared twice",
			mapping: recordFields(Bind("year", func(r *record) *int { return &r.Year })),
			kind:    DuplicateAttribute,
		},
		{
			name:    "record bound to an index",
			mapping: recordFields().ForIndex("by_label"),
			kind:    MisplacedDirective,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInlineView(newRecordTable(t), recordKeyMapping, tt.mapping)
			be := bindingError(t, err, tt.kind)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, be.Error())
			}
		})
	}
}

func TestBindItem_Available(t *testing.T) {
	_, err := NewInlineView(newRecordTable(t), recordKeyMapping,
		recordFields(Bind("colour", func(r *record) *string { return &r.Title })))
	be := bindingError(t, err, UnknownAttribute)
	assert.Equal(t, "colour", be.Attribute)
	assert.Equal(t, recordShape().AttributeNames(), be.Available)
}

func TestBindItem_TypeMismatchAcrossRecords(t *testing.T) {
	table := newRecordTable(t)
	_, err := NewInlineView(table, recordKeyMapping, recordFields())
	require.NoError(t, err)

	_, err = NewInlineView(table,
		Map(
			Bind("id", func(k *otherKey) *string { return &k.ID }),
			Constant[otherKey]("sk", ""),
		),
		Map(
			Bind("id", func(r *otherRecord) *string { return &r.ID }, Name("pk")),
			Constant[otherRecord]("sk", "", Prefix("OTHER_")),
			Bind("year", func(r *otherRecord) *string { return &r.Year }),
		))
	be := bindingError(t, err, TypeMismatch)
	assert.Equal(t, `type mismatch: otherRecord.year: attribute "year" is string here but int in record.year`, be.Error())
	assert.Equal(t, "record.year", be.Other)
}

type otherKey struct {
	ID string
}

func TestBindItem_NotConstructible(t *testing.T) {
	table := newRecordTable(t)
	pointerMapping := Map(
		Bind("id", func(r **record) *string { return &(*r).ID }, Name("pk")),
		Bind("kind", func(r **record) *string { return &(*r).Kind }, Name("sk"), Prefix("REC_")),
	)

	_, err := NewInlineView(table, recordKeyMapping, pointerMapping)
	bindingError(t, err, NotConstructible)

	view, err := NewInlineView(table, recordKeyMapping, pointerMapping.WithConstructor(func() *record { return &record{} }))
	require.NoError(t, err)

	got, err := view.ItemCodec().ToApplication(Item{"pk": str("r1"), "sk": str("REC_a")})
	require.NoError(t, err)
	assert.Equal(t, &record{ID: "r1", Kind: "a"}, got)
}

func TestBindItem_AlreadyBound(t *testing.T) {
	db := New(nil)
	first, err := db.Table("first", recordShape())
	require.NoError(t, err)
	second, err := db.Table("second", recordShape())
	require.NoError(t, err)

	_, err = NewInlineView(first, recordKeyMapping, recordFields())
	require.NoError(t, err)

	_, err = NewInlineView(second, recordKeyMapping, recordFields())
	be := bindingError(t, err, AlreadyBound)
	assert.Equal(t, `already bound: record: already bound to table "first"`, be.Error())

	other, err := New(nil).Table("second", recordShape())
	require.NoError(t, err)
	_, err = NewInlineView(other, recordKeyMapping, recordFields())
	assert.NoError(t, err, "registries are per DB")
}

func TestBindItem_RebindSameTable(t *testing.T) {
	table := newRecordTable(t)
	first, err := NewInlineView(table, recordKeyMapping, recordFields())
	require.NoError(t, err)

	second, err := NewInlineView(table, recordKeyMapping, recordFields())
	require.NoError(t, err)
	assert.Same(t, first.itemCodec, second.itemCodec)
}

func TestBindKey_Errors(t *testing.T) {
	tests := []struct {
		name string
		bind func(*Table) error
		kind BindingErrorKind
		msg  string
	}{
		{
			name: "field not on record",
			bind: func(table *Table) error {
				_, err := NewInlineView(table, Map(
					Bind("id", func(k *recordKey) *string { return &k.ID }),
					Bind("colour", func(k *recordKey) *string { return &k.Kind }),
				), recordFields())
				return err
			},
			kind: UnknownAttribute,
			msg:  `unknown attribute: recordKey.colour: field "colour" must be declared on record (available attributes: id, kind, year)`,
		},
		{
			name: "type differs from record",
			bind: func(table *Table) error {
				_, err := NewInlineView(table, Map(
					Bind("id", func(k *mismatchedKey) *string { return &k.ID }),
					Bind("kind", func(k *mismatchedKey) *int { return &k.Kind }),
				), recordFields())
				return err
			},
			kind: TypeMismatch,
			msg:  `type mismatch: mismatchedKey.kind: field is int here but string on record`,
		},
		{
			name: "directive on key field",
			bind: func(table *Table) error {
				_, err := NewInlineView(table, Map(
					Bind("id", func(k *recordKey) *string { return &k.ID }, Prefix("R_")),
					Bind("kind", func(k *recordKey) *string { return &k.Kind }),
				), recordFields())
				return err
			},
			kind: MisplacedDirective,
			msg:  `misplaced directive: recordKey.id: remove the directive from recordKey.id; it is declared on record.id`,
		},
		{
			name: "missing range key",
			bind: func(table *Table) error {
				_, err := NewInlineView(table, Map(
					Bind("id", func(k *recordKey) *string { return &k.ID }),
				), recordFields())
				return err
			},
			kind: MissingRangeKey,
		},
		{
			name: "unknown index",
			bind: func(table *Table) error {
				_, err := NewSecondaryIndex(table, Map(
					Bind("id", func(k *recordKey) *string { return &k.ID }),
				).ForIndex("by_year"), recordFields())
				return err
			},
			kind: UnknownIndex,
			msg:  `unknown index: recordKey: index "by_year" is not declared (declared indexes: [by_label])`,
		},
		{
			name: "offset without index hash key",
			bind: func(table *Table) error {
				_, err := NewSecondaryIndex(table, Map(
					Bind("id", func(k *recordKey) *string { return &k.ID }),
					Bind("kind", func(k *recordKey) *string { return &k.Kind }),
				).ForIndex("by_label"), recordFields(Bind("label", func(r *record) *string { return &r.Label })))
				return err
			},
			kind: MissingHashKey,
			msg:  `missing hash key: recordKey: no field maps to hash key "label"`,
		},
		{
			name: "offset without primary range key",
			bind: func(table *Table) error {
				_, err := NewSecondaryIndex(table, Map(
					Bind("label", func(o *labelOffset) *string { return &o.Label }),
					Bind("id", func(o *labelOffset) *string { return &o.ID }),
				).ForIndex("by_label"), recordFields(Bind("label", func(r *record) *string { return &r.Label })))
				return err
			},
			kind: MissingRangeKey,
			msg:  `missing range key: labelOffset: no field maps to range key "sk"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := bindingError(t, tt.bind(newRecordTable(t)), tt.kind)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, be.Error())
			}
		})
	}
}

type mismatchedKey struct {
	ID   string
	Kind int
}

func TestBindKey_AlreadyBoundToOtherRecord(t *testing.T) {
	table := newRecordTable(t)
	_, err := NewInlineView(table, recordKeyMapping, recordFields())
	require.NoError(t, err)

	_, err = NewInlineView(table, Map(
		Bind("id", func(k *recordKey) *string { return &k.ID }),
		Bind("kind", func(k *recordKey) *string { return &k.Kind }),
	), Map(
		Bind("id", func(r *otherRecord) *string { return &r.ID }, Name("pk")),
		Bind("kind", func(r *otherRecord) *string { return &r.Year }, Name("sk"), Prefix("OTHER_")),
	))
	bindingError(t, err, AlreadyBound)
}

func TestNewView_MappingKinds(t *testing.T) {
	table := newRecordTable(t)

	_, err := NewInlineView(table, recordKeyMapping.ForIndex("by_label"), recordFields())
	assert.ErrorContains(t, err, "use NewSecondaryIndex")

	_, err = NewSecondaryIndex(table, recordKeyMapping, recordFields())
	assert.ErrorContains(t, err, "missing ForIndex")
}

func TestDB_Table(t *testing.T) {
	db := New(nil, WithTableNameResolver(func(name string) string { return "dev_" + name }))

	first, err := db.Table("records", recordShape())
	require.NoError(t, err)
	assert.Equal(t, "dev_records", first.Name())

	again, err := db.Table("records", recordShape())
	require.NoError(t, err)
	assert.Same(t, first, again)

	shape := recordShape()
	shape.Attributes = append(shape.Attributes, "extra")
	_, err = db.Table("records", shape)
	assert.ErrorContains(t, err, "already bound to a different shape")

	_, err = db.Table("broken", Shape{})
	assert.ErrorContains(t, err, `table "broken": invalid shape`)
}
