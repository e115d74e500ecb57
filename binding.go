package tempest

import (
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Field binds one field of T to the physical row. Fields are created with
// Bind or Constant and collected into a Mapping.
type Field[T any] struct {
	name      string
	typ       reflect.Type // field type with pointers removed
	nilable   bool
	directive Directive
	encode    func(*T) (types.AttributeValue, error) // nil result means absent
	decode    func(*T, types.AttributeValue) error
}

// Bind declares a field named field whose storage is reached through ptr.
//
//	tempest.Bind("album_title", func(a *AlbumInfo) *string { return &a.AlbumTitle })
func Bind[T, V any](field string, ptr func(*T) *V, opts ...DirectiveOption) Field[T] {
	typ := reflect.TypeFor[V]()
	nilable := false
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
		nilable = true
	}
	return Field[T]{
		name:      field,
		typ:       typ,
		nilable:   nilable,
		directive: newDirective(opts),
		encode: func(v *T) (types.AttributeValue, error) {
			av, err := attributevalue.Marshal(*ptr(v))
			if err != nil {
				return nil, err
			}
			if _, ok := av.(*types.AttributeValueMemberNULL); ok {
				return nil, nil
			}
			return av, nil
		},
		decode: func(v *T, av types.AttributeValue) error {
			return attributevalue.Unmarshal(av, ptr(v))
		},
	}
}

// Constant declares a field that always holds value, typically a range key
// that carries nothing but its prefix. Decoding checks the stored value
// instead of assigning it.
func Constant[T any](field string, value string, opts ...DirectiveOption) Field[T] {
	return Field[T]{
		name:      field,
		typ:       reflect.TypeFor[string](),
		directive: newDirective(opts),
		encode: func(*T) (types.AttributeValue, error) {
			return &types.AttributeValueMemberS{Value: value}, nil
		},
		decode: func(_ *T, av types.AttributeValue) error {
			if s, ok := av.(*types.AttributeValueMemberS); ok && s.Value == value {
				return nil
			}
			return &constantMismatch{want: value}
		},
	}
}

// Name returns the declared field name.
func (f Field[T]) Name() string { return f.name }

// Directive returns the field's directive.
func (f Field[T]) Directive() Directive { return f.directive }

type constantMismatch struct{ want string }

func (e *constantMismatch) Error() string { return "expected constant " + e.want }

// Mapping is the explicit registration of a record, key or offset type: the
// list of its bound fields, an optional constructor and, for offset types,
// the secondary index it addresses.
type Mapping[T any] struct {
	fields []Field[T]
	index  string
	newFn  func() T
}

// Map builds a Mapping from fields.
func Map[T any](fields ...Field[T]) Mapping[T] {
	return Mapping[T]{fields: fields}
}

// ForIndex marks the mapping as an offset type of the named secondary index.
func (m Mapping[T]) ForIndex(name string) Mapping[T] {
	m.index = name
	return m
}

// WithConstructor sets the function used to create values while decoding.
// It is required for pointer and interface types.
func (m Mapping[T]) WithConstructor(fn func() T) Mapping[T] {
	m.newFn = fn
	return m
}

// Fields returns the bound fields in declaration order.
func (m Mapping[T]) Fields() []Field[T] {
	return append([]Field[T](nil), m.fields...)
}

// Index returns the secondary index name, if any.
func (m Mapping[T]) Index() string { return m.index }
