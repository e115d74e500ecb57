package tempest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Codec converts between an application type and its physical row.
type Codec[T any] interface {
	ToPhysical(T) (Item, error)
	ToApplication(Item) (T, error)
}

// Item is a physical DynamoDB row.
type Item = map[string]types.AttributeValue

// codecField is a Field with its resolved attribute names and encoding.
type codecField[T any] struct {
	field      Field[T]
	names      []string
	prefix     string
	allowEmpty bool
	required   bool
}

// mappingCodec is the Codec built for a validated Mapping. It is immutable
// once constructed.
type mappingCodec[T any] struct {
	typ    reflect.Type
	fields []codecField[T]
	newFn  func() T
}

var _ Codec[struct{}] = (*mappingCodec[struct{}])(nil)

// ToPhysical writes every field under each of its attribute names.
func (c *mappingCodec[T]) ToPhysical(v T) (Item, error) {
	row := make(Item, len(c.fields))
	for _, f := range c.fields {
		av, err := f.field.encode(&v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s.%s: %w", typeName(c.typ), f.field.name, err)
		}
		if f.prefix != "" {
			switch s := av.(type) {
			case nil:
				if f.allowEmpty {
					continue
				}
				av = &types.AttributeValueMemberS{Value: f.prefix}
			case *types.AttributeValueMemberS:
				// A pointer to "" would read back as nil, so it is stored like nil.
				if s.Value == "" && f.allowEmpty && f.field.nilable {
					continue
				}
				av = &types.AttributeValueMemberS{Value: f.prefix + s.Value}
			default:
				return nil, fmt.Errorf("failed to encode %s.%s: prefixed value is not a string", typeName(c.typ), f.field.name)
			}
		}
		if av == nil {
			continue
		}
		for _, name := range f.names {
			row[name] = av
		}
	}
	return row, nil
}

// ToApplication reads every field from the first of its attributes present
// in row. Absent attributes leave the zero value unless the field is required.
func (c *mappingCodec[T]) ToApplication(row Item) (T, error) {
	v := c.newValue()
	for _, f := range c.fields {
		name, av := lookup(row, f.names)
		if av == nil {
			if f.required {
				var zero T
				return zero, fmt.Errorf("%w: %q for %s.%s", ErrMissingAttribute, f.names[0], typeName(c.typ), f.field.name)
			}
			continue
		}
		if f.prefix != "" {
			s, ok := av.(*types.AttributeValueMemberS)
			if !ok || !strings.HasPrefix(s.Value, f.prefix) {
				var zero T
				return zero, fmt.Errorf("%w: attribute %q of %s expects prefix %q", ErrPrefixMismatch, name, typeName(c.typ), f.prefix)
			}
			value := strings.TrimPrefix(s.Value, f.prefix)
			if value == "" && f.field.nilable {
				continue
			}
			av = &types.AttributeValueMemberS{Value: value}
		}
		if err := f.field.decode(&v, av); err != nil {
			var zero T
			var cm *constantMismatch
			if errors.As(err, &cm) {
				return zero, fmt.Errorf("%w: attribute %q of %s: %v", ErrPrefixMismatch, name, typeName(c.typ), err)
			}
			return zero, fmt.Errorf("failed to decode %s.%s: %w", typeName(c.typ), f.field.name, err)
		}
	}
	return v, nil
}

func (c *mappingCodec[T]) newValue() T {
	if c.newFn != nil {
		return c.newFn()
	}
	var zero T
	return zero
}

// attributeNames returns every attribute written by the codec.
func (c *mappingCodec[T]) attributeNames() []string {
	var names []string
	for _, f := range c.fields {
		names = append(names, f.names...)
	}
	return names
}

func lookup(row Item, names []string) (string, types.AttributeValue) {
	for _, name := range names {
		av, ok := row[name]
		if !ok {
			continue
		}
		if _, null := av.(*types.AttributeValueMemberNULL); null {
			continue
		}
		return name, av
	}
	return "", nil
}

// erasedCodec is a Codec with the application type erased, used where values
// of many registered types flow through one call such as a transaction.
type erasedCodec struct {
	encode func(any) (Item, error)
	decode func(Item) (any, error)
}

func erase[T any](c Codec[T]) erasedCodec {
	return erasedCodec{
		encode: func(v any) (Item, error) {
			t, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("codec for %s cannot encode %T", typeName(reflect.TypeFor[T]()), v)
			}
			return c.ToPhysical(t)
		},
		decode: func(row Item) (any, error) {
			return c.ToApplication(row)
		},
	}
}
