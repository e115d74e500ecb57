package tempest

import (
	"fmt"
	"slices"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IndexKind distinguishes global from local secondary indexes.
type IndexKind string

const (
	GlobalIndex IndexKind = "global"
	LocalIndex  IndexKind = "local"
)

// IndexShape declares one secondary index of a physical table.
type IndexShape struct {
	Name     string    `yaml:"name" validate:"required"`
	Kind     IndexKind `yaml:"kind" validate:"required,oneof=global local"`
	HashKey  string    `yaml:"hashKey"`  // Empty for local indexes, which share the table hash key
	RangeKey string    `yaml:"rangeKey"` // Optional for global indexes
}

// Shape is the physical row schema shared by every record type stored in
// one table.
type Shape struct {
	HashKey        string                                `yaml:"hashKey" validate:"required"`
	RangeKey       string                                `yaml:"rangeKey"`
	Attributes     []string                              `yaml:"attributes" validate:"dive,required"`
	AttributeTypes map[string]types.ScalarAttributeType `yaml:"attributeTypes" validate:"dive,oneof=S N B"`
	Indexes        []IndexShape                          `yaml:"indexes" validate:"dive"`
}

// Validate checks that the shape is internally consistent.
func (s Shape) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Indexes))
	for _, idx := range s.Indexes {
		if _, ok := seen[idx.Name]; ok {
			return fmt.Errorf("invalid shape: index %q declared twice", idx.Name)
		}
		seen[idx.Name] = struct{}{}

		switch idx.Kind {
		case LocalIndex:
			if s.RangeKey == "" {
				return fmt.Errorf("invalid shape: local index %q needs a table with a range key", idx.Name)
			}
			if idx.HashKey != "" && idx.HashKey != s.HashKey {
				return fmt.Errorf("invalid shape: local index %q must use hash key %q", idx.Name, s.HashKey)
			}
			if idx.RangeKey == "" {
				return fmt.Errorf("invalid shape: local index %q needs a range key", idx.Name)
			}
		case GlobalIndex:
			if idx.HashKey == "" {
				return fmt.Errorf("invalid shape: global index %q needs a hash key", idx.Name)
			}
		}
	}
	return nil
}

// AttributeNames returns the sorted set of attributes declared by the shape,
// key attributes included.
func (s Shape) AttributeNames() []string {
	set := make(map[string]struct{}, len(s.Attributes)+2)
	for _, name := range s.Attributes {
		set[name] = struct{}{}
	}
	for _, name := range s.keyAttributes() {
		set[name] = struct{}{}
	}
	for _, idx := range s.Indexes {
		set[idx.hashKey(s)] = struct{}{}
		if idx.RangeKey != "" {
			set[idx.RangeKey] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttributeType returns the scalar type of a key attribute, defaulting to S.
func (s Shape) AttributeType(name string) types.ScalarAttributeType {
	if t, ok := s.AttributeTypes[name]; ok {
		return t
	}
	return types.ScalarAttributeTypeS
}

// Index returns the index with the given name.
func (s Shape) Index(name string) (IndexShape, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexShape{}, false
}

func (s Shape) hasAttribute(name string) bool {
	_, ok := slices.BinarySearch(s.AttributeNames(), name)
	return ok
}

// keyAttributes returns the primary key attributes, hash key first.
func (s Shape) keyAttributes() []string {
	if s.RangeKey == "" {
		return []string{s.HashKey}
	}
	return []string{s.HashKey, s.RangeKey}
}

func (s Shape) isPrimaryKey(name string) bool {
	return name == s.HashKey || (s.RangeKey != "" && name == s.RangeKey)
}

func (s Shape) isKeyAttribute(name string) bool {
	if s.isPrimaryKey(name) {
		return true
	}
	for _, idx := range s.Indexes {
		if name == idx.hashKey(s) || (idx.RangeKey != "" && name == idx.RangeKey) {
			return true
		}
	}
	return false
}

// requiresPrefix reports whether a field backing name must carry a prefix:
// the primary range key always, and index range keys that are not already
// primary key attributes.
func (s Shape) requiresPrefix(name string) bool {
	if s.RangeKey != "" && name == s.RangeKey {
		return true
	}
	for _, idx := range s.Indexes {
		if idx.RangeKey == name && !s.isPrimaryKey(name) {
			return true
		}
	}
	return false
}

// keysOf returns the hash and range attributes of the primary key, or of the
// named index when index is not empty.
func (s Shape) keysOf(index string) (hash, rng string) {
	if index == "" {
		return s.HashKey, s.RangeKey
	}
	idx, _ := s.Index(index)
	return idx.hashKey(s), idx.RangeKey
}

// isIndexKey reports whether name is the hash or range attribute of index.
func (s Shape) isIndexKey(index, name string) bool {
	hash, rng := s.keysOf(index)
	return name == hash || (rng != "" && name == rng)
}

func (i IndexShape) hashKey(s Shape) string {
	if i.HashKey == "" {
		return s.HashKey
	}
	return i.HashKey
}
