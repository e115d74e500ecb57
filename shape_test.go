package tempest

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
)

func TestShape_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Shape)
		errMsg string
	}{
		{name: "valid", modify: func(*Shape) {}},
		{
			name:   "missing hash key",
			modify: func(s *Shape) { s.HashKey = "" },
			errMsg: "invalid shape",
		},
		{
			name:   "index declared twice",
			modify: func(s *Shape) { s.Indexes = append(s.Indexes, s.Indexes[0]) },
			errMsg: `index "by_owner" declared twice`,
		},
		{
			name:   "unknown index kind",
			modify: func(s *Shape) { s.Indexes[0].Kind = "regional" },
			errMsg: "invalid shape",
		},
		{
			name:   "global index without hash key",
			modify: func(s *Shape) { s.Indexes[0].HashKey = "" },
			errMsg: `global index "by_owner" needs a hash key`,
		},
		{
			name:   "local index without range key",
			modify: func(s *Shape) { s.Indexes[2].RangeKey = "" },
			errMsg: `local index "by_title" needs a range key`,
		},
		{
			name:   "local index with other hash key",
			modify: func(s *Shape) { s.Indexes[2].HashKey = "owner" },
			errMsg: `local index "by_title" must use hash key "pk"`,
		},
		{
			name:   "local index on hash-only table",
			modify: func(s *Shape) { s.RangeKey = "" },
			errMsg: `local index "by_title" needs a table with a range key`,
		},
		{
			name:   "unsupported attribute type",
			modify: func(s *Shape) { s.AttributeTypes = map[string]types.ScalarAttributeType{"pk": "BOOL"} },
			errMsg: "invalid shape",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := notesShape()
			tt.modify(&shape)
			err := shape.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestShape_AttributeNames(t *testing.T) {
	shape := Shape{
		HashKey:    "pk",
		RangeKey:   "sk",
		Attributes: []string{"title", "pk"},
		Indexes:    []IndexShape{{Name: "by_owner", Kind: GlobalIndex, HashKey: "owner", RangeKey: "rank"}},
	}
	assert.Equal(t, []string{"owner", "pk", "rank", "sk", "title"}, shape.AttributeNames())
	assert.True(t, shape.hasAttribute("rank"))
	assert.False(t, shape.hasAttribute("body"))
}

func TestShape_AttributeType(t *testing.T) {
	shape := Shape{HashKey: "pk", AttributeTypes: map[string]types.ScalarAttributeType{"n": types.ScalarAttributeTypeN}}
	assert.Equal(t, types.ScalarAttributeTypeN, shape.AttributeType("n"))
	assert.Equal(t, types.ScalarAttributeTypeS, shape.AttributeType("pk"))
}

func TestShape_Keys(t *testing.T) {
	shape := notesShape()

	assert.True(t, shape.requiresPrefix("sk"))
	assert.True(t, shape.requiresPrefix("title"))
	assert.False(t, shape.requiresPrefix("pk"), "index range key that is also the table hash key")
	assert.False(t, shape.requiresPrefix("owner"))

	assert.True(t, shape.isKeyAttribute("body"))
	assert.False(t, shape.isKeyAttribute("unindexed"))

	hash, rng := shape.keysOf("by_title")
	assert.Equal(t, "pk", hash)
	assert.Equal(t, "title", rng)

	assert.True(t, shape.isIndexKey("", "sk"))
	assert.True(t, shape.isIndexKey("by_owner", "pk"))
	assert.False(t, shape.isIndexKey("by_owner", "sk"))
	assert.False(t, shape.isIndexKey("by_body", "sk"))
}
