package tempest

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type note struct {
	Folder string
	ID     string
	Owner  string
	Title  string
	Body   string
}

type noteKey struct {
	Folder string
	ID     string
}

type ownerOffset struct {
	Owner  string
	Folder string
	ID     string
}

type bodyOffset struct {
	Body   string
	Folder string
	ID     string
}

type titleOffset struct {
	Folder string
	Title  string
	ID     string
}

func notesShape() Shape {
	return Shape{
		HashKey:    "pk",
		RangeKey:   "sk",
		Attributes: []string{"owner", "title", "body"},
		Indexes: []IndexShape{
			{Name: "by_owner", Kind: GlobalIndex, HashKey: "owner", RangeKey: "pk"},
			{Name: "by_body", Kind: GlobalIndex, HashKey: "body"},
			{Name: "by_title", Kind: LocalIndex, RangeKey: "title"},
		},
	}
}

var noteMapping = Map(
	Bind("folder", func(n *note) *string { return &n.Folder }, Name("pk")),
	Bind("id", func(n *note) *string { return &n.ID }, Name("sk"), Prefix("NOTE_")),
	Bind("owner", func(n *note) *string { return &n.Owner }),
	Bind("title", func(n *note) *string { return &n.Title }, Prefix("T_")),
	Bind("body", func(n *note) *string { return &n.Body }),
)

var noteKeyMapping = Map(
	Bind("folder", func(k *noteKey) *string { return &k.Folder }),
	Bind("id", func(k *noteKey) *string { return &k.ID }),
)

var ownerOffsetMapping = Map(
	Bind("owner", func(o *ownerOffset) *string { return &o.Owner }),
	Bind("folder", func(o *ownerOffset) *string { return &o.Folder }),
	Bind("id", func(o *ownerOffset) *string { return &o.ID }),
).ForIndex("by_owner")

var bodyOffsetMapping = Map(
	Bind("body", func(o *bodyOffset) *string { return &o.Body }),
	Bind("folder", func(o *bodyOffset) *string { return &o.Folder }),
	Bind("id", func(o *bodyOffset) *string { return &o.ID }),
).ForIndex("by_body")

var titleOffsetMapping = Map(
	Bind("folder", func(o *titleOffset) *string { return &o.Folder }),
	Bind("title", func(o *titleOffset) *string { return &o.Title }),
	Bind("id", func(o *titleOffset) *string { return &o.ID }),
).ForIndex("by_title")

type notesViews struct {
	table   *Table
	notes   *InlineView[noteKey, note]
	byOwner *SecondaryIndex[ownerOffset, note]
	byBody  *SecondaryIndex[bodyOffset, note]
	byTitle *SecondaryIndex[titleOffset, note]
}

// newNotes binds the notes views on a DB without a client; only request
// marshaling and codecs may be used.
func newNotes(t *testing.T) notesViews {
	t.Helper()
	table, err := New(nil).Table("notes", notesShape())
	require.NoError(t, err)

	v := notesViews{table: table}
	v.notes, err = NewInlineView(table, noteKeyMapping, noteMapping)
	require.NoError(t, err)
	v.byOwner, err = NewSecondaryIndex(table, ownerOffsetMapping, noteMapping)
	require.NoError(t, err)
	v.byBody, err = NewSecondaryIndex(table, bodyOffsetMapping, noteMapping)
	require.NoError(t, err)
	v.byTitle, err = NewSecondaryIndex(table, titleOffsetMapping, noteMapping)
	require.NoError(t, err)
	return v
}

func str(v string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: v}
}
