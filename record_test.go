package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomdata/loom/schema"
)

func testSchema() *schema.Schema {
	return schema.MustNew("Post", []schema.FieldDef{
		{Name: "id", Type: schema.TypeString, PrimaryKey: true},
		{Name: "title", Type: schema.TypeString},
	}, []schema.AssociationDef{
		{Name: "comments", Kind: schema.HasMany, Target: "Comment"},
		{Name: "author", Kind: schema.BelongsTo, Target: "User", ForeignKey: "id"},
	})
}

func TestRecordSnapshot(t *testing.T) {
	t.Parallel()

	values := map[string]interface{}{"id": "p1", "title": "hello"}
	rec := NewRecord(testSchema(), values)

	assert.Equal(t, "p1", rec.ID())
	title, ok := rec.Get("title")
	require.True(t, ok)
	assert.Equal(t, "hello", title)

	_, ok = rec.Get("missing")
	assert.False(t, ok)

	// The record copies its input and hands out copies.
	values["title"] = "mutated"
	title, _ = rec.Get("title")
	assert.Equal(t, "hello", title)

	out := rec.Values()
	out["title"] = "also mutated"
	title, _ = rec.Get("title")
	assert.Equal(t, "hello", title)
}

func TestRecordAssociations(t *testing.T) {
	t.Parallel()

	rec := NewRecord(testSchema(), map[string]interface{}{"id": "p1"})

	// Not loaded is distinct from loaded-with-nothing.
	_, loaded := rec.Many("comments")
	assert.False(t, loaded)
	_, loaded = rec.One("author")
	assert.False(t, loaded)

	rec.AttachMany("comments", nil)
	comments, loaded := rec.Many("comments")
	require.True(t, loaded)
	require.NotNil(t, comments)
	assert.Empty(t, comments)

	rec.AttachOne("author", nil)
	author, loaded := rec.One("author")
	require.True(t, loaded)
	assert.Nil(t, author)

	child := NewRecord(testSchema(), map[string]interface{}{"id": "c1"})
	rec.AttachMany("comments", []*Record{child})
	comments, _ = rec.Many("comments")
	require.Len(t, comments, 1)
	assert.Equal(t, "c1", comments[0].ID())
}
