package changeset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMapAccumulatesInOrder(t *testing.T) {
	t.Parallel()

	e := NewErrorMap()
	assert.True(t, e.Empty())

	e.Add("title", "is required")
	e.Add("body", "is too short")
	e.Add("title", "has invalid format")

	assert.False(t, e.Empty())
	assert.Equal(t, []string{"title", "body"}, e.Fields())
	assert.Equal(t, []string{"is required", "has invalid format"}, e.Messages("title"))
	assert.Equal(t, 3, e.Count())
}

func TestErrorMapNestedAlignment(t *testing.T) {
	t.Parallel()

	bad := NewErrorMap()
	bad.Add("body", "is required")

	e := NewErrorMap()
	e.AddNested("comments", []*ErrorMap{NewErrorMap(), bad, NewErrorMap()})

	items, ok := e.Nested("comments")
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.True(t, items[0].Empty())
	assert.False(t, items[1].Empty())
	assert.True(t, items[2].Empty())

	assert.False(t, e.Empty())
	assert.Equal(t, 1, e.Count())
	assert.Contains(t, e.String(), "comments[1]")
}

func TestErrorMapMarshalJSON(t *testing.T) {
	t.Parallel()

	e := NewErrorMap()
	e.Add("title", "is required")

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string][]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"is required"}, decoded["title"])
}
