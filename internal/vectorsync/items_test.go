package vectorsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/host"
)

func TestItemHash(t *testing.T) {
	assert.Equal(t, ItemHash("hello"), ItemHash("hello"))
	assert.NotEqual(t, ItemHash("hello"), ItemHash("hello "))
	assert.Regexp(t, `^[0-9]+$`, ItemHash("hello"))
}

func TestItems(t *testing.T) {
	h := host.NewSnapshot("c1", []host.Message{
		{Index: 0, Text: "You are a helpful narrator.", IsSystem: true},
		{Index: 1, Text: "Hi {{char}}"},
		{Index: 2, Text: "   "},
		{Index: 3, Text: "Hello {{user}}", Timestamp: 1700000000000},
	}).WithMacros(map[string]string{"{{user}}": "Alice", "{{char}}": "Bob"})

	items := Items(h)
	require.Len(t, items, 2)

	assert.Equal(t, "Hi Bob", items[0].Text)
	assert.Equal(t, ItemHash("Hi Bob"), items[0].Hash)
	assert.Equal(t, 1, items[0].Index)

	assert.Equal(t, "Hello Alice", items[1].Text)
	assert.Equal(t, 3, items[1].Index)
	assert.Equal(t, int64(1700000000000), items[1].Timestamp)
}

func TestDiff(t *testing.T) {
	items := []Item{
		{Hash: "2", Index: 0},
		{Hash: "3", Index: 1},
		{Hash: "4", Index: 2},
		{Hash: "4", Index: 3},
	}
	stored := map[string]struct{}{"1": {}, "2": {}, "3": {}}

	newItems, deleted := Diff(items, stored)
	require.Len(t, newItems, 1)
	assert.Equal(t, "4", newItems[0].Hash)
	assert.Equal(t, 2, newItems[0].Index)
	assert.Equal(t, []string{"1"}, deleted)

	t.Run("no changes", func(t *testing.T) {
		newItems, deleted := Diff(items[:3], map[string]struct{}{"2": {}, "3": {}, "4": {}})
		assert.Empty(t, newItems)
		assert.Empty(t, deleted)
	})

	t.Run("keeps chat order", func(t *testing.T) {
		items := []Item{{Hash: "c"}, {Hash: "a"}, {Hash: "b"}}
		newItems, _ := Diff(items, nil)
		require.Len(t, newItems, 3)
		assert.Equal(t, "c", newItems[0].Hash)
		assert.Equal(t, "a", newItems[1].Hash)
		assert.Equal(t, "b", newItems[2].Hash)
	})
}
