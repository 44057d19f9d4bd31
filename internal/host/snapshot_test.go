package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Messages(t *testing.T) {
	s := NewSnapshot("c1", []Message{{Index: 0, Text: "hello"}})
	s.Append("system note", true)
	m := s.Append("world", false)
	assert.Equal(t, 2, m.Index)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	msgs[0].Text = "mutated"
	assert.Equal(t, "hello", s.Messages()[0].Text)

	assert.True(t, s.Edit(2, "planet"))
	assert.False(t, s.Edit(9, "nope"))
	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))

	got := s.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "planet", got[1].Text)
	assert.Equal(t, 2, got[1].Index)
}

func TestSnapshot_Substitute(t *testing.T) {
	s := NewSnapshot("c1", nil)
	assert.Equal(t, "{{user}} waves", s.Substitute("{{user}} waves"))

	s.WithMacros(map[string]string{"{{user}}": "Alice", "{{char}}": "Bob"})
	assert.Equal(t, "Alice waves at Bob", s.Substitute("{{user}} waves at {{char}}"))
}

func TestSnapshot_ExtensionPrompt(t *testing.T) {
	s := NewSnapshot("c1", nil)

	_, ok := s.ExtensionPrompt("recalld")
	assert.False(t, ok)

	s.SetExtensionPrompt("recalld", "memories", PositionInChat, 2)
	p, ok := s.ExtensionPrompt("recalld")
	require.True(t, ok)
	assert.Equal(t, ExtensionPrompt{Text: "memories", Position: PositionInChat, Depth: 2}, p)

	s.ClearExtensionPrompt("recalld")
	_, ok = s.ExtensionPrompt("recalld")
	assert.False(t, ok)
}

func TestSnapshot_SwitchChat(t *testing.T) {
	s := NewSnapshot("c1", []Message{{Index: 0, Text: "a"}})
	s.SetGenerating(true)
	assert.True(t, s.IsGenerating())

	s.SwitchChat("c2", nil)
	assert.Equal(t, "c2", s.ChatID())
	assert.Empty(t, s.Messages())
}

func TestParsePosition(t *testing.T) {
	for _, p := range []Position{PositionInPrompt, PositionInChat, PositionBeforePrompt} {
		assert.Equal(t, p, ParsePosition(p.String()))
	}
	assert.Equal(t, PositionInPrompt, ParsePosition("sideways"))
}
