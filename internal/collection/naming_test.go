package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		key  TenantKey
		want string
	}{
		{"chat", TenantKey{Type: SourceChat, SourceID: "abc"}, "recalld_chat_abc"},
		{"lorebook", TenantKey{Type: SourceLorebook, SourceID: "world"}, "recalld_lorebook_world"},
		{"source id with delimiter", TenantKey{Type: SourceDocument, SourceID: "my_file_v2"}, "recalld_document_my_file_v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.key))
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want TenantKey
	}{
		{"chat", "recalld_chat_abc", TenantKey{Type: SourceChat, SourceID: "abc"}},
		{"wiki", "recalld_wiki_page", TenantKey{Type: SourceWiki, SourceID: "page"}},
		{"trailing segments rejoined", "recalld_character_alice_2024_01", TenantKey{Type: SourceCharacter, SourceID: "alice_2024_01"}},
		{"legacy opaque id", "Alice - 2024-01-01@12h00m", TenantKey{Type: SourceChat, SourceID: "Alice - 2024-01-01@12h00m"}},
		{"unknown prefix", "other_chat_abc", TenantKey{Type: SourceChat, SourceID: "other_chat_abc"}},
		{"unknown type", "recalld_memo_abc", TenantKey{Type: SourceChat, SourceID: "recalld_memo_abc"}},
		{"two segments", "recalld_chat", TenantKey{Type: SourceChat, SourceID: "recalld_chat"}},
		{"empty source id", "recalld_chat_", TenantKey{Type: SourceChat, SourceID: "recalld_chat_"}},
		{"empty", "", TenantKey{Type: SourceChat, SourceID: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.id))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	sourceIDs := []string{"a", "chat-1", "with_underscore", "__leading", "trailing__", "unicode_日本語", "spaces in id"}
	for _, st := range []SourceType{SourceChat, SourceLorebook, SourceCharacter, SourceDocument, SourceWiki} {
		for _, id := range sourceIDs {
			key := TenantKey{Type: st, SourceID: id}
			assert.Equal(t, key, Decode(Encode(key)), "round trip %s/%s", st, id)
		}
	}
}

func TestTenantKey_Validate(t *testing.T) {
	require.NoError(t, ChatKey("x").Validate())
	assert.ErrorIs(t, TenantKey{Type: "bogus", SourceID: "x"}.Validate(), ErrInvalidSourceType)
	assert.ErrorIs(t, TenantKey{Type: SourceChat}.Validate(), ErrEmptySourceID)
}

func TestParseSourceType(t *testing.T) {
	st, err := ParseSourceType(" Lorebook ")
	require.NoError(t, err)
	assert.Equal(t, SourceLorebook, st)

	_, err = ParseSourceType("nope")
	assert.ErrorIs(t, err, ErrInvalidSourceType)
}
