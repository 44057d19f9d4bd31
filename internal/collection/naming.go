// Package collection maps tenant keys to collection identifiers.
//
// A collection identifier has the format:
//
//	<prefix>_<type>_<sourceId>
//
// where sourceId may itself contain the delimiter. Decoding treats every
// segment after the type as part of sourceId, so
//
//	Decode("recalld_chat_my_long_chat") == TenantKey{Type: "chat", SourceID: "my_long_chat"}
//
// Identifiers that do not match the shape (legacy or opaque ids) decode to
// a chat tenant whose sourceId is the whole identifier.
package collection

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix is the leading segment of every encoded collection identifier.
const Prefix = "recalld"

// Delimiter separates the prefix, type and sourceId segments.
const Delimiter = "_"

// SourceType identifies what kind of content a tenant holds.
type SourceType string

const (
	SourceChat      SourceType = "chat"
	SourceLorebook  SourceType = "lorebook"
	SourceCharacter SourceType = "character"
	SourceDocument  SourceType = "document"
	SourceWiki      SourceType = "wiki"
)

var (
	// ErrInvalidSourceType indicates an unknown source type.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrEmptySourceID indicates a tenant key without a source id.
	ErrEmptySourceID = errors.New("source id required")
)

// sourceTypes lists the known source types.
var sourceTypes = map[SourceType]struct{}{
	SourceChat:      {},
	SourceLorebook:  {},
	SourceCharacter: {},
	SourceDocument:  {},
	SourceWiki:      {},
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	_, ok := sourceTypes[t]
	return ok
}

// ParseSourceType parses a source type name.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
	}
	return t, nil
}

// TenantKey identifies one logical, independently purgeable collection.
type TenantKey struct {
	Type     SourceType `json:"type"`
	SourceID string     `json:"sourceId"`
}

// ChatKey returns the tenant key for a chat.
func ChatKey(chatID string) TenantKey {
	return TenantKey{Type: SourceChat, SourceID: chatID}
}

// Validate checks that the key can be encoded.
func (k TenantKey) Validate() error {
	if !k.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, k.Type)
	}
	if k.SourceID == "" {
		return ErrEmptySourceID
	}
	return nil
}

// String returns the encoded collection identifier.
func (k TenantKey) String() string {
	return Encode(k)
}

// Encode returns the collection identifier for a tenant key.
func Encode(k TenantKey) string {
	return Prefix + Delimiter + string(k.Type) + Delimiter + k.SourceID
}

// Decode returns the tenant key for a collection identifier.
//
// Decode never fails: identifiers without the recalld prefix, with an
// unknown type, or with fewer than three segments are treated as opaque
// chat identifiers.
func Decode(id string) TenantKey {
	parts := strings.Split(id, Delimiter)
	if len(parts) < 3 || parts[0] != Prefix {
		return ChatKey(id)
	}

	t := SourceType(parts[1])
	if !t.Valid() {
		return ChatKey(id)
	}

	sourceID := strings.Join(parts[2:], Delimiter)
	if sourceID == "" {
		return ChatKey(id)
	}

	return TenantKey{Type: t, SourceID: sourceID}
}

// EncodeAll encodes a list of tenant keys.
func EncodeAll(keys []TenantKey) []string {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = Encode(k)
	}
	return ids
}
