// Package host defines the collaborator that owns the live chat: its
// messages, the chat identity, macro substitution and the extension-prompt
// slot that retrieved memories are written to.
package host

// Position says where the extension prompt is placed in the final prompt.
type Position int

const (
	// PositionInPrompt places the block after the main prompt.
	PositionInPrompt Position = iota
	// PositionInChat places the block depth messages from the end of the chat.
	PositionInChat
	// PositionBeforePrompt places the block before the main prompt.
	PositionBeforePrompt
)

// String returns the configuration name of the position.
func (p Position) String() string {
	switch p {
	case PositionInPrompt:
		return "in_prompt"
	case PositionInChat:
		return "in_chat"
	case PositionBeforePrompt:
		return "before_prompt"
	default:
		return "unknown"
	}
}

// ParsePosition parses a configuration name. Unknown names map to
// PositionInPrompt.
func ParsePosition(s string) Position {
	switch s {
	case "in_chat":
		return PositionInChat
	case "before_prompt":
		return PositionBeforePrompt
	default:
		return PositionInPrompt
	}
}

// Message is one entry of the live chat.
type Message struct {
	// Index is the stable position of the message in the chat.
	Index int `json:"index"`

	Text     string `json:"text"`
	IsSystem bool   `json:"isSystem"`

	// Timestamp is the send time in Unix milliseconds, 0 if unknown.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Importance overrides the neutral weight (100) of the message's chunks.
	Importance *int `json:"importance,omitempty"`
}

// ExtensionPrompt is the content of one extension-prompt slot.
type ExtensionPrompt struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
	Depth    int      `json:"depth"`
}

// Host is the live chat that synchronization reads and retrieval writes to.
type Host interface {
	// ChatID identifies the current chat. Empty means no chat is open.
	ChatID() string

	// Messages returns a copy of the live messages in chat order.
	Messages() []Message

	// Substitute expands host macros in text.
	Substitute(text string) string

	// IsGenerating reports whether a response is being generated.
	IsGenerating() bool

	SetExtensionPrompt(tag, text string, position Position, depth int)
	ClearExtensionPrompt(tag string)
}
