package host

import (
	"strings"
	"sync"
)

// Snapshot is an in-memory Host. The HTTP API builds one per request from
// the posted chat; tests drive it directly.
type Snapshot struct {
	mu         sync.RWMutex
	chatID     string
	messages   []Message
	generating bool
	replacer   *strings.Replacer
	prompts    map[string]ExtensionPrompt
}

var _ Host = (*Snapshot)(nil)

// NewSnapshot creates a host holding messages for chatID.
func NewSnapshot(chatID string, messages []Message) *Snapshot {
	s := &Snapshot{
		chatID:  chatID,
		prompts: make(map[string]ExtensionPrompt),
	}
	s.messages = append(s.messages, messages...)
	return s
}

// WithMacros sets the macro table used by Substitute, e.g.
// {"{{user}}": "Alice", "{{char}}": "Bob"}.
func (s *Snapshot) WithMacros(macros map[string]string) *Snapshot {
	pairs := make([]string, 0, len(macros)*2)
	for k, v := range macros {
		pairs = append(pairs, k, v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(pairs) == 0 {
		s.replacer = nil
	} else {
		s.replacer = strings.NewReplacer(pairs...)
	}
	return s
}

func (s *Snapshot) ChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatID
}

func (s *Snapshot) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Snapshot) Substitute(text string) string {
	s.mu.RLock()
	r := s.replacer
	s.mu.RUnlock()
	if r == nil {
		return text
	}
	return r.Replace(text)
}

func (s *Snapshot) IsGenerating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}

// SetGenerating marks a response as in flight or finished.
func (s *Snapshot) SetGenerating(v bool) {
	s.mu.Lock()
	s.generating = v
	s.mu.Unlock()
}

// SwitchChat replaces the open chat.
func (s *Snapshot) SwitchChat(chatID string, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	s.messages = append([]Message(nil), messages...)
}

// Append adds a message at the next index and returns it.
func (s *Snapshot) Append(text string, isSystem bool) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := 0
	if n := len(s.messages); n > 0 {
		idx = s.messages[n-1].Index + 1
	}
	m := Message{Index: idx, Text: text, IsSystem: isSystem}
	s.messages = append(s.messages, m)
	return m
}

// Edit replaces the text of the message at index. It reports whether the
// message exists.
func (s *Snapshot) Edit(index int, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Index == index {
			s.messages[i].Text = text
			return true
		}
	}
	return false
}

// Remove deletes the message at index. It reports whether the message
// existed.
func (s *Snapshot) Remove(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Index == index {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Snapshot) SetExtensionPrompt(tag, text string, position Position, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[tag] = ExtensionPrompt{Text: text, Position: position, Depth: depth}
}

func (s *Snapshot) ClearExtensionPrompt(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, tag)
}

// ExtensionPrompt returns the slot content for tag.
func (s *Snapshot) ExtensionPrompt(tag string) (ExtensionPrompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[tag]
	return p, ok
}
