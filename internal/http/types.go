package http

import (
	"github.com/fyrsmithlabs/recalld/internal/host"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

// ChatRequest carries the live chat a request operates on.
type ChatRequest struct {
	ChatID   string         `json:"chatId"`
	Messages []host.Message `json:"messages"`

	// Macros is the substitution table applied before hashing and
	// querying, e.g. {"{{user}}": "Alice"}.
	Macros map[string]string `json:"macros,omitempty"`

	// Generating reports a response in flight; synchronization refuses to
	// start while it is set.
	Generating bool `json:"generating,omitempty"`
}

// snapshot builds the in-memory host for the request. Messages without
// distinct indexes are numbered by position.
func (r ChatRequest) snapshot() *host.Snapshot {
	msgs := append([]host.Message(nil), r.Messages...)

	seen := make(map[int]struct{}, len(msgs))
	distinct := true
	for _, m := range msgs {
		if _, dup := seen[m.Index]; dup {
			distinct = false
			break
		}
		seen[m.Index] = struct{}{}
	}
	if !distinct {
		for i := range msgs {
			msgs[i].Index = i
		}
	}

	snap := host.NewSnapshot(r.ChatID, msgs).WithMacros(r.Macros)
	snap.SetGenerating(r.Generating)
	return snap
}

// SyncRequest is the request body for POST /api/v1/chats/sync.
type SyncRequest struct {
	ChatRequest

	// All repeats batches until the chat is fully indexed.
	All bool `json:"all,omitempty"`
}

// SyncResponse is the response body for POST /api/v1/chats/sync.
type SyncResponse struct {
	vectorsync.Result
}

// RetrieveRequest is the request body for POST /api/v1/chats/retrieve.
type RetrieveRequest struct {
	ChatRequest

	// Vector, when set, is searched instead of embedding the query text.
	Vector []float32 `json:"vector,omitempty"`
}

// RetrieveResponse is the response body for POST /api/v1/chats/retrieve.
// Position and Depth say where the host should place Prompt.
type RetrieveResponse struct {
	retrieval.Outcome

	Position string `json:"position,omitempty"`
	Depth    int    `json:"depth,omitempty"`
}
