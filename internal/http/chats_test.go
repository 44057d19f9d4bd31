package http

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/host"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

func dragonChat() ChatRequest {
	texts := []string{
		"the dragon guards the castle gate",
		"weather looks sunny today",
		"bread needs flour",
		"cats sleep often",
		"rivers flow downhill",
		"music fills halls",
		"clocks tick quietly",
		"tell me about the dragon castle",
	}
	msgs := make([]host.Message, len(texts))
	for i, text := range texts {
		msgs[i] = host.Message{Index: i, Text: text}
	}
	return ChatRequest{ChatID: "c1", Messages: msgs}
}

func TestHandleSync(t *testing.T) {
	s := setupTestServer(t, nil)
	chat := dragonChat()

	rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{ChatRequest: chat})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SyncResponse
	decode(t, rec, &resp)
	assert.Equal(t, 8, resp.Inserted)
	assert.LessOrEqual(t, resp.Remaining, 0)

	backend, err := s.registry.Backend(context.Background())
	require.NoError(t, err)
	hashes, err := backend.SavedHashes(context.Background(), collection.ChatKey("c1"))
	require.NoError(t, err)
	assert.Len(t, hashes, 8)
	assert.Contains(t, hashes, vectorsync.ItemHash(chat.Messages[0].Text))

	t.Run("edits replace stale hashes", func(t *testing.T) {
		edited := dragonChat()
		edited.Messages[1].Text = "weather turned to rain"

		rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{ChatRequest: edited})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SyncResponse
		decode(t, rec, &resp)
		assert.Equal(t, 1, resp.Inserted)
		assert.Equal(t, 1, resp.Deleted)
	})
}

func TestHandleSync_All(t *testing.T) {
	s := setupTestServer(t, nil)

	msgs := make([]host.Message, 120)
	for i := range msgs {
		msgs[i] = host.Message{Index: i, Text: "line " + string(rune('a'+i%26)) + " " + string(rune('a'+i/26))}
	}

	rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{
		ChatRequest: ChatRequest{ChatID: "long", Messages: msgs},
		All:         true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SyncResponse
	decode(t, rec, &resp)
	assert.Equal(t, 120, resp.Inserted)
	assert.LessOrEqual(t, resp.Remaining, 0)
}

func TestHandleSync_Errors(t *testing.T) {
	s := setupTestServer(t, nil)

	t.Run("no chat", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorOf(t, rec), vectorsync.ErrNoChat.Error())
	})

	t.Run("generating blocks", func(t *testing.T) {
		chat := dragonChat()
		chat.Generating = true

		rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{ChatRequest: chat})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, errorOf(t, rec), vectorsync.ErrBlocked.Error())
	})
}

func TestHandleRetrieve(t *testing.T) {
	s := setupTestServer(t, nil)
	chat := dragonChat()

	rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{ChatRequest: chat})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/chats/retrieve", RetrieveRequest{ChatRequest: chat})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RetrieveResponse
	decode(t, rec, &resp)

	require.Len(t, resp.Injected, 1)
	assert.Equal(t, vectorsync.ItemHash(chat.Messages[0].Text), resp.Injected[0].Hash)
	assert.Len(t, resp.Chat, 7)
	assert.NotEqual(t, 0, resp.Chat[0].Index)
	assert.Equal(t, "Past events:\nthe dragon guards the castle gate", resp.Prompt)
	assert.Equal(t, "in_prompt", resp.Position)
	assert.Equal(t, 2, resp.Depth)
	assert.Equal(t, "tell me about the dragon castle\nclocks tick quietly", resp.Trace.Query)
	assert.NotEmpty(t, resp.Trace.Entries)
}

func TestHandleRetrieve_NothingStored(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/chats/retrieve", RetrieveRequest{ChatRequest: dragonChat()})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RetrieveResponse
	decode(t, rec, &resp)
	assert.Empty(t, resp.Injected)
	assert.Empty(t, resp.Prompt)
	assert.Empty(t, resp.Position)
	assert.Len(t, resp.Chat, 8)
}

func TestHandlePurgeChat(t *testing.T) {
	ctx := context.Background()
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/chats/sync", SyncRequest{ChatRequest: dragonChat()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/chats/c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	backend, err := s.registry.Backend(ctx)
	require.NoError(t, err)
	hashes, err := backend.SavedHashes(ctx, collection.ChatKey("c1"))
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestChatRequest_Snapshot(t *testing.T) {
	t.Run("keeps distinct indexes", func(t *testing.T) {
		req := ChatRequest{ChatID: "c", Messages: []host.Message{{Index: 4, Text: "a"}, {Index: 9, Text: "b"}}}
		msgs := req.snapshot().Messages()
		assert.Equal(t, 4, msgs[0].Index)
		assert.Equal(t, 9, msgs[1].Index)
	})

	t.Run("numbers messages without indexes", func(t *testing.T) {
		req := ChatRequest{ChatID: "c", Messages: []host.Message{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
		msgs := req.snapshot().Messages()
		for i, m := range msgs {
			assert.Equal(t, i, m.Index)
		}
	})

	t.Run("applies macros and generating", func(t *testing.T) {
		req := ChatRequest{ChatID: "c", Macros: map[string]string{"{{user}}": "Alice"}, Generating: true}
		snap := req.snapshot()
		assert.Equal(t, "hi Alice", snap.Substitute("hi {{user}}"))
		assert.True(t, snap.IsGenerating())
	})

	t.Run("does not alias the request", func(t *testing.T) {
		req := ChatRequest{ChatID: "c", Messages: []host.Message{{Text: "a"}, {Text: "b"}}}
		_ = req.snapshot()
		assert.Equal(t, 0, req.Messages[1].Index)
	})
}
