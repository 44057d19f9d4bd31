package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
)

func (s *Server) handleSync(c echo.Context) error {
	var req SyncRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	snap := req.snapshot()

	if req.All {
		res, err := s.engine.SynchronizeAll(ctx, snap, nil)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, SyncResponse{Result: res})
	}

	res, err := s.engine.Run(ctx, snap)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SyncResponse{Result: res})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	snap := req.snapshot()
	var opts []retrieval.Option
	if len(req.Vector) > 0 {
		opts = append(opts, retrieval.WithQueryVector(req.Vector))
	}

	resp := RetrieveResponse{Outcome: s.pipeline.Rearrange(c.Request().Context(), snap, opts...)}
	if prompt, ok := snap.ExtensionPrompt(retrieval.PromptTag); ok {
		resp.Position = prompt.Position.String()
		resp.Depth = prompt.Depth
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePurgeChat(c echo.Context) error {
	chatID := c.Param("chatId")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId is required")
	}
	key := collection.ChatKey(chatID)

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := backend.Purge(ctx, key); err != nil {
		return err
	}
	s.logger.Info("chat purged",
		zap.String("chat.id", chatID),
		zap.String("collection.id", collection.Encode(key)),
	)
	return c.NoContent(http.StatusNoContent)
}
