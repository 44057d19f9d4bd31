package http

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// The handlers in this file serve the vectors API, so a PassthroughBackend
// pointed at this server behaves like the server's own backend.

func (s *Server) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		s.logger.Warn("invalid request body", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// tenant decodes a collection id from a request.
func (s *Server) tenant(collectionID, source string) (collection.TenantKey, error) {
	if collectionID == "" {
		return collection.TenantKey{}, echo.NewHTTPError(http.StatusBadRequest, "collectionId is required")
	}
	if active := s.backends.Config().EmbeddingSource; source != "" && active != "" && source != active {
		s.logger.Warn("request embedding source differs from the active backend",
			zap.String("collection.id", collectionID),
			zap.String("requested", source),
			zap.String("active", active),
		)
	}
	return collection.Decode(collectionID), nil
}

func (s *Server) handleVectorHealth(c echo.Context) error {
	backend, err := s.backends.Backend(c.Request().Context())
	if err != nil {
		return err
	}
	if !backend.HealthCheck(c.Request().Context()) {
		return vectorstore.ErrBackendUnhealthy
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Backend: string(backend.Name())})
}

func (s *Server) handleList(c echo.Context) error {
	var req vectorstore.ListRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, req.Source)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	saved, err := backend.SavedHashes(ctx, key)
	if err != nil {
		return err
	}

	hashes := make([]string, 0, len(saved))
	for h := range saved {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return c.JSON(http.StatusOK, vectorstore.ListResponse{Hashes: hashes})
}

func (s *Server) handleInsert(c echo.Context) error {
	var req vectorstore.InsertRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, req.Source)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := backend.InsertChunks(ctx, key, req.Items); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDelete(c echo.Context) error {
	var req vectorstore.DeleteRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, req.Source)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := backend.DeleteHashes(ctx, key, req.Hashes); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req vectorstore.QueryRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, req.Source)
	if err != nil {
		return err
	}
	if req.TopK <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "topK must be positive")
	}
	if req.SearchText == "" && len(req.Vector) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "searchText or vector is required")
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	results, err := backend.Query(ctx, key, vectorstore.Query{Text: req.SearchText, Vector: req.Vector}, req.TopK)
	if err != nil {
		return err
	}

	kept := make([]vectorstore.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Score >= req.Threshold {
			kept = append(kept, r)
		}
	}
	return c.JSON(http.StatusOK, vectorstore.QueryResponse{Results: kept})
}

func (s *Server) handleQueryMulti(c echo.Context) error {
	var req vectorstore.QueryMultiRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if len(req.CollectionIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "collectionIds is required")
	}
	if req.TopK <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "topK must be positive")
	}
	if req.SearchText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "searchText is required")
	}

	keys := make([]collection.TenantKey, 0, len(req.CollectionIDs))
	for _, id := range req.CollectionIDs {
		key, err := s.tenant(id, req.Source)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	results := backend.QueryMany(ctx, keys, req.SearchText, req.TopK, req.Threshold)
	return c.JSON(http.StatusOK, vectorstore.QueryMultiResponse{Results: results})
}

func (s *Server) handlePurge(c echo.Context) error {
	var req vectorstore.PurgeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, "")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := backend.Purge(ctx, key); err != nil {
		return err
	}
	s.logger.Info("collection purged", zap.String("collection.id", req.CollectionID))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePurgeFile(c echo.Context) error {
	var req vectorstore.PurgeFileRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	key, err := s.tenant(req.CollectionID, "")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := vectorstore.PurgeFile(ctx, backend, key); err != nil {
		return err
	}
	s.logger.Info("file collection purged", zap.String("collection.id", req.CollectionID))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePurgeAll(c echo.Context) error {
	var req vectorstore.PurgeAllRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	backend, err := s.backends.Backend(ctx)
	if err != nil {
		return err
	}
	if err := backend.PurgeAll(ctx, req.Confirm); err != nil {
		return err
	}
	s.logger.Warn("all collections purged", zap.String("backend", string(backend.Name())))
	return c.NoContent(http.StatusNoContent)
}
