package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/retrieval"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSearch runs the combined retrieval pipeline for the
// authenticated actor.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.registry.Engine().Retrieve(c.Request().Context(), s.searchParams(c, req))
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleSearchWithFeedback runs a search and records confirmed-use
// feedback in the importance ledger.
func (s *Server) handleSearchWithFeedback(c echo.Context) error {
	var req FeedbackSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.registry.Engine().SearchWithFeedback(
		c.Request().Context(), s.searchParams(c, req.SearchRequest), req.ConfirmedResourceIDs)
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleAdvancedSearch runs a search with an explicit ranking strategy.
func (s *Server) handleAdvancedSearch(c echo.Context) error {
	var req AdvancedSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.registry.Engine().AdvancedSearch(
		c.Request().Context(), s.searchParams(c, req.SearchRequest), retrieval.Strategy(req.Strategy))
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleBatchSearch runs the pipeline once per query.
func (s *Server) handleBatchSearch(c echo.Context) error {
	var req BatchSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Queries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "queries field is required")
	}

	shared := retrieval.Params{
		ProjectID:            req.ProjectID,
		ResourceTypes:        req.ResourceTypes,
		Limit:                req.Limit,
		IncludeGlobalRecency: req.IncludeGlobalRecency,
	}
	results, err := s.registry.Engine().BatchRetrieve(
		c.Request().Context(), credential(c).ActorID, req.Queries, shared)
	if err != nil {
		return s.searchError(c, err)
	}
	return c.JSON(http.StatusOK, BatchSearchResponse{Results: results})
}

// searchParams builds retrieval params with the actor taken from the
// authenticated credential.
func (s *Server) searchParams(c echo.Context, req SearchRequest) retrieval.Params {
	return retrieval.Params{
		ActorID:              credential(c).ActorID,
		Query:                req.Query,
		ProjectID:            req.ProjectID,
		ResourceTypes:        req.ResourceTypes,
		Limit:                req.Limit,
		IncludeGlobalRecency: req.IncludeGlobalRecency,
	}
}

// searchError maps retrieval errors to HTTP status codes.
func (s *Server) searchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	case errors.Is(err, retrieval.ErrUnknownStrategy):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown ranking strategy")
	default:
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
}

// handleCreateResource stores a resource and embeds its content.
func (s *Server) handleCreateResource(c echo.Context) error {
	var req CreateResourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	ctx := c.Request().Context()
	resource := &store.Resource{
		ProjectID:  req.ProjectID,
		URI:        req.URI,
		Type:       req.Type,
		Content:    req.Content,
		AccessTags: req.AccessTags,
		Metadata:   req.Metadata,
	}
	if err := s.registry.Store().CreateResource(ctx, resource); err != nil {
		s.logger.Error("create resource failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "create resource failed")
	}

	embeddings, err := s.registry.Embedder().EmbedDocuments(ctx, []string{req.Content})
	if err != nil {
		s.logger.Error("embedding resource failed",
			zap.String("resource_id", resource.ID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "embedding failed")
	}
	if err := s.registry.Store().UpdateResourceEmbedding(ctx, resource.ID, embeddings[0]); err != nil {
		s.logger.Error("storing embedding failed",
			zap.String("resource_id", resource.ID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "storing embedding failed")
	}
	resource.Embedding = embeddings[0]

	return c.JSON(http.StatusCreated, resource)
}

// handleListResources returns the resources the authenticated actor may
// access, optionally narrowed to one project.
func (s *Server) handleListResources(c echo.Context) error {
	resources, err := s.registry.Gate().AuthorizedResources(
		c.Request().Context(), credential(c).ActorID, c.QueryParam("project_id"))
	if err != nil {
		s.logger.Error("listing resources failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing resources failed")
	}
	return c.JSON(http.StatusOK, ResourcesResponse{Resources: resources, Count: len(resources)})
}

// handleGetResource returns one resource after an audited access check.
func (s *Server) handleGetResource(c echo.Context) error {
	ctx := c.Request().Context()
	resourceID := c.Param("id")

	decision, err := s.registry.Gate().CheckResourceAccess(ctx, credential(c).ActorID, resourceID)
	if err != nil {
		s.logger.Error("access check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "access check failed")
	}
	if !decision.Allowed {
		return echo.NewHTTPError(http.StatusForbidden, decision.Reason)
	}

	resource, err := s.registry.Store().GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if err != nil {
		s.logger.Error("loading resource failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading resource failed")
	}
	return c.JSON(http.StatusOK, resource)
}

// handleAccessCheck exposes an audited access check for the
// authenticated actor.
func (s *Server) handleAccessCheck(c echo.Context) error {
	var req AccessCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ResourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_id field is required")
	}

	decision, err := s.registry.Gate().CheckResourceAccess(
		c.Request().Context(), credential(c).ActorID, req.ResourceID)
	if err != nil {
		s.logger.Error("access check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "access check failed")
	}
	return c.JSON(http.StatusOK, decision)
}

// handleAuditLog returns audit entries matching the query filters.
func (s *Server) handleAuditLog(c echo.Context) error {
	filter := store.AuditFilter{
		ResourceID: c.QueryParam("resource_id"),
		Decision:   store.Decision(c.QueryParam("decision")),
	}
	if raw := c.QueryParam("actor_id"); raw != "" {
		actorID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid actor_id")
		}
		filter.ActorID = &actorID
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}

	entries, err := s.registry.Gate().AuditLog(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing audit entries failed")
	}
	return c.JSON(http.StatusOK, AuditResponse{Entries: entries, Count: len(entries)})
}

// handleGenerateKey issues a new actor key. The plaintext appears in
// this response only.
func (s *Server) handleGenerateKey(c echo.Context) error {
	var req GenerateKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	key, err := s.registry.Gate().GenerateActorKey(
		c.Request().Context(), req.ActorID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		s.logger.Error("generating key failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "generating key failed")
	}
	return c.JSON(http.StatusCreated, key)
}

// handleListKeys lists key metadata for an actor. Defaults to the
// authenticated actor when no actor_id is given.
func (s *Server) handleListKeys(c echo.Context) error {
	actorID := credential(c).ActorID
	if raw := c.QueryParam("actor_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid actor_id")
		}
		actorID = parsed
	}

	keys, err := s.registry.Gate().ActorKeys(c.Request().Context(), actorID)
	if err != nil {
		s.logger.Error("listing keys failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing keys failed")
	}
	return c.JSON(http.StatusOK, KeysResponse{Keys: keys})
}

// handleRevokeKey deactivates a key.
func (s *Server) handleRevokeKey(c echo.Context) error {
	err := s.registry.Gate().RevokeActorKey(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "key not found")
	}
	if err != nil {
		s.logger.Error("revoking key failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "revoking key failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleRunDecay triggers a decay sweep immediately.
func (s *Server) handleRunDecay(c echo.Context) error {
	result, err := s.registry.Ledger().RunNightlyDecay(c.Request().Context())
	if err != nil {
		s.logger.Error("decay sweep failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "decay sweep failed")
	}
	return c.JSON(http.StatusOK, result)
}
