package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
)

// queryScope reads the scope pair from query parameters.
func queryScope(c echo.Context) (memory.Scope, error) {
	p := scopeParams{
		UserID:    c.QueryParam("user_id"),
		ProjectID: c.QueryParam("project_id"),
	}
	return p.scope()
}

func intQueryParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return v, nil
}

func floatQueryParam(c echo.Context, name string, def float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a number")
	}
	return v, nil
}

// handleAddMemory ingests a single memory record.
func (s *Server) handleAddMemory(c echo.Context) error {
	var req AddMemoryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid add request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Memory.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "memory content is required")
	}

	rec := req.Memory.newMemory()
	// Assign the id here so the caller learns it even though the
	// service reports only success.
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	ok := s.memories.Add(c.Request().Context(), scope, rec, req.Embedding.settings())
	if !ok {
		return c.JSON(http.StatusOK, AddMemoryResponse{Success: false})
	}
	return c.JSON(http.StatusOK, AddMemoryResponse{Success: true, ID: rec.ID})
}

// handleBatchAddMemories ingests a batch in one embedding call.
func (s *Server) handleBatchAddMemories(c echo.Context) error {
	var req BatchAddRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid batch add request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Records) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "records are required")
	}

	recs := make([]memory.NewMemory, 0, len(req.Records))
	for _, p := range req.Records {
		recs = append(recs, p.newMemory())
	}

	written := s.memories.BatchAdd(c.Request().Context(), scope, recs, req.Embedding.settings())
	return c.JSON(http.StatusOK, BatchAddResponse{Written: written})
}

// handleSearchMemories runs a semantic search.
func (s *Server) handleSearchMemories(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := s.memories.Search(c.Request().Context(), scope, memory.SearchQuery{
		Query:         req.Query,
		Types:         req.Types,
		MinImportance: req.MinImportance,
		ChapterMin:    req.ChapterMin,
		ChapterMax:    req.ChapterMax,
		Limit:         req.Limit,
	}, req.Embedding.settings())
	if err != nil {
		s.logger.Error("memory search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "memory search failed")
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleGetMemory fetches one record by id.
func (s *Server) handleGetMemory(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, ok := s.memories.Get(c.Request().Context(), scope, c.Param("id"), nil)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "memory not found")
	}
	return c.JSON(http.StatusOK, rec)
}

// handleUpdateMemory applies a partial update to one record.
func (s *Server) handleUpdateMemory(c echo.Context) error {
	var req UpdateMemoryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid update request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ok := s.memories.Update(c.Request().Context(), scope, c.Param("id"), req.update(), req.Embedding.settings())
	return c.JSON(http.StatusOK, SuccessResponse{Success: ok})
}

// handleRecentMemories returns important memories from the window of
// chapters before current_chapter.
func (s *Server) handleRecentMemories(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	currentChapter, err := intQueryParam(c, "current_chapter", 0)
	if err != nil {
		return err
	}
	if currentChapter < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "current_chapter is required")
	}
	window, err := intQueryParam(c, "window", 0)
	if err != nil {
		return err
	}
	minImportance, err := floatQueryParam(c, "min_importance", 0)
	if err != nil {
		return err
	}

	records := s.memories.GetRecent(c.Request().Context(), scope, currentChapter, window, minImportance)
	return c.JSON(http.StatusOK, RecordsResponse{Memories: records, Count: len(records)})
}

// handleForeshadowMemories returns planted, unresolved foreshadows
// from before current_chapter.
func (s *Server) handleForeshadowMemories(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	currentChapter, err := intQueryParam(c, "current_chapter", 0)
	if err != nil {
		return err
	}
	if currentChapter < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "current_chapter is required")
	}

	records := s.memories.UnresolvedForeshadows(c.Request().Context(), scope, currentChapter)
	return c.JSON(http.StatusOK, RecordsResponse{Memories: records, Count: len(records)})
}

// handleDeleteChapterMemories deletes a chapter's vectors across the
// whole collection family. The chapter is addressed by number or by
// chapter_id, exactly one of the two.
func (s *Server) handleDeleteChapterMemories(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	chapterID := c.QueryParam("chapter_id")
	hasNumber := c.QueryParam("chapter_number") != ""
	if hasNumber == (chapterID != "") {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of chapter_number and chapter_id is required")
	}

	var deleted int
	if hasNumber {
		number, err := intQueryParam(c, "chapter_number", 0)
		if err != nil {
			return err
		}
		deleted = s.memories.DeleteForChapter(c.Request().Context(), scope, number)
	} else {
		deleted = s.memories.DeleteForChapterID(c.Request().Context(), scope, chapterID)
	}
	return c.JSON(http.StatusOK, DeletedResponse{Deleted: deleted})
}

// handleDeleteProjectMemories drops every collection in the project's
// name family.
func (s *Server) handleDeleteProjectMemories(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ok := s.memories.DeleteForProject(c.Request().Context(), scope)
	return c.JSON(http.StatusOK, SuccessResponse{Success: ok})
}

// handleMemoryStats aggregates the active collection.
func (s *Server) handleMemoryStats(c echo.Context) error {
	scope, err := queryScope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	stats := s.memories.Stats(c.Request().Context(), scope)
	return c.JSON(http.StatusOK, stats)
}

// handleRebuildMemories re-embeds the project's mirrored memories from
// the story library into a fresh collection family.
func (s *Server) handleRebuildMemories(c echo.Context) error {
	if s.library == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "story library is not configured")
	}

	var req RebuildRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid rebuild request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rows, err := s.library.MemoriesForRebuild(c.Request().Context(), req.ProjectID)
	if err != nil {
		s.logger.Error("loading mirrored memories failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading mirrored memories failed")
	}

	recs := make([]memory.NewMemory, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.NewMemory())
	}

	written, err := s.memories.Rebuild(c.Request().Context(), scope, recs, req.BatchSize, req.Embedding.settings())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "rebuild failed")
	}
	return c.JSON(http.StatusOK, RebuildResponse{Total: len(recs), Written: written})
}

// handleListMemories lists mirrored memory rows from the story
// library (no embedding involved).
func (s *Server) handleListMemories(c echo.Context) error {
	if s.library == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "story library is not configured")
	}
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}
	limit, err := intQueryParam(c, "limit", 0)
	if err != nil {
		return err
	}

	rows, err := s.library.ListMemories(c.Request().Context(), projectID, relational.MemoryFilter{
		MemoryType: c.QueryParam("memory_type"),
		ChapterID:  c.QueryParam("chapter_id"),
		Limit:      limit,
	})
	if err != nil {
		s.logger.Error("listing mirrored memories failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing mirrored memories failed")
	}
	return c.JSON(http.StatusOK, ListMemoriesResponse{Memories: rows, Count: len(rows)})
}
