package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/assembler"
	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
	"github.com/fablesmith/storyd/internal/segment"
)

// ChapterInfo is the preview shape of one detected chapter; content
// stays server-side.
type ChapterInfo struct {
	Index         int    `json:"index"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	WordCount     int    `json:"word_count"`
	Preview       string `json:"preview"`
}

func chapterInfos(chapters []segment.Chapter) []ChapterInfo {
	infos := make([]ChapterInfo, 0, len(chapters))
	for _, ch := range chapters {
		infos = append(infos, ChapterInfo{
			Index:         ch.Index,
			ChapterNumber: ch.ChapterNumber,
			Title:         ch.Title,
			WordCount:     ch.WordCount,
			Preview:       ch.Preview,
		})
	}
	return infos
}

// SegmentRequest is the request body for POST /api/v1/manuscripts/segment.
type SegmentRequest struct {
	Content           string `json:"content"`
	MinBodyRunes      int    `json:"min_body_runes,omitempty"`
	FallbackGroupSize int    `json:"fallback_group_size,omitempty"`
}

// SegmentResponse lists the detected chapters and which detection path
// produced them.
type SegmentResponse struct {
	Chapters     []ChapterInfo `json:"chapters"`
	Total        int           `json:"total"`
	UsedHeadings bool          `json:"used_headings"`
}

// handleSegmentManuscript splits a manuscript into chapters and
// returns previews.
func (s *Server) handleSegmentManuscript(c echo.Context) error {
	var req SegmentRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid segment request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	chapters, usedHeadings := segment.Split(req.Content, segment.SplitOptions{
		MinBodyRunes:      req.MinBodyRunes,
		FallbackGroupSize: req.FallbackGroupSize,
	})
	return c.JSON(http.StatusOK, SegmentResponse{
		Chapters:     chapterInfos(chapters),
		Total:        len(chapters),
		UsedHeadings: usedHeadings,
	})
}

// ImportRequest is the request body for POST /api/v1/manuscripts/import.
type ImportRequest struct {
	scopeParams
	Content        string            `json:"content"`
	StartChapter   int               `json:"start_chapter,omitempty"`
	EndChapter     int               `json:"end_chapter,omitempty"`
	ResultMarkdown string            `json:"result_markdown,omitempty"`
	ChunkSize      int               `json:"chunk_size,omitempty"`
	Mirror         bool              `json:"mirror,omitempty"`
	Embedding      *EmbeddingPayload `json:"embedding_config,omitempty"`
}

// ImportResponse reports what the import did: chapters detected, the
// selected range, records built, vectors written, mirror rows added.
type ImportResponse struct {
	Chapters     int  `json:"chapters"`
	StartChapter int  `json:"start_chapter"`
	EndChapter   int  `json:"end_chapter"`
	Records      int  `json:"records"`
	Written      int  `json:"written"`
	Mirrored     int  `json:"mirrored"`
	UsedHeadings bool `json:"used_headings"`
}

// handleImportManuscript segments a manuscript, builds ingestion
// records for the selected chapter range and writes them as one batch,
// optionally appending mirror rows to the story library.
func (s *Server) handleImportManuscript(c echo.Context) error {
	var req ImportRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid import request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	scope, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if req.Mirror && s.library == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "story library is not configured")
	}

	chapters, usedHeadings := segment.Split(req.Content, segment.SplitOptions{})
	if len(chapters) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no chapters detected")
	}

	start := req.StartChapter
	if start < 1 {
		start = 1
	}
	end := req.EndChapter
	if end < 1 {
		end = len(chapters)
	}
	selected, start, end := segment.SelectRange(chapters, start, end)
	if len(selected) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chapter range selects nothing")
	}

	analyzedRange := fmt.Sprintf("%d-%d", start, end)
	records := segment.MemoryRecords(selected, req.ResultMarkdown, analyzedRange, req.ChunkSize)

	written := s.memories.BatchAdd(c.Request().Context(), scope, records, req.Embedding.settings())

	mirrored := 0
	if req.Mirror && written > 0 {
		mirrored = s.mirrorRecords(c, req.ProjectID, records)
	}

	s.logger.Info("manuscript imported",
		zap.String("project_id", req.ProjectID),
		zap.Int("chapters", len(selected)),
		zap.Int("records", len(records)),
		zap.Int("written", written))

	return c.JSON(http.StatusOK, ImportResponse{
		Chapters:     len(chapters),
		StartChapter: start,
		EndChapter:   end,
		Records:      len(records),
		Written:      written,
		Mirrored:     mirrored,
		UsedHeadings: usedHeadings,
	})
}

// mirrorRecords appends imported records to the story library so a
// later rebuild can re-embed them. Append failures are logged and
// skipped; the vector write already succeeded.
func (s *Server) mirrorRecords(c echo.Context, projectID string, records []memory.NewMemory) int {
	mirrored := 0
	for _, rec := range records {
		importance := memory.DefaultImportance
		if rec.Importance != nil {
			importance = *rec.Importance
		}
		tags, _ := json.Marshal(rec.Tags)
		related, _ := json.Marshal(rec.RelatedCharacters)
		row := relational.StoryMemory{
			ProjectID:         projectID,
			ChapterID:         rec.ChapterID,
			MemoryType:        rec.Type,
			Title:             rec.Title,
			Content:           rec.Content,
			StoryTimeline:     rec.ChapterNumber,
			VectorID:          rec.ID,
			Importance:        importance,
			IsForeshadow:      rec.IsForeshadow,
			Tags:              string(tags),
			RelatedCharacters: string(related),
		}
		if _, err := s.library.AppendMemory(c.Request().Context(), row); err != nil {
			s.logger.Warn("mirror append failed",
				zap.String("vector_id", rec.ID),
				zap.Error(err))
			continue
		}
		mirrored++
	}
	return mirrored
}

// ContextRequest is the request body for the two context-assembly
// endpoints.
type ContextRequest struct {
	scopeParams
	ChapterID       string `json:"chapter_id"`
	TargetWordCount int    `json:"target_word_count,omitempty"`
	Perspective     string `json:"narrative_perspective,omitempty"`
	IncludeSkeleton bool   `json:"include_skeleton,omitempty"`
}

func (r ContextRequest) assemblerRequest() (assembler.Request, error) {
	if r.UserID == "" {
		return assembler.Request{}, fmt.Errorf("user_id is required")
	}
	if r.ChapterID == "" {
		return assembler.Request{}, fmt.Errorf("chapter_id is required")
	}
	return assembler.Request{
		UserID:          r.UserID,
		ProjectID:       r.ProjectID,
		ChapterID:       r.ChapterID,
		TargetWordCount: r.TargetWordCount,
		Perspective:     r.Perspective,
		IncludeSkeleton: r.IncludeSkeleton,
	}, nil
}

// handleSequentialContext assembles sequential-expansion context.
func (s *Server) handleSequentialContext(c echo.Context) error {
	return s.handleContext(c, s.assembler.Sequential)
}

// handleOutlineContext assembles structured-outline context.
func (s *Server) handleOutlineContext(c echo.Context) error {
	return s.handleContext(c, s.assembler.Outline)
}

func (s *Server) handleContext(c echo.Context, assemble func(context.Context, assembler.Request) (*assembler.ChapterContext, error)) error {
	var req ContextRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid context request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	areq, err := req.assemblerRequest()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cc, err := assemble(c.Request().Context(), areq)
	if err != nil {
		if errors.Is(err, relational.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "chapter not found")
		}
		s.logger.Error("context assembly failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "context assembly failed")
	}
	return c.JSON(http.StatusOK, cc)
}
