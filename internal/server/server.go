// Package server provides the HTTP API for storyd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/assembler"
	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
)

// MemoryService is the memory operation surface the server fronts.
type MemoryService interface {
	Add(ctx context.Context, scope memory.Scope, rec memory.NewMemory, override *embedding.Settings) bool
	BatchAdd(ctx context.Context, scope memory.Scope, recs []memory.NewMemory, override *embedding.Settings) int
	Search(ctx context.Context, scope memory.Scope, q memory.SearchQuery, override *embedding.Settings) ([]memory.SearchResult, error)
	Get(ctx context.Context, scope memory.Scope, id string, override *embedding.Settings) (*memory.Record, bool)
	Update(ctx context.Context, scope memory.Scope, id string, upd memory.Update, override *embedding.Settings) bool
	GetRecent(ctx context.Context, scope memory.Scope, currentChapter, window int, minImportance float64) []memory.Record
	UnresolvedForeshadows(ctx context.Context, scope memory.Scope, currentChapter int) []memory.Record
	DeleteForChapter(ctx context.Context, scope memory.Scope, chapterNumber int) int
	DeleteForChapterID(ctx context.Context, scope memory.Scope, chapterID string) int
	DeleteForProject(ctx context.Context, scope memory.Scope) bool
	Stats(ctx context.Context, scope memory.Scope) memory.Stats
	Rebuild(ctx context.Context, scope memory.Scope, recs []memory.NewMemory, batchSize int, override *embedding.Settings) (int, error)
}

// ContextAssembler builds chapter generation context.
type ContextAssembler interface {
	Sequential(ctx context.Context, req assembler.Request) (*assembler.ChapterContext, error)
	Outline(ctx context.Context, req assembler.Request) (*assembler.ChapterContext, error)
}

// StoryLibrary is the slice of the relational store the server needs:
// the memory mirror for listing, rebuild sourcing, and import appends.
type StoryLibrary interface {
	ListMemories(ctx context.Context, projectID string, f relational.MemoryFilter) ([]relational.StoryMemory, error)
	MemoriesForRebuild(ctx context.Context, projectID string) ([]relational.StoryMemory, error)
	AppendMemory(ctx context.Context, m relational.StoryMemory) (string, error)
}

var (
	_ MemoryService    = (*memory.Service)(nil)
	_ ContextAssembler = (*assembler.Assembler)(nil)
	_ StoryLibrary     = (*relational.Store)(nil)
)

// Server provides HTTP endpoints for storyd.
type Server struct {
	echo      *echo.Echo
	memories  MemoryService
	assembler ContextAssembler
	library   StoryLibrary
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Dependencies are the services behind the HTTP surface. Memories and
// Assembler are required; Library is optional and the mirror-backed
// endpoints report their absence.
type Dependencies struct {
	Memories  MemoryService
	Assembler ContextAssembler
	Library   StoryLibrary
}

// New creates the HTTP server.
func New(deps Dependencies, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Memories == nil {
		return nil, fmt.Errorf("memory service cannot be nil")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("context assembler cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8600,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		memories:  deps.Memories,
		assembler: deps.Assembler,
		library:   deps.Library,
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/memories", s.handleAddMemory)
	v1.POST("/memories/batch", s.handleBatchAddMemories)
	v1.POST("/memories/search", s.handleSearchMemories)
	v1.GET("/memories/recent", s.handleRecentMemories)
	v1.GET("/memories/foreshadows", s.handleForeshadowMemories)
	v1.GET("/memories/stats", s.handleMemoryStats)
	v1.POST("/memories/rebuild", s.handleRebuildMemories)
	v1.GET("/memories", s.handleListMemories)
	v1.GET("/memories/:id", s.handleGetMemory)
	v1.PATCH("/memories/:id", s.handleUpdateMemory)
	v1.DELETE("/memories/chapter", s.handleDeleteChapterMemories)
	v1.DELETE("/memories/project", s.handleDeleteProjectMemories)

	v1.POST("/manuscripts/segment", s.handleSegmentManuscript)
	v1.POST("/manuscripts/import", s.handleImportManuscript)

	v1.POST("/context/sequential", s.handleSequentialContext)
	v1.POST("/context/outline", s.handleOutlineContext)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
