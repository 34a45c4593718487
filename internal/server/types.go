package server

import (
	"fmt"

	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
)

// scopeParams is the tenant pair every memory operation requires,
// embedded in request bodies and mirrored by query parameters on GETs.
type scopeParams struct {
	UserID    string `json:"user_id" query:"user_id"`
	ProjectID string `json:"project_id" query:"project_id"`
}

func (p scopeParams) scope() (memory.Scope, error) {
	if p.UserID == "" || p.ProjectID == "" {
		return memory.Scope{}, fmt.Errorf("user_id and project_id are required")
	}
	return memory.Scope{UserID: p.UserID, ProjectID: p.ProjectID}, nil
}

// EmbeddingPayload is a per-request embedding override. Empty fields
// defer to the user's stored settings and the process defaults.
type EmbeddingPayload struct {
	Mode     string `json:"mode,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"api_base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

func (p *EmbeddingPayload) settings() *embedding.Settings {
	if p == nil {
		return nil
	}
	return &embedding.Settings{
		Mode:     p.Mode,
		Provider: p.Provider,
		Model:    p.Model,
		BaseURL:  p.BaseURL,
		APIKey:   p.APIKey,
	}
}

// MemoryPayload is the wire shape of one memory record to ingest.
type MemoryPayload struct {
	ID                string   `json:"id,omitempty"`
	Content           string   `json:"content"`
	Type              string   `json:"memory_type"`
	ChapterID         string   `json:"chapter_id,omitempty"`
	ChapterNumber     int      `json:"chapter_number,omitempty"`
	Importance        *float64 `json:"importance,omitempty"`
	IsForeshadow      int      `json:"is_foreshadow,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	RelatedCharacters []string `json:"related_characters,omitempty"`
	Title             string   `json:"title,omitempty"`
}

func (p MemoryPayload) newMemory() memory.NewMemory {
	return memory.NewMemory{
		ID:                p.ID,
		Content:           p.Content,
		Type:              p.Type,
		ChapterID:         p.ChapterID,
		ChapterNumber:     p.ChapterNumber,
		Importance:        p.Importance,
		IsForeshadow:      p.IsForeshadow,
		Tags:              p.Tags,
		RelatedCharacters: p.RelatedCharacters,
		Title:             p.Title,
	}
}

// AddMemoryRequest is the request body for POST /api/v1/memories.
type AddMemoryRequest struct {
	scopeParams
	Memory    MemoryPayload     `json:"memory"`
	Embedding *EmbeddingPayload `json:"embedding_config,omitempty"`
}

// AddMemoryResponse reports whether the record was written and under
// which id.
type AddMemoryResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

// BatchAddRequest is the request body for POST /api/v1/memories/batch.
type BatchAddRequest struct {
	scopeParams
	Records   []MemoryPayload   `json:"records"`
	Embedding *EmbeddingPayload `json:"embedding_config,omitempty"`
}

// BatchAddResponse reports how many records were written; zero means
// the whole batch failed.
type BatchAddResponse struct {
	Written int `json:"written"`
}

// SearchRequest is the request body for POST /api/v1/memories/search.
type SearchRequest struct {
	scopeParams
	Query         string            `json:"query"`
	Types         []string          `json:"memory_types,omitempty"`
	MinImportance float64           `json:"min_importance,omitempty"`
	ChapterMin    *int              `json:"chapter_min,omitempty"`
	ChapterMax    *int              `json:"chapter_max,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Embedding     *EmbeddingPayload `json:"embedding_config,omitempty"`
}

// SearchResponse carries similarity-ordered results.
type SearchResponse struct {
	Results []memory.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// UpdateMemoryRequest is the request body for PATCH /api/v1/memories/:id.
// Absent fields keep their stored values.
type UpdateMemoryRequest struct {
	scopeParams
	Content           *string           `json:"content,omitempty"`
	Type              *string           `json:"memory_type,omitempty"`
	ChapterID         *string           `json:"chapter_id,omitempty"`
	ChapterNumber     *int              `json:"chapter_number,omitempty"`
	Importance        *float64          `json:"importance,omitempty"`
	IsForeshadow      *int              `json:"is_foreshadow,omitempty"`
	Tags              *[]string         `json:"tags,omitempty"`
	RelatedCharacters *[]string         `json:"related_characters,omitempty"`
	Title             *string           `json:"title,omitempty"`
	Embedding         *EmbeddingPayload `json:"embedding_config,omitempty"`
}

func (r UpdateMemoryRequest) update() memory.Update {
	return memory.Update{
		Content:           r.Content,
		Type:              r.Type,
		ChapterID:         r.ChapterID,
		ChapterNumber:     r.ChapterNumber,
		Importance:        r.Importance,
		IsForeshadow:      r.IsForeshadow,
		Tags:              r.Tags,
		RelatedCharacters: r.RelatedCharacters,
		Title:             r.Title,
	}
}

// SuccessResponse is the generic boolean outcome body.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// RecordsResponse carries plain record lists (recent, foreshadows).
type RecordsResponse struct {
	Memories []memory.Record `json:"memories"`
	Count    int             `json:"count"`
}

// DeletedResponse reports how many vectors a delete removed.
type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

// RebuildRequest is the request body for POST /api/v1/memories/rebuild.
type RebuildRequest struct {
	scopeParams
	BatchSize int               `json:"batch_size,omitempty"`
	Embedding *EmbeddingPayload `json:"embedding_config,omitempty"`
}

// RebuildResponse reports rebuild progress: how many mirror rows were
// found and how many vectors were written back.
type RebuildResponse struct {
	Total   int `json:"total"`
	Written int `json:"written"`
}

// ListMemoriesResponse carries mirrored memory rows from the story
// library.
type ListMemoriesResponse struct {
	Memories []relational.StoryMemory `json:"memories"`
	Count    int                      `json:"count"`
}
