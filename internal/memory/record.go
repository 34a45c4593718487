package memory

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fablesmith/storyd/internal/vectorstore"
)

// Metadata keys. Values are restricted to primitives; list-valued
// fields are serialized to JSON strings and treated as opaque by the
// store.
const (
	metaType          = "memory_type"
	metaChapterID     = "chapter_id"
	metaChapterNumber = "chapter_number"
	metaImportance    = "importance"
	metaTags          = "tags"
	metaTitle         = "title"
	metaForeshadow    = "is_foreshadow"
	metaCharacters    = "related_characters"
	metaModel         = "embedding_model"
	metaCreatedAt     = "created_at"
)

// Record is a stored narrative memory.
type Record struct {
	ID                string    `json:"id"`
	Content           string    `json:"content"`
	Type              string    `json:"memory_type"`
	ChapterID         string    `json:"chapter_id,omitempty"`
	ChapterNumber     int       `json:"chapter_number"`
	Importance        float64   `json:"importance"`
	IsForeshadow      int       `json:"is_foreshadow"`
	Tags              []string  `json:"tags"`
	RelatedCharacters []string  `json:"related_characters,omitempty"`
	Title             string    `json:"title,omitempty"`
	EmbeddingModel    string    `json:"embedding_model,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SearchResult is a record plus its query similarity.
type SearchResult struct {
	Record
	Similarity float32 `json:"similarity"`
}

// NewMemory describes a record to ingest. A nil Importance defaults to
// DefaultImportance; an empty ID gets a generated UUID.
type NewMemory struct {
	ID                string
	Content           string
	Type              string
	ChapterID         string
	ChapterNumber     int
	Importance        *float64
	IsForeshadow      int
	Tags              []string
	RelatedCharacters []string
	Title             string
}

// Update describes a partial record mutation. Nil fields are left
// untouched. Content changes trigger re-embedding; everything else
// reuses the stored vector.
type Update struct {
	Content           *string
	Type              *string
	ChapterID         *string
	ChapterNumber     *int
	Importance        *float64
	IsForeshadow      *int
	Tags              *[]string
	RelatedCharacters *[]string
	Title             *string
}

func (u Update) empty() bool {
	return u.Content == nil && u.Type == nil && u.ChapterID == nil &&
		u.ChapterNumber == nil && u.Importance == nil && u.IsForeshadow == nil &&
		u.Tags == nil && u.RelatedCharacters == nil && u.Title == nil
}

// Stats aggregates a project's active collection.
type Stats struct {
	TotalCount         int            `json:"total_count"`
	ByType             map[string]int `json:"by_type"`
	ByChapter          map[int]int    `json:"by_chapter"`
	ForeshadowPlanted  int            `json:"foreshadow_count"`
	ForeshadowResolved int            `json:"foreshadow_resolved"`
	Collections        []string       `json:"collections"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// marshalList encodes a string list for metadata storage. Never fails
// for string slices; nil encodes as the empty list.
func marshalList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	return values
}

// recordMetadata builds the metadata map for a new record. Importance
// is clamped into [0,1]; long titles and model names are truncated.
func recordMetadata(m NewMemory, model string, createdAt time.Time) map[string]any {
	importance := DefaultImportance
	if m.Importance != nil {
		importance = clamp01(*m.Importance)
	}

	md := map[string]any{
		metaType:          m.Type,
		metaChapterID:     m.ChapterID,
		metaChapterNumber: m.ChapterNumber,
		metaImportance:    importance,
		metaTags:          marshalList(m.Tags),
		metaTitle:         truncateRunes(m.Title, maxMetaRunes),
		metaForeshadow:    m.IsForeshadow,
		metaModel:         truncateRunes(model, maxMetaRunes),
		metaCreatedAt:     createdAt.UTC().Format(time.RFC3339),
	}
	if len(m.RelatedCharacters) > 0 {
		md[metaCharacters] = marshalList(m.RelatedCharacters)
	}
	return md
}

// recordFromDocument decodes a stored document back into a Record.
// Metadata arrives as strings from some backends and as typed values
// from others, so every numeric read coerces.
func recordFromDocument(doc vectorstore.Document) Record {
	md := doc.Metadata
	return Record{
		ID:                doc.ID,
		Content:           doc.Content,
		Type:              metaString(md, metaType),
		ChapterID:         metaString(md, metaChapterID),
		ChapterNumber:     metaInt(md, metaChapterNumber),
		Importance:        metaFloat(md, metaImportance),
		IsForeshadow:      metaInt(md, metaForeshadow),
		Tags:              unmarshalList(metaString(md, metaTags)),
		RelatedCharacters: unmarshalList(metaString(md, metaCharacters)),
		Title:             metaString(md, metaTitle),
		EmbeddingModel:    metaString(md, metaModel),
		CreatedAt:         parseCreatedAt(metaString(md, metaCreatedAt)),
	}
}

func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func metaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if s, ok := md[key].(string); ok {
		return s
	}
	return ""
}

func metaInt(md map[string]any, key string) int {
	if md == nil {
		return 0
	}
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func metaFloat(md map[string]any, key string) float64 {
	if md == nil {
		return 0
	}
	switch v := md[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
