package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryListLimit bounds ListMemories when the caller does not.
const DefaultMemoryListLimit = 50

const memoryColumns = `id, project_id, chapter_id, memory_type, title, content,
	story_timeline, vector_id, embedding_model, importance_score,
	is_foreshadow, tags, related_characters, created_at`

func scanStoryMemory(rows *sql.Rows) (StoryMemory, error) {
	var m StoryMemory
	var createdAt string
	err := rows.Scan(&m.ID, &m.ProjectID, &m.ChapterID, &m.MemoryType, &m.Title,
		&m.Content, &m.StoryTimeline, &m.VectorID, &m.EmbeddingModel,
		&m.Importance, &m.IsForeshadow, &m.Tags, &m.RelatedCharacters, &createdAt)
	if err != nil {
		return m, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}

// MemoryFilter narrows ListMemories. Zero values mean no constraint.
type MemoryFilter struct {
	MemoryType string
	ChapterID  string
	Limit      int
}

// ListMemories returns the mirrored memory rows of a project, most
// important first, newest first within equal importance.
func (s *Store) ListMemories(ctx context.Context, projectID string, f MemoryFilter) ([]StoryMemory, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultMemoryListLimit
	}

	where := []string{"project_id = ?"}
	args := []any{projectID}
	if f.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.ChapterID != "" {
		where = append(where, "chapter_id = ?")
		args = append(args, f.ChapterID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM story_memories
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY importance_score DESC, created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []StoryMemory
	for rows.Next() {
		m, err := scanStoryMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChapterSummary returns the mirrored chapter_summary content for a
// chapter, empty when none was recorded.
func (s *Store) ChapterSummary(ctx context.Context, projectID, chapterID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM story_memories
		 WHERE project_id = ? AND chapter_id = ? AND memory_type = 'chapter_summary'
		 LIMIT 1`, projectID, chapterID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying chapter summary: %w", err)
	}
	return content, nil
}

// MemoriesForRebuild returns every mirrored row of a project in
// creation order, the ingestion order the rebuild path replays.
func (s *Store) MemoriesForRebuild(ctx context.Context, projectID string) ([]StoryMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM story_memories
		 WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying memories for rebuild: %w", err)
	}
	defer rows.Close()

	var out []StoryMemory
	for rows.Next() {
		m, err := scanStoryMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMemory mirrors one ingested record into the relational store.
// This is the only write this package performs; the mirror and the
// vector store are eventually consistent, not transactionally coupled.
func (s *Store) AppendMemory(ctx context.Context, m StoryMemory) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Tags == "" {
		m.Tags = "[]"
	}
	if m.RelatedCharacters == "" {
		m.RelatedCharacters = "[]"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO story_memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.ChapterID, m.MemoryType, m.Title, m.Content,
		m.StoryTimeline, m.VectorID, m.EmbeddingModel, m.Importance,
		m.IsForeshadow, m.Tags, m.RelatedCharacters,
		m.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("appending memory mirror: %w", err)
	}
	return m.ID, nil
}
