package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const chapterColumns = "id, project_id, chapter_number, title, content, summary, expansion_plan, word_count"

func scanChapter(row interface{ Scan(...any) error }) (*Chapter, error) {
	var c Chapter
	err := row.Scan(&c.ID, &c.ProjectID, &c.ChapterNumber, &c.Title,
		&c.Content, &c.Summary, &c.ExpansionPlan, &c.WordCount)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Project fetches one project row.
func (s *Store) Project(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, genre, theme, narrative_perspective
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.UserID, &p.Title, &p.Genre, &p.Theme, &p.NarrativePerspective)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

// Chapter fetches one chapter row by ID.
func (s *Store) Chapter(ctx context.Context, id string) (*Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chapter: %w", err)
	}
	return c, nil
}

// ChapterByNumber fetches the chapter with the given number in a
// project.
func (s *Store) ChapterByNumber(ctx context.Context, projectID string, number int) (*Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters
		 WHERE project_id = ? AND chapter_number = ?`, projectID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chapter by number: %w", err)
	}
	return c, nil
}

// PreviousChapter returns the highest-numbered chapter strictly before
// the given number. Chapter numbers are not assumed contiguous.
// ErrNotFound when nothing precedes it.
func (s *Store) PreviousChapter(ctx context.Context, projectID string, before int) (*Chapter, error) {
	c, err := scanChapter(s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters
		 WHERE project_id = ? AND chapter_number < ?
		 ORDER BY chapter_number DESC LIMIT 1`, projectID, before))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying previous chapter: %w", err)
	}
	return c, nil
}

// RecentChapters returns up to limit chapters numbered strictly before
// the given number, newest first. Only the planning columns are
// populated; content is left empty to keep the result light.
func (s *Store) RecentChapters(ctx context.Context, projectID string, before, limit int) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chapter_number, title, expansion_plan, summary FROM chapters
		 WHERE project_id = ? AND chapter_number < ?
		 ORDER BY chapter_number DESC LIMIT ?`, projectID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent chapters: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ChapterNumber, &c.Title, &c.ExpansionPlan, &c.Summary); err != nil {
			return nil, fmt.Errorf("scanning recent chapter: %w", err)
		}
		c.ProjectID = projectID
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChaptersWithContent returns (id, number, title) of every chapter
// before the given number that has prose, in ascending order.
func (s *Store) ChaptersWithContent(ctx context.Context, projectID string, before int) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chapter_number, title FROM chapters
		 WHERE project_id = ? AND chapter_number < ? AND content != ''
		 ORDER BY chapter_number ASC`, projectID, before)
	if err != nil {
		return nil, fmt.Errorf("querying chapters with content: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var c Chapter
		if err := rows.Scan(&c.ID, &c.ChapterNumber, &c.Title); err != nil {
			return nil, fmt.Errorf("scanning chapter: %w", err)
		}
		c.ProjectID = projectID
		out = append(out, c)
	}
	return out, rows.Err()
}

// OutlineForChapter returns the outline attached to a chapter, or
// ErrNotFound when the chapter has none.
func (s *Store) OutlineForChapter(ctx context.Context, chapterID string) (*Outline, error) {
	var o Outline
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, chapter_id, content, structure
		 FROM outlines WHERE chapter_id = ? LIMIT 1`, chapterID).
		Scan(&o.ID, &o.ProjectID, &o.ChapterID, &o.Content, &o.Structure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying outline: %w", err)
	}
	return &o, nil
}
