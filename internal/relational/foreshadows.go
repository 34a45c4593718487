package relational

import (
	"context"
	"fmt"
)

const foreshadowColumns = `id, project_id, title, content, plant_chapter_number,
	COALESCE(target_resolve_chapter_number, 0), status, resolution_notes`

func (s *Store) queryForeshadows(ctx context.Context, query string, args ...any) ([]Foreshadow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying foreshadows: %w", err)
	}
	defer rows.Close()

	var out []Foreshadow
	for rows.Next() {
		var f Foreshadow
		err := rows.Scan(&f.ID, &f.ProjectID, &f.Title, &f.Content,
			&f.PlantChapterNumber, &f.TargetResolveChapter, &f.Status, &f.ResolutionNotes)
		if err != nil {
			return nil, fmt.Errorf("scanning foreshadow: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MustResolveForeshadows returns the pending foreshadows whose target
// chapter is exactly the given one.
func (s *Store) MustResolveForeshadows(ctx context.Context, projectID string, chapterNumber int) ([]Foreshadow, error) {
	return s.queryForeshadows(ctx,
		`SELECT `+foreshadowColumns+` FROM foreshadows
		 WHERE project_id = ? AND status = ? AND target_resolve_chapter_number = ?
		 ORDER BY plant_chapter_number ASC`,
		projectID, ForeshadowPending, chapterNumber)
}

// OverdueForeshadows returns the pending foreshadows whose target
// chapter has already passed, most overdue first. Rows without a
// target never come back.
func (s *Store) OverdueForeshadows(ctx context.Context, projectID string, currentChapter int) ([]Foreshadow, error) {
	return s.queryForeshadows(ctx,
		`SELECT `+foreshadowColumns+` FROM foreshadows
		 WHERE project_id = ? AND status = ? AND target_resolve_chapter_number < ?
		 ORDER BY target_resolve_chapter_number ASC`,
		projectID, ForeshadowPending, currentChapter)
}

// PendingForeshadowsWithin returns the pending foreshadows due after
// the current chapter but within lookahead chapters of it, soonest
// first.
func (s *Store) PendingForeshadowsWithin(ctx context.Context, projectID string, currentChapter, lookahead int) ([]Foreshadow, error) {
	return s.queryForeshadows(ctx,
		`SELECT `+foreshadowColumns+` FROM foreshadows
		 WHERE project_id = ? AND status = ?
		   AND target_resolve_chapter_number > ?
		   AND target_resolve_chapter_number <= ?
		 ORDER BY target_resolve_chapter_number ASC`,
		projectID, ForeshadowPending, currentChapter, currentChapter+lookahead)
}
