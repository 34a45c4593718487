package assembler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/relational"
)

// Outline assembles context for structured-outline generation: the
// core outline is extracted from the outline document's structural
// fields, and the character set is exactly the names that document
// lists, resolved against the project's character table.
func (a *Assembler) Outline(ctx context.Context, req Request) (*ChapterContext, error) {
	project, chapter, err := a.lookupChapter(ctx, req)
	if err != nil {
		return nil, err
	}

	outline := a.outlineFor(ctx, chapter.ID)
	var structure *relational.OutlineStructure
	if outline != nil {
		structure = outline.DecodeStructure()
	}

	cc := newChapterContext(ModeOutline, project, chapter, req)
	cc.ChapterOutline = structureOutline(outline, structure)

	if chapter.ChapterNumber > 1 {
		cc.ContinuationPoint, cc.PreviousChapterSummary = a.previousChapterAnchor(ctx, project.ID, chapter.ChapterNumber)
	}

	cc.Characters, cc.Careers = a.outlineCharacters(ctx, project.ID, structure.CharacterNames())

	if a.foreshadows != nil {
		cc.ForeshadowReminders = a.foreshadowReminders(ctx, project.ID, chapter.ChapterNumber)
	}
	if a.memories != nil {
		cc.RelevantMemories = a.relevantMemories(ctx, req.UserID, project.ID, cc.ChapterOutline)
	}

	cc.finalize()
	a.logger.Info("assembled chapter context",
		zap.String("mode", cc.Mode),
		zap.Int("chapter", cc.ChapterNumber),
		zap.Int("total_length", cc.Stats.TotalLength))
	return cc, nil
}

// structureOutline renders the named structural fields, falling back
// to the outline's free text when none are populated.
func structureOutline(outline *relational.Outline, s *relational.OutlineStructure) string {
	var parts []string
	if s != nil {
		if s.Summary != "" {
			parts = append(parts, "【章节概要】\n"+s.Summary)
		}
		if len(s.Scenes) > 0 {
			parts = append(parts, "【场景设定】\n"+bulletList(s.Scenes))
		}
		if len(s.KeyPoints) > 0 {
			parts = append(parts, "【情节要点】\n"+bulletList(s.KeyPoints))
		}
		if s.Emotion != "" {
			parts = append(parts, "【情感基调】\n"+s.Emotion)
		}
		if s.Goal != "" {
			parts = append(parts, "【叙事目标】\n"+s.Goal)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	if outline != nil && outline.Content != "" {
		return outline.Content
	}
	return "暂无大纲"
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// previousChapterAnchor is the slim anchor of the structured-outline
// mode: the previous chapter's ending excerpt plus the mirrored
// summary, else the chapter's own summary. No plan fallback here; this
// mode does not assume expansion plans exist.
func (a *Assembler) previousChapterAnchor(ctx context.Context, projectID string, before int) (string, string) {
	prev, err := a.chapters.PreviousChapter(ctx, projectID, before)
	if err != nil {
		if !errors.Is(err, relational.ErrNotFound) {
			a.logger.Warn("previous chapter lookup failed", zap.String("project_id", projectID), zap.Error(err))
		}
		return "", ""
	}

	content := strings.TrimSpace(prev.Content)
	if content == "" {
		return "", ""
	}
	ending := tailRunes(content, EndingAnchorRunes)

	summary, err := a.chapters.ChapterSummary(ctx, projectID, prev.ID)
	if err != nil {
		a.logger.Warn("chapter summary lookup failed", zap.String("chapter_id", prev.ID), zap.Error(err))
		summary = ""
	}
	if summary == "" {
		summary = prev.Summary
	}
	return ending, truncateRunes(summary, summaryRunes)
}
