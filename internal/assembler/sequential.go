package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/relational"
)

// Sequential assembles context for sequential-expansion generation:
// the core outline comes from the chapter's expansion plan, a rolling
// summary of the preceding chapters' plans preserves longer-range
// continuity, and the anchor is the previous chapter's ending plus its
// best available summary.
func (a *Assembler) Sequential(ctx context.Context, req Request) (*ChapterContext, error) {
	project, chapter, err := a.lookupChapter(ctx, req)
	if err != nil {
		return nil, err
	}

	outline := a.outlineFor(ctx, chapter.ID)
	plan := chapter.DecodePlan()

	cc := newChapterContext(ModeSequential, project, chapter, req)
	cc.ChapterOutline = sequentialOutline(chapter, outline, plan)

	if chapter.ChapterNumber > 1 {
		cc.RecentChapters = a.recentPlans(ctx, project.ID, chapter.ChapterNumber)

		anchor := a.continuityAnchor(ctx, project.ID, chapter.ChapterNumber)
		cc.ContinuationPoint = anchor.ending
		cc.PreviousChapterSummary = anchor.summary
		cc.PreviousChapterEvents = anchor.events
	}

	var focus []string
	if plan != nil {
		focus = plan.CharacterFocus
	}
	cc.Characters, cc.Careers = a.sequentialCharacters(ctx, project.ID, focus)
	cc.EmotionalTone = emotionalTone(plan, outline)

	if a.memories != nil {
		cc.RelevantMemories = a.relevantMemories(ctx, req.UserID, project.ID, cc.ChapterOutline)
	}
	if a.foreshadows != nil {
		cc.ForeshadowReminders = a.foreshadowReminders(ctx, project.ID, chapter.ChapterNumber)
	}
	if req.IncludeSkeleton && chapter.ChapterNumber > 1 {
		cc.StorySkeleton = a.storySkeleton(ctx, project.ID, chapter.ChapterNumber)
	}

	cc.finalize()
	a.logger.Info("assembled chapter context",
		zap.String("mode", cc.Mode),
		zap.Int("chapter", cc.ChapterNumber),
		zap.Int("total_length", cc.Stats.TotalLength))
	return cc, nil
}

// sequentialOutline prefers the structured plan, then free-text
// outline, then the chapter's own summary.
func sequentialOutline(chapter *relational.Chapter, outline *relational.Outline, plan *relational.Plan) string {
	if plan != nil {
		return planOutline(plan)
	}
	if outline != nil && outline.Content != "" {
		return outline.Content
	}
	if chapter.Summary != "" {
		return chapter.Summary
	}
	return "暂无大纲"
}

func planOutline(p *relational.Plan) string {
	events := make([]string, len(p.KeyEvents))
	for i, e := range p.KeyEvents {
		events[i] = "- " + e
	}
	return fmt.Sprintf(`剧情摘要：%s

关键事件：
%s

角色焦点：%s
情感基调：%s
叙事目标：%s
冲突类型：%s`,
		orDefault(p.PlotSummary, "无"),
		strings.Join(events, "\n"),
		strings.Join(p.CharacterFocus, ", "),
		orDefault(p.EmotionalTone, "未设定"),
		orDefault(p.NarrativeGoal, "未设定"),
		orDefault(p.ConflictType, "未设定"))
}

// recentPlans summarizes the plans of the preceding chapters, fetched
// newest-first and presented in ascending chapter order.
func (a *Assembler) recentPlans(ctx context.Context, projectID string, before int) string {
	recent, err := a.chapters.RecentChapters(ctx, projectID, before, RecentPlanWindow)
	if err != nil {
		a.logger.Warn("recent chapter lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	if len(recent) == 0 {
		return ""
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].ChapterNumber < recent[j].ChapterNumber
	})

	lines := []string{"【最近章节规划】"}
	for _, ch := range recent {
		if plan := ch.DecodePlan(); plan != nil {
			line := fmt.Sprintf("第%d章《%s》：%s", ch.ChapterNumber, ch.Title, plan.PlotSummary)
			if len(plan.KeyEvents) > 0 {
				events := plan.KeyEvents
				if len(events) > 3 {
					events = events[:3]
				}
				line += fmt.Sprintf("（关键事件：%s）", strings.Join(events, "；"))
			}
			lines = append(lines, line)
			continue
		}
		if ch.Summary != "" {
			lines = append(lines, fmt.Sprintf("第%d章《%s》：%s", ch.ChapterNumber, ch.Title, truncateRunes(ch.Summary, 100)))
		}
	}
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

type anchor struct {
	ending  string
	summary string
	events  []string
}

// continuityAnchor takes the previous chapter's final excerpt and its
// best available summary: the mirrored chapter-summary memory wins,
// then the chapter's own summary, then the plan's summary fragment.
// Chapter numbers are not assumed contiguous.
func (a *Assembler) continuityAnchor(ctx context.Context, projectID string, before int) anchor {
	var out anchor

	prev, err := a.chapters.PreviousChapter(ctx, projectID, before)
	if err != nil {
		if !errors.Is(err, relational.ErrNotFound) {
			a.logger.Warn("previous chapter lookup failed", zap.String("project_id", projectID), zap.Error(err))
		}
		return out
	}

	if content := strings.TrimSpace(prev.Content); content != "" {
		out.ending = tailRunes(content, EndingAnchorRunes)
	}

	if summary, err := a.chapters.ChapterSummary(ctx, projectID, prev.ID); err != nil {
		a.logger.Warn("chapter summary lookup failed", zap.String("chapter_id", prev.ID), zap.Error(err))
	} else if summary != "" {
		out.summary = truncateRunes(summary, summaryRunes)
	}

	plan := prev.DecodePlan()
	if out.summary == "" {
		if prev.Summary != "" {
			out.summary = truncateRunes(prev.Summary, summaryRunes)
		} else if plan != nil && plan.PlotSummary != "" {
			out.summary = truncateRunes(plan.PlotSummary, summaryRunes)
		}
	}

	if plan != nil && len(plan.KeyEvents) > 0 {
		events := plan.KeyEvents
		if len(events) > keyEventLimit {
			events = events[:keyEventLimit]
		}
		out.events = events
	}
	return out
}

// emotionalTone reads the chapter's tone from the plan, then the
// outline structure.
func emotionalTone(plan *relational.Plan, outline *relational.Outline) string {
	if plan != nil && plan.EmotionalTone != "" {
		return plan.EmotionalTone
	}
	if outline != nil {
		if s := outline.DecodeStructure(); s != nil && s.Emotion != "" {
			return s.Emotion
		}
	}
	return "未设定"
}

// storySkeleton samples every Nth written chapter into a one-line-per-
// chapter arc overview, using the mirrored summary when one exists.
func (a *Assembler) storySkeleton(ctx context.Context, projectID string, before int) string {
	chapters, err := a.chapters.ChaptersWithContent(ctx, projectID, before)
	if err != nil {
		a.logger.Warn("skeleton chapter lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	if len(chapters) == 0 {
		return ""
	}

	lines := []string{"【故事骨架】"}
	for i, ch := range chapters {
		if i%skeletonSampleInterval != 0 {
			continue
		}
		summary, err := a.chapters.ChapterSummary(ctx, projectID, ch.ID)
		if err != nil {
			a.logger.Warn("skeleton summary lookup failed", zap.String("chapter_id", ch.ID), zap.Error(err))
			summary = ""
		}
		if summary != "" {
			lines = append(lines, fmt.Sprintf("第%d章《%s》：%s", ch.ChapterNumber, ch.Title, truncateRunes(summary, 100)))
		} else {
			lines = append(lines, fmt.Sprintf("第%d章《%s》", ch.ChapterNumber, ch.Title))
		}
	}
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
