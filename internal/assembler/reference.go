package assembler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/memory"
)

// relevantMemories retrieves memories semantically close to the
// chapter outline and keeps only those strictly above the similarity
// threshold. Retrieval failures degrade to an empty section; memory
// assists generation, it must not gate it.
func (a *Assembler) relevantMemories(ctx context.Context, userID, projectID, outline string) string {
	query := strings.ReplaceAll(truncateRunes(outline, memoryQueryRunes), "\n", " ")
	if strings.TrimSpace(query) == "" {
		return ""
	}

	scope := memory.Scope{UserID: userID, ProjectID: projectID}
	results, err := a.memories.Search(ctx, scope, memory.SearchQuery{
		Query: query,
		Limit: memorySearchLimit,
	}, nil)
	if err != nil {
		a.logger.Warn("memory retrieval failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}

	lines := []string{"【相关记忆】"}
	rendered := 0
	for _, r := range results {
		if float64(r.Similarity) <= SimilarityThreshold {
			continue
		}
		lines = append(lines, fmt.Sprintf("- (相关度:%.2f) %s", r.Similarity, truncateRunes(r.Content, 100)))
		rendered++
		if rendered == MemoryRenderLimit {
			break
		}
	}
	if len(lines) <= 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// foreshadowReminders renders the three reminder tiers: due exactly
// this chapter, overdue, and due within the look-ahead window. Each
// tier caps independently; lookup failures drop the whole section.
func (a *Assembler) foreshadowReminders(ctx context.Context, projectID string, chapterNumber int) string {
	var lines []string

	must, err := a.foreshadows.MustResolveForeshadows(ctx, projectID, chapterNumber)
	if err != nil {
		a.logger.Warn("foreshadow lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	if len(must) > 0 {
		lines = append(lines, "【🎯 本章必须回收的伏笔】")
		for _, f := range must {
			lines = append(lines, "- "+f.Title)
			lines = append(lines, fmt.Sprintf("  埋入章节：第%d章", f.PlantChapterNumber))
			content := truncateRunes(f.Content, 100)
			if len([]rune(f.Content)) > 100 {
				content += "..."
			}
			lines = append(lines, "  伏笔内容："+content)
			if f.ResolutionNotes != "" {
				lines = append(lines, "  回收提示："+f.ResolutionNotes)
			}
			lines = append(lines, "")
		}
	}

	overdue, err := a.foreshadows.OverdueForeshadows(ctx, projectID, chapterNumber)
	if err != nil {
		a.logger.Warn("foreshadow lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	if len(overdue) > 0 {
		if len(overdue) > overdueRenderLimit {
			overdue = overdue[:overdueRenderLimit]
		}
		lines = append(lines, "【⚠️ 超期待回收伏笔】")
		for _, f := range overdue {
			lines = append(lines, fmt.Sprintf("- %s [已超期%d章]", f.Title, chapterNumber-f.TargetResolveChapter))
			lines = append(lines, fmt.Sprintf("  埋入章节：第%d章，原计划第%d章回收", f.PlantChapterNumber, f.TargetResolveChapter))
			lines = append(lines, "  伏笔内容："+truncateRunes(f.Content, 80)+"...")
			lines = append(lines, "")
		}
	}

	upcoming, err := a.foreshadows.PendingForeshadowsWithin(ctx, projectID, chapterNumber, ForeshadowLookahead)
	if err != nil {
		a.logger.Warn("foreshadow lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return ""
	}
	// Only strictly future targets belong in the upcoming tier.
	future := upcoming[:0:0]
	for _, f := range upcoming {
		if f.TargetResolveChapter > chapterNumber {
			future = append(future, f)
		}
	}
	if len(future) > 0 {
		if len(future) > upcomingRenderLimit {
			future = future[:upcomingRenderLimit]
		}
		lines = append(lines, "【📋 即将到期的伏笔（仅供参考）】")
		for _, f := range future {
			lines = append(lines, fmt.Sprintf("- %s（计划第%d章回收，还有%d章）",
				f.Title, f.TargetResolveChapter, f.TargetResolveChapter-chapterNumber))
		}
		lines = append(lines, "")
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
