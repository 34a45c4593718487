package segment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fablesmith/storyd/internal/memory"
)

const (
	chapterRecordImportance = 0.65
	resultRecordImportance  = 0.8
)

// MemoryRecords builds the ingestion records for a segmented
// manuscript: one record per chunk of each chapter (title included so
// the chunk stays attributable), plus one record per chunk of the
// analysis result markdown when one is given. analyzedRange tags the
// result records with the chapter span they describe, e.g. "8-10".
func MemoryRecords(chapters []Chapter, resultMarkdown, analyzedRange string, chunkSize int) []memory.NewMemory {
	var records []memory.NewMemory

	for _, ch := range chapters {
		parts := Chunk(ch.Title+"\n"+ch.Content, chunkSize, DefaultChunkOverlap)
		for i, part := range parts {
			importance := chapterRecordImportance
			records = append(records, memory.NewMemory{
				ID:            uuid.NewString(),
				Content:       part,
				Type:          memory.TypeAnalysisChapter,
				ChapterID:     fmt.Sprintf("book_analysis_%d", ch.Index),
				ChapterNumber: ch.ChapterNumber,
				Importance:    &importance,
				Tags: []string{
					"book_analysis",
					"chapter_segment",
					fmt.Sprintf("chapter_%d", ch.ChapterNumber),
				},
				Title: fmt.Sprintf("%s（片段%d/%d）", ch.Title, i+1, len(parts)),
			})
		}
	}

	resultParts := Chunk(resultMarkdown, chunkSize, DefaultChunkOverlap)
	for i, part := range resultParts {
		importance := resultRecordImportance
		records = append(records, memory.NewMemory{
			ID:            uuid.NewString(),
			Content:       part,
			Type:          memory.TypeAnalysisResult,
			ChapterID:     "book_analysis_result",
			ChapterNumber: 0,
			Importance:    &importance,
			Tags: []string{
				"book_analysis",
				"analysis_result",
				"range_" + analyzedRange,
			},
			Title: fmt.Sprintf("拆书分析结果（片段%d/%d）", i+1, len(resultParts)),
		})
	}

	return records
}
