package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
)

func searchResult(content string, similarity float32) memory.SearchResult {
	return memory.SearchResult{
		Record:     memory.Record{Content: content},
		Similarity: similarity,
	}
}

func TestRelevantMemoriesFiltersAndCaps(t *testing.T) {
	searcher := &fakeSearcher{
		results: []memory.SearchResult{
			searchResult("门槛之下", 0.5),
			searchResult("贴近门槛", 0.59375),
			searchResult(strings.Repeat("忆", 120), 0.95),
		},
	}
	for i := 1; i <= 11; i++ {
		searcher.results = append(searcher.results, searchResult(fmt.Sprintf("相关记忆%02d", i), 0.80))
	}
	store := &fakeStore{}
	a := newTestAssembler(t, store, searcher)

	out := a.relevantMemories(context.Background(), "u1", "p1", "第一行\n第二行")

	assert.Equal(t, memory.Scope{UserID: "u1", ProjectID: "p1"}, searcher.lastScope)
	assert.Equal(t, "第一行 第二行", searcher.lastQuery.Query)
	assert.Equal(t, memorySearchLimit, searcher.lastQuery.Limit)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "【相关记忆】", lines[0])
	assert.Len(t, lines, 1+MemoryRenderLimit)

	assert.Contains(t, out, "- (相关度:0.95) "+strings.Repeat("忆", 100))
	assert.NotContains(t, out, strings.Repeat("忆", 101))
	assert.NotContains(t, out, "门槛之下")
	assert.NotContains(t, out, "贴近门槛")
	// Ten render; the eleventh above-threshold hit is dropped.
	assert.Contains(t, out, "相关记忆09")
	assert.NotContains(t, out, "相关记忆10")
}

func TestRelevantMemoriesEdgeCases(t *testing.T) {
	t.Run("blank outline skips retrieval", func(t *testing.T) {
		searcher := &fakeSearcher{}
		a := newTestAssembler(t, &fakeStore{}, searcher)

		assert.Empty(t, a.relevantMemories(context.Background(), "u1", "p1", " \n "))
		assert.Zero(t, searcher.calls)
	})

	t.Run("retrieval failure degrades to empty", func(t *testing.T) {
		searcher := &fakeSearcher{err: errors.New("qdrant offline")}
		a := newTestAssembler(t, &fakeStore{}, searcher)

		assert.Empty(t, a.relevantMemories(context.Background(), "u1", "p1", "大纲"))
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		searcher := &fakeSearcher{results: []memory.SearchResult{searchResult("弱相关", 0.30)}}
		a := newTestAssembler(t, &fakeStore{}, searcher)

		assert.Empty(t, a.relevantMemories(context.Background(), "u1", "p1", "大纲"))
	})
}

func TestForeshadowReminders(t *testing.T) {
	store := &fakeStore{
		must: []relational.Foreshadow{
			{
				Title:              "玉佩来历",
				Content:            strings.Repeat("玉", 160),
				PlantChapterNumber: 2,
				ResolutionNotes:    "让长老认出玉佩",
			},
		},
		overdue: []relational.Foreshadow{
			{Title: "旧案一", Content: "旧案一内容", PlantChapterNumber: 1, TargetResolveChapter: 4},
			{Title: "旧案二", Content: "旧案二内容", PlantChapterNumber: 2, TargetResolveChapter: 5},
			{Title: "旧案三", Content: "旧案三内容", PlantChapterNumber: 3, TargetResolveChapter: 6},
			{Title: "旧案四", Content: "旧案四内容", PlantChapterNumber: 4, TargetResolveChapter: 7},
		},
		upcoming: []relational.Foreshadow{
			{Title: "同章伏笔", TargetResolveChapter: 10},
			{Title: "北境战事", TargetResolveChapter: 12},
			{Title: "旧敌归来", TargetResolveChapter: 13},
		},
	}
	a := newTestAssembler(t, store, nil)

	out := a.foreshadowReminders(context.Background(), "p1", 10)

	want := strings.Join([]string{
		"【🎯 本章必须回收的伏笔】",
		"- 玉佩来历",
		"  埋入章节：第2章",
		"  伏笔内容：" + strings.Repeat("玉", 100) + "...",
		"  回收提示：让长老认出玉佩",
		"",
		"【⚠️ 超期待回收伏笔】",
		"- 旧案一 [已超期6章]",
		"  埋入章节：第1章，原计划第4章回收",
		"  伏笔内容：旧案一内容...",
		"",
		"- 旧案二 [已超期5章]",
		"  埋入章节：第2章，原计划第5章回收",
		"  伏笔内容：旧案二内容...",
		"",
		"- 旧案三 [已超期4章]",
		"  埋入章节：第3章，原计划第6章回收",
		"  伏笔内容：旧案三内容...",
		"",
		"【📋 即将到期的伏笔（仅供参考）】",
		"- 北境战事（计划第12章回收，还有2章）",
		"- 旧敌归来（计划第13章回收，还有3章）",
		"",
	}, "\n")
	assert.Equal(t, want, out)

	// The fourth overdue entry is beyond the cap, and the same-chapter
	// pending entry is not "upcoming".
	assert.NotContains(t, out, "旧案四")
	assert.NotContains(t, out, "同章伏笔")
}

func TestForeshadowRemindersEdgeCases(t *testing.T) {
	t.Run("no foreshadows", func(t *testing.T) {
		a := newTestAssembler(t, &fakeStore{}, nil)
		assert.Empty(t, a.foreshadowReminders(context.Background(), "p1", 5))
	})

	t.Run("lookup failure drops the section", func(t *testing.T) {
		store := &fakeStore{
			must:          []relational.Foreshadow{{Title: "玉佩来历"}},
			foreshadowErr: errors.New("db offline"),
		}
		a := newTestAssembler(t, store, nil)
		assert.Empty(t, a.foreshadowReminders(context.Background(), "p1", 5))
	})

	t.Run("short content keeps its ellipsis convention", func(t *testing.T) {
		store := &fakeStore{
			must: []relational.Foreshadow{{Title: "短伏笔", Content: "三字经", PlantChapterNumber: 1}},
		}
		a := newTestAssembler(t, store, nil)

		out := a.foreshadowReminders(context.Background(), "p1", 5)
		// Due-now entries only mark truncation when it happened.
		assert.Contains(t, out, "  伏笔内容：三字经\n")
		assert.NotContains(t, out, "三字经...")
		assert.NotContains(t, out, "回收提示")
	})
}
