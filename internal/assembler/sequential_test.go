package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablesmith/storyd/internal/relational"
)

func planJSON(t *testing.T, p relational.Plan) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return string(raw)
}

func TestSequentialFirstChapter(t *testing.T) {
	store := &fakeStore{
		projects: map[string]*relational.Project{
			"p1": {ID: "p1", UserID: "u1", Title: "沧澜行", Genre: "仙侠", Theme: "逆境成长", NarrativePerspective: "第一人称"},
		},
		chapters: map[string]*relational.Chapter{
			"c1": {ID: "c1", ProjectID: "p1", ChapterNumber: 1, Title: "山门", ExpansionPlan: planJSON(t, relational.Plan{
				PlotSummary:    "少年林缺初入青云宗",
				KeyEvents:      []string{"拜师", "获得残破玉佩"},
				CharacterFocus: []string{"林缺", "苏婉"},
				EmotionalTone:  "昂扬",
				NarrativeGoal:  "开篇立意",
				ConflictType:   "人与环境",
			})},
		},
	}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{UserID: "u1", ChapterID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, ModeSequential, cc.Mode)
	assert.Equal(t, 1, cc.ChapterNumber)
	assert.Equal(t, "山门", cc.ChapterTitle)
	assert.Equal(t, "沧澜行", cc.ProjectTitle)
	assert.Equal(t, "仙侠", cc.Genre)
	assert.Equal(t, 3000, cc.TargetWordCount)
	assert.Equal(t, 2500, cc.MinWordCount)
	assert.Equal(t, 4000, cc.MaxWordCount)
	assert.Equal(t, "第一人称", cc.NarrativePerspective)

	want := "剧情摘要：少年林缺初入青云宗\n\n" +
		"关键事件：\n- 拜师\n- 获得残破玉佩\n\n" +
		"角色焦点：林缺, 苏婉\n情感基调：昂扬\n叙事目标：开篇立意\n冲突类型：人与环境"
	assert.Equal(t, want, cc.ChapterOutline)
	assert.Equal(t, "昂扬", cc.EmotionalTone)

	// The first chapter has nothing behind it.
	assert.Empty(t, cc.RecentChapters)
	assert.Empty(t, cc.ContinuationPoint)
	assert.Empty(t, cc.PreviousChapterSummary)
	assert.Empty(t, cc.PreviousChapterEvents)
	assert.Equal(t, noCharacters, cc.Characters)

	assert.False(t, cc.Stats.HasContinuation)
	assert.Equal(t, utf8.RuneCountInString(cc.ChapterOutline), cc.Stats.OutlineLength)
	wantTotal := utf8.RuneCountInString(cc.ChapterOutline) + utf8.RuneCountInString(cc.Characters)
	assert.Equal(t, wantTotal, cc.Stats.TotalLength)
}

func TestWordBandAndPerspective(t *testing.T) {
	tests := []struct {
		name            string
		target          int
		reqPerspective  string
		projPerspective string
		wantMin         int
		wantMax         int
		wantPerspective string
	}{
		{name: "defaults", wantMin: 2500, wantMax: 4000, wantPerspective: "第三人称"},
		{name: "short target floors the minimum", target: 800, wantMin: 500, wantMax: 1800, wantPerspective: "第三人称"},
		{name: "request beats project", reqPerspective: "第二人称", projPerspective: "第一人称", wantMin: 2500, wantMax: 4000, wantPerspective: "第二人称"},
		{name: "project perspective applies", projPerspective: "第一人称", wantMin: 2500, wantMax: 4000, wantPerspective: "第一人称"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				projects: map[string]*relational.Project{"p1": {ID: "p1", NarrativePerspective: tt.projPerspective}},
				chapters: map[string]*relational.Chapter{"c1": {ID: "c1", ProjectID: "p1", ChapterNumber: 1}},
			}
			a := newTestAssembler(t, store, nil)

			cc, err := a.Sequential(context.Background(), Request{
				ChapterID:       "c1",
				TargetWordCount: tt.target,
				Perspective:     tt.reqPerspective,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, cc.MinWordCount)
			assert.Equal(t, tt.wantMax, cc.MaxWordCount)
			assert.Equal(t, tt.wantPerspective, cc.NarrativePerspective)
		})
	}
}

func TestSequentialOutlineFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		chapter *relational.Chapter
		outline *relational.Outline
		want    string
	}{
		{
			name:    "free text outline",
			chapter: &relational.Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1},
			outline: &relational.Outline{ID: "o1", ChapterID: "c1", Content: "自由文本大纲"},
			want:    "自由文本大纲",
		},
		{
			name:    "chapter summary",
			chapter: &relational.Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1, Summary: "本章概述"},
			want:    "本章概述",
		},
		{
			name:    "malformed plan falls through",
			chapter: &relational.Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1, ExpansionPlan: "{oops", Summary: "本章概述"},
			want:    "本章概述",
		},
		{
			name:    "nothing available",
			chapter: &relational.Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1},
			want:    "暂无大纲",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				projects: map[string]*relational.Project{"p1": {ID: "p1"}},
				chapters: map[string]*relational.Chapter{"c1": tt.chapter},
			}
			if tt.outline != nil {
				store.outlines = map[string]*relational.Outline{"c1": tt.outline}
			}
			a := newTestAssembler(t, store, nil)

			cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cc.ChapterOutline)
		})
	}
}

func TestContinuityAnchor(t *testing.T) {
	content := strings.Repeat("山", 20) + strings.Repeat("雪", 500)
	prevPlan := planJSON(t, relational.Plan{
		PlotSummary: "宗门大比落幕",
		KeyEvents:   []string{"一", "二", "三", "四", "五", "六"},
	})

	newStore := func() *fakeStore {
		return &fakeStore{
			projects: map[string]*relational.Project{"p1": {ID: "p1"}},
			chapters: map[string]*relational.Chapter{
				// Numbering has a gap on purpose; chapter 4 is still the
				// previous chapter of chapter 7.
				"c4": {ID: "c4", ProjectID: "p1", ChapterNumber: 4, Title: "大比", Content: content, Summary: "大比概述", ExpansionPlan: prevPlan},
				"c7": {ID: "c7", ProjectID: "p1", ChapterNumber: 7, Title: "下山"},
			},
		}
	}

	t.Run("mirrored summary wins", func(t *testing.T) {
		store := newStore()
		store.summaries = map[string]string{"c4": strings.Repeat("忆", 320)}
		a := newTestAssembler(t, store, nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c7"})
		require.NoError(t, err)

		assert.Equal(t, strings.Repeat("雪", 500), cc.ContinuationPoint)
		assert.Equal(t, strings.Repeat("忆", 300), cc.PreviousChapterSummary)
		assert.Equal(t, []string{"一", "二", "三", "四", "五"}, cc.PreviousChapterEvents)
		assert.True(t, cc.Stats.HasContinuation)
	})

	t.Run("chapter summary next", func(t *testing.T) {
		a := newTestAssembler(t, newStore(), nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c7"})
		require.NoError(t, err)
		assert.Equal(t, "大比概述", cc.PreviousChapterSummary)
	})

	t.Run("plan summary last", func(t *testing.T) {
		store := newStore()
		store.chapters["c4"].Summary = ""
		a := newTestAssembler(t, store, nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c7"})
		require.NoError(t, err)
		assert.Equal(t, "宗门大比落幕", cc.PreviousChapterSummary)
	})

	t.Run("no previous chapter", func(t *testing.T) {
		store := newStore()
		delete(store.chapters, "c4")
		a := newTestAssembler(t, store, nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c7"})
		require.NoError(t, err)
		assert.Empty(t, cc.ContinuationPoint)
		assert.Empty(t, cc.PreviousChapterSummary)
		assert.False(t, cc.Stats.HasContinuation)
	})
}

func TestRecentPlansWindow(t *testing.T) {
	store := &fakeStore{
		projects: map[string]*relational.Project{"p1": {ID: "p1"}},
		chapters: map[string]*relational.Chapter{
			"c13": {ID: "c13", ProjectID: "p1", ChapterNumber: 13, Title: "T13"},
		},
	}
	for n := 1; n <= 10; n++ {
		id := fmt.Sprintf("c%d", n)
		store.chapters[id] = &relational.Chapter{
			ID: id, ProjectID: "p1", ChapterNumber: n, Title: fmt.Sprintf("T%d", n),
			ExpansionPlan: planJSON(t, relational.Plan{PlotSummary: fmt.Sprintf("第%d章的规划", n)}),
		}
	}
	// Chapter 5 carries key events; only the first three render.
	store.chapters["c5"].ExpansionPlan = planJSON(t, relational.Plan{
		PlotSummary: "第5章的规划",
		KeyEvents:   []string{"甲", "乙", "丙", "丁"},
	})
	// Chapter 11 has a broken plan but a long summary.
	store.chapters["c11"] = &relational.Chapter{
		ID: "c11", ProjectID: "p1", ChapterNumber: 11, Title: "T11",
		ExpansionPlan: "{oops", Summary: strings.Repeat("长", 120),
	}
	// Chapter 12 has neither and is skipped.
	store.chapters["c12"] = &relational.Chapter{ID: "c12", ProjectID: "p1", ChapterNumber: 12, Title: "T12"}

	a := newTestAssembler(t, store, nil)
	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c13"})
	require.NoError(t, err)

	lines := strings.Split(cc.RecentChapters, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "【最近章节规划】", lines[0])

	// Window of ten: chapters 3 through 12, ascending, with 12 skipped.
	assert.Equal(t, "第3章《T3》：第3章的规划", lines[1])
	assert.NotContains(t, cc.RecentChapters, "第2章")
	assert.NotContains(t, cc.RecentChapters, "第12章")
	assert.Contains(t, cc.RecentChapters, "第5章《T5》：第5章的规划（关键事件：甲；乙；丙）")
	assert.NotContains(t, cc.RecentChapters, "丁")
	assert.Contains(t, cc.RecentChapters, "第11章《T11》："+strings.Repeat("长", 100))
	assert.NotContains(t, cc.RecentChapters, strings.Repeat("长", 101))
	assert.Len(t, lines, 10) // header + 8 planned + 1 summarized
}

func TestEmotionalToneFallbacks(t *testing.T) {
	withStructure := &relational.Outline{Structure: `{"emotion":"压抑"}`}

	assert.Equal(t, "昂扬", emotionalTone(&relational.Plan{EmotionalTone: "昂扬"}, withStructure))
	assert.Equal(t, "压抑", emotionalTone(&relational.Plan{}, withStructure))
	assert.Equal(t, "压抑", emotionalTone(nil, withStructure))
	assert.Equal(t, "未设定", emotionalTone(nil, &relational.Outline{Structure: "{oops"}))
	assert.Equal(t, "未设定", emotionalTone(nil, nil))
}

func TestStorySkeleton(t *testing.T) {
	store := &fakeStore{
		projects:  map[string]*relational.Project{"p1": {ID: "p1"}},
		chapters:  map[string]*relational.Chapter{"c12": {ID: "c12", ProjectID: "p1", ChapterNumber: 12, Title: "T12"}},
		summaries: map[string]string{"c6": "第六章摘要"},
	}
	for n := 1; n <= 11; n++ {
		id := fmt.Sprintf("c%d", n)
		store.chapters[id] = &relational.Chapter{
			ID: id, ProjectID: "p1", ChapterNumber: n, Title: fmt.Sprintf("T%d", n), Content: "正文",
		}
	}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c12", IncludeSkeleton: true})
	require.NoError(t, err)

	want := strings.Join([]string{
		"【故事骨架】",
		"第1章《T1》",
		"第6章《T6》：第六章摘要",
		"第11章《T11》",
	}, "\n")
	assert.Equal(t, want, cc.StorySkeleton)
	assert.Equal(t, utf8.RuneCountInString(want), cc.Stats.SkeletonLength)

	// The skeleton is an extra; it stays out of the running total.
	withoutSkeleton, err := a.Sequential(context.Background(), Request{ChapterID: "c12"})
	require.NoError(t, err)
	assert.Empty(t, withoutSkeleton.StorySkeleton)
	assert.Equal(t, withoutSkeleton.Stats.TotalLength, cc.Stats.TotalLength)
}
