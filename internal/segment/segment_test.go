package segment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longBody builds a chapter body comfortably over the minimum length.
func longBody(seed string) string {
	return strings.TrimSpace(strings.Repeat(seed+"，这段正文足够长，不会被当作误判的标题。", 5))
}

func TestSplitByHeadings(t *testing.T) {
	manuscript := strings.Join([]string{
		"第一章 初入山门",
		"",
		longBody("林夜background"),
		"",
		"第二章 夜探藏经阁",
		"",
		longBody("藏经阁"),
		"",
		"Chapter 3 The Hidden Gate",
		"",
		longBody("hidden gate"),
	}, "\n")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 3)

	assert.Equal(t, 1, chapters[0].Index)
	assert.Equal(t, 1, chapters[0].ChapterNumber)
	assert.Equal(t, "第一章 初入山门", chapters[0].Title)
	assert.NotContains(t, chapters[0].Content, "第二章")

	assert.Equal(t, 2, chapters[1].ChapterNumber)
	assert.Equal(t, 3, chapters[2].ChapterNumber)
	assert.Equal(t, "Chapter 3 The Hidden Gate", chapters[2].Title)

	for _, ch := range chapters {
		assert.Positive(t, ch.WordCount)
		assert.NotEmpty(t, ch.Preview)
		assert.NotContains(t, ch.Preview, "\n")
	}
}

func TestSplitCJKNumberedHeadings(t *testing.T) {
	manuscript := strings.Join([]string{
		"第三十二章 风起",
		longBody("风起"),
		"第一百零五章 云涌",
		longBody("云涌"),
	}, "\n\n")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 2)
	assert.Equal(t, 32, chapters[0].ChapterNumber)
	assert.Equal(t, 105, chapters[1].ChapterNumber)
}

func TestSplitStructuralMarkers(t *testing.T) {
	manuscript := strings.Join([]string{
		"序章",
		longBody("黑暗中的低语"),
		"第一章 开端",
		longBody("开端"),
		"尾声",
		longBody("多年以后"),
	}, "\n\n")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 3)

	// Markers without numerals take their positional index.
	assert.Equal(t, "序章", chapters[0].Title)
	assert.Equal(t, 1, chapters[0].ChapterNumber)
	assert.Equal(t, "尾声", chapters[2].Title)
	assert.Equal(t, 3, chapters[2].ChapterNumber)
}

func TestSplitDiscardsShortChapters(t *testing.T) {
	manuscript := strings.Join([]string{
		"第一章 真章",
		longBody("真正的内容"),
		"第二章",
		"太短了。",
		"第三章 又一章",
		longBody("又一章的内容"),
	}, "\n\n")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 2, "the under-length chapter is dropped")

	// Index renumbers over kept chapters; the chapter number still
	// comes from the title.
	assert.Equal(t, 1, chapters[0].Index)
	assert.Equal(t, 2, chapters[1].Index)
	assert.Equal(t, 3, chapters[1].ChapterNumber)
}

func TestSplitIgnoresMidLineMarkers(t *testing.T) {
	manuscript := strings.Join([]string{
		"第一章 开端",
		longBody("他说：第二章根本不存在。这句话出现在行中，不是标题。"),
	}, "\n\n")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 1)
	assert.Contains(t, chapters[0].Content, "第二章根本不存在")
}

func TestSplitParagraphFallback(t *testing.T) {
	manuscript := strings.Join([]string{
		"没有任何标题的第一段。",
		"第二段继续讲述。",
		"第三段出现转折。",
		"第四段推进剧情。",
		"第五段收束。",
	}, "\n\n")

	chapters, byHeading := Split(manuscript, SplitOptions{MinBodyRunes: 10, FallbackGroupSize: 2})
	require.False(t, byHeading)
	require.Len(t, chapters, 2, "five short paragraphs group into 2+2, the undersized tail is dropped")

	assert.Equal(t, "段落组1", chapters[0].Title)
	assert.Equal(t, 1, chapters[0].ChapterNumber)
	assert.Contains(t, chapters[0].Content, "第一段")
	assert.Contains(t, chapters[0].Content, "第二段")
	assert.Equal(t, "段落组2", chapters[1].Title)
	assert.Equal(t, 2, chapters[1].ChapterNumber)
}

func TestSplitEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\n"} {
		chapters, byHeading := Split(in, SplitOptions{})
		assert.Empty(t, chapters)
		assert.False(t, byHeading)
	}
}

func TestSplitNormalizesLineEndings(t *testing.T) {
	manuscript := "第一章 开端\r\n\r\n" + longBody("开端") + "\r\n第二章 发展\r\n\r\n" + longBody("发展")

	chapters, byHeading := Split(manuscript, SplitOptions{})
	require.True(t, byHeading)
	require.Len(t, chapters, 2)
	assert.NotContains(t, chapters[0].Content, "\r")
}

func TestPreviewSingleLineAndCap(t *testing.T) {
	multi := "第一行。\n第二行。\t缩进的  文字。"
	assert.Equal(t, "第一行。 第二行。 缩进的 文字。", preview(multi))

	long := strings.Repeat("雪", 200)
	p := preview(long)
	assert.Equal(t, previewRunes+3, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "..."))
}

func makeChapters(n int) []Chapter {
	chapters := make([]Chapter, n)
	for i := range chapters {
		chapters[i] = Chapter{
			Index:         i + 1,
			ChapterNumber: i + 1,
			Title:         fmt.Sprintf("第%d章", i+1),
		}
	}
	return chapters
}

func TestSelectRange(t *testing.T) {
	chapters := makeChapters(10)

	tests := []struct {
		name       string
		start, end int
		wantFirst  int
		wantLast   int
		wantCount  int
		wantStart  int
		wantEnd    int
	}{
		{name: "defaults select all", start: 0, end: 0, wantFirst: 1, wantLast: 10, wantCount: 10, wantStart: 1, wantEnd: 10},
		{name: "inner window", start: 3, end: 5, wantFirst: 3, wantLast: 5, wantCount: 3, wantStart: 3, wantEnd: 5},
		{name: "end clamps to last chapter", start: 8, end: 20, wantFirst: 8, wantLast: 10, wantCount: 3, wantStart: 8, wantEnd: 10},
		{name: "single chapter", start: 4, end: 4, wantFirst: 4, wantLast: 4, wantCount: 1, wantStart: 4, wantEnd: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, start, end := SelectRange(chapters, tt.start, tt.end)
			require.Len(t, selected, tt.wantCount)
			assert.Equal(t, tt.wantFirst, selected[0].Index)
			assert.Equal(t, tt.wantLast, selected[len(selected)-1].Index)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestSelectRangeEmptySelections(t *testing.T) {
	chapters := makeChapters(10)

	selected, start, end := SelectRange(chapters, 11, 0)
	assert.Empty(t, selected, "start beyond the last chapter selects nothing")
	assert.Equal(t, 11, start)
	assert.Equal(t, 10, end)

	selected, _, _ = SelectRange(chapters, 7, 3)
	assert.Empty(t, selected, "inverted range selects nothing")

	selected, start, end = SelectRange(nil, 1, 5)
	assert.Empty(t, selected)
	assert.Zero(t, start)
	assert.Zero(t, end)
}
