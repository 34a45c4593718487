// Package segment splits raw manuscripts into chapters and prepares
// text for embedding.
//
// Chapter detection tries structural headings first (第N章-style
// ordinal markers with Arabic or CJK numerals, Chapter N, and common
// prologue/epilogue markers), discarding candidates whose body is too
// short to be a real chapter. When no heading yields a valid chapter
// the text is regrouped from blank-line paragraphs into synthetic
// chapters instead. Both paths produce the same Chapter shape and
// callers are told which path ran, since user-facing messaging differs.
package segment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	headingPattern = regexp.MustCompile(
		`(?m)^\s*(?:第\s*[0-9一二三四五六七八九十百千万零〇两]+\s*[章回节卷篇]|(?:Chapter|CHAPTER)\s*\d+|序章|楔子|尾声|后记|番外)[^\n]*$`,
	)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
)

const (
	// DefaultMinBodyRunes discards heading candidates whose body is
	// shorter; 第X章 inside dialogue would otherwise split chapters.
	DefaultMinBodyRunes = 100

	// DefaultFallbackGroupSize is how many paragraphs form one
	// synthetic chapter when no headings are found.
	DefaultFallbackGroupSize = 50

	previewRunes = 140
)

// Chapter is one detected manuscript chapter. Index is the 1-based
// position among kept chapters; ChapterNumber is the number read from
// the title, falling back to Index when the title carries none.
type Chapter struct {
	Index         int    `json:"index"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	WordCount     int    `json:"word_count"`
	Preview       string `json:"preview"`
}

// SplitOptions tune chapter detection. Zero values take the defaults.
type SplitOptions struct {
	MinBodyRunes      int
	FallbackGroupSize int
}

func (o SplitOptions) withDefaults() SplitOptions {
	if o.MinBodyRunes <= 0 {
		o.MinBodyRunes = DefaultMinBodyRunes
	}
	if o.FallbackGroupSize <= 0 {
		o.FallbackGroupSize = DefaultFallbackGroupSize
	}
	return o
}

// Split breaks manuscript text into chapters. The boolean reports
// whether structural headings were used; false means the paragraph
// fallback ran (or the text was empty).
func Split(content string, opts SplitOptions) ([]Chapter, bool) {
	opts = opts.withDefaults()

	text := normalize(content)
	if text == "" {
		return nil, false
	}

	if chapters := splitByHeadings(text, opts.MinBodyRunes); len(chapters) > 0 {
		return chapters, true
	}
	return splitByParagraphs(text, opts), false
}

// normalize unifies line endings and trims outer whitespace.
func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.TrimSpace(content)
}

func splitByHeadings(text string, minBodyRunes int) []Chapter {
	locs := headingPattern.FindAllStringIndex(text, -1)
	var chapters []Chapter
	for i, loc := range locs {
		title := strings.TrimSpace(text[loc[0]:loc[1]])
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:bodyEnd])
		if title == "" || utf8.RuneCountInString(body) < minBodyRunes {
			continue
		}

		index := len(chapters) + 1
		chapters = append(chapters, Chapter{
			Index:         index,
			ChapterNumber: extractChapterNumber(title, index),
			Title:         title,
			Content:       body,
			WordCount:     utf8.RuneCountInString(body),
			Preview:       preview(body),
		})
	}
	return chapters
}

func splitByParagraphs(text string, opts SplitOptions) []Chapter {
	var paragraphs []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}

	var chapters []Chapter
	for i := 0; i < len(paragraphs); i += opts.FallbackGroupSize {
		end := i + opts.FallbackGroupSize
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		group := strings.TrimSpace(strings.Join(paragraphs[i:end], "\n\n"))
		if utf8.RuneCountInString(group) < opts.MinBodyRunes {
			continue
		}

		index := len(chapters) + 1
		chapters = append(chapters, Chapter{
			Index:         index,
			ChapterNumber: index,
			Title:         fmt.Sprintf("段落组%d", index),
			Content:       group,
			WordCount:     utf8.RuneCountInString(group),
			Preview:       preview(group),
		})
	}
	return chapters
}

// preview renders a single-line excerpt capped at previewRunes.
func preview(content string) string {
	oneLine := strings.Join(strings.Fields(content), " ")
	runes := []rune(oneLine)
	if len(runes) <= previewRunes {
		return oneLine
	}
	return string(runes[:previewRunes]) + "..."
}

// SelectRange picks chapters by 1-based index. Non-positive bounds mean
// "from the first" and "to the last"; the end is clamped to the chapter
// count. A start beyond the last chapter selects nothing. The returned
// bounds are the ones actually applied, for reporting.
func SelectRange(chapters []Chapter, start, end int) ([]Chapter, int, int) {
	if len(chapters) == 0 {
		return nil, 0, 0
	}
	maxIndex := len(chapters)
	if start <= 0 {
		start = 1
	}
	if end <= 0 {
		end = maxIndex
	}
	if start > maxIndex {
		return nil, start, end
	}
	if end > maxIndex {
		end = maxIndex
	}
	if start > end {
		return nil, start, end
	}

	var selected []Chapter
	for _, ch := range chapters {
		if ch.Index >= start && ch.Index <= end {
			selected = append(selected, ch)
		}
	}
	return selected, start, end
}
