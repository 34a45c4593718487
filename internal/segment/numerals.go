package segment

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	digitRun     = regexp.MustCompile(`\d+`)
	cnNumeralRun = regexp.MustCompile(`[零〇一二三四五六七八九十百千万两]+`)
)

var cnDigits = map[rune]int{
	'零': 0,
	'〇': 0,
	'一': 1,
	'二': 2,
	'两': 2,
	'三': 3,
	'四': 4,
	'五': 5,
	'六': 6,
	'七': 7,
	'八': 8,
	'九': 9,
}

var cnUnits = map[rune]int{
	'十': 10,
	'百': 100,
	'千': 1000,
	'万': 10000,
}

// ChineseToInt converts a CJK numeral like 三十二 or 一百零五 to its
// integer value, accumulating 十/百/千 sections below each 万. It
// reports false for empty input, characters outside the numeral set and
// non-positive results.
func ChineseToInt(s string) (int, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, n > 0
	}

	total := 0
	section := 0
	number := 0
	for _, r := range raw {
		if d, ok := cnDigits[r]; ok {
			number = d
			continue
		}
		unit, ok := cnUnits[r]
		if !ok {
			return 0, false
		}
		if unit == 10000 {
			section = (section + number) * unit
			total += section
			section = 0
			number = 0
			continue
		}
		// A bare unit counts as one of it: 十 is 10.
		if number == 0 {
			number = 1
		}
		section += number * unit
		number = 0
	}

	value := total + section + number
	return value, value > 0
}

// extractChapterNumber reads the chapter number out of a heading:
// literal digits first, then CJK numerals, then the positional index.
func extractChapterNumber(title string, fallbackIndex int) int {
	if m := digitRun.FindString(title); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n
		}
	}
	if m := cnNumeralRun.FindString(title); m != "" {
		if n, ok := ChineseToInt(m); ok {
			return n
		}
	}
	return fallbackIndex
}
