package segment

import "strings"

const (
	// DefaultChunkSize is the rune count per embedding chunk.
	DefaultChunkSize = 1800

	// DefaultChunkOverlap is how many runes consecutive chunks share.
	DefaultChunkOverlap = 150
)

// Chunk normalizes whitespace and slices text into overlapping
// fixed-size rune windows for embedding. Windows advance by
// size−overlap; the final window is anchored so it ends exactly at the
// text's end, keeping every chunk full-sized instead of emitting a
// short trailing fragment. Text no longer than one window comes back as
// a single chunk. size <= 0 and overlap < 0 take the defaults.
func Chunk(text string, size, overlap int) []string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}

	runes := []rune(cleaned)
	if len(runes) <= size {
		return []string{cleaned}
	}

	step := size - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; ; start += step {
		if start+size >= len(runes) {
			if final := strings.TrimSpace(string(runes[len(runes)-size:])); final != "" {
				chunks = append(chunks, final)
			}
			break
		}
		if part := strings.TrimSpace(string(runes[start : start+size])); part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}
