// Package memory stores and retrieves narrative memory records for
// story projects.
//
// Records live in per-(user, project) vector collections whose names
// are derived from identifier hashes. Local embedding mode keeps one
// collection per project for all time; api mode fans out into a family
// of collections, one per (provider, model) pair, because mixing vector
// spaces corrupts similarity search. Deletion and rebuild operate on
// the whole family so no generation is left orphaned.
//
// Ingestion and retrieval failures are absorbed: add returns false,
// batch add returns zero, retrieval returns empty results, each with a
// logged diagnostic. Memory is an enhancement to generation, not a
// gate. Configuration errors and embedding count mismatches are the
// exception and propagate from Search, since they indicate the caller's
// setup is broken rather than the store being momentarily unhappy.
package memory

import "errors"

// ErrInvalidConfig indicates an invalid service configuration.
var ErrInvalidConfig = errors.New("invalid memory service configuration")

// Foreshadow lifecycle states stored in record metadata.
const (
	ForeshadowNone     = 0
	ForeshadowPlanted  = 1
	ForeshadowResolved = 2
)

// Memory types storyd writes. The store accepts arbitrary type strings;
// these are the ones the ingestion and context paths produce and query.
const (
	TypePlot            = "plot"
	TypeCharacterEvent  = "character_event"
	TypeForeshadow      = "foreshadow"
	TypeChapterSummary  = "chapter_summary"
	TypeWorldSetting    = "world_setting"
	TypeAnalysisChapter = "book_analysis_chapter"
	TypeAnalysisResult  = "book_analysis_result"
)

const (
	// DefaultImportance is assigned when a record does not set one.
	DefaultImportance = 0.5

	// DefaultSearchLimit bounds search results when the caller passes
	// no limit.
	DefaultSearchLimit = 10

	// DefaultRecentWindow is how many chapters back GetRecent looks
	// when the caller passes no window.
	DefaultRecentWindow = 3

	// recentFetchLimit is the scan over-fetch for GetRecent; the top
	// recentReturnLimit records survive the importance sort.
	recentFetchLimit  = 100
	recentReturnLimit = 20

	// foreshadowScanLimit bounds the unresolved-foreshadow scan.
	foreshadowScanLimit = 50

	// Rebuild batch sizing. Unset falls to the default, explicit values
	// are clamped into the bounds.
	defaultRebuildBatch = 100
	minRebuildBatch     = 10
	maxRebuildBatch     = 500

	// maxMetaRunes caps stored title and model name lengths.
	maxMetaRunes = 200
)

// Scope identifies whose memories an operation touches.
type Scope struct {
	UserID    string
	ProjectID string
}
