// Package assembler builds tiered generation context for a chapter.
// Two strategies share one output shape: sequential-expansion mode
// sources the core outline from the chapter's expansion plan, while
// structured-outline mode extracts it from a pre-authored outline
// document. Fields are tiered P0 (always attempted), P1 (attempted
// when source data exists), and P2 (best effort); a field is either
// absent or non-empty, never an empty placeholder, and every populated
// field's character length lands in the stats block.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
)

// Assembly strategy names, surfaced in stats and over HTTP.
const (
	ModeSequential = "sequential-expansion"
	ModeOutline    = "structured-outline"
)

const (
	// EndingAnchorRunes is the length of the previous chapter's final
	// excerpt used as the continuity anchor.
	EndingAnchorRunes = 500

	// SimilarityThreshold gates retrieved memories; only results
	// strictly above it are rendered.
	SimilarityThreshold = 0.6

	// MemoryRenderLimit caps rendered memories after filtering.
	MemoryRenderLimit = 10

	// RecentPlanWindow is how many preceding chapters' plans the
	// sequential mode summarizes.
	RecentPlanWindow = 10

	// ForeshadowLookahead is the window (in chapters) for upcoming
	// foreshadow reminders.
	ForeshadowLookahead = 3

	memorySearchLimit      = 15
	memoryQueryRunes       = 500
	summaryRunes           = 300
	characterCap           = 10
	overdueRenderLimit     = 3
	upcomingRenderLimit    = 3
	keyEventLimit          = 5
	membershipRenderLimit  = 2
	rosterRenderLimit      = 5
	skeletonSampleInterval = 5

	defaultTargetWords = 3000
	defaultPerspective = "第三人称"
)

// ErrInvalidConfig reports a missing required collaborator.
var ErrInvalidConfig = errors.New("assembler: invalid config")

// ChapterSource is the slice of the relational store both strategies
// read chapters, outlines, and mirrored summaries from.
type ChapterSource interface {
	Project(ctx context.Context, id string) (*relational.Project, error)
	Chapter(ctx context.Context, id string) (*relational.Chapter, error)
	PreviousChapter(ctx context.Context, projectID string, before int) (*relational.Chapter, error)
	RecentChapters(ctx context.Context, projectID string, before, limit int) ([]relational.Chapter, error)
	ChaptersWithContent(ctx context.Context, projectID string, before int) ([]relational.Chapter, error)
	OutlineForChapter(ctx context.Context, chapterID string) (*relational.Outline, error)
	ChapterSummary(ctx context.Context, projectID, chapterID string) (string, error)
}

// CharacterSource supplies the batched lookups behind the character
// brief. The brief issues a fixed number of queries regardless of how
// many characters the project holds.
type CharacterSource interface {
	Characters(ctx context.Context, projectID string) ([]relational.Character, error)
	CharactersByName(ctx context.Context, projectID string, names []string) ([]relational.Character, error)
	Relationships(ctx context.Context, projectID string, characterIDs []string) ([]relational.CharacterRelationship, error)
	Memberships(ctx context.Context, characterIDs []string) ([]relational.Membership, error)
	OrganizationsOwnedBy(ctx context.Context, characterIDs []string) ([]relational.Organization, error)
	OrganizationMembers(ctx context.Context, organizationIDs []string) ([]relational.OrganizationMember, error)
	CharacterCareers(ctx context.Context, characterIDs []string) ([]relational.CharacterCareer, error)
	Careers(ctx context.Context, ids []string) ([]relational.Career, error)
}

// ForeshadowSource answers the three reminder queries. Read-only; the
// foreshadow lifecycle is driven elsewhere.
type ForeshadowSource interface {
	MustResolveForeshadows(ctx context.Context, projectID string, chapterNumber int) ([]relational.Foreshadow, error)
	OverdueForeshadows(ctx context.Context, projectID string, currentChapter int) ([]relational.Foreshadow, error)
	PendingForeshadowsWithin(ctx context.Context, projectID string, currentChapter, lookahead int) ([]relational.Foreshadow, error)
}

// MemorySearcher retrieves semantically relevant memories.
type MemorySearcher interface {
	Search(ctx context.Context, scope memory.Scope, q memory.SearchQuery, override *embedding.Settings) ([]memory.SearchResult, error)
}

var (
	_ ChapterSource    = (*relational.Store)(nil)
	_ CharacterSource  = (*relational.Store)(nil)
	_ ForeshadowSource = (*relational.Store)(nil)
	_ MemorySearcher   = (*memory.Service)(nil)
)

// Config wires an Assembler. Chapters and Characters are required;
// Foreshadows and Memories are optional and their sections are skipped
// when absent.
type Config struct {
	Chapters    ChapterSource
	Characters  CharacterSource
	Foreshadows ForeshadowSource
	Memories    MemorySearcher
	Logger      *zap.Logger
}

// Assembler builds chapter contexts in either strategy.
type Assembler struct {
	chapters    ChapterSource
	characters  CharacterSource
	foreshadows ForeshadowSource
	memories    MemorySearcher
	logger      *zap.Logger
}

// New validates the configuration and returns an Assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.Chapters == nil {
		return nil, fmt.Errorf("%w: chapter source is required", ErrInvalidConfig)
	}
	if cfg.Characters == nil {
		return nil, fmt.Errorf("%w: character source is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		chapters:    cfg.Chapters,
		characters:  cfg.Characters,
		foreshadows: cfg.Foreshadows,
		memories:    cfg.Memories,
		logger:      logger,
	}, nil
}

// Request identifies the chapter to assemble context for.
type Request struct {
	UserID    string
	ProjectID string
	ChapterID string

	// TargetWordCount defaults to 3000; the min/max band derives from
	// it.
	TargetWordCount int

	// Perspective overrides the project's narrative perspective for
	// this request.
	Perspective string

	// IncludeSkeleton adds the sampled story-skeleton block
	// (sequential mode).
	IncludeSkeleton bool
}

// ChapterContext is the assembled result. Optional fields are empty
// when their tier could not be populated.
type ChapterContext struct {
	Mode                 string `json:"mode"`
	ChapterNumber        int    `json:"chapter_number"`
	ChapterTitle         string `json:"chapter_title,omitempty"`
	ProjectTitle         string `json:"project_title,omitempty"`
	Genre                string `json:"genre,omitempty"`
	Theme                string `json:"theme,omitempty"`
	TargetWordCount      int    `json:"target_word_count"`
	MinWordCount         int    `json:"min_word_count"`
	MaxWordCount         int    `json:"max_word_count"`
	NarrativePerspective string `json:"narrative_perspective"`

	ChapterOutline         string   `json:"chapter_outline"`
	RecentChapters         string   `json:"recent_chapters_context,omitempty"`
	ContinuationPoint      string   `json:"continuation_point,omitempty"`
	PreviousChapterSummary string   `json:"previous_chapter_summary,omitempty"`
	PreviousChapterEvents  []string `json:"previous_chapter_events,omitempty"`
	Characters             string   `json:"chapter_characters,omitempty"`
	Careers                string   `json:"chapter_careers,omitempty"`
	EmotionalTone          string   `json:"emotional_tone,omitempty"`
	RelevantMemories       string   `json:"relevant_memories,omitempty"`
	ForeshadowReminders    string   `json:"foreshadow_reminders,omitempty"`
	StorySkeleton          string   `json:"story_skeleton,omitempty"`

	Stats Stats `json:"context_stats"`
}

// Stats records the character length of every constructed field.
// TotalLength is derived from the populated fields, never stored
// independently.
type Stats struct {
	Mode                string `json:"mode"`
	ChapterNumber       int    `json:"chapter_number"`
	HasContinuation     bool   `json:"has_continuation"`
	OutlineLength       int    `json:"outline_length"`
	RecentContextLength int    `json:"recent_context_length"`
	ContinuationLength  int    `json:"continuation_length"`
	SummaryLength       int    `json:"previous_summary_length"`
	CharactersLength    int    `json:"characters_length"`
	CareersLength       int    `json:"careers_length"`
	MemoriesLength      int    `json:"memories_length"`
	ForeshadowLength    int    `json:"foreshadow_length"`
	SkeletonLength      int    `json:"skeleton_length,omitempty"`
	TotalLength         int    `json:"total_length"`
}

func (c *ChapterContext) finalize() {
	total := 0
	for _, s := range []string{
		c.ChapterOutline, c.RecentChapters, c.ContinuationPoint,
		c.PreviousChapterSummary, c.Characters, c.Careers,
		c.RelevantMemories, c.ForeshadowReminders,
	} {
		total += utf8.RuneCountInString(s)
	}
	c.Stats = Stats{
		Mode:                c.Mode,
		ChapterNumber:       c.ChapterNumber,
		HasContinuation:     c.ContinuationPoint != "",
		OutlineLength:       utf8.RuneCountInString(c.ChapterOutline),
		RecentContextLength: utf8.RuneCountInString(c.RecentChapters),
		ContinuationLength:  utf8.RuneCountInString(c.ContinuationPoint),
		SummaryLength:       utf8.RuneCountInString(c.PreviousChapterSummary),
		CharactersLength:    utf8.RuneCountInString(c.Characters),
		CareersLength:       utf8.RuneCountInString(c.Careers),
		MemoriesLength:      utf8.RuneCountInString(c.RelevantMemories),
		ForeshadowLength:    utf8.RuneCountInString(c.ForeshadowReminders),
		SkeletonLength:      utf8.RuneCountInString(c.StorySkeleton),
		TotalLength:         total,
	}
}

func newChapterContext(mode string, project *relational.Project, chapter *relational.Chapter, req Request) *ChapterContext {
	target := req.TargetWordCount
	if target <= 0 {
		target = defaultTargetWords
	}
	perspective := req.Perspective
	if perspective == "" {
		perspective = project.NarrativePerspective
	}
	if perspective == "" {
		perspective = defaultPerspective
	}
	return &ChapterContext{
		Mode:                 mode,
		ChapterNumber:        chapter.ChapterNumber,
		ChapterTitle:         chapter.Title,
		ProjectTitle:         project.Title,
		Genre:                project.Genre,
		Theme:                project.Theme,
		TargetWordCount:      target,
		MinWordCount:         max(500, target-500),
		MaxWordCount:         target + 1000,
		NarrativePerspective: perspective,
	}
}

// lookupChapter resolves the request's chapter and its project. These
// are the only hard failures: without them there is no context to
// assemble.
func (a *Assembler) lookupChapter(ctx context.Context, req Request) (*relational.Project, *relational.Chapter, error) {
	chapter, err := a.chapters.Chapter(ctx, req.ChapterID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading chapter %q: %w", req.ChapterID, err)
	}
	if req.ProjectID != "" && req.ProjectID != chapter.ProjectID {
		return nil, nil, fmt.Errorf("chapter %q does not belong to project %q: %w",
			req.ChapterID, req.ProjectID, relational.ErrNotFound)
	}
	project, err := a.chapters.Project(ctx, chapter.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading project %q: %w", chapter.ProjectID, err)
	}
	return project, chapter, nil
}

func (a *Assembler) outlineFor(ctx context.Context, chapterID string) *relational.Outline {
	outline, err := a.chapters.OutlineForChapter(ctx, chapterID)
	if err != nil {
		if !errors.Is(err, relational.ErrNotFound) {
			a.logger.Warn("outline lookup failed", zap.String("chapter_id", chapterID), zap.Error(err))
		}
		return nil
	}
	return outline
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
