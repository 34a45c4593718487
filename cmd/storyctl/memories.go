package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	searchTypes         []string
	searchMinImportance float64
	searchChapterMin    int
	searchChapterMax    int
	searchLimit         int
	rebuildBatchSize    int
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(rebuildCmd)

	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "restrict results to these memory types")
	searchCmd.Flags().Float64Var(&searchMinImportance, "min-importance", 0, "minimum importance, 0 to 1")
	searchCmd.Flags().IntVar(&searchChapterMin, "chapter-min", 0, "lowest chapter number to match, 0 disables")
	searchCmd.Flags().IntVar(&searchChapterMax, "chapter-max", 0, "highest chapter number to match, 0 disables")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results, 0 uses the server default")

	rebuildCmd.Flags().IntVar(&rebuildBatchSize, "batch-size", 0, "records per embedding batch, 0 uses the server default")
}

// searchCmd searches story memories semantically
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search story memories semantically",
	Long: `Search the project's story memories by semantic similarity.

Examples:
  # Find memories about a character's sword
  storyctl search --user u1 --project p1 "林岚的佩剑"

  # Only unresolved foreshadowing planted before chapter 30
  storyctl search --user u1 --project p1 --type foreshadow --chapter-max 30 "伏笔"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

// SearchRequest matches internal/server/types.go SearchRequest
type SearchRequest struct {
	UserID        string   `json:"user_id"`
	ProjectID     string   `json:"project_id"`
	Query         string   `json:"query"`
	Types         []string `json:"memory_types,omitempty"`
	MinImportance float64  `json:"min_importance,omitempty"`
	ChapterMin    *int     `json:"chapter_min,omitempty"`
	ChapterMax    *int     `json:"chapter_max,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// SearchResult carries the result fields storyctl prints. The server
// returns more; unknown fields are ignored on decode.
type SearchResult struct {
	ID            string  `json:"id"`
	Type          string  `json:"memory_type"`
	ChapterNumber int     `json:"chapter_number"`
	Importance    float64 `json:"importance"`
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	Similarity    float32 `json:"similarity"`
}

// SearchResponse matches internal/server/types.go SearchResponse
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// runSearch handles the search command
func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	req := SearchRequest{
		UserID:        userID,
		ProjectID:     projectID,
		Query:         args[0],
		Types:         searchTypes,
		MinImportance: searchMinImportance,
		Limit:         searchLimit,
	}
	if searchChapterMin > 0 {
		req.ChapterMin = &searchChapterMin
	}
	if searchChapterMax > 0 {
		req.ChapterMax = &searchChapterMax
	}

	var resp SearchResponse
	if err := postJSON("/api/v1/memories/search", req, &resp, 60*time.Second); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No memories matched.")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Printf("%d. [%.3f] %s", i+1, r.Similarity, r.Type)
		if r.ChapterNumber > 0 {
			fmt.Printf(" (chapter %d)", r.ChapterNumber)
		}
		fmt.Println()
		if r.Title != "" {
			fmt.Printf("   %s\n", r.Title)
		}
		fmt.Printf("   %s\n", previewText(r.Content, 120))
	}

	return nil
}

// previewText collapses whitespace and truncates to limit runes for
// terminal output.
func previewText(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// statsCmd shows collection statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics for a project",
	Long: `Show memory counts for the project's vector collection.

Examples:
  # Show statistics
  storyctl stats --user u1 --project p1`,
	RunE: runStats,
}

// StatsResponse matches internal/memory/record.go Stats
type StatsResponse struct {
	TotalCount         int            `json:"total_count"`
	ByType             map[string]int `json:"by_type"`
	ByChapter          map[int]int    `json:"by_chapter"`
	ForeshadowPlanted  int            `json:"foreshadow_count"`
	ForeshadowResolved int            `json:"foreshadow_resolved"`
	Collections        []string       `json:"collections"`
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("project_id", projectID)

	var stats StatsResponse
	if err := getJSON("/api/v1/memories/stats?"+q.Encode(), &stats, 30*time.Second); err != nil {
		return err
	}

	fmt.Printf("Total memories: %d\n", stats.TotalCount)
	fmt.Printf("Foreshadows: %d planted, %d resolved\n", stats.ForeshadowPlanted, stats.ForeshadowResolved)
	if len(stats.ByType) > 0 {
		fmt.Println("By type:")
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %-24s %d\n", t, stats.ByType[t])
		}
	}
	if len(stats.Collections) > 0 {
		fmt.Printf("Collections: %s\n", strings.Join(stats.Collections, ", "))
	}

	return nil
}

// rebuildCmd re-embeds the project's mirrored memories
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the project's vector collection",
	Long: `Rebuild the project's vector collection from the story library mirror.

The server drops the active collection and re-embeds every mirrored
memory row, which can take a while for large projects.

Examples:
  # Rebuild after switching embedding models
  storyctl rebuild --user u1 --project p1

  # Use smaller embedding batches
  storyctl rebuild --user u1 --project p1 --batch-size 20`,
	RunE: runRebuild,
}

// RebuildRequest matches internal/server/types.go RebuildRequest
type RebuildRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// RebuildResponse matches internal/server/types.go RebuildResponse
type RebuildResponse struct {
	Total   int `json:"total"`
	Written int `json:"written"`
}

// runRebuild handles the rebuild command
func runRebuild(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	req := RebuildRequest{
		UserID:    userID,
		ProjectID: projectID,
		BatchSize: rebuildBatchSize,
	}

	fmt.Fprintf(os.Stderr, "Rebuilding vector collection for project %s...\n", projectID)

	var resp RebuildResponse
	if err := postJSON("/api/v1/memories/rebuild", req, &resp, 30*time.Minute); err != nil {
		return err
	}

	fmt.Printf("Rebuilt %d of %d memories\n", resp.Written, resp.Total)
	if resp.Written < resp.Total {
		fmt.Fprintf(os.Stderr, "Warning: %d memories failed to re-embed\n", resp.Total-resp.Written)
	}

	return nil
}
