package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	segmentMinBody   int
	segmentGroupSize int
	importStart      int
	importEnd        int
	importResultFile string
	importChunkSize  int
	importMirror     bool
)

func init() {
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(importCmd)

	segmentCmd.Flags().IntVar(&segmentMinBody, "min-body-runes", 0, "minimum runes for a heading match to count as a chapter")
	segmentCmd.Flags().IntVar(&segmentGroupSize, "group-size", 0, "paragraphs per group when no headings are found")

	importCmd.Flags().IntVar(&importStart, "start", 0, "first chapter to import, 0 starts at 1")
	importCmd.Flags().IntVar(&importEnd, "end", 0, "last chapter to import, 0 runs to the end")
	importCmd.Flags().StringVar(&importResultFile, "result", "", "markdown file with analysis results to import alongside the chapters")
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "runes per chapter fragment, 0 uses the server default")
	importCmd.Flags().BoolVar(&importMirror, "mirror", false, "mirror imported records into the story library")
}

// readInput reads manuscript content from a file argument or stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}

// segmentCmd previews chapter detection without writing anything
var segmentCmd = &cobra.Command{
	Use:   "segment [file]",
	Short: "Split a manuscript into chapters",
	Long: `Split a manuscript into chapters and print a preview of each.

Nothing is written; use this to check chapter detection before import.

Examples:
  # Segment a file
  storyctl segment novel.txt

  # Segment from stdin
  cat novel.txt | storyctl segment -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSegment,
}

// SegmentRequest matches internal/server/story.go SegmentRequest
type SegmentRequest struct {
	Content           string `json:"content"`
	MinBodyRunes      int    `json:"min_body_runes,omitempty"`
	FallbackGroupSize int    `json:"fallback_group_size,omitempty"`
}

// ChapterInfo matches internal/server/story.go ChapterInfo
type ChapterInfo struct {
	Index         int    `json:"index"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	WordCount     int    `json:"word_count"`
	Preview       string `json:"preview"`
}

// SegmentResponse matches internal/server/story.go SegmentResponse
type SegmentResponse struct {
	Chapters     []ChapterInfo `json:"chapters"`
	Total        int           `json:"total"`
	UsedHeadings bool          `json:"used_headings"`
}

// runSegment handles the segment command
func runSegment(cmd *cobra.Command, args []string) error {
	content, err := readInput(args)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to segment")
	}

	req := SegmentRequest{
		Content:           string(content),
		MinBodyRunes:      segmentMinBody,
		FallbackGroupSize: segmentGroupSize,
	}

	var resp SegmentResponse
	if err := postJSON("/api/v1/manuscripts/segment", req, &resp, 60*time.Second); err != nil {
		return err
	}

	detection := "chapter headings"
	if !resp.UsedHeadings {
		detection = "paragraph groups"
	}
	fmt.Printf("Detected %d chapters via %s\n", resp.Total, detection)
	for _, ch := range resp.Chapters {
		fmt.Printf("%3d. %s (%d chars)\n", ch.ChapterNumber, ch.Title, ch.WordCount)
		if ch.Preview != "" {
			fmt.Printf("     %s\n", ch.Preview)
		}
	}

	return nil
}

// importCmd segments a manuscript and writes memory records
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a manuscript into story memory",
	Long: `Segment a manuscript and write chapter fragments into the project's
vector collection. Embedding happens server-side, so large imports can
take a while.

Examples:
  # Import a whole manuscript
  storyctl import --user u1 --project p1 novel.txt

  # Import chapters 10 through 20 and mirror rows into the story library
  storyctl import --user u1 --project p1 --start 10 --end 20 --mirror novel.txt

  # Attach an analysis document to the import
  storyctl import --user u1 --project p1 --result analysis.md novel.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

// ImportRequest matches internal/server/story.go ImportRequest
type ImportRequest struct {
	UserID         string `json:"user_id"`
	ProjectID      string `json:"project_id"`
	Content        string `json:"content"`
	StartChapter   int    `json:"start_chapter,omitempty"`
	EndChapter     int    `json:"end_chapter,omitempty"`
	ResultMarkdown string `json:"result_markdown,omitempty"`
	ChunkSize      int    `json:"chunk_size,omitempty"`
	Mirror         bool   `json:"mirror,omitempty"`
}

// ImportResponse matches internal/server/story.go ImportResponse
type ImportResponse struct {
	Chapters     int  `json:"chapters"`
	StartChapter int  `json:"start_chapter"`
	EndChapter   int  `json:"end_chapter"`
	Records      int  `json:"records"`
	Written      int  `json:"written"`
	Mirrored     int  `json:"mirrored"`
	UsedHeadings bool `json:"used_headings"`
}

// runImport handles the import command
func runImport(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	content, err := readInput(args)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to import")
	}

	var resultMarkdown string
	if importResultFile != "" {
		data, err := os.ReadFile(importResultFile)
		if err != nil {
			return fmt.Errorf("failed to read result file %s: %w", importResultFile, err)
		}
		resultMarkdown = string(data)
	}

	req := ImportRequest{
		UserID:         userID,
		ProjectID:      projectID,
		Content:        string(content),
		StartChapter:   importStart,
		EndChapter:     importEnd,
		ResultMarkdown: resultMarkdown,
		ChunkSize:      importChunkSize,
		Mirror:         importMirror,
	}

	fmt.Fprintf(os.Stderr, "Importing manuscript into project %s...\n", projectID)

	var resp ImportResponse
	if err := postJSON("/api/v1/manuscripts/import", req, &resp, 30*time.Minute); err != nil {
		return err
	}

	fmt.Printf("Detected %d chapters, imported %d through %d\n", resp.Chapters, resp.StartChapter, resp.EndChapter)
	fmt.Printf("Records: %d built, %d written", resp.Records, resp.Written)
	if importMirror {
		fmt.Printf(", %d mirrored", resp.Mirrored)
	}
	fmt.Println()
	if resp.Written < resp.Records {
		fmt.Fprintf(os.Stderr, "Warning: %d records were not written\n", resp.Records-resp.Written)
	}

	return nil
}
