package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fablesmith/storyd/internal/logging"
	"github.com/fablesmith/storyd/internal/watch"
)

var (
	watchSettle time.Duration
	watchMirror bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "quiet period before a changed file is imported")
	watchCmd.Flags().BoolVar(&watchMirror, "mirror", false, "mirror imported records into the story library")
}

// watchCmd watches a drop folder and imports manuscripts as they land
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a folder and import dropped manuscripts",
	Long: `Watch a directory and import every .txt manuscript dropped into it.

A file is imported once its writes settle, so copying a large
manuscript into the folder does not trigger a half-file import. Every
settled change submits the file again.

Examples:
  # Watch ~/drafts for user u1, project p1
  storyctl watch --user u1 --project p1 ~/drafts

  # Mirror imported records into the story library
  storyctl watch --user u1 --project p1 --mirror ~/drafts`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Format: "console"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	importer := watch.ImporterFunc(func(ctx context.Context, path string, content []byte) error {
		req := ImportRequest{
			UserID:    userID,
			ProjectID: projectID,
			Content:   string(content),
			Mirror:    watchMirror,
		}
		var resp ImportResponse
		if err := postJSON("/api/v1/manuscripts/import", req, &resp, 30*time.Minute); err != nil {
			return err
		}
		fmt.Printf("%s: %d chapters, %d records written\n", filepath.Base(path), resp.Chapters, resp.Written)
		return nil
	})

	w, err := watch.New(args[0], importer, logger, watch.Options{Settle: watchSettle})
	if err != nil {
		return err
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Watching %s, press Ctrl-C to stop\n", args[0])
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Stopping watcher")
			return nil
		case res := <-w.Results():
			if res.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", res.Path, res.Err)
			}
		}
	}
}
