//go:build cgo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fablesmith/storyd/internal/embedding"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd downloads the ONNX runtime needed for local embeddings
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library that local embedding mode needs.

The library lands in ~/.config/storyd/lib/. If the ONNX_PATH
environment variable is set, that path takes precedence and nothing
is downloaded.

Examples:
  # Download the ONNX runtime
  storyctl init

  # Force re-download even if already installed
  storyctl init --force`,
	RunE: runInit,
}

// runInit handles the init command
func runInit(cmd *cobra.Command, args []string) error {
	if !forceDownload {
		if path := embedding.GetONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", embedding.DefaultONNXRuntimeVersion)

	if err := embedding.DownloadONNXRuntime(cmd.Context(), ""); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embedding.GetONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}

	cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
