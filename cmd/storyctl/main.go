// Package main implements the storyctl CLI for manual operations against the storyd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the storyd HTTP server
	serverURL string
	// userID and projectID scope memory operations to one story project
	userID    string
	projectID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "CLI for storyd HTTP server operations",
	Long: `storyctl is a command-line interface for interacting with the storyd HTTP server.
It provides commands for checking server health, searching story memories,
segmenting and importing manuscripts, rebuilding vector collections and
watching a drop folder for new manuscripts.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8600", "storyd server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id scoping memory operations")
	rootCmd.PersistentFlags().StringVar(&projectID, "project", "", "project id scoping memory operations")
	rootCmd.AddCommand(healthCmd)
}

// requireScope rejects commands that need the tenant pair when the
// scope flags are missing.
func requireScope() error {
	if userID == "" || projectID == "" {
		return fmt.Errorf("this command requires --user and --project")
	}
	return nil
}

// postJSON sends a JSON body to the server and decodes the JSON response.
func postJSON(path string, body any, out any, timeout time.Duration) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s%s", serverURL, path)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// getJSON fetches a server path and decodes the JSON response.
func getJSON(path string, out any, timeout time.Duration) error {
	url := fmt.Sprintf("%s%s", serverURL, path)

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check storyd server health",
	Long: `Check the health status of the storyd HTTP server.

Examples:
  # Check health
  storyctl health

  # Check health on a different server
  storyctl health --server http://localhost:8700`,
	RunE: runHealth,
}

// HealthResponse matches internal/server/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health, 5*time.Second); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}
