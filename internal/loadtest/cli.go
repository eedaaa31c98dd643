package loadtest

import (
	"fmt"
	"os"

	"github.com/okian/ascend/pkg/logger"
)

// SetupLogging initializes the logger at the requested level.
func SetupLogging(verbose bool) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	if err := logger.InitWithOptions(logger.WithLevel(level), logger.WithOutput(os.Stdout)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	os.Stdout.WriteString(`Ascend Load Tool
================

Onboards users, fires concurrent and duplicated submissions at a running
service and checks every final progression against a replay of the
outcomes the service acknowledged.

Usage:
  go run ./cmd/loadtest [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -users int
        Number of users to onboard (default 50)
  -submissions int
        Distinct submissions per user (default 20)
  -duplicates int
        Extra re-sends of existing submission ids per user (default 10)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -async
        Submit through /submissions/async before replaying
  -base-xp int
        XP required for level 1, must match the server (default 100)
  -xp-growth float
        Per-level XP growth, must match the server (default 1.1)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  go run ./cmd/loadtest

  # Heavy duplication against a local server
  go run ./cmd/loadtest -users 200 -duplicates 50 -workers 32 -url http://localhost:8080
`)
}
