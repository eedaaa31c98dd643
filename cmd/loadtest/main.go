package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/loadtest"
)

// Default configuration constants.
const (
	defaultUsers       = 50
	defaultSubmissions = 20
	defaultDuplicates  = 10
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		users       = flag.Int("users", defaultUsers, "Number of users to onboard")
		submissions = flag.Int("submissions", defaultSubmissions, "Distinct submissions per user")
		duplicates  = flag.Int("duplicates", defaultDuplicates, "Extra re-sends of existing submission ids per user")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		async       = flag.Bool("async", false, "Submit through /submissions/async before replaying")
		baseXP      = flag.Int64("base-xp", progression.DefaultBaseXP, "XP required for level 1")
		growth      = flag.Float64("xp-growth", progression.DefaultGrowth, "Per-level XP growth")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	if err := loadtest.SetupLogging(*verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:     *baseURL,
		Users:       *users,
		Submissions: *submissions,
		Duplicates:  *duplicates,
		Workers:     max(*workers, 1),
		Timeout:     *timeout,
		Async:       *async,
		Verbose:     *verbose,
		Curve:       progression.Curve{BaseXP: *baseXP, Growth: *growth},
	}

	if _, err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		stop()
		cancel()
		os.Exit(1)
	}
}
