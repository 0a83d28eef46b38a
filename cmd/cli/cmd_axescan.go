package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/a11yscan/a11yscan/pkg/axescan"
	"github.com/a11yscan/a11yscan/pkg/scanconfig"
)

// runAxeScan executes the fallback axe-core scanner. The orchestrator
// re-invokes this binary with `axe-scan --config <path>` so the scan runs as
// a separate, terminable process like the primary backend does.
func runAxeScan() {
	fs := flag.NewFlagSet("axe-scan", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the fallback scan config JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: a11yscan axe-scan --config <path>\n\n")
		fmt.Fprintf(os.Stderr, "Run a headless axe-core scan described by a config file written\n")
		fmt.Fprintf(os.Stderr, "at submission time. Normally invoked by the orchestrator, not by hand.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *configPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := scanconfig.LoadFallbackConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// SIGTERM from the orchestrator cancels the browser context so
	// chromedp tears down Chrome before the grace period expires.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := axescan.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
