// Package duration provides canonical time constants for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for all time-based configuration.
//
// Usage:
//
//	ctx, cancel := context.WithTimeout(ctx, duration.BrowserPage)
//	handle.Terminate(duration.TerminateGrace)
//
// DO NOT use hardcoded time.Duration values like `30 * time.Second` anywhere.
// Reference the appropriate constant from this package instead.
package duration

import "time"

// ============================================================================
// PROCESS LIFECYCLE
// ============================================================================

const (
	// TerminateGrace is how long Terminate waits between the graceful stop
	// signal and the force kill (10s).
	TerminateGrace = 10 * time.Second

	// ShutdownGrace bounds the orchestrator shutdown sweep per job (5s).
	// Shorter than TerminateGrace because shutdown terminates every
	// running job and the process must exit promptly.
	ShutdownGrace = 5 * time.Second

	// ReportExport bounds the report export subprocess (5min).
	ReportExport = 5 * time.Minute
)

// ============================================================================
// BROWSER / FALLBACK SCANNER
// ============================================================================

const (
	// BrowserPage is the per-page navigation timeout (30s).
	BrowserPage = 30 * time.Second

	// BrowserSettle is the post-navigation settle delay before axe
	// injection (500ms).
	BrowserSettle = 500 * time.Millisecond

	// CrawlInterval is the minimum spacing between page loads enforced by
	// the politeness limiter (250ms).
	CrawlInterval = 250 * time.Millisecond
)

// ============================================================================
// HTTP SERVER
// ============================================================================

const (
	// HTTPReadHeader bounds request header reads on the MCP HTTP
	// transport (10s).
	HTTPReadHeader = 10 * time.Second

	// HTTPShutdown bounds graceful HTTP server shutdown (15s).
	HTTPShutdown = 15 * time.Second
)
