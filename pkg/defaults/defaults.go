// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for runtime configuration defaults.
//
// Usage:
//
//	opts.MaxLinksPerDomain = defaults.MaxLinksPerDomain
//	cfg.ResultsRoot = defaults.CwacResultsDir(cwacPath)
//
// DO NOT hardcode paths or limits at call sites. Reference the appropriate
// constant or helper from this package instead.
package defaults

import (
	"os"
	"path/filepath"
)

// Version is the current a11yscan version.
const Version = "1.2.0"

// ServiceName identifies this service in health responses and MCP metadata.
const ServiceName = "a11yscan"

// ============================================================================
// SCAN SETTINGS
// ============================================================================

const (
	// MaxLinksPerDomain is the default crawl budget per domain (10).
	MaxLinksPerDomain = 10

	// DefaultAuditName is used when the caller does not name the audit.
	DefaultAuditName = "mcp_scan"

	// AuditNameMaxLen caps sanitized audit names so they stay usable as
	// file and directory name components.
	AuditNameMaxLen = 50

	// DefaultViewportWidth and DefaultViewportHeight describe the single
	// "medium" viewport used when the caller provides no overrides.
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	// MaxCapturedLines bounds each captured output stream per job.
	// Older lines are dropped once the cap is reached.
	MaxCapturedLines = 2000

	// RecentOutputLines is how many trailing stdout/stderr lines status
	// responses include.
	RecentOutputLines = 20
)

// ============================================================================
// CSV CONVENTIONS
// ============================================================================
//
// The primary backend reads base-URL CSVs with fixed organisation and
// sector columns. Orchestrator-submitted scans use these placeholders.
// ============================================================================

const (
	CSVOrganisation = "MCP Scan"
	CSVSector       = "MCP"
)

// ============================================================================
// PATHS
// ============================================================================

// EnvCwacPath overrides primary backend discovery.
const EnvCwacPath = "A11YSCAN_CWAC_PATH"

// EnvProjectRoot overrides the fallback output root.
const EnvProjectRoot = "A11YSCAN_PROJECT_ROOT"

// ProjectRoot returns the root directory for fallback-mode output and
// bundled assets. Defaults to the current working directory.
func ProjectRoot() string {
	if v := os.Getenv(EnvProjectRoot); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// CwacConfigDir returns the primary backend's config directory.
func CwacConfigDir(cwacPath string) string {
	return filepath.Join(cwacPath, "config")
}

// CwacResultsDir returns the primary backend's results root.
func CwacResultsDir(cwacPath string) string {
	return filepath.Join(cwacPath, "results")
}

// CwacBaseURLsDir returns the primary backend's base-URLs visit root.
func CwacBaseURLsDir(cwacPath string) string {
	return filepath.Join(cwacPath, "base_urls", "visit")
}

// FallbackOutputDir returns the root directory for fallback scanner output.
func FallbackOutputDir() string {
	return filepath.Join(ProjectRoot(), "output")
}

// AxeCorePath returns the expected location of the bundled axe-core asset.
func AxeCorePath() string {
	return filepath.Join(ProjectRoot(), "node_modules", "axe-core", "axe.min.js")
}
