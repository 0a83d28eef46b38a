package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/a11yscan/a11yscan/pkg/duration"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/orchestrator"
	"github.com/a11yscan/a11yscan/pkg/registry"
	"github.com/a11yscan/a11yscan/pkg/report"
	"github.com/a11yscan/a11yscan/pkg/results"
	"github.com/a11yscan/a11yscan/pkg/scanconfig"
)

// registerTools adds all accessibility scanning tools to the MCP server.
func (s *Server) registerTools() {
	s.addScanTool()
	s.addScanStatusTool()
	s.addGetResultsTool()
	s.addGetSummaryTool()
	s.addListScansTool()
	s.addGenerateReportTool()
	s.addCheckEnvironmentTool()
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_scan — Launch an accessibility scan
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addScanTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_scan",
			Title: "Start Accessibility Scan",
			Description: `Launch an accessibility scan against one or more URLs. The scan runs as a
background job — this tool returns a scan_id immediately.

USE THIS TOOL WHEN:
• The user asks to audit or scan a site/page for accessibility issues
• You need fresh scan data (existing results are stale or missing)

DO NOT USE THIS TOOL WHEN:
• A scan for the same URLs is already running — poll it with a11y_scan_status instead
• You only need results of a previous scan — use a11y_get_results

POLLING PATTERN:
1. a11y_scan → {"scan_id": "...", "status": "running"}
2. Wait 10-30 seconds
3. a11y_scan_status with the scan_id; repeat while "running"
4. On "complete": a11y_get_summary, then a11y_get_results with filters

EXAMPLE INPUTS:
• Minimal: {"urls": ["https://example.govt.nz"]}
• Named, shallow: {"urls": ["https://example.org"], "audit_name": "homepage_check", "max_links_per_domain": 1}
• Toggled plugins (primary mode only): {"urls": ["https://example.org"], "plugins": {"axe_core_audit": true, "spell_check_audit": false}}

In fallback mode only the axe-core audit runs; plugin toggles are ignored.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"urls": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string", "format": "uri"},
						"description": "URLs to scan. Each is crawled up to max_links_per_domain pages deep.",
					},
					"audit_name": map[string]any{
						"type":        "string",
						"description": "Human-readable audit name; identifies the results directory. Defaults to \"mcp_scan\".",
					},
					"plugins": map[string]any{
						"type":        "object",
						"description": "Plugin toggles, e.g. {\"axe_core_audit\": true, \"language_audit\": false}. Primary mode only.",
						"additionalProperties": map[string]any{
							"type": "boolean",
						},
					},
					"max_links_per_domain": map[string]any{
						"type":        "integer",
						"description": "Crawl budget per domain. Backend default when omitted.",
					},
					"viewport_sizes": map[string]any{
						"type":        "object",
						"description": "Viewport overrides, e.g. {\"small\": {\"width\": 320, \"height\": 480}}.",
					},
				},
				"required": []string{"urls"},
			},
			Annotations: &mcp.ToolAnnotations{
				OpenWorldHint: boolPtr(true),
				Title:         "Start Accessibility Scan",
			},
		},
		s.handleScan,
	)
}

type scanArgs struct {
	URLs              []string                       `json:"urls"`
	AuditName         string                         `json:"audit_name"`
	Plugins           map[string]bool                `json:"plugins"`
	MaxLinksPerDomain int                            `json:"max_links_per_domain"`
	ViewportSizes     map[string]scanconfig.Viewport `json:"viewport_sizes"`
}

func (s *Server) handleScan(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scanArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected 'urls' (array of strings) plus optional overrides.", err)), nil
	}

	sub, err := s.orch.SubmitJob(args.URLs, orchestrator.Options{
		AuditName:         args.AuditName,
		Plugins:           args.Plugins,
		MaxLinksPerDomain: args.MaxLinksPerDomain,
		ViewportSizes:     args.ViewportSizes,
	})
	if err != nil {
		return s.submitError(err), nil
	}

	return jsonResult(map[string]any{
		"scan_id":   sub.JobID,
		"status":    string(registry.StateRunning),
		"scan_mode": sub.Mode,
		"message":   sub.Message,
	})
}

// submitError maps the orchestrator taxonomy onto agent-facing guidance.
func (s *Server) submitError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return enrichedError(err.Error(), []string{
			"Provide at least one URL with an http:// or https:// scheme.",
			"Check the audit_name contains at least one alphanumeric character.",
		})
	case errors.Is(err, orchestrator.ErrBackendUnavailable):
		return enrichedError(err.Error(), []string{
			"Run a11y_check_environment for the full probe detail.",
			"Run scripts/install-deps.sh on the host to install a scanning backend.",
		})
	case errors.Is(err, orchestrator.ErrLaunchFailed):
		return enrichedError(err.Error(), []string{
			"The backend process never started; no scan was recorded.",
			"Check that the backend executable exists and is runnable on this host.",
		})
	default:
		return errorResult(err.Error())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_scan_status — Poll a running scan
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addScanStatusTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_scan_status",
			Title: "Get Scan Status",
			Description: `Check the current status of a scan started with a11y_scan.

Polls the backend process: still running, completed successfully, or failed.
Returns elapsed time and the most recent output lines for progress visibility.
For failed scans the response includes recent stderr for diagnosis.

Status values: "running" → keep polling; "complete" → fetch results;
"failed" → inspect error_output.

EXAMPLE: {"scan_id": "4f1c2a52-..."}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scan_id": map[string]any{
						"type":        "string",
						"description": "The identifier returned by a11y_scan.",
					},
				},
				"required": []string{"scan_id"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				Title:          "Get Scan Status",
			},
		},
		s.handleScanStatus,
	)
}

type scanIDArgs struct {
	ScanID string `json:"scan_id"`
}

func (s *Server) handleScanStatus(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scanIDArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ScanID == "" {
		return errorResult(`scan_id is required. Example: {"scan_id": "4f1c2a52-..."}`), nil
	}

	snap, err := s.orch.GetStatus(args.ScanID)
	if err != nil {
		return s.unknownJobError(err, args.ScanID), nil
	}
	return jsonResult(statusResponse(snap))
}

// statusResponse flattens a registry snapshot into the wire shape agents
// consume, adding elapsed seconds.
func statusResponse(snap registry.Snapshot) map[string]any {
	resp := map[string]any{
		"scan_id":         snap.ID,
		"status":          snap.State,
		"scan_mode":       snap.Mode,
		"audit_name":      snap.AuditName,
		"elapsed_seconds": int(snap.Elapsed / time.Second),
		"start_time":      snap.StartedAt.Format(time.RFC3339),
	}
	if snap.EndedAt != nil {
		resp["end_time"] = snap.EndedAt.Format(time.RFC3339)
	}
	if snap.ExitCode != nil {
		resp["exit_code"] = *snap.ExitCode
	}
	if snap.ResultsDir != "" {
		resp["results_dir"] = snap.ResultsDir
	}
	if len(snap.RecentStdout) > 0 {
		resp["recent_output"] = snap.RecentStdout
	}
	if len(snap.RecentStderr) > 0 {
		resp["error_output"] = snap.RecentStderr
	}
	return resp
}

func (s *Server) unknownJobError(err error, scanID string) *mcp.CallToolResult {
	if errors.Is(err, orchestrator.ErrUnknownJob) {
		return enrichedError(
			fmt.Sprintf("scan %q not found — job records live only for this orchestrator's lifetime", scanID),
			[]string{
				"Verify the scan_id is exactly what a11y_scan returned.",
				"Use a11y_list_scans to see every tracked scan and on-disk result directory.",
			},
		)
	}
	return errorResult(err.Error())
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_get_results — Detailed findings from a completed scan
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGetResultsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_get_results",
			Title: "Get Scan Results",
			Description: `Retrieve detailed accessibility findings from a completed scan as canonical
rows — the same field set and order regardless of which backend ran.

Filter to keep responses small:
• audit_type — one audit's rows only, e.g. "axe_core_audit", "language_audit"
• impact — "critical", "serious", "moderate", "minor", or "unknown"
• limit — cap the number of rows

Filters apply after parsing, so use a11y_get_summary for accurate totals.

EXAMPLE: {"scan_id": "4f1c2a52-...", "audit_type": "axe_core_audit", "impact": "critical", "limit": 25}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scan_id": map[string]any{
						"type":        "string",
						"description": "The identifier returned by a11y_scan.",
					},
					"audit_type": map[string]any{
						"type":        "string",
						"description": "Restrict to one audit type's CSV, e.g. \"axe_core_audit\".",
					},
					"impact": map[string]any{
						"type":        "string",
						"description": "Keep only rows with this impact level (case-insensitive).",
						"enum":        []string{"critical", "serious", "moderate", "minor", "unknown"},
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum rows to return.",
					},
				},
				"required": []string{"scan_id"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				Title:          "Get Scan Results",
			},
		},
		s.handleGetResults,
	)
}

type getResultsArgs struct {
	ScanID    string `json:"scan_id"`
	AuditType string `json:"audit_type"`
	Impact    string `json:"impact"`
	Limit     int    `json:"limit"`
}

func (s *Server) handleGetResults(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getResultsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ScanID == "" {
		return errorResult(`scan_id is required. Example: {"scan_id": "4f1c2a52-..."}`), nil
	}

	rows, snap, err := s.orch.GetResults(args.ScanID, results.Filters{
		AuditType: args.AuditType,
		Impact:    args.Impact,
		Limit:     args.Limit,
	})
	if err != nil {
		return s.resultsError(err, args.ScanID), nil
	}

	return jsonResult(map[string]any{
		"scan_id":     snap.ID,
		"scan_mode":   snap.Mode,
		"results_dir": snap.ResultsDir,
		"count":       len(rows),
		"results":     rows,
	})
}

// resultsError maps terminal-state precondition failures onto guidance.
func (s *Server) resultsError(err error, scanID string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownJob):
		return s.unknownJobError(err, scanID)
	case errors.Is(err, orchestrator.ErrJobNotComplete):
		return enrichedError(err.Error(), []string{
			"The scan is still running. Poll a11y_scan_status and retry once it reports \"complete\".",
		})
	case errors.Is(err, orchestrator.ErrJobFailed):
		return enrichedError(err.Error(), []string{
			"Call a11y_scan_status to read the captured stderr.",
			"Fix the underlying problem and start a new scan.",
		})
	case errors.Is(err, orchestrator.ErrResultsNotFound):
		return enrichedError(err.Error(), []string{
			"The process exited cleanly but wrote no recognizable output — check the backend's logs.",
			"Use a11y_list_scans to inspect what result directories exist on disk.",
		})
	default:
		return errorResult(err.Error())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_get_summary — Aggregated findings
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGetSummaryTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_get_summary",
			Title: "Get Scan Summary",
			Description: `High-level summary of a completed scan: total issue count, per-audit-type
breakdown, axe-core impact distribution, and the top-10 most frequent rule ids.

Use this BEFORE a11y_get_results to decide which filters are worth drilling into.
Counts are computed from the unfiltered data.

EXAMPLE: {"scan_id": "4f1c2a52-..."}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scan_id": map[string]any{
						"type":        "string",
						"description": "The identifier returned by a11y_scan.",
					},
				},
				"required": []string{"scan_id"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				Title:          "Get Scan Summary",
			},
		},
		s.handleGetSummary,
	)
}

func (s *Server) handleGetSummary(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scanIDArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ScanID == "" {
		return errorResult(`scan_id is required. Example: {"scan_id": "4f1c2a52-..."}`), nil
	}

	summary, snap, err := s.orch.GetSummary(args.ScanID)
	if err != nil {
		return s.resultsError(err, args.ScanID), nil
	}

	return jsonResult(map[string]any{
		"scan_id":              snap.ID,
		"scan_mode":            snap.Mode,
		"results_dir":          snap.ResultsDir,
		"total_issues":         summary.TotalIssues,
		"by_audit_type":        summary.ByAuditType,
		"axe_impact_breakdown": summary.ImpactBreakdown,
		"top_violations":       summary.TopViolations,
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_list_scans — Tracked jobs + on-disk result directories
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addListScansTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_list_scans",
			Title: "List Scans",
			Description: `List every scan tracked in this session plus all result directories found on
disk (including ones from earlier runs whose results can still be read).

Never fails; returns empty lists when nothing exists. READ-ONLY.`,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "List Scans",
			},
		},
		s.handleListScans,
	)
}

func (s *Server) handleListScans(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Refresh each job so the listing reflects processes that just
	// finished.
	active := make([]map[string]any, 0)
	for _, snap := range s.orch.ListJobs() {
		if refreshed, err := s.orch.GetStatus(snap.ID); err == nil {
			snap = refreshed
		}
		active = append(active, statusResponse(snap))
	}

	return jsonResult(map[string]any{
		"scan_mode":          s.orch.Mode(),
		"active_scans":       active,
		"result_directories": s.orch.ListResultDirs(),
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_generate_report — Export report documents (primary mode)
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGenerateReportTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_generate_report",
			Title: "Generate Report",
			Description: `Export report documents for a completed scan by running the primary backend's
export script. Only available in primary mode — fallback mode has no export pipeline.

The scan must be complete. Export takes up to a few minutes and blocks this call.

EXAMPLE: {"scan_id": "4f1c2a52-..."}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scan_id": map[string]any{
						"type":        "string",
						"description": "The identifier returned by a11y_scan.",
					},
				},
				"required": []string{"scan_id"},
			},
			Annotations: &mcp.ToolAnnotations{
				Title: "Generate Report",
			},
		},
		s.handleGenerateReport,
	)
}

func (s *Server) handleGenerateReport(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args scanIDArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ScanID == "" {
		return errorResult(`scan_id is required. Example: {"scan_id": "4f1c2a52-..."}`), nil
	}

	if s.orch.Mode() != envcheck.ModePrimary {
		return enrichedError(report.ErrNotSupported.Error(), []string{
			"Report export needs the full CWAC installation (primary mode).",
			"Results remain readable via a11y_get_results and a11y_get_summary.",
		}), nil
	}

	// Reuse the terminal-state checks results access already enforces.
	_, snap, err := s.orch.GetSummary(args.ScanID)
	if err != nil {
		return s.resultsError(err, args.ScanID), nil
	}

	res, err := report.Export(
		s.config.PythonPath,
		s.orch.Env().CwacPath,
		filepath.Base(snap.ResultsDir),
		duration.ReportExport,
	)
	if err != nil {
		return enrichedError(err.Error(), []string{
			"Check the export script exists in the CWAC installation.",
			"Retry once; transient browser/driver failures are common.",
		}), nil
	}

	return jsonResult(map[string]any{
		"scan_id":      snap.ID,
		"scan_mode":    snap.Mode,
		"results_dir":  snap.ResultsDir,
		"report_files": res.ReportFiles,
		"stdout":       res.Stdout,
		"message":      "Report generated successfully.",
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// a11y_check_environment — Backend capability probe result
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addCheckEnvironmentTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "a11y_check_environment",
			Title: "Check Environment",
			Description: `Report which scanning backend is active and why: primary (full CWAC audit
suite), fallback (headless axe-core only), or unavailable.

The probe ran once at startup and is cached — this tool reads the cached result,
it does not re-probe. READ-ONLY, instant.`,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Check Environment",
			},
		},
		s.handleCheckEnvironment,
	)
}

func (s *Server) handleCheckEnvironment(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Env())
}
