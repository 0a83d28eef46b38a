// Package mcpserver exposes the scan orchestrator to AI agents over the
// Model Context Protocol: seven tools for launching scans, polling status,
// reading normalized results, and triggering report export.
package mcpserver

import (
	"context"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/jsonutil"
	"github.com/a11yscan/a11yscan/pkg/metrics"
	"github.com/a11yscan/a11yscan/pkg/orchestrator"
)

// Config holds MCP server configuration.
type Config struct {
	// Orchestrator runs and tracks scan jobs. Required.
	Orchestrator *orchestrator.Orchestrator

	// Metrics serves /metrics on the HTTP transport. Optional.
	Metrics *metrics.Collector

	// PythonPath launches the primary backend's report export.
	PythonPath string
}

// Server wraps the MCP server with accessibility-scan tooling.
type Server struct {
	mcp    *mcp.Server
	orch   *orchestrator.Orchestrator
	config *Config
	ready  atomic.Bool
}

// New creates an MCP server with all tools registered.
func New(cfg *Config) *Server {
	s := &Server{
		orch:   cfg.Orchestrator,
		config: cfg,
	}
	if s.config.PythonPath == "" {
		s.config.PythonPath = "python3"
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    defaults.ServiceName,
			Title:   "Accessibility Scan Orchestrator",
			Version: defaults.Version,
		},
		&mcp.ServerOptions{
			Instructions: serverInstructions,
		},
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for direct access (testing).
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// MarkReady signals that startup validation passed. Until then the /health
// endpoint answers 503.
func (s *Server) MarkReady() { s.ready.Store(true) }

// IsReady reports whether startup validation completed.
func (s *Server) IsReady() bool { return s.ready.Load() }

// RunStdio runs the MCP server over stdio transport — the primary mode for
// IDE and desktop-agent integrations.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP transport with a /health probe
// and, when a metrics collector is configured, /metrics.
func (s *Server) HTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: false},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Metrics != nil {
		mux.Handle("/metrics", s.config.Metrics.Handler())
	}
	mux.Handle("/mcp", streamable)
	mux.Handle("/", streamable)

	return corsMiddleware(recoveryMiddleware(securityHeaders(mux)))
}

// handleHealth serves a readiness/liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !s.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting","service":"` + defaults.ServiceName + `"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"` + defaults.ServiceName + `","mode":"` + string(s.orch.Mode()) + `"}`))
}

// corsMiddleware adds the CORS headers browser-based MCP clients require.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")

		if origin == "" {
			// Non-browser client; skip CORS headers entirely.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			strings.Join([]string{
				"Content-Type",
				"Authorization",
				"Mcp-Session-Id",
				"MCP-Protocol-Version",
				"Last-Event-ID",
				"Accept",
			}, ", "))
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches handler panics and returns a 500 instead of
// killing the connection.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[mcp] panic in HTTP handler: %v\n%s", err, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard defense-in-depth headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Helpers — result builders
// ---------------------------------------------------------------------------

// textResult creates a CallToolResult with a single text content block.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult marshals v to indented JSON and wraps it in a CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsonutil.MarshalIndent(v, "  ")
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}

// errorResult creates an IsError CallToolResult so the agent can see the
// error and self-correct rather than hitting a protocol-level exception.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// enrichedError creates a structured error response with recovery guidance
// for agents, in the same JSON envelope as success responses.
func enrichedError(msg string, recoverySteps []string) *mcp.CallToolResult {
	type errResponse struct {
		Error         string   `json:"error"`
		RecoverySteps []string `json:"recovery_steps"`
	}
	data, _ := jsonutil.MarshalIndent(errResponse{
		Error:         msg,
		RecoverySteps: recoverySteps,
	}, "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments from a tool call into dst.
func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return jsonutil.Unmarshal(req.Params.Arguments, dst)
}

// boolPtr returns a pointer to b, for optional SDK bool fields.
func boolPtr(b bool) *bool { return &b }

// serverInstructions is the operating manual served to connecting agents.
const serverInstructions = `You are operating an accessibility scan orchestrator. It launches
long-running web accessibility audits (WCAG/axe-core) as background jobs and lets you poll
for results without blocking.

WORKFLOW:
1. a11y_check_environment — see which backend mode is active (primary = full audit suite,
   fallback = axe-core only). Run once per session.
2. a11y_scan — start a scan. Returns a scan_id immediately; the scan runs in the background.
3. a11y_scan_status — poll every 10-30 seconds until status is "complete" or "failed".
4. a11y_get_summary — high-level counts first (total issues, per audit type, impact breakdown).
5. a11y_get_results — detailed rows, filtered by audit type / impact / limit to keep context small.
6. a11y_generate_report — export report documents (primary mode only).

NOTES:
• Scans of real sites take minutes. Never busy-poll; wait between status calls.
• Responses always include scan_mode — in fallback mode only the axe-core audit runs and
  plugin toggles are ignored.
• Results use one canonical row schema regardless of backend; a row's "impact" may be
  "unknown" when the audit engine did not classify it.
• If a scan failed, a11y_scan_status includes recent stderr for diagnosis.`
