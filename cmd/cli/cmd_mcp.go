package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/duration"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/mcpserver"
	"github.com/a11yscan/a11yscan/pkg/metrics"
	"github.com/a11yscan/a11yscan/pkg/orchestrator"
)

// serverConfig is the optional YAML config file for the mcp command. Flags
// and environment variables override file values.
type serverConfig struct {
	CwacPath    string `yaml:"cwac_path"`
	OutputRoot  string `yaml:"output_root"`
	AxeCorePath string `yaml:"axe_core_path"`
	PythonPath  string `yaml:"python_path"`
	HTTPAddr    string `yaml:"http_addr"`
	Metrics     bool   `yaml:"metrics"`
}

func loadServerConfig(path string) (*serverConfig, error) {
	var cfg serverConfig
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// runMCP starts the MCP server. Two transports:
//   - --stdio (default): for IDE/agent integration
//   - --http <addr>:     streamable HTTP for remote deployments
func runMCP() {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)

	stdio := fs.Bool("stdio", true, "Use stdio transport (default, for agent integration)")
	httpAddr := fs.String("http", "", "HTTP address to listen on (e.g. :8080). Disables stdio.")
	configPath := fs.String("config", "", "YAML config file (flags override file values)")
	cwacPath := fs.String("cwac", envOrDefault(defaults.EnvCwacPath, ""), "CWAC installation directory")
	outputRoot := fs.String("output-root", "", "Root directory for fallback scan output")
	axeCorePath := fs.String("axe-core", "", "Path to the axe-core JS asset")
	pythonPath := fs.String("python", "", "Python interpreter for the primary backend")
	enableMetrics := fs.Bool("metrics", false, "Expose Prometheus metrics at /metrics (HTTP transport only)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: a11yscan mcp [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Start an MCP server for agent-driven accessibility scanning.\n\n")
		fmt.Fprintf(os.Stderr, "Transports:\n")
		fmt.Fprintf(os.Stderr, "  --stdio          Stdio transport (default)\n")
		fmt.Fprintf(os.Stderr, "  --http <addr>    Streamable HTTP transport for remote/Docker\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  %s     CWAC installation directory (same as --cwac)\n", defaults.EnvCwacPath)
		fmt.Fprintf(os.Stderr, "  %s  Project root for fallback output and assets\n", defaults.EnvProjectRoot)
		fmt.Fprintf(os.Stderr, "  A11YSCAN_HTTP_ADDR     HTTP listen address (same as --http)\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  a11yscan mcp --stdio\n")
		fmt.Fprintf(os.Stderr, "  a11yscan mcp --http :8080 --metrics\n")
		fmt.Fprintf(os.Stderr, "  %s=/opt/cwac a11yscan mcp\n\n", defaults.EnvCwacPath)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fileCfg, err := loadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *cwacPath == "" {
		*cwacPath = fileCfg.CwacPath
	}
	if *outputRoot == "" {
		*outputRoot = fileCfg.OutputRoot
	}
	if *axeCorePath == "" {
		*axeCorePath = fileCfg.AxeCorePath
	}
	if *pythonPath == "" {
		*pythonPath = fileCfg.PythonPath
	}
	if *httpAddr == "" {
		*httpAddr = fileCfg.HTTPAddr
	}
	if !*enableMetrics {
		*enableMetrics = fileCfg.Metrics
	}
	if *httpAddr == "" {
		if envAddr := os.Getenv("A11YSCAN_HTTP_ADDR"); envAddr != "" {
			*httpAddr = envAddr
		}
	}

	axePath := *axeCorePath
	if axePath == "" {
		axePath = defaults.AxeCorePath()
	}

	// Startup probe: runs exactly once, cached for the server lifetime.
	env := envcheck.Check(envcheck.Paths{
		CwacPath:    *cwacPath,
		AxeCorePath: axePath,
	})
	fmt.Fprintf(os.Stderr, "[startup] %s\n", env.Message)
	if env.Mode == envcheck.ModeUnavailable {
		fmt.Fprintf(os.Stderr, "[startup] WARNING: no scanning backend available — a11y_scan will fail until one is installed\n")
	}

	var collector *metrics.Collector
	orchCfg := orchestrator.Config{
		Env:         env,
		OutputRoot:  *outputRoot,
		AxeCorePath: axePath,
		PythonPath:  *pythonPath,
	}
	if *enableMetrics {
		collector = metrics.New()
		orchCfg.Hooks = collector.Hooks()
	}

	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	// Terminate and clean up any still-running scans on exit.
	defer orch.Shutdown()

	srv := mcpserver.New(&mcpserver.Config{
		Orchestrator: orch,
		Metrics:      collector,
		PythonPath:   *pythonPath,
	})
	srv.MarkReady()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *httpAddr != "" {
		*stdio = false
		runHTTPTransport(ctx, srv, *httpAddr)
		return
	}

	if *stdio {
		if err := srv.RunStdio(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "error: no transport selected — use --stdio or --http <addr>\n")
	os.Exit(1)
}

func runHTTPTransport(ctx context.Context, srv *mcpserver.Server, addr string) {
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.HTTPHandler(),
		// WriteTimeout stays 0: SSE streams are long-lived and an
		// absolute deadline would kill them. Scans run async and return
		// scan_id immediately, so no handler writes for long.
		ReadHeaderTimeout: duration.HTTPReadHeader,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), duration.HTTPShutdown)
		defer shutdownCancel()
		fmt.Fprintf(os.Stderr, "[mcp] shutting down\n")
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "[mcp] listening on %s (HTTP transport)\n", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
