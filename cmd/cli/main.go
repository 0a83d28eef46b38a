package main

import (
	"fmt"
	"os"

	"github.com/a11yscan/a11yscan/pkg/defaults"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mcp", "serve":
		runMCP()
	case "axe-scan":
		runAxeScan()
	case "env-check", "check":
		runEnvCheck()
	case "-h", "--help", "help":
		printUsage()
		os.Exit(0)
	case "-v", "--version", "version":
		fmt.Printf("%s v%s\n", defaults.ServiceName, defaults.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — accessibility scan orchestration over MCP

Usage: a11yscan <command> [flags]

Commands:
  mcp        Start the MCP server (stdio by default, --http for remote)
  axe-scan   Run the fallback axe-core scanner against a written config
  env-check  Probe the host and report the active scan mode
  version    Print the version
  help       Show this message

Run 'a11yscan <command> -h' for command flags.
`, defaults.ServiceName, defaults.Version)
}

// envOrDefault returns the environment variable value if set, otherwise the
// default.
func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
