package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/jsonutil"
)

// runEnvCheck probes the host once and prints the result. Exit code 0 when
// any backend is usable, 1 when scanning is unavailable.
func runEnvCheck() {
	fs := flag.NewFlagSet("env-check", flag.ExitOnError)
	cwacPath := fs.String("cwac", envOrDefault(defaults.EnvCwacPath, ""), "CWAC installation directory")
	axeCorePath := fs.String("axe-core", "", "Path to the axe-core JS asset")
	asJSON := fs.Bool("json", false, "Print the full probe result as JSON")

	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	axePath := *axeCorePath
	if axePath == "" {
		axePath = defaults.AxeCorePath()
	}

	result := envcheck.Check(envcheck.Paths{
		CwacPath:    *cwacPath,
		AxeCorePath: axePath,
	})

	if *asJSON {
		data, err := jsonutil.MarshalIndent(result, "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("mode: %s\n%s\n", result.Mode, result.Message)
	}

	if result.Mode == envcheck.ModeUnavailable {
		os.Exit(1)
	}
}
