// Package report triggers the primary backend's report export for a
// completed scan. Document rendering itself belongs to the backend; this
// package only orchestrates the export subprocess and lists what it wrote.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/a11yscan/a11yscan/pkg/duration"
	"github.com/a11yscan/a11yscan/pkg/procrunner"
)

// Sentinel errors. Callers should use errors.Is().
var (
	// ErrNotSupported means report export was requested in fallback
	// mode, which has no export script.
	ErrNotSupported = errors.New("report: export requires the primary backend")

	// ErrExportFailed means the export subprocess exited non-zero.
	ErrExportFailed = errors.New("report: export failed")

	// ErrTimeout means the export subprocess exceeded its deadline and
	// was terminated.
	ErrTimeout = errors.New("report: export timed out")
)

// pollInterval is how often Export checks the subprocess while waiting.
const pollInterval = 200 * time.Millisecond

// Result describes a successful export.
type Result struct {
	ReportFiles []string `json:"report_files"`
	Stdout      []string `json:"stdout,omitempty"`
}

// Export runs the primary backend's export script for resultsDirName and
// waits, bounded by timeout, for it to finish. On success it returns the
// files written under the backend's reports tree.
func Export(pythonPath, cwacPath, resultsDirName string, timeout time.Duration) (*Result, error) {
	handle, err := procrunner.Start(procrunner.Spec{
		Path: pythonPath,
		Args: []string{"export_report_data.py", resultsDirName},
		Dir:  cwacPath,
	})
	if err != nil {
		return nil, fmt.Errorf("report: launching export: %w", err)
	}

	var stdout, stderr []string
	deadline := time.Now().Add(timeout)
	for {
		snap := handle.Poll()
		stdout = append(stdout, snap.Stdout...)
		stderr = append(stderr, snap.Stderr...)
		if !snap.Running {
			if snap.ExitCode != 0 {
				return nil, fmt.Errorf("%w: exit %d: %s",
					ErrExportFailed, snap.ExitCode, strings.Join(tail(stderr, 5), " | "))
			}
			break
		}
		if time.Now().After(deadline) {
			handle.Terminate(duration.ShutdownGrace)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		time.Sleep(pollInterval)
	}

	reportsDir := filepath.Join(cwacPath, "reports", resultsDirName)
	var files []string
	entries, err := os.ReadDir(reportsDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(reportsDir, e.Name()))
			}
		}
	}
	sort.Strings(files)

	return &Result{ReportFiles: files, Stdout: tail(stdout, 20)}, nil
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
