package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeExporter writes an executable standing in for the python interpreter.
// It is invoked as `fake export_report_data.py <results-dir-name>`.
func fakeExporter(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-python")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExport_Success(t *testing.T) {
	cwac := t.TempDir()
	exporter := fakeExporter(t, `mkdir -p "reports/$2" && echo data > "reports/$2/report.xlsx" && echo exported`)

	res, err := Export(exporter, cwac, "20250101_000000_scan", 10*time.Second)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if len(res.ReportFiles) != 1 {
		t.Fatalf("Expected 1 report file, got %v", res.ReportFiles)
	}
	want := filepath.Join(cwac, "reports", "20250101_000000_scan", "report.xlsx")
	if res.ReportFiles[0] != want {
		t.Errorf("Expected %q, got %q", want, res.ReportFiles[0])
	}

	found := false
	for _, line := range res.Stdout {
		if line == "exported" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected captured stdout, got %v", res.Stdout)
	}
}

func TestExport_Failure(t *testing.T) {
	exporter := fakeExporter(t, `echo "template missing" >&2; exit 1`)

	_, err := Export(exporter, t.TempDir(), "dir", 10*time.Second)
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("Expected ErrExportFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "template missing") {
		t.Errorf("Expected stderr in error, got %q", err.Error())
	}
}

func TestExport_Timeout(t *testing.T) {
	exporter := fakeExporter(t, "sleep 30")

	start := time.Now()
	_, err := Export(exporter, t.TempDir(), "dir", 500*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 15*time.Second {
		t.Error("Timeout took too long to enforce")
	}
}

func TestExport_LaunchFailure(t *testing.T) {
	_, err := Export(filepath.Join(t.TempDir(), "missing"), t.TempDir(), "dir", time.Second)
	if err == nil {
		t.Fatal("Expected launch error")
	}
}

