package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/registry"
	"github.com/a11yscan/a11yscan/pkg/results"
)

// fakeScript writes an executable shell script and returns its path.
func fakeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fallbackOrchestrator builds an orchestrator whose "self" binary is a fake
// script, so fallback submissions run real subprocesses without a browser.
func fallbackOrchestrator(t *testing.T, selfScript string) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Env:        &envcheck.Result{Mode: envcheck.ModeFallback, ChromeOK: true, AxeCoreOK: true},
		OutputRoot: t.TempDir(),
		SelfPath:   selfScript,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

// waitComplete polls until the job is terminal.
func waitComplete(t *testing.T, o *Orchestrator, id string) registry.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := o.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
		if snap.State.IsTerminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached a terminal state")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSubmitJob_ValidatesURLs(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "exit 0"))

	tests := []struct {
		name string
		urls []string
	}{
		{"empty list", nil},
		{"missing scheme", []string{"example.org"}},
		{"wrong scheme", []string{"ftp://example.org"}},
		{"no host", []string{"https://"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.SubmitJob(tt.urls, Options{})
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if len(o.ListJobs()) != 0 {
		t.Error("Rejected submissions must not create job records")
	}
}

func TestSubmitJob_BackendUnavailable(t *testing.T) {
	o, err := New(Config{
		Env:      &envcheck.Result{Mode: envcheck.ModeUnavailable, Message: "nothing installed"},
		SelfPath: "/bin/true",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.SubmitJob([]string{"https://example.org"}, Options{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSubmitJob_LaunchFailureLeavesNoRecord(t *testing.T) {
	outputRoot := t.TempDir()
	o, err := New(Config{
		Env:        &envcheck.Result{Mode: envcheck.ModeFallback},
		OutputRoot: outputRoot,
		SelfPath:   filepath.Join(t.TempDir(), "does-not-exist"),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.SubmitJob([]string{"https://example.org"}, Options{})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("Expected ErrLaunchFailed, got %v", err)
	}
	if len(o.ListJobs()) != 0 {
		t.Error("Launch failure must not leave a job record")
	}

	// The written config artifact is removed again.
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		files, _ := os.ReadDir(filepath.Join(outputRoot, e.Name()))
		for _, f := range files {
			t.Errorf("Expected no leftover artifacts, found %s/%s", e.Name(), f.Name())
		}
	}
}

func TestSubmitJob_FallbackLifecycle(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "echo scan running; exit 0"))

	sub, err := o.SubmitJob([]string{"https://example.org"}, Options{AuditName: "fallback run"})
	if err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}
	if sub.Mode != envcheck.ModeFallback {
		t.Errorf("Expected fallback mode, got %s", sub.Mode)
	}
	if sub.AuditName != "fallback_run" {
		t.Errorf("Expected sanitized audit name, got %q", sub.AuditName)
	}

	snap := waitComplete(t, o, sub.JobID)
	if snap.State != registry.StateComplete {
		t.Fatalf("Expected complete, got %s (stderr: %v)", snap.State, snap.RecentStderr)
	}
	if snap.ResultsDir == "" {
		t.Fatal("Expected the known output dir to be published on completion")
	}

	// Drop findings into the published dir and read them back through the
	// orchestrator.
	csv := "id,impact,audit_type\nimage-alt,critical,axe_core_audit\n"
	if err := os.WriteFile(filepath.Join(snap.ResultsDir, "axe_core_audit.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, _, err := o.GetResults(sub.JobID, results.Filters{})
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if len(rows) != 1 || rows[0].RuleID != "image-alt" {
		t.Errorf("Unexpected rows: %+v", rows)
	}

	summary, _, err := o.GetSummary(sub.JobID)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.TotalIssues != 1 {
		t.Errorf("Expected 1 issue, got %d", summary.TotalIssues)
	}
}

func TestSubmitJob_DefaultAuditName(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "exit 0"))

	sub, err := o.SubmitJob([]string{"https://example.org"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if sub.AuditName != defaults.DefaultAuditName {
		t.Errorf("Expected default audit name, got %q", sub.AuditName)
	}
	waitComplete(t, o, sub.JobID)
}

func TestGetResults_TerminalPreconditions(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "sleep 30"))

	sub, err := o.SubmitJob([]string{"https://example.org"}, Options{AuditName: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	defer o.Shutdown()

	_, _, err = o.GetResults(sub.JobID, results.Filters{})
	if !errors.Is(err, ErrJobNotComplete) {
		t.Errorf("Expected ErrJobNotComplete while running, got %v", err)
	}
	_, _, err = o.GetSummary(sub.JobID)
	if !errors.Is(err, ErrJobNotComplete) {
		t.Errorf("Expected ErrJobNotComplete from summary, got %v", err)
	}
}

func TestGetResults_FailedJob(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "echo broken >&2; exit 1"))

	sub, err := o.SubmitJob([]string{"https://example.org"}, Options{AuditName: "broken"})
	if err != nil {
		t.Fatal(err)
	}
	snap := waitComplete(t, o, sub.JobID)
	if snap.State != registry.StateFailed {
		t.Fatalf("Expected failed, got %s", snap.State)
	}

	_, _, err = o.GetResults(sub.JobID, results.Filters{})
	if !errors.Is(err, ErrJobFailed) {
		t.Errorf("Expected ErrJobFailed, got %v", err)
	}
}

func TestGetStatus_UnknownJob(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "exit 0"))

	_, err := o.GetStatus("no-such-id")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob, got %v", err)
	}
}

func TestSubmitJob_ConcurrentJobsGetDistinctArtifacts(t *testing.T) {
	o := fallbackOrchestrator(t, fakeScript(t, "exit 0"))
	urls := []string{"https://example.org"}

	a, err := o.SubmitJob(urls, Options{AuditName: "shared_name"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := o.SubmitJob(urls, Options{AuditName: "shared_name"})
	if err != nil {
		t.Fatal(err)
	}
	if a.JobID == b.JobID {
		t.Fatal("Expected distinct job ids")
	}

	snapA := waitComplete(t, o, a.JobID)
	snapB := waitComplete(t, o, b.JobID)
	if snapA.State != registry.StateComplete || snapB.State != registry.StateComplete {
		t.Fatalf("Expected both complete, got %s and %s", snapA.State, snapB.State)
	}
}

func TestListResultDirs(t *testing.T) {
	outputRoot := t.TempDir()
	o, err := New(Config{
		Env:        &envcheck.Result{Mode: envcheck.ModeFallback},
		OutputRoot: outputRoot,
		SelfPath:   "/bin/true",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Pre-existing directory from an earlier run.
	if err := os.MkdirAll(filepath.Join(outputRoot, "20250101_000000_old"), 0o755); err != nil {
		t.Fatal(err)
	}

	dirs := o.ListResultDirs()
	if len(dirs) != 1 {
		t.Fatalf("Expected 1 dir, got %d", len(dirs))
	}
	if dirs[0].Name != "20250101_000000_old" {
		t.Errorf("Unexpected dir: %+v", dirs[0])
	}
}
