package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/procrunner"
)

// startProcess launches a shell script as a tracked backend process.
func startProcess(t *testing.T, script string) *procrunner.Handle {
	t.Helper()
	h, err := procrunner.Start(procrunner.Spec{Path: "sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return h
}

// waitTerminal polls UpdateStatus until the job leaves Running.
func waitTerminal(t *testing.T, r *Registry, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		snap, err := r.UpdateStatus(id)
		if err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
		if snap.State.IsTerminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not reach a terminal state in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistry_CompleteLifecycle(t *testing.T) {
	r := New(nil, Hooks{})
	resultsDir := t.TempDir()
	configPath := writeArtifact(t, "config.json")

	id := NewJobID()
	r.Create(id, CreateParams{
		Mode:            envcheck.ModeFallback,
		AuditName:       "lifecycle",
		ConfigPath:      configPath,
		KnownResultsDir: resultsDir,
		Handle:          startProcess(t, "echo scanning; exit 0"),
	})

	snap := waitTerminal(t, r, id)

	if snap.State != StateComplete {
		t.Fatalf("Expected complete, got %s", snap.State)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", snap.ExitCode)
	}
	if snap.EndedAt == nil {
		t.Error("Expected end time on terminal snapshot")
	}
	if snap.ResultsDir != resultsDir {
		t.Errorf("Expected results dir %q, got %q", resultsDir, snap.ResultsDir)
	}
	if len(snap.RecentStderr) != 0 {
		t.Errorf("Completed job should not expose stderr, got %v", snap.RecentStderr)
	}

	// Input artifacts are removed after the terminal transition.
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("Expected config artifact to be cleaned up")
	}
}

func TestRegistry_FailedLifecycle(t *testing.T) {
	r := New(nil, Hooks{})
	id := NewJobID()
	r.Create(id, CreateParams{
		Mode:      envcheck.ModePrimary,
		AuditName: "failing",
		Handle:    startProcess(t, "echo boom >&2; exit 2"),
	})

	snap := waitTerminal(t, r, id)

	if snap.State != StateFailed {
		t.Fatalf("Expected failed, got %s", snap.State)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 2 {
		t.Errorf("Expected exit code 2, got %v", snap.ExitCode)
	}
	if snap.ResultsDir != "" {
		t.Errorf("Failed job must not publish a results dir, got %q", snap.ResultsDir)
	}

	found := false
	for _, line := range snap.RecentStderr {
		if line == "boom" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected stderr to contain boom, got %v", snap.RecentStderr)
	}
}

func TestRegistry_ResultsDirHiddenWhileRunning(t *testing.T) {
	r := New(nil, Hooks{})
	id := NewJobID()
	r.Create(id, CreateParams{
		Mode:            envcheck.ModeFallback,
		AuditName:       "pending",
		KnownResultsDir: t.TempDir(),
		Handle:          startProcess(t, "sleep 30"),
	})
	defer r.Shutdown()

	snap, err := r.UpdateStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateRunning {
		t.Fatalf("Expected running, got %s", snap.State)
	}
	if snap.ResultsDir != "" {
		t.Errorf("Running job must not expose its results dir, got %q", snap.ResultsDir)
	}
	if snap.EndedAt != nil || snap.ExitCode != nil {
		t.Error("Running snapshot must not carry end time or exit code")
	}
}

func TestRegistry_TerminalTransitionHappensOnce(t *testing.T) {
	var discoverCalls int32
	discover := func(auditName string) (string, error) {
		atomic.AddInt32(&discoverCalls, 1)
		return "/results/fake_" + auditName, nil
	}
	r := New(discover, Hooks{})

	id := NewJobID()
	r.Create(id, CreateParams{
		Mode:      envcheck.ModePrimary,
		AuditName: "once",
		Handle:    startProcess(t, "exit 0"),
	})

	first := waitTerminal(t, r, id)

	// Repeated polls return the same terminal snapshot without re-running
	// discovery.
	for i := 0; i < 5; i++ {
		snap, err := r.UpdateStatus(id)
		if err != nil {
			t.Fatal(err)
		}
		if snap.State != first.State {
			t.Errorf("State changed after terminal: %s -> %s", first.State, snap.State)
		}
		if !snap.EndedAt.Equal(*first.EndedAt) {
			t.Errorf("End time changed after terminal: %v -> %v", first.EndedAt, snap.EndedAt)
		}
		if snap.ResultsDir != first.ResultsDir {
			t.Errorf("Results dir changed after terminal: %q -> %q", first.ResultsDir, snap.ResultsDir)
		}
	}
	if n := atomic.LoadInt32(&discoverCalls); n != 1 {
		t.Errorf("Expected discovery to run once, ran %d times", n)
	}
}

func TestRegistry_CleanExitWithoutResultsStaysComplete(t *testing.T) {
	discover := func(string) (string, error) {
		return "", errors.New("no matching directory")
	}
	r := New(discover, Hooks{})

	id := NewJobID()
	r.Create(id, CreateParams{
		Mode:      envcheck.ModePrimary,
		AuditName: "vanished",
		Handle:    startProcess(t, "exit 0"),
	})

	snap := waitTerminal(t, r, id)
	if snap.State != StateComplete {
		t.Fatalf("Missing results must not fail the job, got %s", snap.State)
	}
	if snap.ResultsDir != "" {
		t.Errorf("Expected empty results dir, got %q", snap.ResultsDir)
	}
}

func TestRegistry_UnknownJob(t *testing.T) {
	r := New(nil, Hooks{})

	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob from Get, got %v", err)
	}
	if _, err := r.UpdateStatus("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Expected ErrUnknownJob from UpdateStatus, got %v", err)
	}
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r := New(nil, Hooks{})

	first := NewJobID()
	r.Create(first, CreateParams{AuditName: "first", Handle: startProcess(t, "exit 0")})
	time.Sleep(10 * time.Millisecond)
	second := NewJobID()
	r.Create(second, CreateParams{AuditName: "second", Handle: startProcess(t, "exit 0")})

	snaps := r.List()
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(snaps))
	}
	if snaps[0].ID != second || snaps[1].ID != first {
		t.Errorf("Expected newest first, got %s then %s", snaps[0].ID, snaps[1].ID)
	}

	waitTerminal(t, r, first)
	waitTerminal(t, r, second)
}

func TestRegistry_UniqueJobIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("Duplicate job id %s", id)
		}
		seen[id] = true
	}
}

func TestRegistry_Hooks(t *testing.T) {
	var started, completed, failed int32
	hooks := Hooks{
		JobStarted:   func(envcheck.Mode) { atomic.AddInt32(&started, 1) },
		JobCompleted: func(envcheck.Mode, time.Duration) { atomic.AddInt32(&completed, 1) },
		JobFailed:    func(envcheck.Mode, time.Duration) { atomic.AddInt32(&failed, 1) },
	}
	r := New(nil, hooks)

	ok := NewJobID()
	r.Create(ok, CreateParams{AuditName: "ok", Handle: startProcess(t, "exit 0")})
	bad := NewJobID()
	r.Create(bad, CreateParams{AuditName: "bad", Handle: startProcess(t, "exit 1")})

	waitTerminal(t, r, ok)
	waitTerminal(t, r, bad)

	if got := atomic.LoadInt32(&started); got != 2 {
		t.Errorf("Expected 2 started hooks, got %d", got)
	}
	if got := atomic.LoadInt32(&completed); got != 1 {
		t.Errorf("Expected 1 completed hook, got %d", got)
	}
	if got := atomic.LoadInt32(&failed); got != 1 {
		t.Errorf("Expected 1 failed hook, got %d", got)
	}
}

func TestRegistry_ShutdownTerminatesRunningJobs(t *testing.T) {
	r := New(nil, Hooks{})
	configPath := writeArtifact(t, "config.json")

	id := NewJobID()
	r.Create(id, CreateParams{
		AuditName:  "longrunner",
		ConfigPath: configPath,
		Handle:     startProcess(t, "sleep 60"),
	})

	done := make(chan struct{})
	go func() {
		r.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	snap, err := r.UpdateStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateFailed {
		t.Errorf("Expected terminated job to be failed, got %s", snap.State)
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("Expected artifacts to be cleaned up during shutdown")
	}
}
