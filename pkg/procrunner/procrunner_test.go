package procrunner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// pollUntilExit polls until the process reports exit or the deadline passes.
func pollUntilExit(t *testing.T, h *Handle, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		snap := h.Poll()
		if !snap.Running {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatal("process did not exit in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStart_CapturesOutputAndExitCode(t *testing.T) {
	h, err := Start(Spec{
		Path: "sh",
		Args: []string{"-c", "echo out-line; echo err-line >&2"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	snap := pollUntilExit(t, h, 5*time.Second)
	if snap.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", snap.ExitCode)
	}

	// Output may have been drained by earlier polls or by this one.
	allOut := append(snap.Stdout, h.stdout.Tail(10)...)
	found := false
	for _, line := range allOut {
		if line == "out-line" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected stdout to contain out-line, got %v", allOut)
	}
	if got := h.stderr.Tail(10); len(got) != 1 || got[0] != "err-line" {
		t.Errorf("Expected stderr [err-line], got %v", got)
	}
}

func TestStart_NonZeroExit(t *testing.T) {
	h, err := Start(Spec{Path: "sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	snap := pollUntilExit(t, h, 5*time.Second)
	if snap.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", snap.ExitCode)
	}
}

func TestStart_LaunchFailure(t *testing.T) {
	_, err := Start(Spec{Path: "/nonexistent/binary/for/test"})
	if err == nil {
		t.Fatal("Expected launch error")
	}
	if !errors.Is(err, ErrLaunch) {
		t.Errorf("Expected ErrLaunch, got %v", err)
	}
}

func TestPoll_NeverBlocksWhileRunning(t *testing.T) {
	h, err := Start(Spec{Path: "sleep", Args: []string{"10"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Terminate(time.Second)

	done := make(chan Snapshot, 1)
	go func() { done <- h.Poll() }()

	select {
	case snap := <-done:
		if !snap.Running {
			t.Error("Expected process to be running")
		}
	case <-time.After(time.Second):
		t.Fatal("Poll blocked")
	}
}

func TestTerminate_StopsProcess(t *testing.T) {
	h, err := Start(Spec{Path: "sleep", Args: []string{"60"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	h.Terminate(2 * time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Terminate took too long: %v", elapsed)
	}

	snap := pollUntilExit(t, h, 2*time.Second)
	if snap.ExitCode == 0 {
		t.Error("Expected non-zero exit code after termination")
	}
}

func TestTerminate_SafeAfterExit(t *testing.T) {
	h, err := Start(Spec{Path: "true"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pollUntilExit(t, h, 5*time.Second)

	// Must not panic or hang.
	h.Terminate(time.Second)
	h.Terminate(time.Second)
}

func TestCleanup_Idempotent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "artifact.json")
	if err := os.WriteFile(file, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Cleanup(file); err != nil {
		t.Errorf("First cleanup failed: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("Expected artifact to be removed")
	}

	// Second pass over the same (now missing) path must succeed.
	if err := Cleanup(file); err != nil {
		t.Errorf("Second cleanup failed: %v", err)
	}

	// Empty paths are skipped.
	if err := Cleanup("", file); err != nil {
		t.Errorf("Cleanup with empty path failed: %v", err)
	}
}
