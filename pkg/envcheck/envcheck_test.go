package envcheck

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeELF writes a minimal ELF header declaring the given e_machine value.
func writeELF(t *testing.T, path string, machine uint16) {
	t.Helper()
	header := make([]byte, 20)
	header[0] = 0x7f
	copy(header[1:4], "ELF")
	binary.LittleEndian.PutUint16(header[18:20], machine)
	if err := os.WriteFile(path, header, 0o755); err != nil {
		t.Fatal(err)
	}
}

// writeMachO writes a minimal 64-bit Mach-O header with the given cputype.
func writeMachO(t *testing.T, path string, cputype uint32) {
	t.Helper()
	header := make([]byte, 20)
	binary.LittleEndian.PutUint32(header[0:4], 0xfeedfacf)
	binary.LittleEndian.PutUint32(header[4:8], cputype)
	if err := os.WriteFile(path, header, 0o755); err != nil {
		t.Fatal(err)
	}
}

func hostELFMachine() uint16 {
	if runtime.GOARCH == "arm64" {
		return elfMachineAarch64
	}
	return elfMachineX8664
}

func otherELFMachine() uint16 {
	if runtime.GOARCH == "arm64" {
		return elfMachineX8664
	}
	return elfMachineAarch64
}

func TestBinaryMatchesHostArch_ELF(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("arch matching only implemented for amd64/arm64")
	}
	dir := t.TempDir()

	match := filepath.Join(dir, "driver-match")
	writeELF(t, match, hostELFMachine())
	ok, err := binaryMatchesHostArch(match)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ok {
		t.Error("Expected matching ELF binary to pass")
	}

	mismatch := filepath.Join(dir, "driver-mismatch")
	writeELF(t, mismatch, otherELFMachine())
	ok, err = binaryMatchesHostArch(mismatch)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected foreign-arch ELF binary to fail")
	}
}

func TestBinaryMatchesHostArch_MachO(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("arch matching only implemented for amd64/arm64")
	}
	dir := t.TempDir()

	cputype := uint32(machoCPUX8664)
	if runtime.GOARCH == "arm64" {
		cputype = machoCPUArm64
	}

	path := filepath.Join(dir, "driver-macho")
	writeMachO(t, path, cputype)
	ok, err := binaryMatchesHostArch(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ok {
		t.Error("Expected matching Mach-O binary to pass")
	}
}

func TestBinaryMatchesHostArch_Unrecognized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := binaryMatchesHostArch(path); err == nil {
		t.Error("Expected an error for a non-binary file")
	}
}

func TestDiscoverCwacPath(t *testing.T) {
	explicit := t.TempDir()
	if got := discoverCwacPath(explicit); got != explicit {
		t.Errorf("Explicit path should win, got %q", got)
	}

	fromEnv := t.TempDir()
	t.Setenv("A11YSCAN_CWAC_PATH", fromEnv)
	if got := discoverCwacPath(""); got != fromEnv {
		t.Errorf("Expected env var path %q, got %q", fromEnv, got)
	}
}

// fakeCwac builds an installation directory that passes the primary checks,
// with a chromedriver matching the host architecture.
func fakeCwac(t *testing.T) string {
	t.Helper()
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("arch matching only implemented for amd64/arm64")
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cwac.py"), []byte("# entrypoint\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeELF(t, filepath.Join(root, "chromedriver"), hostELFMachine())
	return root
}

func TestCheck_PrimaryMode(t *testing.T) {
	if !checkPython() {
		t.Skip("no python on PATH")
	}
	root := fakeCwac(t)

	r := Check(Paths{CwacPath: root})
	if r.Mode != ModePrimary {
		t.Fatalf("Expected primary mode, got %s (%s)", r.Mode, r.Message)
	}
	if !r.CwacAvailable || !r.ChromedriverOK {
		t.Errorf("Unexpected probe detail: %+v", r)
	}
	if r.CwacPath != root {
		t.Errorf("Expected CwacPath %q, got %q", root, r.CwacPath)
	}
}

func TestCheck_ArchMismatchDisablesPrimary(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("arch matching only implemented for amd64/arm64")
	}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cwac.py"), []byte("#\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeELF(t, filepath.Join(root, "chromedriver"), otherELFMachine())

	r := Check(Paths{CwacPath: root})
	if r.Mode == ModePrimary {
		t.Error("Foreign-arch chromedriver must not allow primary mode")
	}
	if r.ChromedriverOK {
		t.Error("Expected chromedriver check to fail")
	}
}

func TestCheck_UnavailableMessageNamesMissingPieces(t *testing.T) {
	// Empty CwacPath plus a nonexistent axe asset. Chrome may or may not
	// exist on the test host; only assert when nothing is available.
	r := Check(Paths{CwacPath: t.TempDir(), AxeCorePath: filepath.Join(t.TempDir(), "axe.min.js")})
	if r.Mode == ModeUnavailable {
		if !strings.Contains(r.Message, "Missing:") {
			t.Errorf("Unavailable message should name missing pieces, got %q", r.Message)
		}
	}
	if r.Mode == ModeFallback && !r.ChromeOK {
		t.Error("Fallback mode requires Chrome")
	}
	if r.AxeCoreOK {
		t.Error("Nonexistent axe asset must not pass")
	}
}
