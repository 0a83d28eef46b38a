// Package envcheck probes the host at startup to decide which scanning
// backend is usable: the full CWAC audit suite (primary) or the bundled
// headless axe-core scanner (fallback).
//
// The probe is pure — it inspects files and PATH entries but never mutates
// host state. Callers run it once at startup and cache the result; it is
// not re-run per job.
package envcheck

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Mode identifies which scanning backend executes jobs.
type Mode string

const (
	// ModePrimary runs the full CWAC audit suite as a subprocess.
	ModePrimary Mode = "primary"

	// ModeFallback runs the bundled headless axe-core scanner.
	ModeFallback Mode = "fallback"

	// ModeUnavailable means neither backend can run on this host.
	ModeUnavailable Mode = "unavailable"
)

// Result describes the probe outcome. Message always carries a
// human-readable summary with a remediation hint when nothing is usable.
type Result struct {
	Mode            Mode   `json:"mode"`
	CwacAvailable   bool   `json:"cwac_available"`
	CwacPath        string `json:"cwac_path,omitempty"`
	ChromedriverOK  bool   `json:"chromedriver_ok"`
	PythonOK        bool   `json:"python_ok"`
	ChromeOK        bool   `json:"chrome_ok"`
	AxeCoreOK       bool   `json:"axe_core_ok"`
	Message         string `json:"message"`
}

// Paths tells the probe where to look. Zero values fall back to env vars
// and well-known locations.
type Paths struct {
	// CwacPath is the CWAC installation directory.
	CwacPath string

	// AxeCorePath is the axe-core JS asset for the fallback scanner.
	AxeCorePath string
}

// wellKnownCwacPaths are checked in order when no explicit path is given.
var wellKnownCwacPaths = []string{
	"/workspaces/cwac",
	"/opt/cwac",
}

// Check probes the host and selects the active scan mode.
//
// Preference order: primary when the CWAC entrypoint exists, its bundled
// chromedriver matches the host CPU architecture, and a Python runtime is
// on PATH; otherwise fallback when a Chrome/Chromium executable and the
// axe-core asset are present; otherwise unavailable.
func Check(paths Paths) *Result {
	cwacPath := discoverCwacPath(paths.CwacPath)
	cwacExists := cwacPath != "" && fileExists(filepath.Join(cwacPath, "cwac.py"))

	chromedriverOK := false
	if cwacExists {
		chromedriverOK = checkChromedriver(cwacPath)
	}
	pythonOK := checkPython()
	chromeOK := checkChrome()
	axePath := paths.AxeCorePath
	axeOK := axePath != "" && fileExists(axePath)

	r := &Result{
		CwacAvailable:  cwacExists && chromedriverOK && pythonOK,
		ChromedriverOK: chromedriverOK,
		PythonOK:       pythonOK,
		ChromeOK:       chromeOK,
		AxeCoreOK:      axeOK,
	}
	if cwacExists {
		r.CwacPath = cwacPath
	}

	switch {
	case r.CwacAvailable:
		r.Mode = ModePrimary
		r.Message = fmt.Sprintf(
			"Full mode (CWAC): all audit plugins available. CWAC found at %s.", cwacPath)
	case chromeOK && axeOK:
		r.Mode = ModeFallback
		var reasons []string
		switch {
		case !cwacExists:
			reasons = append(reasons, "CWAC not found")
		case !chromedriverOK:
			reasons = append(reasons, "chromedriver incompatible with this architecture")
		case !pythonOK:
			reasons = append(reasons, "python3 not on PATH")
		}
		reason := "CWAC unavailable"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, "; ")
		}
		r.Message = fmt.Sprintf(
			"Fallback mode (axe-core only): %s. Running axe-core scanning via headless Chrome.", reason)
	default:
		r.Mode = ModeUnavailable
		var missing []string
		if !r.CwacAvailable {
			missing = append(missing, "CWAC (full suite)")
		}
		if !chromeOK {
			missing = append(missing, "Chrome/Chromium")
		}
		if !axeOK {
			missing = append(missing, "axe-core")
		}
		r.Message = fmt.Sprintf(
			"No scanning mode available. Missing: %s. Run scripts/install-deps.sh to install dependencies.",
			strings.Join(missing, ", "))
	}
	return r
}

// discoverCwacPath resolves the CWAC installation directory: explicit
// argument, then $A11YSCAN_CWAC_PATH, then well-known locations.
func discoverCwacPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv("A11YSCAN_CWAC_PATH"); v != "" {
		return v
	}
	for _, p := range wellKnownCwacPaths {
		if dirExists(p) {
			return p
		}
	}
	return ""
}

// chromedriverLocations are the places CWAC ships its driver binary,
// relative to the installation directory.
func chromedriverLocations(cwacPath string) []string {
	return []string{
		filepath.Join(cwacPath, "node_modules", "chromedriver", "lib", "chromedriver", "chromedriver"),
		filepath.Join(cwacPath, "chromedriver"),
	}
}

// checkChromedriver reports whether CWAC's bundled chromedriver exists and
// matches the host CPU architecture.
func checkChromedriver(cwacPath string) bool {
	var driver string
	for _, p := range chromedriverLocations(cwacPath) {
		if fileExists(p) {
			driver = p
			break
		}
	}
	if driver == "" {
		return false
	}
	ok, err := binaryMatchesHostArch(driver)
	if err == nil {
		return ok
	}
	// Header parse failed; fall back to file(1).
	return fileCommandMatchesHostArch(driver)
}

// ELF e_machine and Mach-O cputype values for the architectures CWAC ships
// drivers for.
const (
	elfMachineX8664   = 62
	elfMachineAarch64 = 183
	machoCPUX8664     = 0x01000007
	machoCPUArm64     = 0x0100000C
)

// binaryMatchesHostArch reads the executable header directly and compares
// the declared machine type against the host architecture. Supports ELF
// (Linux) and Mach-O (macOS).
func binaryMatchesHostArch(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 20)
	if _, err := f.Read(header); err != nil {
		return false, err
	}

	// ELF: e_machine is a little-endian uint16 at offset 18.
	if header[0] == 0x7f && string(header[1:4]) == "ELF" {
		machine := binary.LittleEndian.Uint16(header[18:20])
		switch hostArch() {
		case "amd64":
			return machine == elfMachineX8664, nil
		case "arm64":
			return machine == elfMachineAarch64, nil
		}
		return false, nil
	}

	// Mach-O: cputype is a little-endian uint32 at offset 4.
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic == 0xfeedfacf || magic == 0xfeedface {
		cputype := binary.LittleEndian.Uint32(header[4:8])
		switch hostArch() {
		case "amd64":
			return cputype == machoCPUX8664, nil
		case "arm64":
			return cputype == machoCPUArm64, nil
		}
		return false, nil
	}

	return false, fmt.Errorf("envcheck: unrecognized executable format in %s", path)
}

// fileCommandMatchesHostArch shells out to file(1) when header parsing
// fails (e.g. fat binaries).
func fileCommandMatchesHostArch(path string) bool {
	out, err := exec.Command("file", path).Output()
	if err != nil {
		return false
	}
	s := string(out)
	switch hostArch() {
	case "amd64":
		return strings.Contains(s, "x86-64") || strings.Contains(s, "x86_64")
	case "arm64":
		return strings.Contains(s, "aarch64") || strings.Contains(s, "arm64")
	}
	return false
}

func hostArch() string { return runtime.GOARCH }

// checkPython reports whether a Python runtime is on PATH. CWAC itself is
// a Python program, so the primary backend cannot launch without one.
func checkPython() bool {
	for _, name := range []string{"python3", "python"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// chromeExecutables mirrors the lookup order chromedp uses on Linux and
// macOS, so the probe agrees with what the fallback scanner will find.
var chromeExecutables = []string{
	"google-chrome",
	"chromium",
	"chromium-browser",
	"google-chrome-stable",
	"headless-shell",
	"headless_shell",
	"/usr/bin/google-chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// checkChrome reports whether a Chrome or Chromium executable is
// resolvable for the fallback scanner.
func checkChrome() bool {
	for _, name := range chromeExecutables {
		if filepath.IsAbs(name) {
			if fileExists(name) {
				return true
			}
			continue
		}
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
