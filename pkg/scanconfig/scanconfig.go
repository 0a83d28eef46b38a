// Package scanconfig translates a scan request into the isolated input
// artifacts each backend consumes: a config JSON plus (for the primary
// backend) a per-scan base-URLs CSV directory.
//
// Artifacts are scoped to one scan ID and never shared between jobs. The
// builder only writes files; launching the backend and cleaning up are the
// process runner's and registry's concerns.
package scanconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/jsonutil"
)

// Sentinel errors for input validation. Callers should use errors.Is().
var (
	// ErrNoURLs indicates an empty URL list.
	ErrNoURLs = errors.New("scanconfig: at least one URL must be provided")

	// ErrEmptyAuditName indicates the audit name was blank after
	// sanitization.
	ErrEmptyAuditName = errors.New("scanconfig: audit_name is empty after sanitization")
)

// Viewport is a named browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options carries the caller-supplied scan parameters.
type Options struct {
	// AuditName is the human-readable name for this audit. It becomes
	// part of the results directory name after sanitization.
	AuditName string

	// URLs are the scan entry points. Required.
	URLs []string

	// Plugins toggles individual audit plugins on or off (primary
	// backend only). Unlisted plugins keep their config defaults.
	Plugins map[string]bool

	// MaxLinksPerDomain overrides the crawl budget. Zero keeps the
	// backend default.
	MaxLinksPerDomain int

	// ViewportSizes overrides the viewport set. Nil keeps defaults.
	ViewportSizes map[string]Viewport
}

// Builder writes per-scan input artifacts under the configured roots.
type Builder struct {
	// CwacPath is the primary backend installation directory.
	CwacPath string

	// OutputRoot is where fallback scan output directories are created.
	OutputRoot string

	// AxeCorePath is the axe-core JS asset recorded in fallback configs.
	AxeCorePath string
}

var (
	invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.]`)
	repeatUnderscore = regexp.MustCompile(`_+`)
)

// SanitizeAuditName makes a raw audit name safe for file and directory
// names: trim, replace disallowed characters with underscores, collapse
// runs of underscores, cap the length. Mirrors the primary backend's own
// sanitization so discovery by name suffix keeps working.
func SanitizeAuditName(name string) string {
	s := strings.TrimSpace(name)
	s = invalidNameChars.ReplaceAllString(s, "_")
	s = repeatUnderscore.ReplaceAllString(s, "_")
	if len(s) > defaults.AuditNameMaxLen {
		s = s[:defaults.AuditNameMaxLen]
	}
	return s
}

// PrimaryArtifacts identifies the inputs written for a primary-backend scan.
type PrimaryArtifacts struct {
	// ConfigFilename is just the filename (e.g. "mcp_<id>.json"); the
	// backend resolves it against its own config directory.
	ConfigFilename string

	// ConfigPath is the absolute path of the written config.
	ConfigPath string

	// BaseURLsDir is the per-scan base-URLs directory.
	BaseURLsDir string
}

// BuildPrimary writes a primary-backend config derived from the backend's
// default config plus the caller's overrides, and a per-scan base-URLs CSV.
//
// The config's base-URLs path points at a subdirectory named after the scan
// ID so concurrent scans never share inputs.
func (b *Builder) BuildPrimary(scanID string, opts Options) (*PrimaryArtifacts, error) {
	safeName, err := validate(opts)
	if err != nil {
		return nil, err
	}

	defaultPath := filepath.Join(defaults.CwacConfigDir(b.CwacPath), "config_default.json")
	raw, err := os.ReadFile(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("scanconfig: reading default config: %w", err)
	}
	var cfg map[string]any
	if err := jsonutil.Unmarshal(stripBOM(raw), &cfg); err != nil {
		return nil, fmt.Errorf("scanconfig: parsing default config: %w", err)
	}

	cfg["audit_name"] = safeName

	if len(opts.Plugins) > 0 {
		// Only the enabled flag of listed plugins changes; other plugin
		// settings keep their defaults.
		if plugins, ok := cfg["audit_plugins"].(map[string]any); ok {
			for key, enabled := range opts.Plugins {
				if plugin, ok := plugins[key].(map[string]any); ok {
					plugin["enabled"] = enabled
				}
			}
		}
	}

	if opts.MaxLinksPerDomain > 0 {
		cfg["max_links_per_domain"] = opts.MaxLinksPerDomain
	}
	if opts.ViewportSizes != nil {
		cfg["viewport_sizes"] = opts.ViewportSizes
	}

	// The backend resolves this relative to its own working directory.
	subdir := "mcp_" + scanID
	cfg["base_urls_visit_path"] = "./base_urls/visit/" + subdir + "/"

	out, err := jsonutil.MarshalIndent(cfg, "    ")
	if err != nil {
		return nil, fmt.Errorf("scanconfig: encoding config: %w", err)
	}

	configFilename := "mcp_" + scanID + ".json"
	configPath := filepath.Join(defaults.CwacConfigDir(b.CwacPath), configFilename)
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return nil, fmt.Errorf("scanconfig: writing config: %w", err)
	}

	baseURLsDir := filepath.Join(defaults.CwacBaseURLsDir(b.CwacPath), subdir)
	if err := writeURLsCSV(baseURLsDir, opts.URLs); err != nil {
		return nil, err
	}

	return &PrimaryArtifacts{
		ConfigFilename: configFilename,
		ConfigPath:     configPath,
		BaseURLsDir:    baseURLsDir,
	}, nil
}

// FallbackConfig is the self-contained config the fallback scanner reads.
type FallbackConfig struct {
	AuditName         string              `json:"audit_name"`
	URLs              []string            `json:"urls"`
	MaxLinksPerDomain int                 `json:"max_links_per_domain"`
	ViewportSizes     map[string]Viewport `json:"viewport_sizes"`
	OutputDir         string              `json:"output_dir"`
	AxeCorePath       string              `json:"axe_core_path"`
}

// FallbackArtifacts identifies the inputs written for a fallback scan.
// Unlike the primary backend, the output directory is known upfront.
type FallbackArtifacts struct {
	ConfigPath string
	OutputDir  string
}

// BuildFallback writes a self-contained fallback scanner config into a
// fresh timestamped output directory under OutputRoot.
func (b *Builder) BuildFallback(scanID string, opts Options) (*FallbackArtifacts, error) {
	safeName, err := validate(opts)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102_150405")
	outputDir := filepath.Join(b.OutputRoot, timestamp+"_"+safeName)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("scanconfig: creating output dir: %w", err)
	}

	viewports := opts.ViewportSizes
	if viewports == nil {
		viewports = map[string]Viewport{
			"medium": {Width: defaults.DefaultViewportWidth, Height: defaults.DefaultViewportHeight},
		}
	}
	maxLinks := opts.MaxLinksPerDomain
	if maxLinks <= 0 {
		maxLinks = defaults.MaxLinksPerDomain
	}

	cfg := FallbackConfig{
		AuditName:         safeName,
		URLs:              opts.URLs,
		MaxLinksPerDomain: maxLinks,
		ViewportSizes:     viewports,
		OutputDir:         outputDir,
		AxeCorePath:       b.AxeCorePath,
	}

	out, err := jsonutil.MarshalIndent(cfg, "    ")
	if err != nil {
		return nil, fmt.Errorf("scanconfig: encoding config: %w", err)
	}
	configPath := filepath.Join(outputDir, "config_"+scanID+".json")
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return nil, fmt.Errorf("scanconfig: writing config: %w", err)
	}

	return &FallbackArtifacts{ConfigPath: configPath, OutputDir: outputDir}, nil
}

// LoadFallbackConfig reads a config previously written by BuildFallback.
// Used by the axe-scan subprocess.
func LoadFallbackConfig(path string) (*FallbackConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scanconfig: reading config: %w", err)
	}
	var cfg FallbackConfig
	if err := jsonutil.Unmarshal(stripBOM(raw), &cfg); err != nil {
		return nil, fmt.Errorf("scanconfig: parsing config: %w", err)
	}
	return &cfg, nil
}

func validate(opts Options) (string, error) {
	if len(opts.URLs) == 0 {
		return "", ErrNoURLs
	}
	safeName := SanitizeAuditName(opts.AuditName)
	if safeName == "" {
		return "", ErrEmptyAuditName
	}
	return safeName, nil
}

// writeURLsCSV creates the base-URLs directory and its urls.csv. One row
// per URL with the fixed organisation/sector placeholders.
func writeURLsCSV(dir string, urls []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scanconfig: creating base_urls dir: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("organisation,url,sector\n")
	for _, u := range urls {
		sb.WriteString(defaults.CSVOrganisation)
		sb.WriteByte(',')
		sb.WriteString(escapeCSVField(u))
		sb.WriteByte(',')
		sb.WriteString(defaults.CSVSector)
		sb.WriteByte('\n')
	}
	csvPath := filepath.Join(dir, "urls.csv")
	if err := os.WriteFile(csvPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("scanconfig: writing urls.csv: %w", err)
	}
	return nil
}

// escapeCSVField quotes a field containing commas or quotes.
func escapeCSVField(s string) string {
	escaped := strings.ReplaceAll(s, `"`, `""`)
	if strings.ContainsAny(escaped, `,"`) {
		return `"` + escaped + `"`
	}
	return escaped
}

// stripBOM drops a UTF-8 byte order mark. The primary backend's default
// config has shipped with one before.
func stripBOM(b []byte) []byte {
	return []byte(strings.TrimPrefix(string(b), "\ufeff"))
}
