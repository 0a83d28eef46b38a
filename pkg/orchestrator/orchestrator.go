// Package orchestrator coordinates scan jobs end to end: it validates
// requests, builds per-job input artifacts, launches the selected backend
// as an isolated process, tracks lifecycle through the job registry, and
// serves normalized results.
//
// It is the single entry point callers (the MCP tool layer, tests) use;
// backend differences never leak past it.
package orchestrator

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/procrunner"
	"github.com/a11yscan/a11yscan/pkg/registry"
	"github.com/a11yscan/a11yscan/pkg/results"
	"github.com/a11yscan/a11yscan/pkg/scanconfig"
)

// Error taxonomy. Callers should use errors.Is().
var (
	// ErrInvalidInput is a caller error: empty or malformed URLs, blank
	// audit name. Not retried.
	ErrInvalidInput = errors.New("orchestrator: invalid input")

	// ErrBackendUnavailable means the startup probe found no usable
	// backend. Surfaced with a remediation hint; not retried
	// automatically.
	ErrBackendUnavailable = errors.New("orchestrator: no scanning backend available")

	// ErrLaunchFailed means the backend process could not start. No job
	// record is created for it.
	ErrLaunchFailed = errors.New("orchestrator: backend process failed to launch")

	// ErrUnknownJob means the job id was never registered.
	ErrUnknownJob = errors.New("orchestrator: unknown job")

	// ErrJobNotComplete means results were requested while the job is
	// still running.
	ErrJobNotComplete = errors.New("orchestrator: job not complete")

	// ErrJobFailed means results were requested for a failed job.
	ErrJobFailed = errors.New("orchestrator: job failed")

	// ErrResultsNotFound means the job completed but its output could
	// not be located.
	ErrResultsNotFound = errors.New("orchestrator: results not found")
)

// Config wires the orchestrator's collaborators and host paths.
type Config struct {
	// Env is the cached startup probe result. Required.
	Env *envcheck.Result

	// OutputRoot is where fallback scan output lands.
	OutputRoot string

	// AxeCorePath is the axe-core asset passed to fallback configs.
	AxeCorePath string

	// SelfPath is this binary, re-invoked as `axe-scan` for fallback
	// jobs. Defaults to os.Executable().
	SelfPath string

	// PythonPath launches the primary backend. Defaults to "python3".
	PythonPath string

	// Hooks observe job transitions (metrics). Optional.
	Hooks registry.Hooks
}

// Orchestrator owns the registry and input builder for one process
// lifetime.
type Orchestrator struct {
	env     *envcheck.Result
	builder *scanconfig.Builder
	reg     *registry.Registry

	selfPath   string
	pythonPath string

	resultsRoots []string
}

// New builds an orchestrator around a cached probe result.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Env == nil {
		return nil, fmt.Errorf("orchestrator: probe result is required")
	}

	selfPath := cfg.SelfPath
	if selfPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: resolving own executable: %w", err)
		}
		selfPath = exe
	}
	pythonPath := cfg.PythonPath
	if pythonPath == "" {
		pythonPath = "python3"
	}
	outputRoot := cfg.OutputRoot
	if outputRoot == "" {
		outputRoot = defaults.FallbackOutputDir()
	}
	axeCorePath := cfg.AxeCorePath
	if axeCorePath == "" {
		axeCorePath = defaults.AxeCorePath()
	}

	// Both roots are searched during discovery: the primary backend
	// writes under its own results tree, the fallback under OutputRoot.
	var roots []string
	if cfg.Env.CwacPath != "" {
		roots = append(roots, defaults.CwacResultsDir(cfg.Env.CwacPath))
	}
	roots = append(roots, outputRoot)

	o := &Orchestrator{
		env: cfg.Env,
		builder: &scanconfig.Builder{
			CwacPath:    cfg.Env.CwacPath,
			OutputRoot:  outputRoot,
			AxeCorePath: axeCorePath,
		},
		selfPath:     selfPath,
		pythonPath:   pythonPath,
		resultsRoots: roots,
	}
	o.reg = registry.New(func(auditName string) (string, error) {
		return results.Discover(auditName, o.resultsRoots)
	}, cfg.Hooks)
	return o, nil
}

// Mode returns the active backend mode selected at startup.
func (o *Orchestrator) Mode() envcheck.Mode { return o.env.Mode }

// Env returns the cached probe result.
func (o *Orchestrator) Env() *envcheck.Result { return o.env }

// Registry exposes the job registry (status/listing reads and tests).
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Options carries caller-tunable scan parameters.
type Options struct {
	AuditName         string
	Plugins           map[string]bool
	MaxLinksPerDomain int
	ViewportSizes     map[string]scanconfig.Viewport
}

// Submission is returned from a successful SubmitJob.
type Submission struct {
	JobID     string        `json:"scan_id"`
	Mode      envcheck.Mode `json:"scan_mode"`
	AuditName string        `json:"audit_name"`
	Message   string        `json:"message"`
}

// SubmitJob validates the request, writes per-job input artifacts, launches
// the active backend against them, and registers the running job.
//
// Failure modes: ErrInvalidInput (empty/malformed URLs, blank audit name),
// ErrBackendUnavailable (probe found nothing usable; registry untouched),
// ErrLaunchFailed (process never started; artifacts removed, no record).
func (o *Orchestrator) SubmitJob(urls []string, opts Options) (*Submission, error) {
	if err := validateURLs(urls); err != nil {
		return nil, err
	}
	if o.env.Mode == envcheck.ModeUnavailable {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, o.env.Message)
	}

	if opts.AuditName == "" {
		opts.AuditName = defaults.DefaultAuditName
	}
	scanOpts := scanconfig.Options{
		AuditName:         opts.AuditName,
		URLs:              urls,
		Plugins:           opts.Plugins,
		MaxLinksPerDomain: opts.MaxLinksPerDomain,
		ViewportSizes:     opts.ViewportSizes,
	}

	jobID := registry.NewJobID()

	var params registry.CreateParams
	switch o.env.Mode {
	case envcheck.ModePrimary:
		artifacts, err := o.builder.BuildPrimary(jobID, scanOpts)
		if err != nil {
			return nil, mapBuildError(err)
		}
		handle, err := procrunner.Start(procrunner.Spec{
			Path: o.pythonPath,
			Args: []string{"cwac.py", artifacts.ConfigFilename},
			Dir:  o.env.CwacPath,
		})
		if err != nil {
			// The job record must never exist for a process that
			// never started.
			_ = procrunner.Cleanup(artifacts.ConfigPath, artifacts.BaseURLsDir)
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		params = registry.CreateParams{
			Mode:        envcheck.ModePrimary,
			AuditName:   scanconfig.SanitizeAuditName(opts.AuditName),
			ConfigPath:  artifacts.ConfigPath,
			BaseURLsDir: artifacts.BaseURLsDir,
			Handle:      handle,
		}

	case envcheck.ModeFallback:
		artifacts, err := o.builder.BuildFallback(jobID, scanOpts)
		if err != nil {
			return nil, mapBuildError(err)
		}
		handle, err := procrunner.Start(procrunner.Spec{
			Path: o.selfPath,
			Args: []string{"axe-scan", "--config", artifacts.ConfigPath},
		})
		if err != nil {
			_ = procrunner.Cleanup(artifacts.ConfigPath)
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		params = registry.CreateParams{
			Mode:            envcheck.ModeFallback,
			AuditName:       scanconfig.SanitizeAuditName(opts.AuditName),
			ConfigPath:      artifacts.ConfigPath,
			KnownResultsDir: artifacts.OutputDir,
			Handle:          handle,
		}
	}

	o.reg.Create(jobID, params)

	return &Submission{
		JobID:     jobID,
		Mode:      o.env.Mode,
		AuditName: params.AuditName,
		Message: fmt.Sprintf("Scan started for %d URL(s) with audit name %q (%s mode).",
			len(urls), params.AuditName, o.env.Mode),
	}, nil
}

// GetStatus polls the job and returns its current snapshot. The snapshot
// always names the backend mode that executed the job.
func (o *Orchestrator) GetStatus(jobID string) (registry.Snapshot, error) {
	snap, err := o.reg.UpdateStatus(jobID)
	if err != nil {
		return registry.Snapshot{}, mapRegistryError(err, jobID)
	}
	return snap, nil
}

// GetResults returns canonical finding rows for a completed job, with
// filters applied after parsing.
func (o *Orchestrator) GetResults(jobID string, f results.Filters) ([]results.Row, registry.Snapshot, error) {
	snap, err := o.terminalSnapshot(jobID)
	if err != nil {
		return nil, snap, err
	}
	rows, err := results.Read(snap.ResultsDir, f)
	if err != nil {
		return nil, snap, fmt.Errorf("orchestrator: reading results: %w", err)
	}
	return rows, snap, nil
}

// GetSummary aggregates a completed job's findings across audit types.
func (o *Orchestrator) GetSummary(jobID string) (*results.Summary, registry.Snapshot, error) {
	snap, err := o.terminalSnapshot(jobID)
	if err != nil {
		return nil, snap, err
	}
	summary, err := results.Summarize(snap.ResultsDir)
	if err != nil {
		return nil, snap, fmt.Errorf("orchestrator: summarizing results: %w", err)
	}
	return summary, snap, nil
}

// terminalSnapshot refreshes the job (it may have just finished) and
// enforces the terminal-state preconditions for result access.
func (o *Orchestrator) terminalSnapshot(jobID string) (registry.Snapshot, error) {
	snap, err := o.reg.UpdateStatus(jobID)
	if err != nil {
		return registry.Snapshot{}, mapRegistryError(err, jobID)
	}
	switch snap.State {
	case registry.StateRunning:
		return snap, fmt.Errorf("%w: %s is still running", ErrJobNotComplete, jobID)
	case registry.StateFailed:
		return snap, fmt.Errorf("%w: %s — check status for captured stderr", ErrJobFailed, jobID)
	}
	if snap.ResultsDir == "" {
		return snap, fmt.Errorf("%w: job %s completed but no results directory matched", ErrResultsNotFound, jobID)
	}
	return snap, nil
}

// ListJobs returns snapshots of every tracked job, newest first. Never
// fails; an empty registry yields an empty list.
func (o *Orchestrator) ListJobs() []registry.Snapshot {
	return o.reg.List()
}

// ListResultDirs returns all result directories on disk, including ones
// from earlier orchestrator runs.
func (o *Orchestrator) ListResultDirs() []results.DirInfo {
	return results.ListDirs(o.resultsRoots)
}

// Shutdown terminates every running job and removes their input artifacts.
// Must complete before process exit.
func (o *Orchestrator) Shutdown() {
	o.reg.Shutdown()
}

// validateURLs enforces non-empty, well-formed http(s) URLs.
func validateURLs(urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("%w: at least one URL is required", ErrInvalidInput)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidInput, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidInput, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("%w: %q is missing a host", ErrInvalidInput, raw)
		}
	}
	return nil
}

func mapBuildError(err error) error {
	if errors.Is(err, scanconfig.ErrNoURLs) || errors.Is(err, scanconfig.ErrEmptyAuditName) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func mapRegistryError(err error, jobID string) error {
	if errors.Is(err, registry.ErrUnknownJob) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return err
}
