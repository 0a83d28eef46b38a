// Package registry is the in-memory store tracking every submitted scan
// job and its lifecycle.
//
// A job is Running from creation until a poll observes process exit, then
// Complete or Failed — terminal, never reversed. State reflects the last
// poll, not the true instant of process death: transitions happen only when
// someone asks. Records are never removed; bounded growth over one
// orchestrator lifetime is accepted.
package registry

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/duration"
	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/procrunner"
)

// ErrUnknownJob indicates a job id the registry has never seen.
var ErrUnknownJob = errors.New("registry: unknown job")

// State is a job's lifecycle position.
type State string

const (
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Job is one submitted scan and its full lifecycle record. Mutated only by
// the registry's transition logic; once terminal, only bookkeeping
// (results location, cleanup) is attached.
type Job struct {
	mu sync.Mutex

	// Immutable after creation.
	ID        string
	Mode      envcheck.Mode
	AuditName string
	StartedAt time.Time

	// Input artifacts, owned exclusively by this job.
	ConfigPath  string
	BaseURLsDir string // primary mode only

	// knownResultsDir is recorded at creation for the fallback backend,
	// whose output path is deterministic. Published as ResultsDir only
	// on the Running→Complete edge.
	knownResultsDir string

	handle *procrunner.Handle

	state      State
	endedAt    time.Time
	exitCode   int
	hasExited  bool
	resultsDir string

	stdout *procrunner.LineBuffer
	stderr *procrunner.LineBuffer

	cleanupOnce sync.Once
}

// Snapshot is an immutable, JSON-serializable view of a Job.
type Snapshot struct {
	ID           string        `json:"scan_id"`
	Mode         envcheck.Mode `json:"scan_mode"`
	AuditName    string        `json:"audit_name"`
	State        State         `json:"status"`
	StartedAt    time.Time     `json:"start_time"`
	EndedAt      *time.Time    `json:"end_time,omitempty"`
	Elapsed      time.Duration `json:"-"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	ResultsDir   string        `json:"results_dir,omitempty"`
	RecentStdout []string      `json:"recent_output,omitempty"`
	RecentStderr []string      `json:"error_output,omitempty"`
}

// Hooks observe terminal transitions, e.g. for metrics. Optional; nil
// funcs are skipped. Called outside the job lock.
type Hooks struct {
	JobStarted   func(mode envcheck.Mode)
	JobCompleted func(mode envcheck.Mode, elapsed time.Duration)
	JobFailed    func(mode envcheck.Mode, elapsed time.Duration)
}

// DiscoverFunc locates a completed job's results directory by audit name.
type DiscoverFunc func(auditName string) (string, error)

// Registry maps job ids to records. An explicit owned structure — a map
// plus a mutex — injected into the components that need it; never a
// module-level singleton.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	discover DiscoverFunc
	hooks    Hooks
}

// New creates an empty registry. discover locates primary-backend results
// on completion; it may be nil when only fallback jobs will run.
func New(discover DiscoverFunc, hooks Hooks) *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		discover: discover,
		hooks:    hooks,
	}
}

// CreateParams carries everything needed to record a freshly launched job.
type CreateParams struct {
	Mode            envcheck.Mode
	AuditName       string
	ConfigPath      string
	BaseURLsDir     string
	KnownResultsDir string
	Handle          *procrunner.Handle
}

// NewJobID generates an opaque unique job identifier. IDs are never reused.
func NewJobID() string { return uuid.NewString() }

// Create registers a running job under id and returns its record. The
// handle's ownership transfers to the record; exactly one record owns a
// given process.
func (r *Registry) Create(id string, p CreateParams) *Job {
	job := &Job{
		ID:              id,
		Mode:            p.Mode,
		AuditName:       p.AuditName,
		StartedAt:       time.Now(),
		ConfigPath:      p.ConfigPath,
		BaseURLsDir:     p.BaseURLsDir,
		knownResultsDir: p.KnownResultsDir,
		handle:          p.Handle,
		state:           StateRunning,
		stdout:          procrunner.NewLineBuffer(defaults.MaxCapturedLines),
		stderr:          procrunner.NewLineBuffer(defaults.MaxCapturedLines),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	log.Printf("[registry] CREATED  id=%s  mode=%s  audit=%s", id, p.Mode, p.AuditName)
	if r.hooks.JobStarted != nil {
		r.hooks.JobStarted(p.Mode)
	}
	return job
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	job := r.jobs[id]
	r.mu.RUnlock()
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return job, nil
}

// List returns snapshots of every job, newest first. Never fails; an empty
// registry yields an empty slice.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		snaps = append(snaps, j.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}

// UpdateStatus polls the job's process and applies the state machine. The
// transition out of Running happens at most once: repeated calls after a
// terminal state return the same snapshot without re-running discovery or
// cleanup. Never blocks.
func (r *Registry) UpdateStatus(id string) (Snapshot, error) {
	job, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}

	job.mu.Lock()
	if job.state.IsTerminal() {
		snap := job.snapshotLocked()
		job.mu.Unlock()
		return snap, nil
	}

	poll := job.handle.Poll()
	for _, line := range poll.Stdout {
		job.stdout.Append(line)
	}
	for _, line := range poll.Stderr {
		job.stderr.Append(line)
	}

	if poll.Running {
		snap := job.snapshotLocked()
		job.mu.Unlock()
		return snap, nil
	}

	// Terminal transition.
	job.endedAt = time.Now()
	job.exitCode = poll.ExitCode
	job.hasExited = true

	if poll.ExitCode == 0 {
		job.state = StateComplete
		job.resultsDir = r.locateResults(job)
		if job.resultsDir == "" {
			// Anomaly: clean exit but no output found. The job stays
			// Complete with no results location; it does not become
			// Failed.
			log.Printf("[registry] RESULTS MISSING  id=%s  audit=%s — process exited 0 but no results directory matched",
				job.ID, job.AuditName)
		}
	} else {
		job.state = StateFailed
	}

	state := job.state
	elapsed := job.endedAt.Sub(job.StartedAt)
	snap := job.snapshotLocked()
	job.mu.Unlock()

	log.Printf("[registry] %s  id=%s  exit=%d  elapsed=%s", stateLabel(state), id, poll.ExitCode, elapsed.Round(time.Millisecond))

	// Cleanup is scheduled exactly once per job and its failure never
	// changes job state.
	r.Cleanup(id)

	switch state {
	case StateComplete:
		if r.hooks.JobCompleted != nil {
			r.hooks.JobCompleted(job.Mode, elapsed)
		}
	case StateFailed:
		if r.hooks.JobFailed != nil {
			r.hooks.JobFailed(job.Mode, elapsed)
		}
	}
	return snap, nil
}

func stateLabel(s State) string {
	if s == StateComplete {
		return "COMPLETE"
	}
	return "FAILED"
}

// locateResults resolves the results directory on the Running→Complete
// edge. Fallback jobs recorded theirs at build time; primary jobs are
// discovered by name suffix and recency. Called with job.mu held.
func (r *Registry) locateResults(job *Job) string {
	if job.knownResultsDir != "" {
		return job.knownResultsDir
	}
	if r.discover == nil {
		return ""
	}
	dir, err := r.discover(job.AuditName)
	if err != nil {
		return ""
	}
	return dir
}

// Cleanup removes the job's generated input artifacts. Idempotent — it
// runs at most once per job and re-invocation on removed paths is a no-op.
// Failure is logged and never surfaces to callers or changes job state.
func (r *Registry) Cleanup(id string) {
	job, err := r.Get(id)
	if err != nil {
		return
	}
	job.cleanupOnce.Do(func() {
		if err := procrunner.Cleanup(job.ConfigPath, job.BaseURLsDir); err != nil {
			log.Printf("[registry] CLEANUP FAILED  id=%s  err=%v", id, err)
		}
	})
}

// Shutdown terminates every still-running job, waits for each to exit, and
// removes their input artifacts. Called once before orchestrator exit.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			job.mu.Lock()
			running := !job.state.IsTerminal()
			job.mu.Unlock()
			if running {
				log.Printf("[registry] SHUTDOWN terminating  id=%s", job.ID)
				job.handle.Terminate(duration.ShutdownGrace)
				if _, err := r.UpdateStatus(job.ID); err != nil {
					return err
				}
			}
			r.Cleanup(job.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// snapshot takes the job lock and returns a read-consistent copy.
func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

// snapshotLocked builds a Snapshot. Caller holds j.mu.
func (j *Job) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        j.ID,
		Mode:      j.Mode,
		AuditName: j.AuditName,
		State:     j.state,
		StartedAt: j.StartedAt,
	}
	if j.state.IsTerminal() {
		ended := j.endedAt
		snap.EndedAt = &ended
		snap.Elapsed = ended.Sub(j.StartedAt)
		if j.hasExited {
			code := j.exitCode
			snap.ExitCode = &code
		}
		snap.ResultsDir = j.resultsDir
	} else {
		snap.Elapsed = time.Since(j.StartedAt)
	}
	snap.RecentStdout = j.stdout.Tail(defaults.RecentOutputLines)
	if j.state == StateFailed {
		snap.RecentStderr = j.stderr.Tail(defaults.RecentOutputLines)
	}
	return snap
}

// State returns the job's current state without polling the process.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// ResultsDir returns the published results location, empty until the job
// completes and discovery succeeds.
func (j *Job) ResultsDir() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resultsDir
}
