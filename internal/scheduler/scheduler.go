// Package scheduler drives radiologger's periodic jobs on cron schedules.
//
// Each job owns a guard that admits one run at a time. A scheduled tick that
// finds its job still running is dropped and logged; forced runs through
// Exclusive or Trigger wait for the guard instead.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"radiologger/internal/logging"
)

// ErrUnknownJob is returned when a forced run names no registered job.
var ErrUnknownJob = errors.New("unknown scheduler job")

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// JobStatus reports the observable state of one job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type jobState struct {
	job   Job
	entry cron.EntryID
	guard chan struct{}

	mu      sync.Mutex
	running bool
	runs    int
	skipped int
	lastRun time.Time
	lastErr string
}

func (j *jobState) tryAcquire() bool {
	select {
	case j.guard <- struct{}{}:
		return true
	default:
		return false
	}
}

func (j *jobState) acquire(ctx context.Context) error {
	select {
	case j.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *jobState) release() {
	<-j.guard
}

// Scheduler owns the cron driver and the per-job guards.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*jobState
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

// New returns a scheduler whose schedules are interpreted in loc. Schedules
// carry a leading seconds field, and descriptors such as "@every 30s" work.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	cronLogger := cronLogAdapter{logger: logger}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		logger:  logger,
		jobs:    make(map[string]*jobState),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler job requires a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler job %q already registered", job.Name)
	}
	state := &jobState{job: job, guard: make(chan struct{}, 1)}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.Tick(job.Name) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	state.entry = id
	s.jobs[job.Name] = state
	return nil
}

// Start begins firing scheduled ticks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling, cancels the context handed to running jobs, and waits
// for them to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !wasStarted {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// Tick runs name the way a scheduled firing does: when the previous run is
// still active the tick is dropped. It reports whether the job ran.
func (s *Scheduler) Tick(name string) bool {
	state, ok := s.lookup(name)
	if !ok {
		return false
	}
	if !state.tryAcquire() {
		state.mu.Lock()
		state.skipped++
		state.mu.Unlock()
		s.logger.Info("previous run still active; tick skipped",
			logging.String(logging.FieldJob, name),
			logging.String(logging.FieldEventType, "tick_skipped"),
		)
		return false
	}
	defer state.release()
	_ = s.run(s.baseCtx, state, state.job.Run)
	return true
}

// Trigger forces a run of the named job's own function, waiting for any
// active run to finish first.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	state, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.Exclusive(ctx, name, state.job.Run)
}

// Exclusive runs fn under the named job's guard, so it never overlaps a
// scheduled run of that job.
func (s *Scheduler) Exclusive(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	state, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if err := state.acquire(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", name, err)
	}
	defer state.release()
	return s.run(ctx, state, fn)
}

func (s *Scheduler) run(parent context.Context, state *jobState, fn func(ctx context.Context) error) error {
	runID := uuid.NewString()
	ctx := logging.WithRunID(parent, state.job.Name, runID)
	if state.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, state.job.Timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, s.logger)

	state.mu.Lock()
	state.running = true
	state.mu.Unlock()

	started := time.Now()
	err := safeCall(ctx, fn)
	elapsed := time.Since(started)

	state.mu.Lock()
	state.running = false
	state.runs++
	state.lastRun = started
	state.lastErr = ""
	if err != nil {
		state.lastErr = err.Error()
	}
	state.mu.Unlock()

	if err != nil {
		logging.WarnWithContext(logger, "scheduled job failed", "job_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldImpact, "job runs again on its next tick"),
		)
		return err
	}
	logger.Debug("scheduled job finished", logging.Duration("elapsed", elapsed))
	return nil
}

// safeCall turns a panic in fn into an error so the job's state is reset.
func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Status returns every job's state ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	states := make([]*jobState, 0, len(s.jobs))
	for _, state := range s.jobs {
		states = append(states, state)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(states))
	for _, state := range states {
		next := s.cron.Entry(state.entry).Next
		state.mu.Lock()
		out = append(out, JobStatus{
			Name:      state.job.Name,
			Schedule:  state.job.Schedule,
			Running:   state.running,
			Runs:      state.runs,
			Skipped:   state.skipped,
			LastRun:   state.lastRun,
			LastError: state.lastErr,
			Next:      next,
		})
		state.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) lookup(name string) (*jobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[name]
	return state, ok
}

// cronLogAdapter routes cron's internal logging through slog.
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	a.logger.Error("cron: "+msg, args...)
}
