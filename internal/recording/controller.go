package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"radiologger/internal/capture"
	"radiologger/internal/catalog"
	"radiologger/internal/config"
	"radiologger/internal/layout"
	"radiologger/internal/logging"
	"radiologger/internal/procprobe"
)

var (
	// ErrLowDiskSpace blocks launches while the recordings volume is below the floor.
	ErrLowDiskSpace = errors.New("insufficient free disk space")
	// ErrUnknownStation is returned for manual triggers naming no catalog station.
	ErrUnknownStation = errors.New("unknown station")
	// ErrCaptureToolUnavailable blocks every launch until the capture tool works.
	ErrCaptureToolUnavailable = errors.New("capture tool unavailable")
	// ErrHourRecorded refuses a manual capture whose hour file already exists;
	// the capture tool never overwrites it.
	ErrHourRecorded = errors.New("hour already recorded")
)

const (
	toolCheckTTL     = 10 * time.Minute
	stopResendAfter  = 30 * time.Second
	exitWriteTimeout = 10 * time.Second
)

// Launcher starts and signals capture processes.
type Launcher interface {
	Start(ctx context.Context, spec capture.Spec, onExit func(capture.Exit)) (*capture.Handle, error)
	Stop(pid int) error
	Alive(pid int) bool
}

// Catalog is the subset of the store the controller reads and writes.
type Catalog interface {
	ListStations(ctx context.Context) ([]*catalog.Station, error)
	StationByName(ctx context.Context, name string) (*catalog.Station, error)
	OpenJob(ctx context.Context, stationID int64, kind catalog.JobKind, started time.Time) (*catalog.Job, error)
	CloseJob(ctx context.Context, jobID string, status catalog.JobStatus, ended time.Time) error
	CloseStationJobs(ctx context.Context, stationID int64, status catalog.JobStatus, ended time.Time) (int64, error)
	CloseStaleJobs(ctx context.Context, live []int64, ended time.Time) (int64, error)
}

// Resolver maps a configured station URL to a playable one.
type Resolver interface {
	Resolve(ctx context.Context, raw string) string
}

// ProcessLister enumerates capture processes left by earlier runs.
type ProcessLister interface {
	List(ctx context.Context) ([]procprobe.Process, error)
}

// DiskFree reports free bytes on the volume holding path.
type DiskFree func(ctx context.Context, path string) (uint64, error)

// ToolCheck verifies the capture tool can run.
type ToolCheck func(ctx context.Context) error

// Option configures the controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResolver sets the stream URL resolver.
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithProcessLister sets the OS probe used for startup adoption.
func WithProcessLister(p ProcessLister) Option {
	return func(c *Controller) { c.probe = p }
}

// WithDiskFree overrides the free space source.
func WithDiskFree(fn DiskFree) Option {
	return func(c *Controller) { c.diskFree = fn }
}

// WithToolCheck gates launches on the capture tool being usable.
func WithToolCheck(fn ToolCheck) Option {
	return func(c *Controller) { c.toolCheck = fn }
}

// Controller converges running captures toward the desired set.
type Controller struct {
	recordingsDir  string
	extension      string
	location       *time.Location
	manualDuration time.Duration
	minFree        uint64

	store    Catalog
	launcher Launcher
	registry *capture.Registry
	resolver Resolver
	probe    ProcessLister

	diskFree  DiskFree
	toolCheck ToolCheck
	now       func() time.Time
	logger    *slog.Logger

	toolMu      sync.Mutex
	toolOKUntil time.Time

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewController builds a controller from config and its collaborators.
func NewController(cfg *config.Config, store Catalog, launcher Launcher, registry *capture.Registry, logger *slog.Logger, opts ...Option) *Controller {
	if registry == nil {
		registry = capture.NewRegistry()
	}
	c := &Controller{
		recordingsDir:  cfg.Paths.RecordingsDir,
		extension:      cfg.Capture.Extension,
		location:       cfg.Location(),
		manualDuration: time.Duration(cfg.Capture.ManualDurationSeconds) * time.Second,
		minFree:        cfg.MinFreeBytes(),
		store:          store,
		launcher:       launcher,
		registry:       registry,
		diskFree:       volumeFree,
		now:            time.Now,
		logger:         logging.NewComponentLogger(logger, "recorder"),
		locks:          make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the in-process capture registry.
func (c *Controller) Registry() *capture.Registry {
	return c.registry
}

// Summary counts what one evaluation did.
type Summary struct {
	Trigger  string
	Stations int
	Kept     int
	Launched int
	Stopped  int
	Skipped  int
	Failed   int
}

func (s *Summary) add(r stationResult) {
	s.Kept += r.kept
	s.Launched += r.launched
	s.Stopped += r.stopped
	s.Skipped += r.skipped
	s.Failed += r.failed
}

type stationResult struct {
	kept, launched, stopped, skipped, failed int
}

// Evaluate runs the transition table for every station. Per-station failures
// are logged and counted; only a missing capture tool or an unreadable station
// list fail the whole evaluation.
func (c *Controller) Evaluate(ctx context.Context, trigger string) (Summary, error) {
	logger := logging.WithContext(ctx, c.logger)
	summary := Summary{Trigger: trigger}
	now := c.now()

	c.reap(now)

	if err := c.ensureTool(ctx, now); err != nil {
		logging.WarnWithContext(logger, "capture tool unavailable; skipping recording check",
			"capture_tool_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set capture.ffmpeg_path"),
			logging.String(logging.FieldImpact, "no station is recorded until the tool works"),
		)
		return summary, err
	}

	stations, err := c.store.ListStations(ctx)
	if err != nil {
		return summary, fmt.Errorf("list stations: %w", err)
	}
	summary.Stations = len(stations)

	known := make(map[int64]struct{}, len(stations))
	for _, st := range stations {
		known[st.ID] = struct{}{}
	}
	c.stopRemoved(ctx, known, now)

	for _, st := range stations {
		if ctx.Err() != nil {
			break
		}
		summary.add(c.evaluateStation(ctx, logger, *st, now))
	}

	if summary.Launched+summary.Stopped+summary.Failed > 0 {
		logger.Info("recording check complete",
			logging.String("trigger", trigger),
			logging.Int("stations", summary.Stations),
			logging.Int("launched", summary.Launched),
			logging.Int("stopped", summary.Stopped),
			logging.Int("kept", summary.Kept),
			logging.Int("skipped", summary.Skipped),
			logging.Int("failed", summary.Failed),
		)
	} else {
		logger.Debug("recording check complete",
			logging.String("trigger", trigger),
			logging.Int("kept", summary.Kept),
		)
	}
	return summary, nil
}

func (c *Controller) evaluateStation(ctx context.Context, logger *slog.Logger, st catalog.Station, now time.Time) stationResult {
	unlock := c.lockStation(st.ID)
	defer unlock()

	hourFile := layout.ManualOutputPath(c.recordingsDir, st.Name, now.In(c.location), c.extension)
	var (
		observed   []Observed
		manualHour bool
	)
	for _, entry := range c.registry.Station(st.ID) {
		if entry.Active() && entry.Kind == catalog.KindManual && entry.OutputPath == hourFile {
			manualHour = true
		}
		if entry.Active() && entry.Kind != catalog.KindManual {
			observed = append(observed, Observed{
				EntryID:    entry.ID,
				PID:        entry.PID,
				OutputPath: entry.OutputPath,
				LaunchedAt: entry.LaunchedAt,
			})
		}
	}

	decision := Decide(Input{
		Station:       st,
		Now:           now,
		Location:      c.location,
		RecordingsDir: c.recordingsDir,
		Extension:     c.extension,
		Observed:      observed,
	})

	var (
		result  stationResult
		stopped []string
	)
	for _, action := range decision.Actions {
		if action.Kind == ActionKeep {
			result.kept++
		}
	}
	// Replacements need room for the new capture; the old one keeps recording
	// when there is none.
	if _, relaunch := decision.Launch(); relaunch && len(decision.Stops()) > 0 {
		if err := c.checkDisk(ctx); err != nil {
			result.kept += len(decision.Stops())
			result.skipped++
			warnLowDisk(logger, st.Name, err, "existing capture keeps running until space frees up")
			return result
		}
	}

	for _, action := range decision.Stops() {
		jobID, err := c.stopEntry(logger, action.Target.EntryID, action.Reason, now)
		if err != nil {
			result.failed++
			continue
		}
		result.stopped++
		if jobID != "" {
			stopped = append(stopped, jobID)
		}
	}

	launched := false
	if action, ok := decision.Launch(); ok && manualHour {
		// One writer per hour file; the manual capture holds it until it exits.
		result.skipped++
		logger.Info("launch deferred: manual capture owns this hour",
			logging.Station(st.Name),
			logging.String("output", action.Output),
			logging.String(logging.FieldEventType, "launch_deferred_manual"),
		)
	} else if ok {
		_, _, err := c.launch(ctx, st, st.JobKind(), action.Output, 0, now)
		switch {
		case err == nil:
			launched = true
			result.launched++
		case errors.Is(err, ErrLowDiskSpace):
			result.skipped++
			warnLowDisk(logger, st.Name, err, "station stays stopped until space frees up")
		default:
			result.failed++
			logging.WarnWithContext(logger, "capture launch failed",
				"capture_launch_failed",
				logging.Station(st.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the station url and ffmpeg"),
				logging.String(logging.FieldImpact, "launch is retried on the next check"),
			)
		}
	}

	// A stop without a successful relaunch ends the job; a relaunch refreshed it.
	if !launched {
		for _, jobID := range stopped {
			if err := c.store.CloseJob(ctx, jobID, catalog.JobStopped, now); err != nil {
				logger.Warn("close job failed", logging.String(logging.FieldJob, jobID), logging.Error(err))
			}
		}
	}
	return result
}

// launch starts one capture and records its job. duration > 0 selects a
// fixed-length manual capture.
func (c *Controller) launch(ctx context.Context, st catalog.Station, kind catalog.JobKind, output string, duration time.Duration, now time.Time) (*capture.Handle, string, error) {
	if err := c.checkDisk(ctx); err != nil {
		return nil, "", err
	}

	source := st.URL
	if c.resolver != nil {
		source = c.resolver.Resolve(ctx, st.URL)
	}

	id := c.registry.Reserve(st.ID, st.Name, kind, source, output)
	jobID := ""
	if job, err := c.store.OpenJob(ctx, st.ID, kind, now); err != nil {
		c.logger.Warn("open job failed; capture continues untracked",
			logging.Station(st.Name),
			logging.Error(err),
		)
	} else {
		jobID = job.JobID
		c.registry.SetJob(id, jobID)
	}

	handle, err := c.launcher.Start(ctx, capture.Spec{
		Station:   st.Name,
		SourceURL: source,
		Output:    output,
		Duration:  duration,
	}, func(exit capture.Exit) { c.handleExit(id, exit) })
	if err != nil {
		c.registry.MarkGone(id)
		if jobID != "" {
			if closeErr := c.store.CloseJob(ctx, jobID, catalog.JobFailed, now); closeErr != nil {
				c.logger.Warn("close job failed", logging.String(logging.FieldJob, jobID), logging.Error(closeErr))
			}
		}
		return nil, "", err
	}
	c.registry.MarkRunning(id, handle.PID, handle.StartedAt)
	return handle, jobID, nil
}

func (c *Controller) handleExit(id uint64, exit capture.Exit) {
	final, prev, ok := c.registry.MarkGone(id)
	if !ok {
		return
	}
	logger := c.logger.With(logging.String(logging.FieldStation, final.Station), logging.Int("pid", exit.PID))
	if prev == capture.StateStopping {
		logger.Debug("capture exited after stop", logging.String("reason", final.StopReason))
		return
	}

	status := catalog.JobFailed
	if final.Kind == catalog.KindManual && exit.Clean() {
		status = catalog.JobStopped
		logger.Info("manual capture finished", logging.String("output", final.OutputPath))
	} else {
		logging.WarnWithContext(logger, "capture exited unexpectedly",
			"capture_exited",
			logging.Error(exit.Err),
			logging.String(logging.FieldErrorHint, "check the stream url; ffmpeg runs with -loglevel error"),
			logging.String(logging.FieldImpact, "station is relaunched on the next check if still desired"),
		)
	}
	if final.JobID != "" {
		c.closeJobDetached(final.JobID, status, c.now())
	}
}

// stopEntry signals one capture. A pid that no longer exists counts as
// already stopped.
func (c *Controller) stopEntry(logger *slog.Logger, id uint64, reason string, now time.Time) (string, error) {
	entry, ok := c.registry.Get(id)
	if !ok {
		return "", nil
	}
	if _, ok := c.registry.MarkStopping(id, now, reason); !ok {
		return "", nil
	}
	if err := c.launcher.Stop(entry.PID); err != nil {
		if errors.Is(err, capture.ErrProcessNotFound) {
			c.registry.MarkGone(id)
			logger.Debug("capture already gone",
				logging.Station(entry.Station),
				logging.Int("pid", entry.PID),
			)
			return entry.JobID, nil
		}
		logging.WarnWithContext(logger, "failed to signal capture",
			"capture_stop_failed",
			logging.Station(entry.Station),
			logging.Int("pid", entry.PID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "signal is resent on the next check"),
		)
		return "", err
	}
	logger.Info("capture stopped",
		logging.Station(entry.Station),
		logging.Int("pid", entry.PID),
		logging.String("reason", reason),
	)
	return entry.JobID, nil
}

// reap retires adopted processes that disappeared and resends termination to
// stopping captures that ignored the first signal.
func (c *Controller) reap(now time.Time) {
	for _, entry := range c.registry.Snapshot() {
		if entry.Adopted && !c.launcher.Alive(entry.PID) {
			_, prev, ok := c.registry.MarkGone(entry.ID)
			if ok && prev == capture.StateRunning && entry.JobID != "" {
				c.closeJobDetached(entry.JobID, catalog.JobUnknown, now)
			}
			continue
		}
		if entry.State != capture.StateStopping || now.Sub(entry.StopSentAt) <= stopResendAfter {
			continue
		}
		if !c.launcher.Alive(entry.PID) {
			continue
		}
		if err := c.launcher.Stop(entry.PID); err == nil {
			c.registry.MarkStopping(entry.ID, now, entry.StopReason)
			c.logger.Info("termination resent",
				logging.Station(entry.Station),
				logging.Int("pid", entry.PID),
			)
		}
	}
}

// closeJobDetached closes a job outside any request context, as exit callbacks
// and reaping run independently of the evaluation that launched the capture.
func (c *Controller) closeJobDetached(jobID string, status catalog.JobStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), exitWriteTimeout)
	defer cancel()
	if err := c.store.CloseJob(ctx, jobID, status, at); err != nil {
		c.logger.Warn("close job failed", logging.String(logging.FieldJob, jobID), logging.Error(err))
	}
}

func (c *Controller) stopRemoved(ctx context.Context, known map[int64]struct{}, now time.Time) {
	for _, entry := range c.registry.Snapshot() {
		if _, ok := known[entry.StationID]; ok || !entry.Active() {
			continue
		}
		jobID, err := c.stopEntry(c.logger, entry.ID, "station removed", now)
		if err == nil && jobID != "" {
			if err := c.store.CloseJob(ctx, jobID, catalog.JobStopped, now); err != nil {
				c.logger.Warn("close job failed", logging.String(logging.FieldJob, jobID), logging.Error(err))
			}
		}
	}
}

// ManualCapture describes a started on-demand capture.
type ManualCapture struct {
	Station string
	JobID   string
	Kind    catalog.JobKind
	PID     int
	Output  string
	Existed bool
}

// StartManual launches a fixed-length capture for the named station regardless
// of its schedule. A capture already writing the station's current hour file,
// manual or segmented, is returned instead of starting a second writer.
func (c *Controller) StartManual(ctx context.Context, name string) (ManualCapture, error) {
	st, err := c.lookup(ctx, name)
	if err != nil {
		return ManualCapture{}, err
	}
	now := c.now()
	if err := c.ensureTool(ctx, now); err != nil {
		return ManualCapture{}, err
	}

	unlock := c.lockStation(st.ID)
	defer unlock()

	local := now.In(c.location)
	output := layout.ManualOutputPath(c.recordingsDir, st.Name, local, c.extension)
	pattern := layout.OutputPattern(c.recordingsDir, st.Name, local, c.extension)
	for _, entry := range c.registry.Station(st.ID) {
		if !entry.Active() {
			continue
		}
		if entry.Kind == catalog.KindManual || entry.OutputPath == pattern || entry.OutputPath == output {
			return ManualCapture{
				Station: st.Name,
				JobID:   entry.JobID,
				Kind:    entry.Kind,
				PID:     entry.PID,
				Output:  entry.OutputPath,
				Existed: true,
			}, nil
		}
	}

	if _, err := os.Stat(output); err == nil {
		return ManualCapture{}, fmt.Errorf("%w: %s", ErrHourRecorded, output)
	}

	handle, jobID, err := c.launch(ctx, *st, catalog.KindManual, output, c.manualDuration, now)
	if err != nil {
		return ManualCapture{}, err
	}
	return ManualCapture{Station: st.Name, JobID: jobID, Kind: catalog.KindManual, PID: handle.PID, Output: handle.Output}, nil
}

// StopStation signals every capture of the named station, manual ones
// included, and closes its running jobs. A station that is still desired is
// relaunched by the next check.
func (c *Controller) StopStation(ctx context.Context, name string) (int, error) {
	st, err := c.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	unlock := c.lockStation(st.ID)
	defer unlock()

	now := c.now()
	stopped := 0
	for _, entry := range c.registry.Station(st.ID) {
		if !entry.Active() {
			continue
		}
		if _, err := c.stopEntry(c.logger, entry.ID, "manual stop", now); err == nil {
			stopped++
		}
	}
	if _, err := c.store.CloseStationJobs(ctx, st.ID, catalog.JobStopped, now); err != nil {
		return stopped, fmt.Errorf("close jobs for %s: %w", st.Name, err)
	}
	return stopped, nil
}

// AdoptReport summarizes startup recovery.
type AdoptReport struct {
	Adopted    int
	ClosedJobs int64
}

// Adopt registers capture processes left by a previous run and closes running
// jobs whose station has no live process.
func (c *Controller) Adopt(ctx context.Context) (AdoptReport, error) {
	var report AdoptReport
	now := c.now()

	stations, err := c.store.ListStations(ctx)
	if err != nil {
		return report, fmt.Errorf("list stations: %w", err)
	}

	var procs []procprobe.Process
	if c.probe != nil {
		procs, err = c.probe.List(ctx)
		if err != nil {
			logging.WarnWithContext(c.logger, "process probe failed; no captures adopted",
				"process_probe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned captures may run twice until the next hour"),
			)
			procs = nil
		}
	}

	claimed := make(map[int32]struct{})
	var live []int64
	for _, st := range stations {
		matches := c.matchProcesses(procs, *st, claimed)
		if len(matches) == 0 {
			continue
		}
		live = append(live, st.ID)
		for _, proc := range matches {
			kind := st.JobKind()
			if !strings.Contains(proc.OutputPath, layout.HourPattern) {
				kind = catalog.KindManual
			}
			started := proc.StartedAt
			if started.IsZero() {
				started = now
			}
			id := c.registry.Adopt(st.ID, st.Name, kind, int(proc.PID), proc.SourceURL, proc.OutputPath, started)
			if job, err := c.store.OpenJob(ctx, st.ID, kind, started); err == nil {
				c.registry.SetJob(id, job.JobID)
			} else {
				c.logger.Warn("open job for adopted capture failed", logging.Station(st.Name), logging.Error(err))
			}
			report.Adopted++
			c.logger.Info("adopted running capture",
				logging.Station(st.Name),
				logging.Int("pid", int(proc.PID)),
				logging.String("output", proc.OutputPath),
			)
		}
	}

	closed, err := c.store.CloseStaleJobs(ctx, live, now)
	if err != nil {
		return report, err
	}
	report.ClosedJobs = closed
	return report, nil
}

// matchProcesses assigns probe results to st, preferring the output directory
// and falling back to source URL containment.
func (c *Controller) matchProcesses(procs []procprobe.Process, st catalog.Station, claimed map[int32]struct{}) []procprobe.Process {
	dir := layout.StationDir(c.recordingsDir, st.Name) + string(filepath.Separator)
	var out []procprobe.Process
	for _, proc := range procs {
		if _, ok := claimed[proc.PID]; ok {
			continue
		}
		if strings.HasPrefix(proc.OutputPath, dir) {
			claimed[proc.PID] = struct{}{}
			out = append(out, proc)
		}
	}
	for _, proc := range procprobe.MatchStation(procs, st.URL) {
		if _, ok := claimed[proc.PID]; ok {
			continue
		}
		if !strings.HasPrefix(proc.OutputPath, c.recordingsDir) {
			continue
		}
		claimed[proc.PID] = struct{}{}
		out = append(out, proc)
	}
	return out
}

func (c *Controller) lookup(ctx context.Context, name string) (*catalog.Station, error) {
	st, err := c.store.StationByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("lookup station: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStation, name)
	}
	return st, nil
}

func (c *Controller) lockStation(id int64) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[id] = mu
	}
	c.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) ensureTool(ctx context.Context, now time.Time) error {
	if c.toolCheck == nil {
		return nil
	}
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	if now.Before(c.toolOKUntil) {
		return nil
	}
	if err := c.toolCheck(ctx); err != nil {
		c.toolOKUntil = time.Time{}
		return fmt.Errorf("%w: %v", ErrCaptureToolUnavailable, err)
	}
	c.toolOKUntil = now.Add(toolCheckTTL)
	return nil
}

func (c *Controller) checkDisk(ctx context.Context) error {
	if c.minFree == 0 || c.diskFree == nil {
		return nil
	}
	free, err := c.diskFree(ctx, c.recordingsDir)
	if err != nil {
		c.logger.Warn("disk usage unavailable; launching anyway",
			logging.String("path", c.recordingsDir),
			logging.Error(err),
		)
		return nil
	}
	if free < c.minFree {
		return fmt.Errorf("%w: %s free on %s, %s required",
			ErrLowDiskSpace, humanize.IBytes(free), c.recordingsDir, humanize.IBytes(c.minFree))
	}
	return nil
}

func warnLowDisk(logger *slog.Logger, station string, err error, impact string) {
	logging.WarnWithContext(logger, "launch skipped: low disk space",
		"disk_space_low",
		logging.Station(station),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "free space on the recordings volume"),
		logging.String(logging.FieldImpact, impact),
	)
}

func volumeFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
