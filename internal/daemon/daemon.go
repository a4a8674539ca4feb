package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"radiologger/internal/archive"
	"radiologger/internal/capture"
	"radiologger/internal/catalog"
	"radiologger/internal/config"
	"radiologger/internal/deps"
	"radiologger/internal/layout"
	"radiologger/internal/logging"
	"radiologger/internal/preflight"
	"radiologger/internal/procprobe"
	"radiologger/internal/recording"
	"radiologger/internal/resolver"
	"radiologger/internal/scheduler"
	"radiologger/internal/upload"
)

// Scheduler job names.
const (
	JobCheck      = "recording-check"
	JobHourly     = "hourly-restart"
	JobUpload     = "upload"
	JobLogCleanup = "log-cleanup"
	jobArchive    = "archive:"
)

const schedulerStopTimeout = 30 * time.Second

// ObjectStore is the remote archive as seen by the daemon.
type ObjectStore interface {
	upload.ObjectStore
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// Option customizes collaborators, mainly for tests.
type Option func(*options)

type options struct {
	launcher  recording.Launcher
	probe     recording.ProcessLister
	toolCheck recording.ToolCheck
	diskFree  recording.DiskFree
	logPath   string
}

// WithLauncher replaces the ffmpeg launcher.
func WithLauncher(l recording.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithProcessLister replaces the OS process probe used for adoption.
func WithProcessLister(p recording.ProcessLister) Option {
	return func(o *options) { o.probe = p }
}

// WithToolCheck replaces the capture tool probe.
func WithToolCheck(fn recording.ToolCheck) Option {
	return func(o *options) { o.toolCheck = fn }
}

// WithDiskFree replaces the free space probe.
func WithDiskFree(fn recording.DiskFree) Option {
	return func(o *options) { o.diskFree = fn }
}

// Daemon coordinates the recorder, the reconciler, and the scheduler and
// enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *catalog.Store
	objects ObjectStore

	recorder   *recording.Controller
	reconciler *upload.Reconciler
	puller     *archive.Puller
	scheduler  *scheduler.Scheduler
	toolCheck  recording.ToolCheck
	api        *apiServer

	lockPath string
	lock     *flock.Flock
	logPath  string

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc

	reportMu   sync.Mutex
	lastReport *upload.Report
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                  `json:"running"`
	PID           int                   `json:"pid"`
	StartedAt     time.Time             `json:"started_at,omitempty"`
	DatabasePath  string                `json:"database_path"`
	LockPath      string                `json:"lock_path"`
	Captures      []CaptureStatus       `json:"captures"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
	LastReconcile *upload.Report        `json:"last_reconcile,omitempty"`
}

// CaptureStatus is one registry entry as reported to clients.
type CaptureStatus struct {
	Station    string    `json:"station"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	JobID      string    `json:"job_id,omitempty"`
	OutputPath string    `json:"output_path"`
	LaunchedAt time.Time `json:"launched_at"`
	Adopted    bool      `json:"adopted,omitempty"`
}

// WithLogPath names the active log file so log cleanup never removes it.
func WithLogPath(path string) Option {
	return func(o *options) { o.logPath = path }
}

// New constructs a daemon and its collaborators. objects may be nil when no
// bucket is configured.
func New(cfg *config.Config, store *catalog.Store, objects ObjectStore, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and catalog store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	probeTimeout := time.Duration(cfg.Capture.ProbeTimeoutSeconds) * time.Second
	if o.launcher == nil {
		o.launcher = capture.NewLauncher(cfg.Capture.FFmpegPath, cfg.Capture.Timezone, cfg.Capture.SegmentSeconds, logger)
	}
	if o.probe == nil {
		o.probe = procprobe.New(cfg.Capture.FFmpegPath, logger)
	}
	if o.toolCheck == nil {
		o.toolCheck = deps.FFmpegCheck(cfg.Capture.FFmpegPath, probeTimeout)
	}

	recorderOpts := []recording.Option{
		recording.WithProcessLister(o.probe),
		recording.WithToolCheck(o.toolCheck),
	}
	if cfg.Resolver.Enabled {
		timeout := time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second
		recorderOpts = append(recorderOpts, recording.WithResolver(resolver.New(timeout, logger)))
	}
	if o.diskFree != nil {
		recorderOpts = append(recorderOpts, recording.WithDiskFree(o.diskFree))
	}

	var uploadObjects upload.ObjectStore
	if objects != nil {
		uploadObjects = objects
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		objects:    objects,
		recorder:   recording.NewController(cfg, store, o.launcher, capture.NewRegistry(), logger, recorderOpts...),
		reconciler: upload.NewReconciler(cfg, store, uploadObjects, logger),
		puller:     archive.NewPuller(cfg, logger),
		scheduler:  scheduler.New(cfg.Location(), logger),
		toolCheck:  o.toolCheck,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		logPath:    o.logPath,
	}, nil
}

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another radiologger daemon instance is already running")

// Lock takes the single-instance lock without starting the daemon. Callers
// that publish a pid file or socket take it first; Start reuses a held lock.
func (d *Daemon) Lock() error {
	if d.lock.Locked() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if !d.lock.Locked() {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Start acquires the instance lock, recovers orphaned captures, runs the
// first recording check, and begins scheduling.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.Lock(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.toolCheck(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "capture tool check failed", "capture_tool_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set capture.ffmpeg_path"),
			logging.String(logging.FieldImpact, "no station is recorded until the tool works"),
		)
	}

	report, err := d.recorder.Adopt(runCtx)
	if err != nil {
		logging.WarnWithContext(d.logger, "startup recovery incomplete", "startup_recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale running jobs may remain until their station stops"),
		)
	} else if report.Adopted > 0 || report.ClosedJobs > 0 {
		d.logger.Info("startup recovery complete",
			logging.Int("adopted", report.Adopted),
			logging.Int64("closed_jobs", report.ClosedJobs),
		)
	}
	if _, err := d.recorder.Evaluate(runCtx, "startup"); err != nil {
		d.logger.Warn("startup recording check failed", logging.Error(err))
	}

	if err := d.registerJobs(); err != nil {
		cancel()
		d.releaseLock()
		return err
	}
	d.scheduler.Start()

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.logger.Warn("api server disabled", logging.Error(err))
	} else if err := api.start(runCtx); err != nil {
		d.logger.Warn("api server failed to start", logging.Error(err))
	} else {
		d.api = api
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("radiologger daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) registerJobs() error {
	check := func(trigger string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := d.recorder.Evaluate(ctx, trigger)
			return err
		}
	}
	jobs := []scheduler.Job{
		{
			Name:     JobCheck,
			Schedule: fmt.Sprintf("@every %ds", d.cfg.Schedule.CheckIntervalSeconds),
			Run:      check("check"),
		},
		{
			// Shares the check guard so the hourly firing is never dropped.
			Name:     JobHourly,
			Schedule: "0 0 * * * *",
			Run: func(ctx context.Context) error {
				return d.scheduler.Exclusive(ctx, JobCheck, check("hourly"))
			},
		},
		{
			Name:     JobUpload,
			Schedule: uploadSchedule(d.cfg.Schedule.UploadIntervalMinutes),
			Run: func(ctx context.Context) error {
				d.runReconcile(ctx)
				return nil
			},
		},
		{
			Name:     JobLogCleanup,
			Schedule: d.cfg.Schedule.LogCleanupCron,
			Run: func(context.Context) error {
				d.cleanupLogs()
				return nil
			},
		},
	}
	for _, src := range d.cfg.Archive {
		jobs = append(jobs, scheduler.Job{
			Name:     jobArchive + src.Station,
			Schedule: fmt.Sprintf("0 %d * * * *", src.Minute),
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := d.puller.PullPrevious(ctx, src)
				return err
			},
		})
	}
	for _, job := range jobs {
		if err := d.scheduler.Add(job); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	return nil
}

func uploadSchedule(minutes int) string {
	if minutes > 0 && minutes < 60 && 60%minutes == 0 {
		return fmt.Sprintf("0 */%d * * * *", minutes)
	}
	return fmt.Sprintf("@every %dm", minutes)
}

func (d *Daemon) runReconcile(ctx context.Context) upload.Report {
	report := d.reconciler.Run(ctx)
	d.reportMu.Lock()
	d.lastReport = &report
	d.reportMu.Unlock()
	return report
}

func (d *Daemon) cleanupLogs() {
	removed := logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     d.cfg.Paths.LogDir,
		Pattern: "radiologger-*.log",
		Exclude: []string{d.logPath},
	})
	if removed > 0 {
		d.logger.Info("old logs removed", logging.Int("removed", removed))
	}
}

// Stop halts scheduling and releases the daemon lock. Running captures are
// left alone.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		d.releaseLock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
	defer cancel()
	if err := d.scheduler.Stop(ctx); err != nil {
		d.logger.Warn("scheduler did not stop cleanly", logging.Error(err))
	}
	if d.api != nil {
		d.api.stop()
		d.api = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("radiologger daemon stopped",
		logging.Int("captures_left_running", d.recorder.Registry().Len()),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		DatabasePath: d.store.Path(),
		LockPath:     d.lockPath,
		Jobs:         d.scheduler.Status(),
	}
	for _, entry := range d.recorder.Registry().Snapshot() {
		status.Captures = append(status.Captures, CaptureStatus{
			Station:    entry.Station,
			Kind:       string(entry.Kind),
			State:      entry.State.String(),
			PID:        entry.PID,
			JobID:      entry.JobID,
			OutputPath: entry.OutputPath,
			LaunchedAt: entry.LaunchedAt,
			Adopted:    entry.Adopted,
		})
	}
	d.reportMu.Lock()
	if d.lastReport != nil {
		report := *d.lastReport
		status.LastReconcile = &report
	}
	d.reportMu.Unlock()
	return status
}

// RecordStart launches a manual capture for station.
func (d *Daemon) RecordStart(ctx context.Context, station string) (recording.ManualCapture, error) {
	return d.recorder.StartManual(ctx, station)
}

// RecordStop stops every capture of station.
func (d *Daemon) RecordStop(ctx context.Context, station string) (int, error) {
	return d.recorder.StopStation(ctx, station)
}

// Reconcile forces an upload run, waiting for a scheduled one to finish.
func (d *Daemon) Reconcile(ctx context.Context) (upload.Report, error) {
	var report upload.Report
	if !d.running.Load() {
		return d.runReconcile(ctx), nil
	}
	err := d.scheduler.Exclusive(ctx, JobUpload, func(ctx context.Context) error {
		report = d.runReconcile(ctx)
		return nil
	})
	return report, err
}

// Health runs every readiness check.
func (d *Daemon) Health(ctx context.Context) []preflight.Result {
	targets := preflight.Targets{Catalog: d.store}
	if d.objects != nil {
		targets.Objects = d.objects
	}
	return preflight.RunAll(ctx, d.cfg, targets)
}

// Jobs lists recent capture jobs.
func (d *Daemon) Jobs(ctx context.Context, limit int) ([]*catalog.Job, error) {
	return d.store.ListJobs(ctx, limit)
}

// Recordings lists catalogued recordings.
func (d *Daemon) Recordings(ctx context.Context, filter catalog.RecordingFilter) ([]*catalog.Recording, error) {
	return d.store.ListRecordings(ctx, filter)
}

// ErrRecordingNotFound is returned for an unknown recording id.
var ErrRecordingNotFound = errors.New("recording not found")

// PresignRecording returns a time-limited playback URL for a catalogued
// recording.
func (d *Daemon) PresignRecording(ctx context.Context, id int64) (string, error) {
	return PresignRecording(ctx, d.cfg, d.store, d.objects, id)
}

// PresignRecording resolves id in store and signs its object key.
func PresignRecording(ctx context.Context, cfg *config.Config, store *catalog.Store, objects ObjectStore, id int64) (string, error) {
	if objects == nil {
		return "", upload.ErrNoObjectStore
	}
	rec, err := store.RecordingByID(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: %d", ErrRecordingNotFound, id)
	}
	key := rec.FilePath
	if _, err := layout.ParseObjectKey(cfg.Storage.Namespace, key); err != nil {
		return "", fmt.Errorf("recording %d: %w", id, err)
	}
	ttl := time.Duration(cfg.Storage.PresignTTLSeconds) * time.Second
	return objects.Presign(ctx, key, ttl)
}
