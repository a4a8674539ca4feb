package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/config"
	"radiologger/internal/layout"
	"radiologger/internal/logging"
	"radiologger/internal/retention"
)

// ErrNoObjectStore is recorded when a run starts without a configured bucket.
var ErrNoObjectStore = errors.New("object storage not configured")

// ObjectStore is the subset of the remote store a run needs.
type ObjectStore interface {
	Put(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Stat(ctx context.Context, key string) (size int64, exists bool, err error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Catalog is the subset of the catalog a run needs.
type Catalog interface {
	ListStations(ctx context.Context) ([]*catalog.Station, error)
	RunningJobs(ctx context.Context) ([]*catalog.Job, error)
	UpsertRecording(ctx context.Context, rec catalog.Recording) (bool, error)
	InsertRecordingIfAbsent(ctx context.Context, rec catalog.Recording) (bool, error)
	RecordingPaths(ctx context.Context) ([]string, error)
	DeleteRecordingByPath(ctx context.Context, path string) (int64, error)
}

// Report summarizes one run.
type Report struct {
	Started  time.Time
	Duration time.Duration

	Scanned       int
	Fresh         int
	Uploaded      int
	AlreadyRemote int
	UploadFailed  int
	Cataloged     int

	Listed      int
	Inserted    int
	Removed     int
	MergeFailed int

	Retention    retention.Report
	HeadFallback bool

	Errors []string

	pending map[string]struct{}
}

func (r *Report) markPending(key string) {
	if r.pending == nil {
		r.pending = make(map[string]struct{})
	}
	r.pending[key] = struct{}{}
}

func (r *Report) fail(phase string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", phase, err))
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source for grace and retention decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// Reconciler runs the upload, merge, and retention phases.
type Reconciler struct {
	root      string
	namespace string
	grace     time.Duration
	retention time.Duration

	store   Catalog
	objects ObjectStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewReconciler builds a reconciler. objects may be nil when storage is not
// configured; runs then only report the missing store.
func NewReconciler(cfg *config.Config, store Catalog, objects ObjectStore, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		root:      cfg.Paths.RecordingsDir,
		namespace: cfg.Storage.Namespace,
		grace:     time.Duration(cfg.Schedule.UploadGraceSeconds) * time.Second,
		retention: time.Duration(cfg.Schedule.RetentionHours) * time.Hour,
		store:     store,
		objects:   objects,
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "upload"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes all three phases. It never aborts early on a phase failure;
// failures are logged and listed in Report.Errors.
func (r *Reconciler) Run(ctx context.Context) (report Report) {
	report.Started = r.now()
	logger := logging.WithContext(ctx, r.logger)
	defer func() { report.Duration = r.now().Sub(report.Started) }()

	if r.objects == nil {
		report.fail("setup", ErrNoObjectStore)
		logging.WarnWithContext(logger, "upload run skipped", "upload_skipped",
			logging.Error(ErrNoObjectStore),
			logging.String(logging.FieldErrorHint, "set storage.bucket and credentials"),
			logging.String(logging.FieldImpact, "segments stay local and are never swept"),
		)
		return report
	}

	stations, kinds := r.loadStations(ctx, logger, &report)

	if err := r.uploadLocal(ctx, logger, stations, kinds, &report); err != nil {
		report.fail("upload", err)
		logging.WarnWithContext(logger, "upload phase failed", "upload_phase_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "remaining files are retried on the next run"),
		)
	}

	listing, listErr := r.objects.List(ctx, layout.Prefix(r.namespace))
	if listErr != nil {
		report.fail("list", listErr)
		logging.WarnWithContext(logger, "remote listing failed; catalog merge skipped", "remote_list_failed",
			logging.Error(listErr),
			logging.String(logging.FieldErrorHint, "check storage endpoint and credentials"),
			logging.String(logging.FieldImpact, "retention falls back to per-file checks"),
		)
	} else {
		report.Listed = len(listing)
		if err := r.mergeCatalog(ctx, logger, listing, stations, &report); err != nil {
			report.fail("merge", err)
			logging.WarnWithContext(logger, "catalog merge failed", "catalog_merge_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "catalog is repaired on the next run"),
			)
		}
	}

	var index retention.DurabilityIndex
	if listErr == nil {
		index = retention.NewKeySet(listing)
	} else {
		report.HeadFallback = true
		index = retention.HeadIndex{Store: r.objects}
	}
	if len(report.pending) > 0 {
		index = pendingIndex{DurabilityIndex: index, pending: report.pending}
	}
	sweeper := retention.NewSweeper(r.root, r.namespace, r.retention, r.logger, retention.WithClock(r.now))
	sweep, sweepErr := sweeper.Sweep(ctx, index)
	report.Retention = sweep
	if sweepErr != nil {
		report.fail("retention", sweepErr)
		logging.WarnWithContext(logger, "retention sweep failed", "retention_failed",
			logging.Error(sweepErr),
			logging.String(logging.FieldImpact, "expired files remain until the next run"),
		)
	}

	if report.Uploaded+report.Inserted+report.Removed+report.Retention.Deleted > 0 || len(report.Errors) > 0 {
		logger.Info("upload run complete",
			logging.Int("uploaded", report.Uploaded),
			logging.Int("already_remote", report.AlreadyRemote),
			logging.Int("upload_failed", report.UploadFailed),
			logging.Int("inserted", report.Inserted),
			logging.Int("removed", report.Removed),
			logging.Int("swept", report.Retention.Deleted),
			logging.Int("errors", len(report.Errors)),
		)
	} else {
		logger.Debug("upload run complete", logging.Int("scanned", report.Scanned))
	}
	return report
}

// loadStations indexes stations by normalized name along with the kind of any
// running job, so uploaded rows carry the kind that produced them.
func (r *Reconciler) loadStations(ctx context.Context, logger *slog.Logger, report *Report) (map[string]*catalog.Station, map[int64]catalog.JobKind) {
	stations := make(map[string]*catalog.Station)
	kinds := make(map[int64]catalog.JobKind)

	list, err := r.store.ListStations(ctx)
	if err != nil {
		report.fail("stations", err)
		logger.Warn("station list unavailable; uploads are not cataloged", logging.Error(err))
		return stations, kinds
	}
	for _, st := range list {
		stations[layout.NormalizeStation(st.Name)] = st
		kinds[st.ID] = st.JobKind()
	}
	jobs, err := r.store.RunningJobs(ctx)
	if err != nil {
		logger.Debug("running jobs unavailable", logging.Error(err))
		return stations, kinds
	}
	for _, job := range jobs {
		kinds[job.StationID] = job.Kind
	}
	return stations, kinds
}

func (r *Reconciler) uploadLocal(ctx context.Context, logger *slog.Logger, stations map[string]*catalog.Station, kinds map[int64]catalog.JobKind, report *Report) error {
	now := r.now()
	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == r.root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipDir
			}
			logger.Warn("upload walk error", logging.String("path", path), logging.Error(walkErr))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !layout.IsSegmentName(d.Name()) {
			return nil
		}
		seg, err := layout.ParseLocalPath(r.root, path)
		if err != nil {
			return nil
		}
		report.Scanned++

		info, err := d.Info()
		if err != nil {
			report.UploadFailed++
			return nil
		}
		key := layout.ObjectKey(r.namespace, seg)
		if now.Sub(info.ModTime()) < r.grace {
			// Still being written: upload what is there and overwrite it next run.
			report.Fresh++
		} else {
			remoteSize, exists, err := r.objects.Stat(ctx, key)
			if err != nil {
				logger.Debug("existence check failed; uploading", logging.String("key", key), logging.Error(err))
			}
			if exists && remoteSize == info.Size() {
				report.AlreadyRemote++
				return r.catalogSegment(ctx, logger, seg, key, stations, kinds, report)
			}
			if exists {
				logger.Info("remote copy is stale; uploading again",
					logging.String("key", key),
					logging.Int64("remote_size", remoteSize),
					logging.Int64("local_size", info.Size()),
				)
			}
		}

		if err := r.objects.Put(ctx, key, path); err != nil {
			report.UploadFailed++
			report.markPending(key)
			logging.WarnWithContext(logger, "segment upload failed", "upload_failed",
				logging.String("path", path),
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file is retried on the next run"),
			)
			return nil
		}
		report.Uploaded++
		logger.Info("segment uploaded", logging.Station(seg.Station), logging.String("key", key))
		return r.catalogSegment(ctx, logger, seg, key, stations, kinds, report)
	})
}

// catalogSegment records an uploaded segment. Segments of unknown stations
// stay uncataloged.
func (r *Reconciler) catalogSegment(ctx context.Context, logger *slog.Logger, seg layout.Segment, key string, stations map[string]*catalog.Station, kinds map[int64]catalog.JobKind, report *Report) error {
	st, ok := stations[seg.Station]
	if !ok {
		logger.Debug("segment for unknown station not cataloged", logging.String("key", key))
		return nil
	}
	changed, err := r.store.UpsertRecording(ctx, catalog.Recording{
		StationID: st.ID,
		Date:      seg.Date,
		Hour:      seg.Hour,
		FilePath:  key,
		Kind:      kinds[st.ID],
		Uploaded:  true,
	})
	if err != nil {
		logger.Warn("catalog write failed", logging.String("key", key), logging.Error(err))
		return nil
	}
	if changed {
		report.Cataloged++
	}
	return nil
}

// pendingIndex hides keys whose remote copy is known to be stale, so retention
// keeps the local file until a full upload succeeds.
type pendingIndex struct {
	retention.DurabilityIndex
	pending map[string]struct{}
}

func (p pendingIndex) Durable(ctx context.Context, key string) (bool, error) {
	if _, ok := p.pending[key]; ok {
		return false, nil
	}
	return p.DurabilityIndex.Durable(ctx, key)
}

func (r *Reconciler) mergeCatalog(ctx context.Context, logger *slog.Logger, listing []string, stations map[string]*catalog.Station, report *Report) error {
	paths, err := r.store.RecordingPaths(ctx)
	if err != nil {
		return fmt.Errorf("load catalog paths: %w", err)
	}
	prefix := layout.Prefix(r.namespace)
	scoped := paths[:0:0]
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			scoped = append(scoped, p)
		}
	}

	diff := MergeDiff(listing, scoped)
	for _, key := range diff.Missing {
		seg, err := layout.ParseObjectKey(r.namespace, key)
		if err != nil {
			continue
		}
		st, ok := stations[seg.Station]
		if !ok {
			continue
		}
		inserted, err := r.store.InsertRecordingIfAbsent(ctx, catalog.Recording{
			StationID: st.ID,
			Date:      seg.Date,
			Hour:      seg.Hour,
			FilePath:  key,
			Kind:      catalog.KindScheduled,
			Uploaded:  true,
		})
		if err != nil {
			report.MergeFailed++
			logger.Warn("catalog insert failed", logging.String("key", key), logging.Error(err))
			continue
		}
		if inserted {
			report.Inserted++
		}
	}
	for _, p := range diff.Orphaned {
		n, err := r.store.DeleteRecordingByPath(ctx, p)
		if err != nil {
			report.MergeFailed++
			logger.Warn("catalog delete failed", logging.String("key", p), logging.Error(err))
			continue
		}
		if n > 0 {
			report.Removed += int(n)
			logger.Info("catalog row removed; object missing", logging.String("key", p))
		}
	}
	return nil
}
