// Package retention removes local segments once they are old enough and
// provably durable in the object store.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"radiologger/internal/layout"
	"radiologger/internal/logging"
)

// DurabilityIndex answers whether the object for key is known to be stored
// remotely.
type DurabilityIndex interface {
	Durable(ctx context.Context, key string) (bool, error)
}

// KeySet is a DurabilityIndex built from a complete remote listing.
type KeySet map[string]struct{}

// NewKeySet indexes keys.
func NewKeySet(keys []string) KeySet {
	set := make(KeySet, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

// Durable reports whether key was part of the listing.
func (k KeySet) Durable(_ context.Context, key string) (bool, error) {
	_, ok := k[key]
	return ok, nil
}

// Header checks a single object.
type Header interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// HeadIndex is a DurabilityIndex that asks the object store per key. It is
// used when no listing is available.
type HeadIndex struct {
	Store Header
}

// Durable reports whether the object store has key.
func (h HeadIndex) Durable(ctx context.Context, key string) (bool, error) {
	if h.Store == nil {
		return false, errors.New("no object store")
	}
	return h.Store.Exists(ctx, key)
}

// Report summarizes one sweep.
type Report struct {
	Scanned    int
	Expired    int
	Deleted    int
	NotDurable int
	Failed     int
	PrunedDirs int
	FreedBytes int64
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper deletes expired, durable segments under a recordings root.
type Sweeper struct {
	root      string
	namespace string
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewSweeper returns a sweeper for root whose remote keys live in namespace.
func NewSweeper(root, namespace string, retention time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		root:      root,
		namespace: namespace,
		retention: retention,
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "retention"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep removes every segment whose modification time is older than the
// retention window and whose key index reports durable. Files that are not
// durable are kept and retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, index DurabilityIndex) (Report, error) {
	var report Report
	if index == nil {
		return report, errors.New("retention sweep requires a durability index")
	}
	logger := logging.WithContext(ctx, s.logger)
	cutoff := s.now().Add(-s.retention)
	touched := make(map[string]struct{})

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == s.root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipDir
			}
			logger.Warn("retention walk error", logging.String("path", path), logging.Error(walkErr))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !layout.IsSegmentName(d.Name()) {
			return nil
		}
		report.Scanned++

		info, err := d.Info()
		if err != nil {
			report.Failed++
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		seg, err := layout.ParseLocalPath(s.root, path)
		if err != nil {
			return nil
		}
		report.Expired++

		key := layout.ObjectKey(s.namespace, seg)
		durable, err := index.Durable(ctx, key)
		if err != nil {
			report.Failed++
			logging.WarnWithContext(logger, "durability check failed; keeping file",
				"retention_check_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file is retried on the next sweep"),
			)
			return nil
		}
		if !durable {
			report.NotDurable++
			logger.Debug("expired file not yet durable", logging.String("path", path), logging.String("key", key))
			return nil
		}
		if err := os.Remove(path); err != nil {
			report.Failed++
			logging.WarnWithContext(logger, "failed to remove expired file",
				"retention_remove_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the recordings directory"),
			)
			return nil
		}
		report.Deleted++
		report.FreedBytes += info.Size()
		touched[filepath.Dir(path)] = struct{}{}
		logger.Debug("expired file removed", logging.String("path", path))
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", s.root, err)
	}

	report.PrunedDirs = s.prune(logger, touched)

	if report.Deleted > 0 || report.Failed > 0 {
		logger.Info("retention sweep complete",
			logging.Int("deleted", report.Deleted),
			logging.Int("not_durable", report.NotDurable),
			logging.Int("failed", report.Failed),
			logging.Int("pruned_dirs", report.PrunedDirs),
			logging.String("freed", humanize.IBytes(uint64(report.FreedBytes))),
		)
	}
	return report, nil
}

// prune removes date directories emptied by this sweep, deepest first.
func (s *Sweeper) prune(logger *slog.Logger, dirs map[string]struct{}) int {
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ordered)))

	pruned := 0
	for _, dir := range ordered {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			logger.Debug("empty directory not removed", logging.String("path", dir), logging.Error(err))
			continue
		}
		pruned++
	}
	return pruned
}
