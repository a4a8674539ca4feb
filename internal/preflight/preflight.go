package preflight

import (
	"context"

	"radiologger/internal/config"
)

// Result reports the outcome of a single check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Pinger is any dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets are the live handles RunAll checks. A nil handle is reported as
// unavailable rather than skipped.
type Targets struct {
	Catalog Pinger
	Objects Pinger
}

// RunAll executes every health check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDiskSpace(ctx, cfg.Paths.RecordingsDir, cfg.MinFreeBytes()),
		CheckDirectoryAccess("Recordings directory", cfg.Paths.RecordingsDir),
		CheckCatalog(ctx, targets.Catalog),
		CheckCaptureTool(ctx, cfg),
		CheckObjectStore(ctx, cfg, targets.Objects),
		CheckLogDirectory(cfg.Paths.LogDir),
	}
}

// Healthy reports whether every result passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
