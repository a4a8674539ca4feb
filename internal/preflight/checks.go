package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"radiologger/internal/config"
	"radiologger/internal/deps"
)

const pingTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace reports free space on the volume holding path against the
// launch floor. A path that does not exist yet is measured at its nearest
// existing parent.
func CheckDiskSpace(ctx context.Context, path string, minFree uint64) Result {
	const name = "Disk space"
	target := existingAncestor(path)
	usage, err := disk.UsageWithContext(ctx, target)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", target, err)}
	}
	detail := fmt.Sprintf("%s free of %s (floor %s)",
		humanize.IBytes(usage.Free), humanize.IBytes(usage.Total), humanize.IBytes(minFree))
	if usage.Free < minFree {
		return Result{Name: name, Detail: detail + "; new captures are blocked"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckCatalog pings the catalog database.
func CheckCatalog(ctx context.Context, catalog Pinger) Result {
	const name = "Catalog"
	if catalog == nil {
		return Result{Name: name, Detail: "not open"}
	}
	if err := ping(ctx, catalog); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: "SELECT 1 ok"}
}

// CheckCaptureTool runs the configured ffmpeg with -version.
func CheckCaptureTool(ctx context.Context, cfg *config.Config) Result {
	const name = "Capture tool"
	timeout := time.Duration(cfg.Capture.ProbeTimeoutSeconds) * time.Second
	status := deps.CheckFFmpeg(ctx, cfg.Capture.FFmpegPath, timeout)
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	return Result{Name: name, Passed: true, Detail: status.Version}
}

// CheckObjectStore verifies the bucket is reachable.
func CheckObjectStore(ctx context.Context, cfg *config.Config, objects Pinger) Result {
	const name = "Object storage"
	if !cfg.StorageConfigured() {
		return Result{Name: name, Detail: "not configured (storage.bucket is empty)"}
	}
	if objects == nil {
		return Result{Name: name, Detail: "client unavailable"}
	}
	if err := ping(ctx, objects); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("bucket %s reachable", cfg.Storage.Bucket)}
}

// CheckLogDirectory reports whether the log directory exists.
func CheckLogDirectory(path string) Result {
	const name = "Log directory"
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

func existingAncestor(path string) string {
	for p := path; p != ""; {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return "/"
}

func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (unreachable)"
	}
	return err.Error()
}
