// Package daemonrun wires the foreground daemon process: per-run log file,
// pid file, catalog, object store, daemon, and IPC socket.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/config"
	"radiologger/internal/daemon"
	"radiologger/internal/ipc"
	"radiologger/internal/logging"
	"radiologger/internal/objectstore"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the radiologger daemon and blocks until a signal or an IPC
// shutdown request arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("radiologger-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := EnsureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update radiologger.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "radiologger-*.log", Exclude: []string{logPath}},
	)

	store, err := catalog.Open(cfg)
	if err != nil {
		logger.Error("open catalog", logging.Error(err))
		return err
	}

	objects, err := OpenObjectStore(cfg, logger)
	if err != nil {
		store.Close()
		return err
	}

	d, err := daemon.New(cfg, store, objects, logger, daemon.WithLogPath(logPath))
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The pid file and socket belong to whoever holds the lock.
	if err := d.Lock(); err != nil {
		logging.ErrorWithContext(logger, "daemon lock unavailable", "daemon_lock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the running instance or remove a stale lock file"),
			logging.String(logging.FieldImpact, "this process exits without touching the running instance"),
		)
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, cancel, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running instance and catalog access"),
			logging.String(logging.FieldImpact, "no station is recorded"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("radiologger daemon shutting down")
	return nil
}

// OpenObjectStore returns the configured remote store, or nil when no bucket
// is set. Uploads and retention are then skipped.
func OpenObjectStore(cfg *config.Config, logger *slog.Logger) (daemon.ObjectStore, error) {
	store, err := objectstore.New(cfg, logger)
	if errors.Is(err, objectstore.ErrNotConfigured) {
		logging.WarnWithContext(logger, "object storage not configured", "object_store_unconfigured",
			logging.String(logging.FieldErrorHint, "set storage.bucket and credentials in config.toml"),
			logging.String(logging.FieldImpact, "segments stay on local disk and are never pruned"),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return store, nil
}

// EnsureCurrentLogPointer points logDir/radiologger.log at target.
func EnsureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "radiologger.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	_, lookErr := exec.LookPath(cfg.Capture.FFmpegPath)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", lookErr == nil),
		logging.String("ffmpeg_binary", cfg.Capture.FFmpegPath),
		logging.Bool("object_store_configured", cfg.StorageConfigured()),
		logging.String("bucket", cfg.Storage.Bucket),
		logging.Bool("resolver_enabled", cfg.Resolver.Enabled),
		logging.Int("archive_sources", len(cfg.Archive)),
		logging.String("timezone", cfg.Capture.Timezone),
	)
}
