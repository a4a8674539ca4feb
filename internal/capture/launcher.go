package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"radiologger/internal/logging"
)

// ErrProcessNotFound is returned by Stop when the pid no longer exists.
var ErrProcessNotFound = errors.New("capture process not found")

// LaunchError reports a capture that could not be started.
type LaunchError struct {
	Station string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch capture for %s: %v", e.Station, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Spec describes one capture invocation.
type Spec struct {
	Station   string
	SourceURL string
	// Output is an strftime pattern for segmented captures and a plain file
	// path for manual ones.
	Output string
	// Duration bounds a manual capture. Zero selects segmented mode.
	Duration time.Duration
}

// Manual reports whether the spec describes a fixed-length capture.
func (s Spec) Manual() bool { return s.Duration > 0 }

// Handle identifies a started capture.
type Handle struct {
	PID       int
	Output    string
	StartedAt time.Time
}

// Exit describes how a child ended.
type Exit struct {
	PID int
	Err error
}

// Clean reports whether the child exited with status zero.
func (e Exit) Clean() bool { return e.Err == nil }

// Option configures the launcher.
type Option func(*Launcher)

// WithClock overrides the time source used to stamp handles.
func WithClock(now func() time.Time) Option {
	return func(l *Launcher) {
		if now != nil {
			l.now = now
		}
	}
}

// Launcher starts and signals capture processes.
type Launcher struct {
	binary         string
	timezone       string
	segmentSeconds int
	now            func() time.Time
	logger         *slog.Logger
}

// NewLauncher constructs a launcher for the given capture binary.
func NewLauncher(binary, timezone string, segmentSeconds int, logger *slog.Logger, opts ...Option) *Launcher {
	if segmentSeconds <= 0 {
		segmentSeconds = 3600
	}
	l := &Launcher{
		binary:         strings.TrimSpace(binary),
		timezone:       strings.TrimSpace(timezone),
		segmentSeconds: segmentSeconds,
		now:            time.Now,
		logger:         logging.NewComponentLogger(logger, "capture"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Args returns the capture tool arguments for spec.
func Args(spec Spec, segmentSeconds int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", spec.SourceURL,
		"-vn",
		"-acodec", "copy",
	}
	if spec.Manual() {
		seconds := int(spec.Duration.Round(time.Second) / time.Second)
		return append(args, "-t", strconv.Itoa(seconds), spec.Output)
	}
	return append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
		"-segment_atclocktime", "1",
		"-strftime", "1",
		spec.Output,
	)
}

// Start spawns the capture and returns without waiting for it. onExit, when
// non-nil, runs on a separate goroutine once the child has been reaped.
func (l *Launcher) Start(ctx context.Context, spec Spec, onExit func(Exit)) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Station: spec.Station, Err: err}
	}
	if l.binary == "" {
		return nil, &LaunchError{Station: spec.Station, Err: errors.New("capture binary not configured")}
	}
	if strings.TrimSpace(spec.SourceURL) == "" {
		return nil, &LaunchError{Station: spec.Station, Err: errors.New("source url is empty")}
	}
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0o755); err != nil {
		return nil, &LaunchError{Station: spec.Station, Err: fmt.Errorf("create output dir: %w", err)}
	}

	// The child must outlive the request context, so it is not bound to ctx.
	cmd := exec.Command(l.binary, Args(spec, l.segmentSeconds)...) //nolint:gosec
	cmd.Env = os.Environ()
	if l.timezone != "" {
		cmd.Env = append(cmd.Env, "TZ="+l.timezone)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Station: spec.Station, Err: err}
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		Output:    spec.Output,
		StartedAt: l.now(),
	}
	l.logger.Info("capture launched",
		logging.Station(spec.Station),
		logging.Int("pid", handle.PID),
		logging.String("output", spec.Output),
		logging.Bool("manual", spec.Manual()),
	)

	go func() {
		err := cmd.Wait()
		if onExit != nil {
			onExit(Exit{PID: handle.PID, Err: err})
		}
	}()
	return handle, nil
}

// Stop sends a termination signal and returns without waiting.
func (l *Launcher) Stop(pid int) error {
	return Stop(pid)
}

// Alive reports whether pid still exists.
func (l *Launcher) Alive(pid int) bool {
	return Alive(pid)
}

// Stop sends SIGTERM to pid.
func Stop(pid int) error {
	if pid <= 0 {
		return ErrProcessNotFound
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessNotFound
		}
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

// Alive reports whether pid exists. A process owned by another user still
// counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
