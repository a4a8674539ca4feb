package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultVersionTimeout bounds the ffmpeg -version probe.
const DefaultVersionTimeout = 5 * time.Second

// CheckFFmpeg resolves the capture tool and runs "-version", reporting the
// first output line. A binary that exists but cannot report its version is
// unavailable, since it would fail every capture the same way.
func CheckFFmpeg(ctx context.Context, command string, timeout time.Duration) Status {
	status := Status{
		Name:        "FFmpeg",
		Command:     strings.TrimSpace(command),
		Description: "Captures station streams into hourly segments",
	}
	if status.Command == "" {
		status.Command = "ffmpeg"
	}
	resolved, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Command = resolved

	if timeout <= 0 {
		timeout = DefaultVersionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, resolved, "-version") //nolint:gosec
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			status.Detail = fmt.Sprintf("%s -version timed out after %s", resolved, timeout)
		} else {
			status.Detail = fmt.Sprintf("%s -version failed: %v", resolved, err)
		}
		return status
	}
	line, _ := bufio.NewReader(&out).ReadString('\n')
	status.Version = strings.TrimSpace(line)
	if !strings.HasPrefix(status.Version, "ffmpeg version") {
		status.Detail = fmt.Sprintf("unexpected -version output %q", status.Version)
		return status
	}
	status.Available = true
	return status
}

// FFmpegCheck adapts CheckFFmpeg to an error-returning probe.
func FFmpegCheck(command string, timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		status := CheckFFmpeg(ctx, command, timeout)
		if !status.Available {
			return fmt.Errorf("%s", status.Detail)
		}
		return nil
	}
}
