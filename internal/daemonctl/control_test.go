package daemonctl_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"radiologger/internal/daemonctl"
	"radiologger/internal/testsupport"
)

func TestProcessInfoWithoutSocket(t *testing.T) {
	alive, pid, err := daemonctl.ProcessInfo(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected offline daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.StopAndTerminate(cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestWaitForShutdownWithoutSocket(t *testing.T) {
	if err := daemonctl.WaitForShutdown(filepath.Join(t.TempDir(), "missing.sock"), time.Second); err != nil {
		t.Fatalf("expected immediate success, got %v", err)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "radiologger.pid")
	if err := os.WriteFile(pidPath, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", os.Getpid()); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal to kill current process, got %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(filepath.Join(dir, "none.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := daemonctl.Launch("  ", daemonctl.LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable path")
	}
}
