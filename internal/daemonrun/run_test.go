package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"radiologger/internal/daemon"
	"radiologger/internal/daemonrun"
	"radiologger/internal/logging"
	"radiologger/internal/testsupport"
)

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "radiologger-1.log")
	second := filepath.Join(dir, "radiologger-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := daemonrun.EnsureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := daemonrun.EnsureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "radiologger.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "radiologger-2.log" {
		t.Fatalf("pointer should follow the newest log, got %q", data)
	}
	if err := daemonrun.EnsureCurrentLogPointer("", second); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestOpenObjectStore(t *testing.T) {
	unconfigured := testsupport.NewConfig(t, testsupport.WithoutStorage())
	store, err := daemonrun.OpenObjectStore(unconfigured, logging.NewNop())
	if err != nil || store != nil {
		t.Fatalf("expected nil store without bucket, got %v, %v", store, err)
	}

	cfg := testsupport.NewConfig(t)
	store, err = daemonrun.OpenObjectStore(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenObjectStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a store for configured bucket")
	}
}

func TestRunLeavesRunningInstanceAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	held := flock.New(cfg.LockPath())
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("hold lock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	if err := os.WriteFile(cfg.PIDPath(), []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.SocketPath(), []byte("live"), 0o600); err != nil {
		t.Fatal(err)
	}

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if data, err := os.ReadFile(cfg.PIDPath()); err != nil || string(data) != "4242\n" {
		t.Fatalf("pid file of the running instance changed: %q, %v", data, err)
	}
	if data, err := os.ReadFile(cfg.SocketPath()); err != nil || string(data) != "live" {
		t.Fatalf("socket of the running instance changed: %q, %v", data, err)
	}
}
