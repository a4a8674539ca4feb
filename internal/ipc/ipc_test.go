package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/daemon"
	"radiologger/internal/ipc"
	"radiologger/internal/logging"
	"radiologger/internal/testsupport"
)

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewStation(t, store, catalog.Station{Name: "studio", URL: "http://example.invalid/s"})
	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, testsupport.NewMemoryObjectStore(), logger,
		daemon.WithLauncher(testsupport.NewFakeLauncher()),
		daemon.WithProcessLister(testsupport.NoProcesses{}),
		daemon.WithToolCheck(func(context.Context) error { return nil }),
		daemon.WithDiskFree(func(context.Context, string) (uint64, error) { return 1 << 40, nil }),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	shutdown := make(chan struct{})
	socket := filepath.Join(cfg.Paths.StateDir, "ipc-test.sock")
	srv, err := ipc.NewServer(ctx, socket, d, func() { close(shutdown) }, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.LockPath != cfg.LockPath() || len(status.Jobs) == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	started, err := client.RecordStart("studio")
	if err != nil {
		t.Fatalf("RecordStart RPC failed: %v", err)
	}
	if started.PID == 0 || started.Station != "studio" {
		t.Fatalf("unexpected record start response %+v", started)
	}
	if _, err := client.RecordStart("nope"); err == nil {
		t.Fatal("expected error for unknown station")
	}

	stopped, err := client.RecordStop("studio")
	if err != nil {
		t.Fatalf("RecordStop RPC failed: %v", err)
	}
	if stopped.Stopped != 1 {
		t.Fatalf("expected 1 stopped capture, got %d", stopped.Stopped)
	}

	reconciled, err := client.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile RPC failed: %v", err)
	}
	if len(reconciled.Report.Errors) != 0 {
		t.Fatalf("unexpected reconcile errors %v", reconciled.Report.Errors)
	}

	health, err := client.Health()
	if err != nil {
		t.Fatalf("Health RPC failed: %v", err)
	}
	if len(health.Checks) == 0 {
		t.Fatal("expected health checks")
	}

	ack, err := client.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown RPC failed: %v", err)
	}
	if !ack.Acknowledged {
		t.Fatal("expected shutdown acknowledgement")
	}
	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}
