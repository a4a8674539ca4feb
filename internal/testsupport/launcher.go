package testsupport

import (
	"context"
	"sync"

	"radiologger/internal/capture"
	"radiologger/internal/procprobe"
)

// FakeLauncher records capture launches without spawning processes. Every
// launched pid stays alive until Stop is called for it.
type FakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	specs   []capture.Spec
	stopped map[int]bool
}

// NewFakeLauncher returns a launcher whose pids start above any real test pid.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{nextPID: 40000, stopped: make(map[int]bool)}
}

// Start records spec and returns a synthetic handle.
func (f *FakeLauncher) Start(_ context.Context, spec capture.Spec, _ func(capture.Exit)) (*capture.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	f.specs = append(f.specs, spec)
	return &capture.Handle{PID: f.nextPID, Output: spec.Output}, nil
}

// Stop marks pid as gone.
func (f *FakeLauncher) Stop(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped[pid] {
		return capture.ErrProcessNotFound
	}
	f.stopped[pid] = true
	return nil
}

// Alive reports whether pid has not been stopped.
func (f *FakeLauncher) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.stopped[pid]
}

// Starts returns the recorded launch specs.
func (f *FakeLauncher) Starts() []capture.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Spec(nil), f.specs...)
}

// NoProcesses is a process lister that never finds orphans.
type NoProcesses struct{}

// List returns no processes.
func (NoProcesses) List(context.Context) ([]procprobe.Process, error) { return nil, nil }
