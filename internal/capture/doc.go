// Package capture launches and signals the external capture tool and keeps the
// in-process registry of spawned children.
//
// Launcher builds the ffmpeg invocation (input URL, no video, codec copy,
// clock-aligned hourly segments with strftime naming) and starts it in its own
// process group without waiting for it. A goroutine reaps the child and reports
// its exit through a callback. Stop sends SIGTERM and returns immediately;
// whether the child actually exited is learned later from the exit callback or
// a liveness check.
//
// Registry tracks every known capture as a tagged state: Starting while a launch
// is in flight, Running once a pid is known, Stopping after a termination signal
// was sent, and Gone once the process has exited. Processes adopted from a
// previous daemon run enter the registry directly as Running.
package capture
