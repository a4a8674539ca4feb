// Package daemon hosts the long-running radiologger process.
//
// It enforces single-instance execution with a file lock, recovers capture
// processes left by a previous run, registers the periodic recording check,
// upload, archive, and log cleanup jobs with the scheduler, and serves the
// read-mostly HTTP API. Capture children are supervised, not owned: stopping
// the daemon leaves them running, and the next start adopts them.
package daemon
