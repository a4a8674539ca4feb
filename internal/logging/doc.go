// Package logging assembles structured slog loggers and formatting helpers used
// across radiologger services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scheduler jobs can tag every
// log line with the run identifier and station they are working on. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, and prunes old per-run log files.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
