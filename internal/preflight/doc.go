// Package preflight provides the readiness checks behind `radiologger health`
// and the daemon's /api/health endpoint.
//
// Each check is independent: a failing object store does not hide the disk or
// catalog result. The daemon also runs the capture tool check at startup and
// refuses to schedule launches while it fails.
package preflight
