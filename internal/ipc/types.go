package ipc

import (
	"time"

	"radiologger/internal/api"
	"radiologger/internal/daemon"
	"radiologger/internal/scheduler"
	"radiologger/internal/upload"
)

// ServiceName is the RPC receiver name registered by the server.
const ServiceName = "Radiologger"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// CaptureStatus mirrors a live capture entry.
type CaptureStatus = daemon.CaptureStatus

// JobStatus mirrors a scheduler job.
type JobStatus = scheduler.JobStatus

// StatusResponse represents combined daemon, capture, and scheduler state.
type StatusResponse struct {
	Running       bool            `json:"running"`
	PID           int             `json:"pid"`
	StartedAt     time.Time       `json:"started_at"`
	DatabasePath  string          `json:"database_path"`
	LockPath      string          `json:"lock_path"`
	Captures      []CaptureStatus `json:"captures"`
	Jobs          []JobStatus     `json:"jobs"`
	LastReconcile *upload.Report  `json:"last_reconcile,omitempty"`
}

// RecordStartRequest starts a manual capture.
type RecordStartRequest struct {
	Station string `json:"station"`
}

// RecordStartResponse describes the manual capture.
type RecordStartResponse struct {
	Station string `json:"station"`
	JobID   string `json:"job_id"`
	Kind    string `json:"kind"`
	PID     int    `json:"pid"`
	Output  string `json:"output"`
	Existed bool   `json:"existed"`
}

// RecordStopRequest stops every capture of a station.
type RecordStopRequest struct {
	Station string `json:"station"`
}

// RecordStopResponse reports how many captures were signalled.
type RecordStopResponse struct {
	Stopped int `json:"stopped"`
}

// ReconcileRequest forces an upload run.
type ReconcileRequest struct{}

// ReconcileResponse carries the run report.
type ReconcileResponse struct {
	Report upload.Report `json:"report"`
}

// HealthRequest runs readiness checks.
type HealthRequest struct{}

// HealthResponse aggregates readiness checks.
type HealthResponse = api.HealthResponse

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges the shutdown request.
type ShutdownResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
