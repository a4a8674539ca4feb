package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Station describes a configured stream.
type Station struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	AlwaysOn     bool    `json:"alwaysOn"`
	Window       *Window `json:"window,omitempty"`
	DisplayOrder int     `json:"displayOrder"`
	Reason       string  `json:"reason,omitempty"`
}

// Window is a station's recording interval.
type Window struct {
	StartDate string `json:"startDate"`
	StartHour int    `json:"startHour"`
	EndDate   string `json:"endDate"`
	EndHour   int    `json:"endHour"`
}

// Job describes one capture attempt.
type Job struct {
	JobID     string `json:"jobId"`
	StationID int64  `json:"stationId"`
	Station   string `json:"station,omitempty"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// Recording describes one catalogued hourly segment.
type Recording struct {
	ID        int64  `json:"id"`
	StationID int64  `json:"stationId"`
	Station   string `json:"station,omitempty"`
	Date      string `json:"date"`
	Hour      string `json:"hour"`
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	Uploaded  bool   `json:"uploaded"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// HealthCheck is one readiness probe result.
type HealthCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates readiness probes.
type HealthResponse struct {
	Healthy bool          `json:"healthy"`
	Checks  []HealthCheck `json:"checks"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// RecordingListResponse wraps a collection of recordings.
type RecordingListResponse struct {
	Recordings []Recording `json:"recordings"`
}

// PlaybackURLResponse carries a presigned playback URL.
type PlaybackURLResponse struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresInSeconds"`
}
