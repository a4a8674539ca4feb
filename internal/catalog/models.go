package catalog

import (
	"fmt"
	"time"
)

// JobKind classifies why a capture runs.
type JobKind string

const (
	KindAlwaysOn  JobKind = "always_on"
	KindScheduled JobKind = "scheduled"
	KindManual    JobKind = "manual"
)

// JobStatus is the lifecycle state of a capture job.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobStopped   JobStatus = "stopped"
	JobUnknown   JobStatus = "unknown"
	JobFailed    JobStatus = "failed"
)

// Window is a station's half-open recording interval. Dates are calendar days
// in the configured timezone, hours are 0-23.
type Window struct {
	StartDate string
	StartHour int
	EndDate   string
	EndHour   int
}

// Bounds resolves the window to instants in loc.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	start, err := combine(w.StartDate, w.StartHour, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window start: %w", err)
	}
	end, err := combine(w.EndDate, w.EndHour, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window end: %w", err)
	}
	return start, end, nil
}

// Contains reports whether now lies in [start, end).
func (w Window) Contains(now time.Time, loc *time.Location) bool {
	start, end, err := w.Bounds(loc)
	if err != nil {
		return false
	}
	return !now.Before(start) && now.Before(end)
}

func combine(date string, hour int, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, err
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("hour %d out of range", hour)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc), nil
}

// Station is a stream the recorder may capture.
type Station struct {
	ID           int64
	Name         string
	URL          string
	AlwaysOn     bool
	Window       *Window
	DisplayOrder int
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobKind returns the kind of job a scheduled capture of this station opens.
func (s Station) JobKind() JobKind {
	if s.AlwaysOn {
		return KindAlwaysOn
	}
	return KindScheduled
}

// Job is one capture attempt.
type Job struct {
	ID        int64
	JobID     string
	StationID int64
	Kind      JobKind
	StartTime time.Time
	EndTime   *time.Time
	Status    JobStatus
	CreatedAt time.Time
}

// Recording is one catalogued hourly segment.
type Recording struct {
	ID        int64
	StationID int64
	Date      string
	Hour      string
	FilePath  string
	Kind      JobKind
	Uploaded  bool
	CreatedAt time.Time
}

// RecordingFilter narrows ListRecordings.
type RecordingFilter struct {
	StationID int64
	Date      string
	Limit     int
}

// DatabaseHealth captures diagnostic information about the catalog database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	Stations         int
	RunningJobs      int
	Recordings       int
	Error            string
}
