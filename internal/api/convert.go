package api

import (
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/preflight"
)

// FromStation converts a catalog station to its API representation.
func FromStation(st *catalog.Station) Station {
	if st == nil {
		return Station{}
	}
	dto := Station{
		ID:           st.ID,
		Name:         st.Name,
		URL:          st.URL,
		AlwaysOn:     st.AlwaysOn,
		DisplayOrder: st.DisplayOrder,
		Reason:       st.Reason,
	}
	if w := st.Window; w != nil {
		dto.Window = &Window{
			StartDate: w.StartDate,
			StartHour: w.StartHour,
			EndDate:   w.EndDate,
			EndHour:   w.EndHour,
		}
	}
	return dto
}

// FromJob converts a catalog job. names maps station ids to names and may be
// nil.
func FromJob(job *catalog.Job, names map[int64]string) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		JobID:     job.JobID,
		StationID: job.StationID,
		Station:   names[job.StationID],
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		StartTime: formatTime(job.StartTime),
	}
	if job.EndTime != nil {
		dto.EndTime = formatTime(*job.EndTime)
	}
	return dto
}

// FromJobs converts a slice of jobs.
func FromJobs(jobs []*catalog.Job, names map[int64]string) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job, names))
	}
	return out
}

// FromRecording converts a catalog recording. names maps station ids to names
// and may be nil.
func FromRecording(rec *catalog.Recording, names map[int64]string) Recording {
	if rec == nil {
		return Recording{}
	}
	return Recording{
		ID:        rec.ID,
		StationID: rec.StationID,
		Station:   names[rec.StationID],
		Date:      rec.Date,
		Hour:      rec.Hour,
		Key:       rec.FilePath,
		Kind:      string(rec.Kind),
		Uploaded:  rec.Uploaded,
		CreatedAt: formatTime(rec.CreatedAt),
	}
}

// FromRecordings converts a slice of recordings.
func FromRecordings(recs []*catalog.Recording, names map[int64]string) []Recording {
	out := make([]Recording, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecording(rec, names))
	}
	return out
}

// FromHealth converts readiness results.
func FromHealth(results []preflight.Result) HealthResponse {
	resp := HealthResponse{
		Healthy: preflight.Healthy(results),
		Checks:  make([]HealthCheck, 0, len(results)),
	}
	for _, r := range results {
		resp.Checks = append(resp.Checks, HealthCheck{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return resp
}

// StationNames indexes stations by id.
func StationNames(stations []*catalog.Station) map[int64]string {
	names := make(map[int64]string, len(stations))
	for _, st := range stations {
		if st != nil {
			names[st.ID] = st.Name
		}
	}
	return names
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
