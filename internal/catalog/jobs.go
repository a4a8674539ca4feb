package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, job_id, station_id, kind, start_time, end_time, status, created_at`

// JobIdentifier formats the external job id for a capture started at t.
func JobIdentifier(kind JobKind, stationID int64, t time.Time) string {
	return fmt.Sprintf("%s_%d_%s", kind, stationID, t.Format("20060102150405"))
}

// OpenJob records a running capture for station and kind. When a running job
// already exists for the pair its start time is refreshed instead, so repeated
// calls never produce duplicate running rows.
func (s *Store) OpenJob(ctx context.Context, stationID int64, kind JobKind, started time.Time) (*Job, error) {
	var jobID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT job_id FROM capture_jobs WHERE station_id = ? AND kind = ? AND status = ?
			 ORDER BY id DESC LIMIT 1`,
			stationID, string(kind), string(JobRunning),
		).Scan(&existing)
		switch {
		case err == nil:
			jobID = existing
			_, err = tx.ExecContext(ctx,
				`UPDATE capture_jobs SET start_time = ? WHERE job_id = ?`,
				formatTime(started), existing)
			return err
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}

		jobID = JobIdentifier(kind, stationID, started)
		now := formatTime(time.Now())
		_, err = tx.ExecContext(ctx, `INSERT INTO capture_jobs
			(job_id, station_id, kind, start_time, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET status = excluded.status, end_time = NULL`,
			jobID, stationID, string(kind), formatTime(started), string(JobRunning), now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open job: %w", err)
	}
	return s.JobByID(ctx, jobID)
}

// CloseJob moves a job to a terminal status and stamps its end time. Closing
// an already closed job is a no-op.
func (s *Store) CloseJob(ctx context.Context, jobID string, status JobStatus, ended time.Time) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE capture_jobs SET status = ?, end_time = ? WHERE job_id = ? AND status = ?`,
		string(status), formatTime(ended), jobID, string(JobRunning))
	if err != nil {
		return fmt.Errorf("close job %s: %w", jobID, err)
	}
	return nil
}

// CloseStationJobs closes every running job of a station and returns how many
// rows changed.
func (s *Store) CloseStationJobs(ctx context.Context, stationID int64, status JobStatus, ended time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE capture_jobs SET status = ?, end_time = ? WHERE station_id = ? AND status = ?`,
		string(status), formatTime(ended), stationID, string(JobRunning))
	if err != nil {
		return 0, fmt.Errorf("close station jobs: %w", err)
	}
	return res.RowsAffected()
}

// CloseStaleJobs closes running jobs whose station is not in live. It is used
// after a restart, once running processes have been adopted.
func (s *Store) CloseStaleJobs(ctx context.Context, live []int64, ended time.Time) (int64, error) {
	query := `UPDATE capture_jobs SET status = ?, end_time = ? WHERE status = ?`
	args := []any{string(JobStopped), formatTime(ended), string(JobRunning)}
	if len(live) > 0 {
		query += ` AND station_id NOT IN (` + makePlaceholders(len(live)) + `)`
		for _, id := range live {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("close stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobByID fetches a job by its external id. It returns nil when absent.
func (s *Store) JobByID(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM capture_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// RunningJobs returns all jobs currently marked running.
func (s *Store) RunningJobs(ctx context.Context) ([]*Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM capture_jobs WHERE status = ? ORDER BY station_id, id`,
		string(JobRunning))
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM capture_jobs ORDER BY id DESC LIMIT ?`, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                  Job
		kind, status         string
		startTime, createdAt string
		endTime              sql.NullString
	)
	if err := scanner.Scan(&job.ID, &job.JobID, &job.StationID, &kind, &startTime, &endTime, &status, &createdAt); err != nil {
		return nil, err
	}
	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	job.StartTime = parseTimeString(startTime)
	job.CreatedAt = parseTimeString(createdAt)
	if endTime.Valid {
		ts := parseTimeString(endTime.String)
		job.EndTime = &ts
	}
	return &job, nil
}
