package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const recordingColumns = `id, station_id, date, hour, filepath, kind, uploaded, created_at`

// UpsertRecording writes the catalog row for one uploaded segment. The
// conflict update only fires when the row actually differs, so changed is
// false for a repeat write of identical state.
func (s *Store) UpsertRecording(ctx context.Context, rec Recording) (bool, error) {
	if err := validateRecording(rec); err != nil {
		return false, err
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO recordings
			(station_id, date, hour, filepath, kind, uploaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, date, hour) DO UPDATE SET
			filepath = excluded.filepath,
			kind = excluded.kind,
			uploaded = excluded.uploaded
		WHERE recordings.filepath <> excluded.filepath
			OR recordings.uploaded <> excluded.uploaded`,
		rec.StationID, rec.Date, rec.Hour, rec.FilePath, string(kindOrDefault(rec.Kind)),
		boolToInt(rec.Uploaded), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("upsert recording %s: %w", rec.FilePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert recording rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertRecordingIfAbsent adds a row discovered in remote storage. Existing
// rows for the same station, date, and hour are left untouched.
func (s *Store) InsertRecordingIfAbsent(ctx context.Context, rec Recording) (bool, error) {
	if err := validateRecording(rec); err != nil {
		return false, err
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO recordings
			(station_id, date, hour, filepath, kind, uploaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, date, hour) DO NOTHING`,
		rec.StationID, rec.Date, rec.Hour, rec.FilePath, string(kindOrDefault(rec.Kind)),
		boolToInt(rec.Uploaded), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert recording %s: %w", rec.FilePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert recording rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordingPaths returns every catalogued storage path, sorted ascending.
func (s *Store) RecordingPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT filepath FROM recordings`)
	if err != nil {
		return nil, fmt.Errorf("list recording paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// SQLite's text ordering depends on collation; sort with Go's byte order so
	// callers can merge against other sorted key lists.
	sort.Strings(paths)
	return paths, nil
}

// DeleteRecordingByPath removes the catalog rows pointing at storagePath and
// reports how many were removed.
func (s *Store) DeleteRecordingByPath(ctx context.Context, storagePath string) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recordings WHERE filepath = ?`, storagePath)
	if err != nil {
		return 0, fmt.Errorf("delete recording %s: %w", storagePath, err)
	}
	return res.RowsAffected()
}

// RecordingByID fetches one recording. It returns nil when absent.
func (s *Store) RecordingByID(ctx context.Context, id int64) (*Recording, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListRecordings returns recordings newest first, optionally filtered.
func (s *Store) ListRecordings(ctx context.Context, filter RecordingFilter) ([]*Recording, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.StationID > 0 {
		clauses = append(clauses, "station_id = ?")
		args = append(args, filter.StationID)
	}
	if strings.TrimSpace(filter.Date) != "" {
		clauses = append(clauses, "date = ?")
		args = append(args, filter.Date)
	}
	query := `SELECT ` + recordingColumns + ` FROM recordings`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY date DESC, hour DESC, station_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var recs []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func validateRecording(rec Recording) error {
	if rec.StationID <= 0 {
		return errors.New("recording requires a station")
	}
	if _, err := time.Parse(dateLayout, rec.Date); err != nil {
		return fmt.Errorf("recording date %q: %w", rec.Date, err)
	}
	if len(rec.Hour) != 2 || rec.Hour < "00" || rec.Hour > "23" {
		return fmt.Errorf("recording hour %q out of range", rec.Hour)
	}
	if strings.TrimSpace(rec.FilePath) == "" {
		return errors.New("recording requires a storage path")
	}
	return nil
}

func kindOrDefault(kind JobKind) JobKind {
	if kind == "" {
		return KindScheduled
	}
	return kind
}

func scanRecording(scanner interface{ Scan(dest ...any) error }) (*Recording, error) {
	var (
		rec       Recording
		kind      string
		uploaded  int
		createdAt string
	)
	if err := scanner.Scan(&rec.ID, &rec.StationID, &rec.Date, &rec.Hour, &rec.FilePath, &kind, &uploaded, &createdAt); err != nil {
		return nil, err
	}
	rec.Kind = JobKind(kind)
	rec.Uploaded = uploaded != 0
	rec.CreatedAt = parseTimeString(createdAt)
	return &rec, nil
}
