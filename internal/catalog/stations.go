package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const stationColumns = `id, name, recording_url, always_on, schedule_start_date, schedule_start_hour,
	schedule_end_date, schedule_end_hour, display_order, record_reason, created_at, updated_at`

// ListStations returns every station in display order.
func (s *Store) ListStations(ctx context.Context) ([]*Station, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+stationColumns+` FROM stations ORDER BY display_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var stations []*Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// StationByName fetches a station by its exact name. It returns nil when absent.
func (s *Store) StationByName(ctx context.Context, name string) (*Station, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+stationColumns+` FROM stations WHERE name = ?`, name)
	st, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// StationByID fetches a station by primary key. It returns nil when absent.
func (s *Store) StationByID(ctx context.Context, id int64) (*Station, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+stationColumns+` FROM stations WHERE id = ?`, id)
	st, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// UpsertStation inserts a station or updates the row with the same name.
func (s *Store) UpsertStation(ctx context.Context, st *Station) (*Station, error) {
	if st == nil {
		return nil, errors.New("station is nil")
	}
	name := strings.TrimSpace(st.Name)
	if name == "" {
		return nil, errors.New("station name is required")
	}
	if strings.TrimSpace(st.URL) == "" {
		return nil, fmt.Errorf("station %q: recording url is required", name)
	}

	var (
		startDate, endDate sql.NullString
		startHour, endHour sql.NullInt64
	)
	if st.Window != nil {
		if _, _, err := st.Window.Bounds(time.UTC); err != nil {
			return nil, fmt.Errorf("station %q: %w", name, err)
		}
		startDate = nullableString(st.Window.StartDate)
		startHour = nullableInt(st.Window.StartHour, true)
		endDate = nullableString(st.Window.EndDate)
		endHour = nullableInt(st.Window.EndHour, true)
	}

	now := formatTime(time.Now())
	_, err := s.execWithRetry(ctx, `INSERT INTO stations (
			name, recording_url, always_on, schedule_start_date, schedule_start_hour,
			schedule_end_date, schedule_end_hour, display_order, record_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			recording_url = excluded.recording_url,
			always_on = excluded.always_on,
			schedule_start_date = excluded.schedule_start_date,
			schedule_start_hour = excluded.schedule_start_hour,
			schedule_end_date = excluded.schedule_end_date,
			schedule_end_hour = excluded.schedule_end_hour,
			display_order = excluded.display_order,
			record_reason = excluded.record_reason,
			updated_at = excluded.updated_at`,
		name, st.URL, boolToInt(st.AlwaysOn), startDate, startHour, endDate, endHour,
		st.DisplayOrder, nullableString(st.Reason), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert station %q: %w", name, err)
	}
	return s.StationByName(ctx, name)
}

// DeleteStation removes a station and, through cascading keys, its jobs and
// recordings rows.
func (s *Store) DeleteStation(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM stations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete station: %w", err)
	}
	return nil
}

func scanStation(scanner interface{ Scan(dest ...any) error }) (*Station, error) {
	var (
		st                   Station
		alwaysOn             int
		startDate, endDate   sql.NullString
		startHour, endHour   sql.NullInt64
		reason               sql.NullString
		createdAt, updatedAt string
	)
	if err := scanner.Scan(
		&st.ID, &st.Name, &st.URL, &alwaysOn, &startDate, &startHour,
		&endDate, &endHour, &st.DisplayOrder, &reason, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	st.AlwaysOn = alwaysOn != 0
	if startDate.Valid && endDate.Valid && startHour.Valid && endHour.Valid {
		st.Window = &Window{
			StartDate: startDate.String,
			StartHour: int(startHour.Int64),
			EndDate:   endDate.String,
			EndHour:   int(endHour.Int64),
		}
	}
	if reason.Valid {
		st.Reason = reason.String
	}
	st.CreatedAt = parseTimeString(createdAt)
	st.UpdatedAt = parseTimeString(updatedAt)
	return &st, nil
}
