package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// CheckHealth gathers diagnostic information about the catalog database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.Error = "database file does not exist"
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	health.DatabaseExists = true

	ctx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = fmt.Sprintf("database not readable: %v", err)
		return health, nil
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		health.Error = fmt.Sprintf("select failed: %v", err)
		return health, nil
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = fmt.Sprintf("read schema version: %v", err)
		return health, nil
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrity); err == nil {
		health.IntegrityCheck = integrity == "ok"
	}

	counts := []struct {
		query string
		dest  *int
		args  []any
	}{
		{"SELECT COUNT(*) FROM stations", &health.Stations, nil},
		{"SELECT COUNT(*) FROM capture_jobs WHERE status = ?", &health.RunningJobs, []any{string(JobRunning)}},
		{"SELECT COUNT(*) FROM recordings", &health.Recordings, nil},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			health.Error = fmt.Sprintf("count rows: %v", err)
			return health, nil
		}
	}
	return health, nil
}
