// Package catalog persists stations, capture jobs, and recordings in SQLite.
//
// The Store manages the database connection, schema initialization, busy
// retries, and health diagnostics. Stations are written by the admin surface
// (here: the CLI import command) and only read by the recorder. Capture jobs are
// the job tracker: one row per capture attempt, opened when a process is
// launched and closed when it is stopped or disappears. Recordings form the
// catalog of uploaded hourly segments, keyed uniquely by station, date, and
// hour so every write is an idempotent upsert.
//
// Schema changes bump schemaVersion in schema.go; an existing database with an
// older version is rejected with ErrSchemaMismatch.
package catalog
