// Package api defines the wire-format types shared by the HTTP API and the
// IPC layer. Converters translate catalog rows and readiness results into
// transport-friendly DTOs so consumers never couple to internal types.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC, and enums such as job kind and status are exposed as lowercase strings.
package api
