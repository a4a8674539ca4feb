// Package objectstore wraps the S3-compatible bucket that serves as the
// durable archive of hourly segments.
//
// The Store type exposes only the handful of calls the rest of radiologger
// needs (put, head, list, delete, presign, ping), each bounded by the
// configured request or upload timeout.
package objectstore
