// Package config loads, normalizes, and validates radiologger configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// WASABI_ACCESS_KEY and FFMPEG_PATH. The Config type centralizes every knob the
// daemon and CLI need, so recording directories, object storage credentials,
// and scheduler cadences are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
