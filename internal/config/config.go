package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	RecordingsDir string `toml:"recordings_dir"`
	LogDir        string `toml:"log_dir"`
	StateDir      string `toml:"state_dir"`
	APIBind       string `toml:"api_bind"`
	APIToken      string `toml:"api_token"`
}

// Capture contains settings for the external capture tool.
type Capture struct {
	FFmpegPath            string `toml:"ffmpeg_path"`
	Extension             string `toml:"extension"`
	Timezone              string `toml:"timezone"`
	SegmentSeconds        int    `toml:"segment_seconds"`
	ManualDurationSeconds int    `toml:"manual_duration_seconds"`
	MinFreeGiB            int    `toml:"min_free_gib"`
	ProbeTimeoutSeconds   int    `toml:"probe_timeout_seconds"`
}

// Storage contains S3-compatible object storage settings.
type Storage struct {
	Endpoint              string `toml:"endpoint"`
	Region                string `toml:"region"`
	Bucket                string `toml:"bucket"`
	AccessKey             string `toml:"access_key"`
	SecretKey             string `toml:"secret_key"`
	Namespace             string `toml:"namespace"`
	UploadTimeoutSeconds  int    `toml:"upload_timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	PresignTTLSeconds     int    `toml:"presign_ttl_seconds"`
}

// Schedule contains the cadences of the daemon's periodic jobs.
type Schedule struct {
	CheckIntervalSeconds  int    `toml:"check_interval_seconds"`
	UploadIntervalMinutes int    `toml:"upload_interval_minutes"`
	UploadGraceSeconds    int    `toml:"upload_grace_seconds"`
	RetentionHours        int    `toml:"retention_hours"`
	LogCleanupCron        string `toml:"log_cleanup_cron"`
}

// Resolver contains stream URL resolution settings.
type Resolver struct {
	Enabled        bool `toml:"enabled"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
}

// ArchiveSource describes an hourly archive file published by a broadcaster.
type ArchiveSource struct {
	Station     string `toml:"station"`
	URLTemplate string `toml:"url_template"`
	Minute      int    `toml:"minute"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for radiologger.
//
// Configuration sections by subsystem:
//   - Paths: recordings, logs, daemon state, and API bind address
//   - Capture: ffmpeg invocation and the disk space floor
//   - Storage: S3-compatible bucket used as the durable archive
//   - Schedule: recording check, upload sweep, retention, and log cleanup cadences
//   - Resolver: stream URL resolution before launch
//   - Archive: broadcaster archive files pulled once per hour
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths           `toml:"paths"`
	Capture  Capture         `toml:"capture"`
	Storage  Storage         `toml:"storage"`
	Schedule Schedule        `toml:"schedule"`
	Resolver Resolver        `toml:"resolver"`
	Archive  []ArchiveSource `toml:"archive"`
	Logging  Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/radiologger/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("radiologger.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RecordingsDir, c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the catalog database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "radiologger.db")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "radiologger.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "radiologger.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "radiologger.pid")
}

// Location returns the timezone used for schedule windows and segment names.
func (c *Config) Location() *time.Location {
	if c.Capture.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Capture.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// StorageConfigured reports whether an object storage bucket is set up.
func (c *Config) StorageConfigured() bool {
	return strings.TrimSpace(c.Storage.Bucket) != ""
}

// MinFreeBytes returns the disk space floor enforced before launching captures.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.Capture.MinFreeGiB) << 30
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
