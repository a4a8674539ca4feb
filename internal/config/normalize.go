package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeStorage()
	if err := c.normalizeSchedule(); err != nil {
		return err
	}
	c.normalizeResolver()
	c.normalizeArchive()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RecordingsDir) == "" {
		if value, ok := os.LookupEnv("RECORDINGS_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.RecordingsDir = strings.TrimSpace(value)
		} else {
			c.Paths.RecordingsDir = defaultRecordingsDir
		}
	}
	if c.Paths.RecordingsDir, err = expandPath(c.Paths.RecordingsDir); err != nil {
		return fmt.Errorf("paths.recordings_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		if value, ok := os.LookupEnv("LOGS_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.LogDir = strings.TrimSpace(value)
		} else {
			c.Paths.LogDir = defaultLogDir
		}
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("RADIOLOGGER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.FFmpegPath = strings.TrimSpace(c.Capture.FFmpegPath)
	if c.Capture.FFmpegPath == "" {
		if value, ok := os.LookupEnv("FFMPEG_PATH"); ok && strings.TrimSpace(value) != "" {
			c.Capture.FFmpegPath = strings.TrimSpace(value)
		} else {
			c.Capture.FFmpegPath = defaultFFmpegPath
		}
	}
	c.Capture.Extension = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Capture.Extension), "."))
	if c.Capture.Extension == "" {
		c.Capture.Extension = defaultExtension
	}
	c.Capture.Timezone = strings.TrimSpace(c.Capture.Timezone)
	if c.Capture.SegmentSeconds <= 0 {
		c.Capture.SegmentSeconds = defaultSegmentSeconds
	}
	if c.Capture.ManualDurationSeconds <= 0 {
		c.Capture.ManualDurationSeconds = defaultManualDurationSeconds
	}
	if c.Capture.ProbeTimeoutSeconds <= 0 {
		c.Capture.ProbeTimeoutSeconds = defaultProbeTimeoutSeconds
	}
}

func (c *Config) normalizeStorage() {
	lookup := func(current, env, fallback string) string {
		current = strings.TrimSpace(current)
		if current != "" {
			return current
		}
		if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}
	c.Storage.Endpoint = lookup(c.Storage.Endpoint, "WASABI_ENDPOINT_URL", defaultStorageEndpoint)
	c.Storage.Region = lookup(c.Storage.Region, "WASABI_REGION", defaultStorageRegion)
	c.Storage.Bucket = lookup(c.Storage.Bucket, "WASABI_BUCKET", "")
	c.Storage.AccessKey = lookup(c.Storage.AccessKey, "WASABI_ACCESS_KEY", "")
	c.Storage.SecretKey = lookup(c.Storage.SecretKey, "WASABI_SECRET_KEY", "")
	c.Storage.Namespace = strings.Trim(strings.TrimSpace(c.Storage.Namespace), "/")
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = defaultStorageNamespace
	}
	if c.Storage.UploadTimeoutSeconds <= 0 {
		c.Storage.UploadTimeoutSeconds = defaultUploadTimeoutSeconds
	}
	if c.Storage.RequestTimeoutSeconds <= 0 {
		c.Storage.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.Storage.PresignTTLSeconds <= 0 {
		c.Storage.PresignTTLSeconds = defaultPresignTTLSeconds
	}
}

func (c *Config) normalizeSchedule() error {
	if c.Schedule.RetentionHours == 0 {
		c.Schedule.RetentionHours = defaultRetentionHours
		if value, ok := os.LookupEnv("LOCAL_FILE_RETENTION"); ok && strings.TrimSpace(value) != "" {
			hours, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("LOCAL_FILE_RETENTION: %w", err)
			}
			c.Schedule.RetentionHours = hours
		}
	}
	if c.Schedule.CheckIntervalSeconds <= 0 {
		c.Schedule.CheckIntervalSeconds = defaultCheckIntervalSeconds
	}
	if c.Schedule.UploadIntervalMinutes <= 0 {
		c.Schedule.UploadIntervalMinutes = defaultUploadIntervalMinutes
	}
	if c.Schedule.UploadGraceSeconds < 0 {
		c.Schedule.UploadGraceSeconds = defaultUploadGraceSeconds
	}
	c.Schedule.LogCleanupCron = strings.TrimSpace(c.Schedule.LogCleanupCron)
	if c.Schedule.LogCleanupCron == "" {
		c.Schedule.LogCleanupCron = defaultLogCleanupCron
	}
	return nil
}

func (c *Config) normalizeResolver() {
	if c.Resolver.TimeoutSeconds <= 0 {
		c.Resolver.TimeoutSeconds = defaultResolverTimeout
	}
}

func (c *Config) normalizeArchive() {
	for i := range c.Archive {
		c.Archive[i].Station = strings.TrimSpace(c.Archive[i].Station)
		c.Archive[i].URLTemplate = strings.TrimSpace(c.Archive[i].URLTemplate)
		if c.Archive[i].Minute <= 0 {
			c.Archive[i].Minute = defaultArchiveMinute
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
