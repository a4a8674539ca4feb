package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.RecordingsDir == "" {
		return errors.New("paths.recordings_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if err := ensurePositiveMap(map[string]int{
		"capture.segment_seconds":         c.Capture.SegmentSeconds,
		"capture.manual_duration_seconds": c.Capture.ManualDurationSeconds,
		"capture.probe_timeout_seconds":   c.Capture.ProbeTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Capture.MinFreeGiB < 0 {
		return errors.New("capture.min_free_gib must be >= 0")
	}
	if strings.ContainsAny(c.Capture.Extension, `/\ `) {
		return fmt.Errorf("capture.extension %q is not a plain file extension", c.Capture.Extension)
	}
	if c.Capture.Timezone != "" {
		if _, err := time.LoadLocation(c.Capture.Timezone); err != nil {
			return fmt.Errorf("capture.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.StorageConfigured() {
		return nil
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage.access_key and storage.secret_key must be set when storage.bucket is configured (or set WASABI_ACCESS_KEY and WASABI_SECRET_KEY)")
	}
	parsed, err := url.Parse(c.Storage.Endpoint)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("storage.endpoint %q must be an absolute URL", c.Storage.Endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("storage.endpoint %q must use http or https", c.Storage.Endpoint)
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.CheckIntervalSeconds >= 60 {
		return errors.New("schedule.check_interval_seconds must be below 60 so captures converge within a minute")
	}
	if c.Schedule.RetentionHours < 1 {
		return errors.New("schedule.retention_hours must be at least 1")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.LogCleanupCron); err != nil {
		return fmt.Errorf("schedule.log_cleanup_cron: %w", err)
	}
	return nil
}

func (c *Config) validateArchive() error {
	seen := make(map[string]struct{}, len(c.Archive))
	for i, src := range c.Archive {
		if src.Station == "" {
			return fmt.Errorf("archive[%d].station must be set", i)
		}
		if src.URLTemplate == "" {
			return fmt.Errorf("archive[%d].url_template must be set", i)
		}
		if src.Minute < 0 || src.Minute > 59 {
			return fmt.Errorf("archive[%d].minute must be between 0 and 59", i)
		}
		if _, dup := seen[src.Station]; dup {
			return fmt.Errorf("archive station %q configured twice", src.Station)
		}
		seen[src.Station] = struct{}{}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
