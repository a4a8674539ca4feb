package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"radiologger/internal/config"
)

func clearStorageEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WASABI_ACCESS_KEY", "WASABI_SECRET_KEY", "WASABI_BUCKET", "WASABI_REGION",
		"WASABI_ENDPOINT_URL", "FFMPEG_PATH", "RECORDINGS_DIR", "LOGS_DIR", "LOCAL_FILE_RETENTION",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearStorageEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRecordings := filepath.Join(tempHome, ".local", "share", "radiologger", "recordings", "stations")
	if cfg.Paths.RecordingsDir != wantRecordings {
		t.Fatalf("unexpected recordings dir: got %q want %q", cfg.Paths.RecordingsDir, wantRecordings)
	}
	if cfg.Capture.FFmpegPath != "ffmpeg" {
		t.Fatalf("unexpected ffmpeg path: %q", cfg.Capture.FFmpegPath)
	}
	if cfg.Storage.Endpoint != "https://s3.eu-central-1.wasabisys.com" {
		t.Fatalf("unexpected endpoint: %q", cfg.Storage.Endpoint)
	}
	if cfg.Storage.Namespace != "opnames" {
		t.Fatalf("unexpected namespace: %q", cfg.Storage.Namespace)
	}
	if cfg.StorageConfigured() {
		t.Fatal("expected storage to be unconfigured by default")
	}
	if cfg.Schedule.RetentionHours != 2 {
		t.Fatalf("expected retention 2h, got %d", cfg.Schedule.RetentionHours)
	}
	if cfg.MinFreeBytes() != 2<<30 {
		t.Fatalf("unexpected disk floor: %d", cfg.MinFreeBytes())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RecordingsDir, cfg.Paths.LogDir, cfg.Paths.StateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if filepath.Dir(cfg.DatabasePath()) != cfg.Paths.StateDir {
		t.Fatalf("database should live in state dir, got %q", cfg.DatabasePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearStorageEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "radiologger.toml")

	type payload struct {
		Paths struct {
			RecordingsDir string `toml:"recordings_dir"`
		} `toml:"paths"`
		Storage struct {
			Bucket    string `toml:"bucket"`
			AccessKey string `toml:"access_key"`
			SecretKey string `toml:"secret_key"`
			Namespace string `toml:"namespace"`
		} `toml:"storage"`
		Capture struct {
			Extension string `toml:"extension"`
			Timezone  string `toml:"timezone"`
		} `toml:"capture"`
	}
	custom := payload{}
	custom.Paths.RecordingsDir = filepath.Join(tempDir, "rec")
	custom.Storage.Bucket = "radio"
	custom.Storage.AccessKey = "ak"
	custom.Storage.SecretKey = "sk"
	custom.Storage.Namespace = "/archive/"
	custom.Capture.Extension = ".AAC"
	custom.Capture.Timezone = "UTC"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if !cfg.StorageConfigured() {
		t.Fatal("expected storage to be configured")
	}
	if cfg.Storage.Namespace != "archive" {
		t.Fatalf("expected trimmed namespace, got %q", cfg.Storage.Namespace)
	}
	if cfg.Capture.Extension != "aac" {
		t.Fatalf("expected normalized extension, got %q", cfg.Capture.Extension)
	}
	if cfg.Location().String() != "UTC" {
		t.Fatalf("unexpected location: %s", cfg.Location())
	}
}

func TestEnvFallbacksFillEmptyValues(t *testing.T) {
	clearStorageEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WASABI_BUCKET", "env-bucket")
	t.Setenv("WASABI_ACCESS_KEY", "env-ak")
	t.Setenv("WASABI_SECRET_KEY", "env-sk")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("LOCAL_FILE_RETENTION", "6")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Bucket != "env-bucket" || cfg.Storage.AccessKey != "env-ak" || cfg.Storage.SecretKey != "env-sk" {
		t.Fatalf("expected storage credentials from env, got %+v", cfg.Storage)
	}
	if cfg.Capture.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected ffmpeg path from env, got %q", cfg.Capture.FFmpegPath)
	}
	if cfg.Schedule.RetentionHours != 6 {
		t.Fatalf("expected retention from env, got %d", cfg.Schedule.RetentionHours)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bucket without keys", func(c *config.Config) { c.Storage.Bucket = "b" }, "storage.access_key"},
		{"minute-long check", func(c *config.Config) { c.Schedule.CheckIntervalSeconds = 60 }, "check_interval_seconds"},
		{"zero retention", func(c *config.Config) { c.Schedule.RetentionHours = 0 }, "retention_hours"},
		{"bad cron", func(c *config.Config) { c.Schedule.LogCleanupCron = "every day" }, "log_cleanup_cron"},
		{"bad timezone", func(c *config.Config) { c.Capture.Timezone = "Mars/Olympus" }, "capture.timezone"},
		{"archive without url", func(c *config.Config) {
			c.Archive = []config.ArchiveSource{{Station: "LvC", Minute: 8}}
		}, "url_template"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.RecordingsDir = t.TempDir()
			cfg.Paths.StateDir = t.TempDir()
			cfg.Schedule.RetentionHours = 2
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearStorageEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample to load, exists=%v err=%v", exists, err)
	}
}
