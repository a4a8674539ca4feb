package config

const (
	defaultRecordingsDir         = "~/.local/share/radiologger/recordings/stations"
	defaultLogDir                = "~/.local/share/radiologger/logs"
	defaultStateDir              = "~/.local/share/radiologger"
	defaultAPIBind               = "127.0.0.1:7590"
	defaultFFmpegPath            = "ffmpeg"
	defaultExtension             = "mp3"
	defaultSegmentSeconds        = 3600
	defaultManualDurationSeconds = 3600
	defaultMinFreeGiB            = 2
	defaultProbeTimeoutSeconds   = 5
	defaultStorageEndpoint       = "https://s3.eu-central-1.wasabisys.com"
	defaultStorageRegion         = "eu-central-1"
	defaultStorageNamespace      = "opnames"
	defaultUploadTimeoutSeconds  = 600
	defaultRequestTimeoutSeconds = 30
	defaultPresignTTLSeconds     = 3600
	defaultCheckIntervalSeconds  = 30
	defaultUploadIntervalMinutes = 15
	defaultUploadGraceSeconds    = 60
	defaultRetentionHours        = 2
	defaultLogCleanupCron        = "0 0 4 * * *"
	defaultResolverTimeout       = 10
	defaultArchiveMinute         = 8
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Default returns a Config populated with repository defaults. Fields with an
// environment fallback stay empty here and are filled during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Capture: Capture{
			Extension:             defaultExtension,
			SegmentSeconds:        defaultSegmentSeconds,
			ManualDurationSeconds: defaultManualDurationSeconds,
			MinFreeGiB:            defaultMinFreeGiB,
			ProbeTimeoutSeconds:   defaultProbeTimeoutSeconds,
		},
		Storage: Storage{
			Namespace:             defaultStorageNamespace,
			UploadTimeoutSeconds:  defaultUploadTimeoutSeconds,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			PresignTTLSeconds:     defaultPresignTTLSeconds,
		},
		Schedule: Schedule{
			CheckIntervalSeconds:  defaultCheckIntervalSeconds,
			UploadIntervalMinutes: defaultUploadIntervalMinutes,
			UploadGraceSeconds:    defaultUploadGraceSeconds,
			LogCleanupCron:        defaultLogCleanupCron,
		},
		Resolver: Resolver{
			Enabled:        true,
			TimeoutSeconds: defaultResolverTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
