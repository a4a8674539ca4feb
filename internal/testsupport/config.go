package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"radiologger/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Storage points at a placeholder bucket; tests pair it with MemoryObjectStore.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RecordingsDir = filepath.Join(base, "recordings", "stations")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Capture.FFmpegPath = "ffmpeg"
	cfgVal.Capture.Timezone = "UTC"
	cfgVal.Capture.MinFreeGiB = 0
	cfgVal.Storage.Endpoint = "http://127.0.0.1:9000"
	cfgVal.Storage.Region = "test-region"
	cfgVal.Storage.Bucket = "test-bucket"
	cfgVal.Storage.AccessKey = "test"
	cfgVal.Storage.SecretKey = "test"
	cfgVal.Schedule.RetentionHours = 2
	cfgVal.Resolver.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMinFreeGiB sets the disk space floor enforced before launches.
func WithMinFreeGiB(gib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.MinFreeGiB = gib
	}
}

// WithoutStorage clears the bucket so the object store counts as unconfigured.
func WithoutStorage() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Bucket = ""
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed. The ffmpeg stub
// answers -version like the real tool and otherwise sleeps until signalled.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			script := []byte("#!/bin/sh\nexit 0\n")
			if name == "ffmpeg" {
				script = []byte(ffmpegStub)
			}
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

const ffmpegStub = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.1-stub Copyright (c) 2000-2023 the FFmpeg developers"
  exit 0
fi
exec sleep 30
`
