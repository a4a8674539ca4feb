package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	stateDir   string
}

// setupCLITestEnv writes a config rooted in a temp dir with object storage
// left unconfigured so commands never reach the network.
func setupCLITestEnv(t *testing.T, extra string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, key := range []string{"WASABI_BUCKET", "WASABI_ACCESS_KEY", "WASABI_SECRET_KEY"} {
		t.Setenv(key, "")
	}

	stateDir := filepath.Join(base, "state")
	content := fmt.Sprintf(`[paths]
recordings_dir = %q
log_dir = %q
state_dir = %q
api_bind = "127.0.0.1:0"

[capture]
timezone = "UTC"
min_free_gib = 0

[resolver]
enabled = false
%s`,
		filepath.Join(base, "recordings", "stations"),
		filepath.Join(base, "logs"),
		stateDir,
		extra,
	)
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{baseDir: base, configPath: configPath, stateDir: stateDir}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
