package capture_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"radiologger/internal/capture"
	"radiologger/internal/testsupport"
)

func TestArgsSegmented(t *testing.T) {
	args := capture.Args(capture.Spec{
		Station:   "NPO Radio 1",
		SourceURL: "http://icecast.omroep.nl/radio1-bb-mp3",
		Output:    "/rec/NPO Radio 1/2024-05-01/%H.mp3",
	}, 3600)
	got := strings.Join(args, " ")
	want := "-hide_banner -loglevel error -i http://icecast.omroep.nl/radio1-bb-mp3 -vn -acodec copy " +
		"-f segment -segment_time 3600 -reset_timestamps 1 -segment_atclocktime 1 -strftime 1 " +
		"/rec/NPO Radio 1/2024-05-01/%H.mp3"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}
}

func TestArgsManual(t *testing.T) {
	spec := capture.Spec{
		Station:   "R1",
		SourceURL: "http://r1",
		Output:    "/rec/R1/2024-05-01/09.mp3",
		Duration:  time.Hour,
	}
	if !spec.Manual() {
		t.Fatal("expected manual spec")
	}
	args := capture.Args(spec, 3600)
	got := strings.Join(args, " ")
	if !strings.HasSuffix(got, "-acodec copy -t 3600 /rec/R1/2024-05-01/09.mp3") {
		t.Fatalf("unexpected manual args %s", got)
	}
	if strings.Contains(got, "segment") {
		t.Fatalf("manual capture must not segment: %s", got)
	}
}

func TestLauncherStartAndStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	launcher := capture.NewLauncher("ffmpeg", "UTC", 3600, nil)

	output := filepath.Join(cfg.Paths.RecordingsDir, "R1", "2024-05-01", "%H.mp3")
	exited := make(chan capture.Exit, 1)
	handle, err := launcher.Start(context.Background(), capture.Spec{
		Station:   "R1",
		SourceURL: "http://r1",
		Output:    output,
	}, func(exit capture.Exit) { exited <- exit })
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle.PID <= 0 {
		t.Fatalf("expected pid, got %d", handle.PID)
	}
	if !launcher.Alive(handle.PID) {
		t.Fatal("expected child to be alive")
	}

	if err := launcher.Stop(handle.PID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case exit := <-exited:
		if exit.PID != handle.PID {
			t.Fatalf("exit for wrong pid %d", exit.PID)
		}
		if exit.Clean() {
			t.Fatal("expected signalled exit to be unclean")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child exit")
	}
}

func TestLauncherStartFailureIsLaunchError(t *testing.T) {
	launcher := capture.NewLauncher(filepath.Join(t.TempDir(), "missing-ffmpeg"), "", 3600, nil)
	_, err := launcher.Start(context.Background(), capture.Spec{
		Station:   "R1",
		SourceURL: "http://r1",
		Output:    filepath.Join(t.TempDir(), "R1", "%H.mp3"),
	}, nil)
	var launchErr *capture.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if launchErr.Station != "R1" {
		t.Fatalf("unexpected station %q", launchErr.Station)
	}
}

func TestStopUnknownPid(t *testing.T) {
	if err := capture.Stop(0); !errors.Is(err, capture.ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound for pid 0, got %v", err)
	}
	if err := capture.Stop(0x7ffffff0); !errors.Is(err, capture.ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound for absent pid, got %v", err)
	}
	if capture.Alive(0x7ffffff0) {
		t.Fatal("expected absent pid to be reported dead")
	}
}
