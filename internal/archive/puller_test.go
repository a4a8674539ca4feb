package archive_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"radiologger/internal/archive"
	"radiologger/internal/config"
	"radiologger/internal/testsupport"
)

func TestRenderURL(t *testing.T) {
	// 2024-05-01 is a Wednesday.
	hour := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	got := archive.RenderURL("https://gemist.example/{dow}{HH}.mp3?d={date}", hour)
	if got != "https://gemist.example/wo09.mp3?d=2024-05-01" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := archive.RenderURL("{dow}", hour.AddDate(0, 0, 4)); got != "zo" {
		t.Fatalf("expected sunday abbreviation, got %q", got)
	}
}

func TestPullPreviousDownloadsAtomically(t *testing.T) {
	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3 fake audio payload"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	now := time.Date(2024, 5, 1, 15, 8, 0, 0, time.UTC)
	puller := archive.NewPuller(cfg, nil, archive.WithClock(func() time.Time { return now }))
	src := config.ArchiveSource{Station: "Omroep LvC", URLTemplate: server.URL + "/{dow}{HH}.mp3"}

	result, err := puller.PullPrevious(context.Background(), src)
	if err != nil {
		t.Fatalf("PullPrevious failed: %v", err)
	}
	if requested != "/wo14.mp3" {
		t.Fatalf("unexpected request path %q", requested)
	}
	want := filepath.Join(cfg.Paths.RecordingsDir, "Omroep LvC", "2024-05-01", "14.mp3")
	if result.Path != want || result.Bytes == 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	entries, err := os.ReadDir(filepath.Dir(want))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "14.mp3" {
		t.Fatalf("expected only the final file, got %v", entries)
	}

	again, err := puller.PullPrevious(context.Background(), src)
	if err != nil {
		t.Fatalf("second PullPrevious failed: %v", err)
	}
	if !again.Existed {
		t.Fatal("expected existing file to be reused")
	}
}

func TestPullRejectsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Niet beschikbaar</body></html>"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	puller := archive.NewPuller(cfg, nil)
	hour := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	result, err := puller.Pull(context.Background(), config.ArchiveSource{Station: "LvC", URLTemplate: server.URL + "/{HH}.mp3"}, hour)
	if !errors.Is(err, archive.ErrNotAudio) {
		t.Fatalf("expected ErrNotAudio, got %v", err)
	}
	if _, statErr := os.Stat(result.Path); !os.IsNotExist(statErr) {
		t.Fatalf("no file may be written for html, stat err=%v", statErr)
	}
}

func TestPullFailsOnStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	puller := archive.NewPuller(cfg, nil)
	_, err := puller.Pull(context.Background(), config.ArchiveSource{Station: "LvC", URLTemplate: server.URL + "/x.mp3"}, time.Now())
	if err == nil {
		t.Fatal("expected status error")
	}
}
