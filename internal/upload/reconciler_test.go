package upload_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/config"
	"radiologger/internal/testsupport"
	"radiologger/internal/upload"
)

var now = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

type fixture struct {
	cfg     *config.Config
	store   *catalog.Store
	objects *testsupport.MemoryObjectStore
	rec     *upload.Reconciler
	station *catalog.Station
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	objects := testsupport.NewMemoryObjectStore()
	st := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1", AlwaysOn: true})
	rec := upload.NewReconciler(cfg, store, objects, nil, upload.WithClock(func() time.Time { return now }))
	return &fixture{cfg: cfg, store: store, objects: objects, rec: rec, station: st}
}

func (f *fixture) segment(t *testing.T, date, hour string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(f.cfg.Paths.RecordingsDir, "R1", date, hour+".mp3")
	testsupport.WriteSegment(t, path, mtime)
	return path
}

func TestRunUploadsFreshAndSettledSegments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.segment(t, "2024-05-01", "13", now.Add(-29*time.Minute))
	f.segment(t, "2024-05-01", "14", now.Add(-10*time.Second))

	report := f.rec.Run(ctx)
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors %v", report.Errors)
	}
	if report.Scanned != 2 || report.Fresh != 1 || report.Uploaded != 2 || report.Cataloged != 2 {
		t.Fatalf("unexpected first report %+v", report)
	}
	if !f.objects.Has("opnames/R1/2024-05-01/14.mp3") {
		t.Fatal("segment still being written must be uploaded")
	}

	recs, err := f.store.ListRecordings(ctx, catalog.RecordingFilter{})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recs) != 2 || !recs[1].Uploaded || recs[1].Kind != catalog.KindAlwaysOn {
		t.Fatalf("unexpected catalog rows %+v", recs)
	}

	// The settled segment is skipped; the fresh one is overwritten again.
	report = f.rec.Run(ctx)
	if report.Uploaded != 1 || report.AlreadyRemote != 1 || report.Cataloged != 0 {
		t.Fatalf("unexpected repeat report %+v", report)
	}
	puts := f.objects.Puts()
	if len(puts) != 3 || puts[2] != "opnames/R1/2024-05-01/14.mp3" {
		t.Fatalf("unexpected uploads %v", puts)
	}
}

func TestRunReuploadsSegmentThatGrewAfterUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "opnames/R1/2024-05-01/09.mp3"
	f.segment(t, "2024-05-01", "09", now.Add(-5*time.Hour))
	f.objects.Seed(key, []byte("partial"))

	report := f.rec.Run(ctx)
	if report.Uploaded != 1 || report.AlreadyRemote != 0 {
		t.Fatalf("expected stale remote copy to be replaced, got %+v", report)
	}
	if report.Retention.Deleted != 1 {
		t.Fatalf("expected swept after full upload, got %+v", report.Retention)
	}

	f2 := newFixture(t)
	path := f2.segment(t, "2024-05-01", "09", now.Add(-5*time.Hour))
	f2.objects.Seed(key, []byte("partial"))
	f2.objects.FailPut(key)
	report = f2.rec.Run(ctx)
	if report.UploadFailed != 1 || report.Retention.Deleted != 0 || report.Retention.NotDurable != 1 {
		t.Fatalf("stale remote copy must not make the file durable, got %+v", report)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("local segment must be kept: %v", err)
	}
}

func TestRunMergesCatalogWithRemoteListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.objects.Seed("opnames/R1/2024-04-30/23.mp3", []byte("a"))
	f.objects.Seed("opnames/Unknown FM/2024-04-30/23.mp3", []byte("b"))
	f.objects.Seed("opnames/readme.txt", []byte("c"))
	if _, err := f.store.UpsertRecording(ctx, catalog.Recording{
		StationID: f.station.ID,
		Date:      "2024-04-29",
		Hour:      "10",
		FilePath:  "opnames/R1/2024-04-29/10.mp3",
		Uploaded:  true,
	}); err != nil {
		t.Fatalf("UpsertRecording failed: %v", err)
	}

	report := f.rec.Run(ctx)
	if report.Listed != 3 || report.Inserted != 1 || report.Removed != 1 {
		t.Fatalf("unexpected merge report %+v", report)
	}
	paths, err := f.store.RecordingPaths(ctx)
	if err != nil {
		t.Fatalf("RecordingPaths failed: %v", err)
	}
	if !reflect.DeepEqual(paths, []string{"opnames/R1/2024-04-30/23.mp3"}) {
		t.Fatalf("unexpected catalog paths %v", paths)
	}

	report = f.rec.Run(ctx)
	if report.Inserted != 0 || report.Removed != 0 {
		t.Fatalf("expected merge to be idempotent, got %+v", report)
	}
}

func TestRunIsolatesUploadFailures(t *testing.T) {
	f := newFixture(t)
	failing := f.segment(t, "2024-05-01", "10", now.Add(-3*time.Hour))
	passing := f.segment(t, "2024-05-01", "11", now.Add(-3*time.Hour))
	f.objects.FailPut("opnames/R1/2024-05-01/10.mp3")

	report := f.rec.Run(context.Background())
	if report.UploadFailed != 1 || report.Uploaded != 1 {
		t.Fatalf("unexpected upload counts %+v", report)
	}
	if report.Retention.Deleted != 1 || report.Retention.NotDurable != 1 {
		t.Fatalf("unexpected retention counts %+v", report.Retention)
	}
	if _, err := os.Stat(failing); err != nil {
		t.Fatalf("file that failed to upload must stay: %v", err)
	}
	if _, err := os.Stat(passing); !os.IsNotExist(err) {
		t.Fatalf("uploaded expired file should be swept, stat err=%v", err)
	}
}

func TestRunFallsBackToHeadWhenListingFails(t *testing.T) {
	f := newFixture(t)
	file := f.segment(t, "2024-05-01", "09", now.Add(-5*time.Hour))
	body, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	f.objects.Seed("opnames/R1/2024-05-01/09.mp3", body)
	f.objects.FailList(true)

	report := f.rec.Run(context.Background())
	if !report.HeadFallback {
		t.Fatal("expected per-file durability fallback")
	}
	if len(report.Errors) != 1 || !strings.HasPrefix(report.Errors[0], "list:") {
		t.Fatalf("expected only the listing error, got %v", report.Errors)
	}
	if report.AlreadyRemote != 1 || report.Retention.Deleted != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatalf("durable expired file should be swept, stat err=%v", err)
	}
}

func TestRunWithoutObjectStore(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutStorage())
	store := testsupport.MustOpenStore(t, cfg)
	rec := upload.NewReconciler(cfg, store, nil, nil)
	report := rec.Run(context.Background())
	if len(report.Errors) != 1 || report.Scanned != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
