package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"radiologger/internal/catalog"
	"radiologger/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected readable database, got %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", health.SchemaVersion)
	}
	if health.Error != "" {
		t.Fatalf("unexpected health error: %s", health.Error)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	path := store.Path()
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version failed: %v", err)
	}
	db.Close()

	if _, err := catalog.OpenPath(path); !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestUpsertStationRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{
		Name: "Radio Rijnmond",
		URL:  "https://icecast.rijnmond.nl/rijnmond",
		Window: &catalog.Window{
			StartDate: "2024-05-01", StartHour: 8,
			EndDate: "2024-05-01", EndHour: 18,
		},
		DisplayOrder: 2,
		Reason:       "verkiezingsdebat",
	})
	if st.ID == 0 {
		t.Fatal("expected station ID to be assigned")
	}
	if st.Window == nil || st.Window.EndHour != 18 {
		t.Fatalf("expected window to round-trip, got %+v", st.Window)
	}

	st.URL = "https://icecast.rijnmond.nl/rijnmond.mp3"
	st.Window = nil
	st.AlwaysOn = true
	updated, err := store.UpsertStation(ctx, st)
	if err != nil {
		t.Fatalf("UpsertStation failed: %v", err)
	}
	if updated.ID != st.ID {
		t.Fatalf("expected upsert to keep ID %d, got %d", st.ID, updated.ID)
	}
	if !updated.AlwaysOn || updated.Window != nil || !strings.HasSuffix(updated.URL, ".mp3") {
		t.Fatalf("unexpected updated station: %+v", updated)
	}

	missing, err := store.StationByName(ctx, "Nope FM")
	if err != nil {
		t.Fatalf("StationByName failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown station, got %+v", missing)
	}
}

func TestListStationsOrdersByDisplayOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewStation(t, store, catalog.Station{Name: "B", URL: "http://b", DisplayOrder: 2})
	testsupport.NewStation(t, store, catalog.Station{Name: "A", URL: "http://a", DisplayOrder: 2})
	testsupport.NewStation(t, store, catalog.Station{Name: "C", URL: "http://c", DisplayOrder: 1})

	stations, err := store.ListStations(context.Background())
	if err != nil {
		t.Fatalf("ListStations failed: %v", err)
	}
	var names []string
	for _, st := range stations {
		names = append(names, st.Name)
	}
	if got := strings.Join(names, ","); got != "C,A,B" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestUpsertStationRejectsBadWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.UpsertStation(context.Background(), &catalog.Station{
		Name:   "Broken",
		URL:    "http://broken",
		Window: &catalog.Window{StartDate: "2024-13-01", StartHour: 8, EndDate: "2024-05-01", EndHour: 9},
	})
	if err == nil {
		t.Fatal("expected error for invalid window date")
	}
}

func TestWindowIsHalfOpen(t *testing.T) {
	loc := time.UTC
	w := catalog.Window{StartDate: "2024-05-01", StartHour: 8, EndDate: "2024-05-01", EndHour: 18}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 5, 1, 7, 59, 59, 0, loc), false},
		{time.Date(2024, 5, 1, 8, 0, 0, 0, loc), true},
		{time.Date(2024, 5, 1, 17, 59, 59, 0, loc), true},
		{time.Date(2024, 5, 1, 18, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		if got := w.Contains(tc.at, loc); got != tc.want {
			t.Fatalf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestOpenJobIsIdempotentPerKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{Name: "NPO Radio 1", URL: "http://npo/radio1", AlwaysOn: true})

	first := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	job, err := store.OpenJob(ctx, st.ID, catalog.KindAlwaysOn, first)
	if err != nil {
		t.Fatalf("OpenJob failed: %v", err)
	}
	if job.JobID != "always_on_1_20240501140000" {
		t.Fatalf("unexpected job id %q", job.JobID)
	}
	if job.Status != catalog.JobRunning || job.Kind != catalog.KindAlwaysOn {
		t.Fatalf("unexpected job %+v", job)
	}

	second := first.Add(time.Hour)
	again, err := store.OpenJob(ctx, st.ID, catalog.KindAlwaysOn, second)
	if err != nil {
		t.Fatalf("second OpenJob failed: %v", err)
	}
	if again.JobID != job.JobID {
		t.Fatalf("expected refreshed job %q, got %q", job.JobID, again.JobID)
	}
	if !again.StartTime.Equal(second) {
		t.Fatalf("expected refreshed start %s, got %s", second, again.StartTime)
	}

	running, err := store.RunningJobs(ctx)
	if err != nil {
		t.Fatalf("RunningJobs failed: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected one running job, got %d", len(running))
	}

	manual, err := store.OpenJob(ctx, st.ID, catalog.KindManual, second)
	if err != nil {
		t.Fatalf("manual OpenJob failed: %v", err)
	}
	if manual.JobID == job.JobID {
		t.Fatal("expected manual job to be tracked separately")
	}
}

func TestCloseJobSetsEndTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1"})
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	job, err := store.OpenJob(ctx, st.ID, catalog.KindScheduled, start)
	if err != nil {
		t.Fatalf("OpenJob failed: %v", err)
	}

	end := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	if err := store.CloseJob(ctx, job.JobID, catalog.JobStopped, end); err != nil {
		t.Fatalf("CloseJob failed: %v", err)
	}
	// Closing twice must not overwrite the first end time.
	if err := store.CloseJob(ctx, job.JobID, catalog.JobFailed, end.Add(time.Minute)); err != nil {
		t.Fatalf("second CloseJob failed: %v", err)
	}

	closed, err := store.JobByID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("JobByID failed: %v", err)
	}
	if closed.Status != catalog.JobStopped {
		t.Fatalf("expected stopped, got %s", closed.Status)
	}
	if closed.EndTime == nil || !closed.EndTime.Equal(end) {
		t.Fatalf("unexpected end time %v", closed.EndTime)
	}
}

func TestCloseStaleJobsKeepsLiveStations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	live := testsupport.NewStation(t, store, catalog.Station{Name: "Live", URL: "http://live"})
	dead := testsupport.NewStation(t, store, catalog.Station{Name: "Dead", URL: "http://dead"})
	now := time.Now()
	if _, err := store.OpenJob(ctx, live.ID, catalog.KindAlwaysOn, now); err != nil {
		t.Fatalf("OpenJob failed: %v", err)
	}
	if _, err := store.OpenJob(ctx, dead.ID, catalog.KindAlwaysOn, now); err != nil {
		t.Fatalf("OpenJob failed: %v", err)
	}

	closed, err := store.CloseStaleJobs(ctx, []int64{live.ID}, now)
	if err != nil {
		t.Fatalf("CloseStaleJobs failed: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected one stale job closed, got %d", closed)
	}
	running, err := store.RunningJobs(ctx)
	if err != nil {
		t.Fatalf("RunningJobs failed: %v", err)
	}
	if len(running) != 1 || running[0].StationID != live.ID {
		t.Fatalf("expected only live station running, got %+v", running)
	}
}

func TestUpsertRecordingOnlyReportsRealChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1"})
	rec := catalog.Recording{
		StationID: st.ID,
		Date:      "2024-05-01",
		Hour:      "09",
		FilePath:  "opnames/R1/2024-05-01/09.mp3",
		Kind:      catalog.KindScheduled,
		Uploaded:  true,
	}
	changed, err := store.UpsertRecording(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertRecording failed: %v", err)
	}
	if !changed {
		t.Fatal("expected first upsert to insert")
	}
	changed, err = store.UpsertRecording(ctx, rec)
	if err != nil {
		t.Fatalf("repeat UpsertRecording failed: %v", err)
	}
	if changed {
		t.Fatal("expected identical upsert to be a no-op")
	}

	inserted, err := store.InsertRecordingIfAbsent(ctx, rec)
	if err != nil {
		t.Fatalf("InsertRecordingIfAbsent failed: %v", err)
	}
	if inserted {
		t.Fatal("expected insert-if-absent to skip existing row")
	}

	paths, err := store.RecordingPaths(ctx)
	if err != nil {
		t.Fatalf("RecordingPaths failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != rec.FilePath {
		t.Fatalf("unexpected paths %v", paths)
	}

	removed, err := store.DeleteRecordingByPath(ctx, rec.FilePath)
	if err != nil {
		t.Fatalf("DeleteRecordingByPath failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one row removed, got %d", removed)
	}
}

func TestUpsertRecordingValidatesHour(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	st := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1"})
	_, err := store.UpsertRecording(context.Background(), catalog.Recording{
		StationID: st.ID, Date: "2024-05-01", Hour: "24", FilePath: "opnames/R1/2024-05-01/24.mp3",
	})
	if err == nil {
		t.Fatal("expected error for hour 24")
	}
}

func TestListRecordingsFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	r1 := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1"})
	r2 := testsupport.NewStation(t, store, catalog.Station{Name: "R2", URL: "http://r2"})
	for _, rec := range []catalog.Recording{
		{StationID: r1.ID, Date: "2024-05-01", Hour: "09", FilePath: "opnames/R1/2024-05-01/09.mp3"},
		{StationID: r1.ID, Date: "2024-05-02", Hour: "10", FilePath: "opnames/R1/2024-05-02/10.mp3"},
		{StationID: r2.ID, Date: "2024-05-01", Hour: "11", FilePath: "opnames/R2/2024-05-01/11.mp3"},
	} {
		if _, err := store.UpsertRecording(ctx, rec); err != nil {
			t.Fatalf("UpsertRecording failed: %v", err)
		}
	}

	recs, err := store.ListRecordings(ctx, catalog.RecordingFilter{StationID: r1.ID})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Date != "2024-05-02" {
		t.Fatalf("unexpected station filter result %+v", recs)
	}

	recs, err = store.ListRecordings(ctx, catalog.RecordingFilter{Date: "2024-05-01", Limit: 1})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Hour != "11" {
		t.Fatalf("unexpected date filter result %+v", recs)
	}

	byID, err := store.RecordingByID(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("RecordingByID failed: %v", err)
	}
	if byID == nil || byID.FilePath != recs[0].FilePath {
		t.Fatalf("unexpected recording %+v", byID)
	}
}

func TestDeleteStationCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	st := testsupport.NewStation(t, store, catalog.Station{Name: "R1", URL: "http://r1"})
	if _, err := store.UpsertRecording(ctx, catalog.Recording{
		StationID: st.ID, Date: "2024-05-01", Hour: "09", FilePath: "opnames/R1/2024-05-01/09.mp3",
	}); err != nil {
		t.Fatalf("UpsertRecording failed: %v", err)
	}
	if err := store.DeleteStation(ctx, st.ID); err != nil {
		t.Fatalf("DeleteStation failed: %v", err)
	}
	paths, err := store.RecordingPaths(ctx)
	if err != nil {
		t.Fatalf("RecordingPaths failed: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected cascade delete, got %v", paths)
	}
}
