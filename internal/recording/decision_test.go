package recording_test

import (
	"strings"
	"testing"
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/recording"
)

const root = "/srv/recordings/stations"

func at(hour, min, sec int) time.Time {
	return time.Date(2024, 5, 1, hour, min, sec, 0, time.UTC)
}

func decide(st catalog.Station, now time.Time, observed ...recording.Observed) recording.Decision {
	return recording.Decide(recording.Input{
		Station:       st,
		Now:           now,
		Location:      time.UTC,
		RecordingsDir: root,
		Extension:     "mp3",
		Observed:      observed,
	})
}

func TestDecideLaunchesAlwaysOnStation(t *testing.T) {
	st := catalog.Station{ID: 1, Name: "NPO Radio 1", URL: "http://icecast/radio1", AlwaysOn: true}
	d := decide(st, at(14, 0, 0))

	if !d.Desired {
		t.Fatal("always-on station must be desired")
	}
	launch, ok := d.Launch()
	if !ok {
		t.Fatalf("expected launch, got %+v", d.Actions)
	}
	if !strings.HasSuffix(launch.Output, "/NPO Radio 1/2024-05-01/%H.mp3") {
		t.Fatalf("unexpected output pattern %q", launch.Output)
	}
	if len(d.Stops()) != 0 {
		t.Fatalf("unexpected stops %+v", d.Stops())
	}
}

func TestDecideRestartsAlwaysOnAfterHourBoundary(t *testing.T) {
	st := catalog.Station{ID: 1, Name: "NPO Radio 1", AlwaysOn: true}
	prior := recording.Observed{
		EntryID:    7,
		PID:        100,
		OutputPath: root + "/NPO Radio 1/2024-05-01/%H.mp3",
		LaunchedAt: at(13, 0, 0),
	}
	d := decide(st, at(14, 0, 1), prior)

	stops := d.Stops()
	if len(stops) != 1 || stops[0].Target.PID != 100 {
		t.Fatalf("expected prior capture stopped, got %+v", d.Actions)
	}
	if _, ok := d.Launch(); !ok {
		t.Fatal("expected same-tick relaunch")
	}
}

func TestDecideKeepsCurrentCapture(t *testing.T) {
	st := catalog.Station{ID: 1, Name: "NPO Radio 1", AlwaysOn: true}
	current := recording.Observed{
		EntryID:    8,
		PID:        101,
		OutputPath: root + "/NPO Radio 1/2024-05-01/%H.mp3",
		LaunchedAt: at(14, 0, 0),
	}
	d := decide(st, at(14, 30, 0), current)
	if _, ok := d.Launch(); ok {
		t.Fatalf("expected no launch, got %+v", d.Actions)
	}
	if len(d.Stops()) != 0 {
		t.Fatalf("expected no stops, got %+v", d.Stops())
	}
}

func TestDecideScheduledWindow(t *testing.T) {
	st := catalog.Station{
		ID:   2,
		Name: "Radio Rijnmond",
		Window: &catalog.Window{
			StartDate: "2024-05-01", StartHour: 8,
			EndDate: "2024-05-01", EndHour: 18,
		},
	}
	running := recording.Observed{
		EntryID:    9,
		PID:        200,
		OutputPath: root + "/Radio Rijnmond/2024-05-01/%H.mp3",
		LaunchedAt: at(8, 0, 0),
	}

	if d := decide(st, at(7, 59, 59)); d.Desired || len(d.Actions) != 0 {
		t.Fatalf("expected idle before window, got %+v", d)
	}
	if d := decide(st, at(8, 0, 0)); !d.Desired {
		t.Fatal("window start is inclusive")
	}
	// Non-always-on captures are not restarted at hour boundaries.
	if d := decide(st, at(12, 0, 5), running); len(d.Stops()) != 0 {
		t.Fatalf("expected scheduled capture kept, got %+v", d.Actions)
	}

	d := decide(st, at(18, 0, 0), running)
	if d.Desired {
		t.Fatal("window end is exclusive")
	}
	if stops := d.Stops(); len(stops) != 1 || stops[0].Target.PID != 200 {
		t.Fatalf("expected capture stopped at window end, got %+v", d.Actions)
	}
	if _, ok := d.Launch(); ok {
		t.Fatal("no launch expected outside window")
	}
}

func TestDecideReplacesStaleDatePartition(t *testing.T) {
	st := catalog.Station{
		ID:   3,
		Name: "Nachtradio",
		Window: &catalog.Window{
			StartDate: "2024-04-30", StartHour: 22,
			EndDate: "2024-05-01", EndHour: 6,
		},
	}
	yesterday := recording.Observed{
		EntryID:    10,
		PID:        300,
		OutputPath: root + "/Nachtradio/2024-04-30/%H.mp3",
		LaunchedAt: time.Date(2024, 4, 30, 22, 0, 0, 0, time.UTC),
	}
	d := decide(st, at(0, 0, 2), yesterday)
	if stops := d.Stops(); len(stops) != 1 {
		t.Fatalf("expected stale partition stopped, got %+v", d.Actions)
	}
	launch, ok := d.Launch()
	if !ok || !strings.Contains(launch.Output, "/2024-05-01/") {
		t.Fatalf("expected relaunch into new date, got %+v", d.Actions)
	}
}

func TestDecideStopsDuplicates(t *testing.T) {
	st := catalog.Station{ID: 1, Name: "R1", AlwaysOn: true}
	path := root + "/R1/2024-05-01/%H.mp3"
	first := recording.Observed{EntryID: 1, PID: 1, OutputPath: path, LaunchedAt: at(14, 0, 0)}
	second := recording.Observed{EntryID: 2, PID: 2, OutputPath: path, LaunchedAt: at(14, 0, 1)}

	d := decide(st, at(14, 5, 0), first, second)
	stops := d.Stops()
	if len(stops) != 1 || stops[0].Target.PID != 2 {
		t.Fatalf("expected newer duplicate stopped, got %+v", d.Actions)
	}
	if _, ok := d.Launch(); ok {
		t.Fatal("no launch expected while one capture is correct")
	}
}

func TestDesiredWithoutWindow(t *testing.T) {
	st := catalog.Station{Name: "Idle"}
	if recording.Desired(st, at(12, 0, 0), time.UTC) {
		t.Fatal("station without window or always-on must not be desired")
	}
	st.AlwaysOn = true
	st.Window = &catalog.Window{StartDate: "2020-01-01", StartHour: 0, EndDate: "2020-01-02", EndHour: 0}
	if !recording.Desired(st, at(12, 0, 0), time.UTC) {
		t.Fatal("always-on overrides an expired window")
	}
}
