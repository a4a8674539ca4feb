package capture_test

import (
	"testing"
	"time"

	"radiologger/internal/capture"
	"radiologger/internal/catalog"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := capture.NewRegistry()
	id := reg.Reserve(1, "R1", catalog.KindAlwaysOn, "http://r1", "/rec/R1/2024-05-01/%H.mp3")

	entry, ok := reg.Get(id)
	if !ok || entry.State != capture.StateStarting || !entry.Active() {
		t.Fatalf("expected starting entry, got %+v", entry)
	}

	launched := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if !reg.MarkRunning(id, 4242, launched) {
		t.Fatal("MarkRunning failed")
	}
	if reg.MarkRunning(id, 1, launched) {
		t.Fatal("MarkRunning must only apply to starting entries")
	}
	reg.SetJob(id, "always_on_1_20240501140000")

	prev, ok := reg.MarkStopping(id, launched.Add(time.Minute), "outside window")
	if !ok || prev != capture.StateRunning {
		t.Fatalf("unexpected MarkStopping result %v %v", prev, ok)
	}
	entry, _ = reg.Get(id)
	if entry.Active() {
		t.Fatal("stopping entry must not be active")
	}

	final, prev, ok := reg.MarkGone(id)
	if !ok || prev != capture.StateStopping || final.State != capture.StateGone {
		t.Fatalf("unexpected MarkGone result %+v %v %v", final, prev, ok)
	}
	if final.JobID != "always_on_1_20240501140000" || final.PID != 4242 {
		t.Fatalf("final snapshot lost fields: %+v", final)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if _, _, ok := reg.MarkGone(id); ok {
		t.Fatal("second MarkGone must report missing entry")
	}
}

func TestRegistryAdoptDeduplicatesPid(t *testing.T) {
	reg := capture.NewRegistry()
	at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	first := reg.Adopt(2, "R2", catalog.KindAlwaysOn, 99, "http://r2", "/rec/R2/2024-05-01/%H.mp3", at)
	second := reg.Adopt(2, "R2", catalog.KindAlwaysOn, 99, "http://r2", "/rec/R2/2024-05-01/%H.mp3", at)
	if first != second {
		t.Fatalf("expected same id for same pid, got %d and %d", first, second)
	}
	entry, _ := reg.Get(first)
	if !entry.Adopted || entry.State != capture.StateRunning {
		t.Fatalf("unexpected adopted entry %+v", entry)
	}
}

func TestRegistryStationOrdersByLaunch(t *testing.T) {
	reg := capture.NewRegistry()
	base := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	late := reg.Reserve(1, "R1", catalog.KindAlwaysOn, "u", "o")
	reg.MarkRunning(late, 2, base.Add(time.Hour))
	early := reg.Reserve(1, "R1", catalog.KindAlwaysOn, "u", "o")
	reg.MarkRunning(early, 1, base)
	reg.Reserve(2, "R2", catalog.KindScheduled, "u2", "o2")

	entries := reg.Station(1)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PID != 1 || entries[1].PID != 2 {
		t.Fatalf("expected oldest launch first, got %+v", entries)
	}
	if got := len(reg.Snapshot()); got != 3 {
		t.Fatalf("expected 3 entries in snapshot, got %d", got)
	}
}
