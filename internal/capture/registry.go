package capture

import (
	"sort"
	"sync"
	"time"

	"radiologger/internal/catalog"
)

// State is the lifecycle tag of a registry entry.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateGone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Entry is one known capture process.
type Entry struct {
	ID         uint64
	StationID  int64
	Station    string
	Kind       catalog.JobKind
	State      State
	PID        int
	SourceURL  string
	OutputPath string
	JobID      string
	LaunchedAt time.Time
	StopSentAt time.Time
	Adopted    bool
	StopReason string
}

// Active reports whether the entry still represents a live or pending process.
func (e Entry) Active() bool {
	return e.State == StateStarting || e.State == StateRunning
}

// Registry is the authoritative in-process view of capture children. All
// transitions happen under a single lock; callers receive copies.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]*Entry)}
}

// Reserve records a launch in flight and returns its entry id.
func (r *Registry) Reserve(stationID int64, station string, kind catalog.JobKind, sourceURL, output string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries[r.nextID] = &Entry{
		ID:         r.nextID,
		StationID:  stationID,
		Station:    station,
		Kind:       kind,
		State:      StateStarting,
		SourceURL:  sourceURL,
		OutputPath: output,
	}
	return r.nextID
}

// MarkRunning moves a Starting entry to Running once its pid is known.
func (r *Registry) MarkRunning(id uint64, pid int, launchedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.State != StateStarting {
		return false
	}
	entry.State = StateRunning
	entry.PID = pid
	entry.LaunchedAt = launchedAt
	return true
}

// SetJob attaches the job tracker id to an entry.
func (r *Registry) SetJob(id uint64, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.JobID = jobID
	}
}

// Adopt registers a process started by a previous daemon run as Running.
func (r *Registry) Adopt(stationID int64, station string, kind catalog.JobKind, pid int, sourceURL, output string, launchedAt time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.PID == pid && entry.State != StateGone {
			return entry.ID
		}
	}
	r.nextID++
	r.entries[r.nextID] = &Entry{
		ID:         r.nextID,
		StationID:  stationID,
		Station:    station,
		Kind:       kind,
		State:      StateRunning,
		PID:        pid,
		SourceURL:  sourceURL,
		OutputPath: output,
		LaunchedAt: launchedAt,
		Adopted:    true,
	}
	return r.nextID
}

// MarkStopping records that a termination signal was sent. It returns the
// prior state so callers can tell a fresh stop from a repeat.
func (r *Registry) MarkStopping(id uint64, at time.Time, reason string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return StateGone, false
	}
	prev := entry.State
	if prev == StateGone {
		return prev, false
	}
	entry.State = StateStopping
	entry.StopSentAt = at
	if entry.StopReason == "" {
		entry.StopReason = reason
	}
	return prev, true
}

// MarkGone removes an entry and returns its final snapshot, tagged Gone, along
// with the state it was in when the exit was observed.
func (r *Registry) MarkGone(id uint64) (Entry, State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, StateGone, false
	}
	prev := entry.State
	delete(r.entries, id)
	final := *entry
	final.State = StateGone
	return final, prev, true
}

// Get returns a copy of one entry.
func (r *Registry) Get(id uint64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Station returns copies of every entry for stationID, oldest launch first.
func (r *Registry) Station(stationID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, entry := range r.entries {
		if entry.StationID == stationID {
			out = append(out, *entry)
		}
	}
	sortEntries(out)
	return out
}

// Snapshot returns copies of every entry, grouped by station then launch time.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	sortEntries(out)
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StationID != entries[j].StationID {
			return entries[i].StationID < entries[j].StationID
		}
		if !entries[i].LaunchedAt.Equal(entries[j].LaunchedAt) {
			return entries[i].LaunchedAt.Before(entries[j].LaunchedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
