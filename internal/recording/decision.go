package recording

import (
	"time"

	"radiologger/internal/catalog"
	"radiologger/internal/layout"
)

// ActionKind enumerates what the controller should do with a station.
type ActionKind int

const (
	ActionKeep ActionKind = iota
	ActionStop
	ActionLaunch
)

func (k ActionKind) String() string {
	switch k {
	case ActionKeep:
		return "keep"
	case ActionStop:
		return "stop"
	case ActionLaunch:
		return "launch"
	default:
		return "unknown"
	}
}

// Observed is one live capture as the registry sees it.
type Observed struct {
	EntryID    uint64
	PID        int
	OutputPath string
	LaunchedAt time.Time
}

// Input is everything Decide needs for one station.
type Input struct {
	Station       catalog.Station
	Now           time.Time
	Location      *time.Location
	RecordingsDir string
	Extension     string
	// Observed lists non-manual captures, oldest launch first.
	Observed []Observed
}

// Action is one step of a decision.
type Action struct {
	Kind   ActionKind
	Target Observed
	Output string
	Reason string
}

// Decision is the outcome of evaluating one station.
type Decision struct {
	Desired  bool
	Expected string
	Actions  []Action
}

// Stops returns the stop actions in order.
func (d Decision) Stops() []Action {
	return d.filter(ActionStop)
}

// Launch returns the launch action, if any.
func (d Decision) Launch() (Action, bool) {
	launches := d.filter(ActionLaunch)
	if len(launches) == 0 {
		return Action{}, false
	}
	return launches[0], true
}

func (d Decision) filter(kind ActionKind) []Action {
	var out []Action
	for _, a := range d.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

const (
	reasonOutsideWindow = "outside recording window"
	reasonStalePath     = "output partition is stale"
	reasonHourBoundary  = "hour boundary restart"
	reasonDuplicate     = "duplicate capture"
	reasonNotRunning    = "not running"
	reasonCorrect       = "capture is current"
)

// Desired reports whether st should be capturing at now. Always-on stations
// are always desired; otherwise now must fall in the half-open window.
func Desired(st catalog.Station, now time.Time, loc *time.Location) bool {
	if st.AlwaysOn {
		return true
	}
	if st.Window == nil {
		return false
	}
	return st.Window.Contains(now, loc)
}

// Decide applies the transition table to one station.
func Decide(in Input) Decision {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}
	now := in.Now.In(loc)
	decision := Decision{
		Desired:  Desired(in.Station, now, loc),
		Expected: layout.OutputPattern(in.RecordingsDir, in.Station.Name, now, in.Extension),
	}

	if !decision.Desired {
		for _, obs := range in.Observed {
			decision.Actions = append(decision.Actions, Action{Kind: ActionStop, Target: obs, Reason: reasonOutsideWindow})
		}
		return decision
	}

	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
	kept := false
	for _, obs := range in.Observed {
		switch {
		case obs.OutputPath != decision.Expected:
			decision.Actions = append(decision.Actions, Action{Kind: ActionStop, Target: obs, Reason: reasonStalePath})
		case in.Station.AlwaysOn && obs.LaunchedAt.Before(hourStart):
			decision.Actions = append(decision.Actions, Action{Kind: ActionStop, Target: obs, Reason: reasonHourBoundary})
		case kept:
			decision.Actions = append(decision.Actions, Action{Kind: ActionStop, Target: obs, Reason: reasonDuplicate})
		default:
			kept = true
			decision.Actions = append(decision.Actions, Action{Kind: ActionKeep, Target: obs, Reason: reasonCorrect})
		}
	}
	if !kept {
		decision.Actions = append(decision.Actions, Action{Kind: ActionLaunch, Output: decision.Expected, Reason: reasonNotRunning})
	}
	return decision
}
