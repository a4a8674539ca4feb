package procprobe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"radiologger/internal/logging"
)

// Process is a running capture process recovered from the OS.
type Process struct {
	PID        int32
	SourceURL  string
	OutputPath string
	StartedAt  time.Time
}

// Candidate is a raw OS process entry before argument parsing.
type Candidate struct {
	PID       int32
	Name      string
	Args      []string
	StartedAt time.Time
}

// Lister enumerates OS processes.
type Lister func(ctx context.Context) ([]Candidate, error)

// Probe finds capture processes by tool name.
type Probe struct {
	tool   string
	list   Lister
	logger *slog.Logger
}

// New returns a probe backed by the OS process table. tool is the capture
// binary name or path; only its base name is matched.
func New(tool string, logger *slog.Logger) *Probe {
	return NewWithLister(tool, SystemProcesses, logger)
}

// NewWithLister returns a probe over a custom process source.
func NewWithLister(tool string, list Lister, logger *slog.Logger) *Probe {
	return &Probe{
		tool:   filepath.Base(strings.TrimSpace(tool)),
		list:   list,
		logger: logging.NewComponentLogger(logger, "procprobe"),
	}
}

// List returns every capture process with a parseable command line, ordered by
// start time. Processes that vanish mid-scan or carry malformed arguments are
// skipped.
func (p *Probe) List(ctx context.Context) ([]Process, error) {
	candidates, err := p.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var out []Process
	for _, c := range candidates {
		if !p.matchesTool(c) {
			continue
		}
		source, output, ok := ParseArgs(c.Args)
		if !ok {
			p.logger.Debug("skipping capture process with unrecognized arguments",
				logging.Int("pid", int(c.PID)),
				logging.String("cmdline", strings.Join(c.Args, " ")),
			)
			continue
		}
		out = append(out, Process{
			PID:        c.PID,
			SourceURL:  source,
			OutputPath: output,
			StartedAt:  c.StartedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (p *Probe) matchesTool(c Candidate) bool {
	if p.tool == "" {
		return false
	}
	if c.Name == p.tool {
		return true
	}
	// The kernel truncates comm to 15 bytes; only then is argv[0] consulted.
	if len(c.Name) != maxCommLen || !strings.HasPrefix(p.tool, c.Name) {
		return false
	}
	return len(c.Args) > 0 && filepath.Base(c.Args[0]) == p.tool
}

const maxCommLen = 15

// ParseArgs extracts the -i input and the trailing output argument from a
// capture command line.
func ParseArgs(args []string) (source, output string, ok bool) {
	if len(args) < 4 {
		return "", "", false
	}
	for i := 1; i < len(args)-1; i++ {
		if args[i] == "-i" {
			source = args[i+1]
			break
		}
	}
	if source == "" || strings.HasPrefix(source, "-") {
		return "", "", false
	}
	output = args[len(args)-1]
	if output == "" || output == source || strings.HasPrefix(output, "-") {
		return "", "", false
	}
	// A value-taking flag right before the last argument means there is no
	// positional output at all.
	if prev := args[len(args)-2]; strings.HasPrefix(prev, "-") && prev != "-y" && prev != "-n" {
		return "", "", false
	}
	return source, output, true
}

// MatchStation returns the processes whose source contains sourceURL, oldest
// first. Callers treat the first as authoritative and the rest as stale.
func MatchStation(procs []Process, sourceURL string) []Process {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil
	}
	var matched []Process
	for _, proc := range procs {
		if strings.Contains(proc.SourceURL, sourceURL) {
			matched = append(matched, proc)
		}
	}
	return matched
}

// SystemProcesses lists OS processes through gopsutil.
func SystemProcesses(ctx context.Context) ([]Candidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		args, err := proc.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		var started time.Time
		if ms, err := proc.CreateTimeWithContext(ctx); err == nil {
			started = time.UnixMilli(ms)
		}
		out = append(out, Candidate{PID: proc.Pid, Name: name, Args: args, StartedAt: started})
	}
	return out, nil
}
