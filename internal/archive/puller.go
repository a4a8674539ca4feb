// Package archive downloads hourly files that broadcasters publish on their
// own sites, storing them in the same layout as captured segments so the
// upload reconciler treats them identically.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"radiologger/internal/config"
	"radiologger/internal/layout"
	"radiologger/internal/logging"
)

// ErrNotAudio is returned when the broadcaster answers with an HTML page,
// which it does for hours that have no program.
var ErrNotAudio = errors.New("archive response is not audio")

// downloadTimeout bounds one archive request, body included.
const downloadTimeout = 5 * time.Minute

var dutchWeekdays = [...]string{"zo", "ma", "di", "wo", "do", "vr", "za"}

// Option customizes a Puller.
type Option func(*Puller)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Puller) {
		if client != nil {
			p.client = client
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Puller) {
		if now != nil {
			p.now = now
		}
	}
}

// Result describes one pull.
type Result struct {
	Station string
	URL     string
	Path    string
	Bytes   int64
	Existed bool
}

// Puller fetches archive files for configured sources.
type Puller struct {
	root      string
	extension string
	location  *time.Location
	client    *http.Client
	now       func() time.Time
	logger    *slog.Logger
}

// NewPuller builds a puller writing under the configured recordings root.
func NewPuller(cfg *config.Config, logger *slog.Logger, opts ...Option) *Puller {
	p := &Puller{
		root:      cfg.Paths.RecordingsDir,
		extension: cfg.Capture.Extension,
		location:  cfg.Location(),
		client:    &http.Client{Timeout: downloadTimeout},
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "archive"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RenderURL expands {dow}, {HH}, and {date} for the hour starting at t.
func RenderURL(template string, t time.Time) string {
	return strings.NewReplacer(
		"{dow}", dutchWeekdays[t.Weekday()],
		"{HH}", layout.HourLabel(t),
		"{date}", t.Format(layout.DateLayout),
	).Replace(template)
}

// PullPrevious fetches the file for the hour before now.
func (p *Puller) PullPrevious(ctx context.Context, src config.ArchiveSource) (Result, error) {
	hour := p.now().In(p.location).Truncate(time.Hour).Add(-time.Hour)
	return p.Pull(ctx, src, hour)
}

// Pull fetches the file for the hour starting at hour. An existing local file
// is left alone.
func (p *Puller) Pull(ctx context.Context, src config.ArchiveSource, hour time.Time) (Result, error) {
	hour = hour.In(p.location)
	result := Result{
		Station: src.Station,
		URL:     RenderURL(src.URLTemplate, hour),
		Path: layout.LocalPath(p.root, layout.Segment{
			Station: layout.NormalizeStation(src.Station),
			Date:    hour.Format(layout.DateLayout),
			Hour:    layout.HourLabel(hour),
			Ext:     p.extension,
		}),
	}
	logger := logging.WithContext(ctx, p.logger).With(logging.Station(src.Station))

	if info, err := os.Stat(result.Path); err == nil && info.Size() > 0 {
		result.Existed = true
		result.Bytes = info.Size()
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return result, fmt.Errorf("build archive request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("fetch %s: %w", result.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("fetch %s: unexpected status %s", result.URL, resp.Status)
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return result, fmt.Errorf("fetch %s: %w", result.URL, ErrNotAudio)
	}
	body := bufio.NewReader(resp.Body)
	if head, _ := body.Peek(512); looksLikeHTML(head) {
		return result, fmt.Errorf("fetch %s: %w", result.URL, ErrNotAudio)
	}

	n, err := writeAtomic(result.Path, body)
	if err != nil {
		return result, err
	}
	result.Bytes = n
	logger.Info("archive file downloaded",
		logging.String("url", result.URL),
		logging.String("path", result.Path),
		logging.String("size", humanize.IBytes(uint64(n))),
	)
	return result, nil
}

func looksLikeHTML(head []byte) bool {
	trimmed := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html")
}

// writeAtomic streams r to a temp file beside dest and renames it into place.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".archive-*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil && n == 0 {
		copyErr = errors.New("empty response body")
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		if copyErr != nil {
			return 0, fmt.Errorf("download: %w", copyErr)
		}
		return 0, fmt.Errorf("close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}
