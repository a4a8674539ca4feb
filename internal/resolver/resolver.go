// Package resolver turns a configured station URL into one the capture tool
// can open: shoutcast v1 roots get the ";" suffix, .pls and .m3u playlists are
// followed to their first stream entry, and a scheme that refuses connections
// is retried once with http and https swapped.
package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"radiologger/internal/logging"
)

const (
	defaultTimeout  = 10 * time.Second
	maxPlaylistSize = 64 * 1024
)

// ErrUnresolvable is returned when no candidate URL answered.
var ErrUnresolvable = errors.New("stream url could not be resolved")

var plsEntry = regexp.MustCompile(`(?i)^File\d+=(.+)$`)

// Option customizes the resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// Resolver finds playable stream URLs.
type Resolver struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New constructs a resolver whose every request is bounded by timeout.
func New(timeout time.Duration, logger *slog.Logger, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Resolver{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the best playable URL for raw. It never fails: when nothing
// answers, the shoutcast-adjusted input is returned and the capture attempt
// decides.
func (r *Resolver) Resolve(ctx context.Context, raw string) string {
	resolved, err := r.Lookup(ctx, raw)
	if err != nil {
		r.logger.Debug("stream url unresolved, using configured url",
			logging.String("url", raw),
			logging.Error(err),
		)
		return FixShoutcast(strings.TrimSpace(raw))
	}
	if resolved != raw {
		r.logger.Debug("stream url resolved",
			logging.String("url", raw),
			logging.String("resolved", resolved),
		)
	}
	return resolved
}

// Lookup resolves raw or reports ErrUnresolvable.
func (r *Resolver) Lookup(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q is not an http url", ErrUnresolvable, raw)
	}

	if isPlaylist(parsed) {
		stream, err := r.followPlaylist(ctx, raw)
		if err == nil {
			return stream, nil
		}
		flipped := flipScheme(raw)
		if stream, flipErr := r.followPlaylist(ctx, flipped); flipErr == nil {
			return stream, nil
		}
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	candidate := FixShoutcast(raw)
	if err := r.probe(ctx, candidate); err == nil {
		return candidate, nil
	} else if !isConnectionError(err) {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	flipped := flipScheme(candidate)
	if err := r.probe(ctx, flipped); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	return flipped, nil
}

// FixShoutcast appends ";" to a URL whose path ends in "/", which shoutcast v1
// servers need to serve the stream instead of their status page.
func FixShoutcast(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.RawQuery != "" {
		return raw
	}
	if parsed.Path == "" || strings.HasSuffix(parsed.Path, "/") {
		return strings.TrimSuffix(raw, "/") + "/;"
	}
	return raw
}

// ParsePlaylist returns the first stream entry of a .pls or .m3u body.
func ParsePlaylist(body []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := plsEntry.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") || strings.Contains(line, "=") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, true
		}
	}
	return "", false
}

func (r *Resolver) followPlaylist(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("playlist %s: status %d", raw, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}
	// HLS playlists are handed to the capture tool unchanged.
	if bytes.Contains(body, []byte("#EXT-X-")) {
		return raw, nil
	}
	stream, ok := ParsePlaylist(body)
	if !ok {
		return "", fmt.Errorf("playlist %s has no stream entries", raw)
	}
	return stream, nil
}

func (r *Resolver) probe(ctx context.Context, raw string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Icy-MetaData", "0")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	// Live streams never end; only the status line matters.
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("stream %s: status %d", raw, resp.StatusCode)
	}
	return nil
}

func isPlaylist(u *url.URL) bool {
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pls", ".m3u", ".m3u8":
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func flipScheme(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "http://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "https://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}
