// Package layout owns the on-disk and object-store naming of hourly segments.
//
// Segments live at <station>/<YYYY-MM-DD>/<HH>.<ext> both under the local
// recordings root and under the remote namespace prefix, so every function here
// is the single translation point between paths, keys, and segment triples.
package layout

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the calendar date format used in segment directories.
const DateLayout = "2006-01-02"

// HourPattern is the strftime placeholder the capture tool expands to the
// two-digit hour of each segment.
const HourPattern = "%H"

var segmentName = regexp.MustCompile(`^(\d{2})\.([A-Za-z0-9]+)$`)

// ErrNotSegment reports a path or key that does not follow the segment layout.
var ErrNotSegment = errors.New("not a segment path")

// Segment identifies one hourly recording.
type Segment struct {
	Station string
	Date    string
	Hour    string
	Ext     string
}

// FileName returns the segment's base name, e.g. "09.mp3".
func (s Segment) FileName() string {
	return s.Hour + "." + s.Ext
}

// IsSegmentName reports whether name looks like an hourly segment file.
func IsSegmentName(name string) bool {
	m := segmentName.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	return validHour(m[1])
}

// NormalizeStation applies Unicode NFC and trims whitespace so station names
// compare equal regardless of how the filesystem or object store encoded them.
func NormalizeStation(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// StationDir returns <root>/<station>.
func StationDir(root, station string) string {
	return filepath.Join(root, station)
}

// DayDir returns <root>/<station>/<date> for the day containing t.
func DayDir(root, station string, t time.Time) string {
	return filepath.Join(StationDir(root, station), t.Format(DateLayout))
}

// OutputPattern returns the segmented capture output pattern for the hour
// containing t, e.g. <root>/NPO Radio 1/2024-05-01/%H.mp3.
func OutputPattern(root, station string, t time.Time, ext string) string {
	return filepath.Join(DayDir(root, station, t), HourPattern+"."+ext)
}

// ManualOutputPath returns the single-file output path for a manual capture
// started at t.
func ManualOutputPath(root, station string, t time.Time, ext string) string {
	return filepath.Join(DayDir(root, station, t), fmt.Sprintf("%02d.%s", t.Hour(), ext))
}

// LocalPath returns the local file path of seg under root.
func LocalPath(root string, seg Segment) string {
	return filepath.Join(root, seg.Station, seg.Date, seg.FileName())
}

// ParseLocalPath derives the segment triple from a file under root.
func ParseLocalPath(root, file string) (Segment, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, file)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || parts[0] == ".." {
		return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, file)
	}
	return parseParts(parts)
}

// ObjectKey returns <namespace>/<station>/<date>/<HH>.<ext>.
func ObjectKey(namespace string, seg Segment) string {
	return path.Join(namespace, seg.Station, seg.Date, seg.FileName())
}

// Prefix returns the listing prefix for every segment in namespace.
func Prefix(namespace string) string {
	return strings.Trim(namespace, "/") + "/"
}

// ParseObjectKey derives the segment triple from an object key in namespace.
func ParseObjectKey(namespace, key string) (Segment, error) {
	prefix := Prefix(namespace)
	if !strings.HasPrefix(key, prefix) {
		return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, key)
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(parts) != 3 {
		return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, key)
	}
	return parseParts(parts)
}

// HourLabel returns the two-digit hour of t.
func HourLabel(t time.Time) string {
	return fmt.Sprintf("%02d", t.Hour())
}

func parseParts(parts []string) (Segment, error) {
	station := NormalizeStation(parts[0])
	if station == "" {
		return Segment{}, fmt.Errorf("%w: empty station", ErrNotSegment)
	}
	if _, err := time.Parse(DateLayout, parts[1]); err != nil {
		return Segment{}, fmt.Errorf("%w: bad date %q", ErrNotSegment, parts[1])
	}
	m := segmentName.FindStringSubmatch(parts[2])
	if m == nil || !validHour(m[1]) {
		return Segment{}, fmt.Errorf("%w: bad segment name %q", ErrNotSegment, parts[2])
	}
	return Segment{Station: station, Date: parts[1], Hour: m[1], Ext: m[2]}, nil
}

func validHour(label string) bool {
	h, err := strconv.Atoi(label)
	return err == nil && h >= 0 && h <= 23
}
