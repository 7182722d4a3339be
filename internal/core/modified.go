package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source "last modified" signals arrive as table comments or as legacy
// contents listings, neither of which carries a zone. Wall-clock
// readings are interpreted in the configured source location and
// re-expressed as UTC instants.

const lastModifiedPrefix = "Last modified:"

var updatedRE = regexp.MustCompile(`\(Updated\s+(\d{4}-\d{2}-\d{2})\)\s*$`)

// ParseLastModified parses a source timestamp signal. Recognized forms:
//
//	"Last modified: 11/26/2025 01:40:41"   wall clock in loc
//	"... (Updated 2025-11-26)"             02:00 in loc on that date
//	an RFC-3339 timestamp
func ParseLastModified(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty last-modified signal")
	}
	if strings.HasPrefix(s, lastModifiedPrefix) {
		raw := strings.TrimSpace(strings.TrimPrefix(s, lastModifiedPrefix))
		t, err := time.ParseInLocation("01/02/2006 15:04:05", raw, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized last-modified timestamp %q", raw)
		}
		return t.UTC(), nil
	}
	if m := updatedRE.FindStringSubmatch(s); m != nil {
		d, err := time.ParseInLocation("2006-01-02", m[1], loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized update date %q", m[1])
		}
		// The updated-on form carries no time of day; the source
		// publishes these at 02:00 local.
		return time.Date(d.Year(), d.Month(), d.Day(), 2, 0, 0, 0, loc).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized last-modified signal: %q", s)
}

var contentsModifiedRE = regexp.MustCompile(`^\s*Last Modified\s+(\S.*?)(?:\s{2,}.*)?$`)

// ParseContentsModified scans a legacy contents listing, as produced by
// the remote command path, for its "Last Modified" row and parses the
// timestamp it carries.
func ParseContentsModified(output string, loc *time.Location) (time.Time, error) {
	for _, line := range strings.Split(output, "\n") {
		m := contentsModifiedRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return ParseLastModified(lastModifiedPrefix+" "+strings.TrimSpace(m[1]), loc)
	}
	return time.Time{}, fmt.Errorf("no Last Modified row in remote listing")
}
