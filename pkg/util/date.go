package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, a plain date and unix seconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// AlignFromTo truncates a range to bar boundaries of tf ("1m", "1h", "1d").
func AlignFromTo(from, to time.Time, tf string) (time.Time, time.Time) {
	var d time.Duration
	switch tf {
	case "1h":
		d = time.Hour
	case "1d":
		d = 24 * time.Hour
	default:
		d = time.Minute
	}
	return from.UTC().Truncate(d), to.UTC().Truncate(d)
}
