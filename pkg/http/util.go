package http

import (
	"net/http"
	"time"

	xutil "SignalFusion/pkg/util"
)

// ParseCSV splits a comma separated query value.
func ParseCSV(s string) []string { return xutil.SplitCSV(s) }

// ParseTimeParam parses an optional time value. An empty value yields def,
// an unparseable one a 400 naming field.
func ParseTimeParam(field, value string, def time.Time) (time.Time, *AppError) {
	if value == "" {
		return def, nil
	}
	t, ok := xutil.ParseTime(value)
	if !ok {
		return time.Time{}, NewAppError("ERR_INVALID_TIME", field, field+" must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest)
	}
	return t.UTC(), nil
}
