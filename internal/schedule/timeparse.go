package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// localLayouts are tried in order for values without an explicit offset.
var localLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

const (
	dateLayout     = "2006-01-02"
	calendarLayout = "2006-01-02 15:04:05"
	clockLayout    = "3:04PM"
)

// ParseDateTime accepts unix seconds, a local date or date-time in one of
// localLayouts (interpreted in loc) or an RFC 3339 timestamp. The result is
// expressed in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidQuery)
	}
	if loc == nil {
		loc = time.UTC
	}

	if isDigits(v) {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidQuery, s, err)
		}
		return time.Unix(n, 0).In(loc), nil
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", ErrInvalidQuery, s)
}

// isDateOnly reports whether s is a bare calendar date.
func isDateOnly(s string) bool {
	_, err := time.Parse(dateLayout, strings.TrimSpace(s))
	return err == nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
