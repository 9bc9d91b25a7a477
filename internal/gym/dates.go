package gym

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// CalendarDate truncates a timestamp to midnight UTC of its UTC calendar day.
func CalendarDate(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 input and returns the UTC calendar date.
func ParseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidInput)
	}
	if parsed, err := time.Parse(dateLayout, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, trimmed)
	}
	return CalendarDate(parsed), nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ValidateRouteDate enforces that a route is not set before its reset.
func ValidateRouteDate(dateSet, resetDate time.Time) error {
	if CalendarDate(dateSet).Before(CalendarDate(resetDate)) {
		return fmt.Errorf("%w: %s is before %s", ErrRouteDateBeforeReset, FormatDate(dateSet), FormatDate(resetDate))
	}
	return nil
}
