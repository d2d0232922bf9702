package services

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// GetCurrentTimestamp は現在のタイムスタンプをISO8601形式で返します
func GetCurrentTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// graphTimeLayouts covers the dateTime shapes Graph returns with and without fractions.
var graphTimeLayouts = []string{
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// ParseGraphTime parses a Graph dateTime. Values without an offset are read in
// the given zone name, falling back to def.
func ParseGraphTime(value, zone string, def *time.Location) (time.Time, error) {
	loc := def
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	for _, layout := range graphTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid dateTime %q", value)
}
