package domain

import (
	"strings"
	"time"
)

const (
	// DateLayout is the calendar date format written to the order table.
	DateLayout = "2006-01-02"
	// TimestampLayout is the audit timestamp format written to the order table.
	TimestampLayout = "2006-01-02 15:04:05"

	defaultTimezone = "Asia/Tokyo"
)

var dateInputLayouts = []string{
	DateLayout,
	"2006/01/02",
	"2006/1/2",
	TimestampLayout,
	"2006/01/02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// LoadLocation resolves the business timezone, falling back to a fixed JST offset when the
// zone database is unavailable.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// ParseDate parses the date formats accepted from callers and found in legacy rows.
func ParseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateInputLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed.In(loc), true
		}
	}
	return time.Time{}, false
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
