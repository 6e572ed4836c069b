package service

import (
	"time"
)

var scheduleLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduleTime parses an RFC 3339 timestamp, or a wall-clock datetime
// interpreted in timezone (UTC when empty).
func ParseScheduleTime(value, timezone string) (time.Time, error) {
	if value == "" {
		return time.Time{}, invalidInput("datetime is required")
	}

	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidInput("unrecognised datetime %q", value)
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, invalidInput("unknown timezone %q", timezone)
	}
	return loc, nil
}
