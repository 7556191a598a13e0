package service

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ParseTimeLabel parses an "HH:MM" label. Single-digit hours are accepted.
func ParseTimeLabel(label string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(label), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", label)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", label)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", label)
	}
	return hour, minute, nil
}

// AtLabel resolves label on the calendar day of day, in day's location.
func AtLabel(day time.Time, label string) (time.Time, error) {
	h, m, err := ParseTimeLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, day.Location()), nil
}

// DaySpan returns the half-open [start, end) of the calendar day containing t.
func DaySpan(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// NormalizeTimeLabels canonicalizes labels to zero-padded HH:MM, removes
// duplicates and sorts them. Invalid labels are returned separately.
func NormalizeTimeLabels(labels []string) (valid []string, invalid []string) {
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		h, m, err := ParseTimeLabel(l)
		if err != nil {
			invalid = append(invalid, l)
			continue
		}
		canon := fmt.Sprintf("%02d:%02d", h, m)
		if seen[canon] {
			continue
		}
		seen[canon] = true
		valid = append(valid, canon)
	}
	slices.Sort(valid)
	return valid, invalid
}
