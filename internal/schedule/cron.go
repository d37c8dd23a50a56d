// Package schedule evaluates recurring extraction schedules and dispatches
// one job per due tick, using a compare-and-set advance so overlapping
// ticks across worker processes cannot double-dispatch the same instance.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldBounds are the valid [min,max] ranges for minute, hour, day-of-month,
// month, and day-of-week, in that order.
var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, 0 = Sunday
}

// Expr is a parsed 5-field cron expression, evaluated in UTC.
type Expr struct {
	minutes  map[int]bool
	hours    map[int]bool
	days     map[int]bool
	months   map[int]bool
	weekdays map[int]bool
}

// Parse parses a standard 5-field cron expression: minute hour dom month dow.
// Each field accepts "*", a single value, a range ("1-5"), a comma-separated
// list, and a step ("*/5", "1-10/2").
func Parse(expr string) (*Expr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("schedule: cron expression must have 5 fields, got %d", len(fields))
	}

	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseField(f, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("schedule: field %d (%q): %w", i, f, err)
		}
		sets[i] = set
	}

	return &Expr{
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parsePart(part string, min, max int, set map[int]bool) error {
	step := 1
	rangePart := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		rangePart = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = s
	}

	start, end := min, max
	switch {
	case rangePart == "*":
		// keep the full field range; step (if any) already captured above.
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		s, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid range start %q", bounds[0])
		}
		e, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("invalid range end %q", bounds[1])
		}
		start, end = s, e
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", rangePart)
		}
		start, end = v, v
	}

	if start < min || end > max || start > end {
		return fmt.Errorf("value out of range [%d,%d]", min, max)
	}
	for v := start; v <= end; v += step {
		set[v] = true
	}
	return nil
}

// Next returns the first instant strictly after `after` that matches e, in
// UTC, scanning minute by minute up to four years ahead before giving up
// (a zero Time means no match was found, e.g. an impossible Feb 30).
func (e *Expr) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(4, 0, 0)
	for t.Before(limit) {
		if e.months[int(t.Month())] && e.matchesDay(t) && e.hours[t.Hour()] && e.minutes[t.Minute()] {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// matchesDay applies cron's OR semantics between day-of-month and
// day-of-week: when both fields are restricted, either matching is enough.
func (e *Expr) matchesDay(t time.Time) bool {
	domRestricted := len(e.days) < 31
	dowRestricted := len(e.weekdays) < 7
	domMatch := e.days[t.Day()]
	dowMatch := e.weekdays[int(t.Weekday())]

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}
