// Package cron parses the standard 5-field cron expression (minute hour
// day month weekday) and computes the next fire time strictly after a given
// instant. It has no dependencies beyond the standard library so it can be
// used both for trigger validation and by the trigger scheduler.
//
// Weekday and day-of-month are conjunctive in this implementation: when
// both fields are restricted (not "*"), both must match. Standard cron uses
// disjunction in that case; this divergence is intentional and documented.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxLookahead bounds how far into the future Next will scan before giving
// up, to avoid looping forever over an expression that never matches.
const maxLookahead = 4 * 365 * 24 * time.Hour

// field holds the allowed values for one of the five cron fields.
type field struct {
	allowed map[int]bool
}

func (f field) match(v int) bool { return f.allowed[v] }

// Expr is a parsed 5-field cron expression.
type Expr struct {
	minute  field
	hour    field
	day     field
	month   field
	weekday field

	dayStar     bool
	weekdayStar bool
}

// Parse parses a 5-field cron expression. Returns an error for malformed
// fields, out-of-range values, or a zero step.
func Parse(expr string) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(parts))
	}

	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: minute: %w", err)
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron: hour: %w", err)
	}
	day, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron: day: %w", err)
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron: month: %w", err)
	}
	weekday, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron: weekday: %w", err)
	}

	return &Expr{
		minute:      minute,
		hour:        hour,
		day:         day,
		month:       month,
		weekday:     weekday,
		dayStar:     parts[2] == "*",
		weekdayStar: parts[4] == "*",
	}, nil
}

// Valid reports whether expr is a syntactically valid cron expression.
func Valid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// matches reports whether t satisfies the expression at minute resolution.
func (e *Expr) matches(t time.Time) bool {
	if !e.minute.match(t.Minute()) {
		return false
	}
	if !e.hour.match(t.Hour()) {
		return false
	}
	if !e.month.match(int(t.Month())) {
		return false
	}

	dayOK := e.day.match(t.Day())
	weekdayOK := e.weekday.match(int(t.Weekday()))

	switch {
	case e.dayStar && e.weekdayStar:
		return true
	case e.dayStar:
		return weekdayOK
	case e.weekdayStar:
		return dayOK
	default:
		// Conjunctive: both restricted fields must match.
		return dayOK && weekdayOK
	}
}

// Next returns the first instant strictly after from that matches expr, at
// minute resolution (seconds and sub-second components are truncated).
// Returns false if no match is found within a 4-year lookahead budget.
func (e *Expr) Next(from time.Time) (time.Time, bool) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	deadline := from.Add(maxLookahead)

	for !t.After(deadline) {
		if !e.month.match(int(t.Month())) {
			t = firstOfNextMonth(t)
			continue
		}
		if !e.day.match(t.Day()) && !e.dayOnlyStarAllows(t) {
			t = startOfNextDay(t)
			continue
		}
		if !e.hour.match(t.Hour()) {
			t = startOfNextHour(t)
			continue
		}
		if !e.minute.match(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		if e.matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}

	return time.Time{}, false
}

// dayOnlyStarAllows short-circuits the day fast-forward when the weekday
// field alone could still allow this day to match (conjunctive semantics
// mean a day rejection by the day field alone isn't final unless day field
// is restricted and not satisfied with weekday wildcard).
func (e *Expr) dayOnlyStarAllows(t time.Time) bool {
	if e.dayStar {
		return true
	}
	if !e.weekdayStar {
		// both restricted: day field must match regardless of weekday.
		return false
	}
	return e.day.match(t.Day())
}

func firstOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	next := time.Date(y, m, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return next
}

func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

func startOfNextHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
}

// parseField parses one cron field supporting: "*", literal, "N-M", "N,M,...",
// "*/S", "A-B/S". Forbids step 0.
func parseField(raw string, min, max int) (field, error) {
	allowed := make(map[int]bool)

	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			return field{}, fmt.Errorf("empty component in %q", raw)
		}

		step := 1
		rangePart := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			rangePart = part[:idx]
			stepStr := part[idx+1:]
			s, err := strconv.Atoi(stepStr)
			if err != nil {
				return field{}, fmt.Errorf("invalid step %q", stepStr)
			}
			if s <= 0 {
				return field{}, fmt.Errorf("step must be > 0, got %d", s)
			}
			step = s
		}

		var lo, hi int
		switch {
		case rangePart == "*":
			lo, hi = min, max
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			a, err := strconv.Atoi(bounds[0])
			if err != nil {
				return field{}, fmt.Errorf("invalid range start %q", bounds[0])
			}
			b, err := strconv.Atoi(bounds[1])
			if err != nil {
				return field{}, fmt.Errorf("invalid range end %q", bounds[1])
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", rangePart)
			}
			lo, hi = v, v
		}

		if lo < min || hi > max || lo > hi {
			return field{}, fmt.Errorf("value out of range [%d,%d] in %q", min, max, part)
		}

		for v := lo; v <= hi; v += step {
			allowed[v] = true
		}
	}

	return field{allowed: allowed}, nil
}
