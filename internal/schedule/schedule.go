// Package schedule parses five-field cron expressions and runs a job at
// every minute an expression matches. jupiter uses it when it stays
// resident instead of being started by the system cron.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNeverFires is returned for an expression with no future match
var ErrNeverFires = errors.New("schedule: expression never fires")

// horizon bounds the search for the next match. Five years always
// contains a Feb 29.
const horizon = 5 * 366 * 24 * time.Hour

type field struct {
	name     string
	min, max int
}

var (
	minuteField = field{"minute", 0, 59}
	hourField   = field{"hour", 0, 23}
	domField    = field{"day-of-month", 1, 31}
	monthField  = field{"month", 1, 12}
	dowField    = field{"day-of-week", 0, 7}
)

// Schedule is a parsed cron expression. Each field is a bitmask of the
// values it accepts.
type Schedule struct {
	minute, hour, dom, month, dow uint64

	// A field written as * or */n does not restrict the day on its own
	domAny, dowAny bool

	expr string
}

// Parse parses "minute hour day-of-month month day-of-week". Fields accept
// *, single values, ranges a-b, lists and steps (*/n, a-b/n, a/n).
// Day-of-week 7 is Sunday, like 0.
func Parse(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	s := &Schedule{expr: strings.Join(parts, " ")}
	targets := []struct {
		f    field
		mask *uint64
	}{
		{minuteField, &s.minute},
		{hourField, &s.hour},
		{domField, &s.dom},
		{monthField, &s.month},
		{dowField, &s.dow},
	}

	for i, t := range targets {
		mask, err := parseField(parts[i], t.f)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", t.f.name, err)
		}
		*t.mask = mask
	}

	// Sunday may be written as 7
	if s.dow&(1<<7) != 0 {
		s.dow = s.dow&^(1<<7) | 1
	}
	s.domAny = strings.HasPrefix(parts[2], "*")
	s.dowAny = strings.HasPrefix(parts[4], "*")

	if s.dowAny && !s.possibleDate() {
		return nil, fmt.Errorf("invalid cron expression %q: no month has any of the given days", expr)
	}

	return s, nil
}

// String returns the normalized expression
func (s *Schedule) String() string {
	return s.expr
}

func parseField(text string, f field) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(text, ",") {
		m, err := parsePart(part, f)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// parsePart parses one list element: a value or range with an optional step
func parsePart(part string, f field) (uint64, error) {
	if part == "" {
		return 0, fmt.Errorf("empty value")
	}

	rangeText, stepText, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepText)
		}
		step = n
	}

	var lo, hi int
	switch {
	case rangeText == "*":
		lo, hi = f.min, f.max
	case strings.Contains(rangeText, "-"):
		a, b, _ := strings.Cut(rangeText, "-")
		var err error
		if lo, err = parseValue(a, f); err != nil {
			return 0, err
		}
		if hi, err = parseValue(b, f); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("invalid range %q: start after end", rangeText)
		}
	default:
		v, err := parseValue(rangeText, f)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if hasStep {
			hi = f.max
		}
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func parseValue(text string, f field) (int, error) {
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, f.min, f.max)
	}
	return v, nil
}

// possibleDate reports whether some selected month has a selected day
func (s *Schedule) possibleDate() bool {
	for m := 1; m <= 12; m++ {
		if s.month&(1<<uint(m)) == 0 {
			continue
		}
		longest := daysIn(2024, time.Month(m)) // a leap year
		if s.dom&(1<<uint(longest+1)-1) != 0 {
			return true
		}
	}
	return false
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func has(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// Matches reports whether t, truncated to the minute, is a fire time
func (s *Schedule) Matches(t time.Time) bool {
	return has(s.minute, t.Minute()) &&
		has(s.hour, t.Hour()) &&
		has(s.month, int(t.Month())) &&
		s.matchesDay(t)
}

// matchesDay applies cron's rule that a restricted day-of-month and a
// restricted day-of-week are alternatives
func (s *Schedule) matchesDay(t time.Time) bool {
	domOK := has(s.dom, t.Day())
	dowOK := has(s.dow, int(t.Weekday()))

	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowOK
	case s.dowAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

// Next returns the first fire time strictly after the given time, in its
// location. It reports false when nothing matches within five years.
func (s *Schedule) Next(after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(horizon)
	loc := t.Location()

	for t.Before(limit) {
		if !has(s.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.matchesDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !has(s.hour, t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !has(s.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
