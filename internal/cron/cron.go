// Package cron implements a 5-field cron expression parser and next-fire-time
// evaluator, hand-rolled rather than backed by a scheduling library so that
// the step-expansion and day-matching rules stay exactly as specified.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCron is the sentinel wrapped by every parse or evaluation failure.
var ErrInvalidCron = errors.New("invalid cron expression")

// maxIterations bounds nextFireAfter's minute-cursor walk: one leap year
// of minutes.
const maxIterations = 366 * 24 * 60

type fieldSpec struct {
	min, max int
	name     string
}

var fields = [5]fieldSpec{
	{0, 59, "minute"},
	{0, 23, "hour"},
	{1, 31, "day-of-month"},
	{1, 12, "month"},
	{0, 6, "day-of-week"},
}

// Expression is a parsed 5-field cron schedule: minute hour day-of-month
// month day-of-week. Each field is stored as the set of matching integers.
type Expression struct {
	raw    string
	minute map[int]struct{}
	hour   map[int]struct{}
	dom    map[int]struct{}
	month  map[int]struct{}
	dow    map[int]struct{}

	domWildcard bool
	dowWildcard bool
}

// Parse parses a 5-field cron expression.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d (%q)", ErrInvalidCron, len(parts), expr)
	}

	sets := make([]map[int]struct{}, 5)
	wildcards := make([]bool, 5)
	for i, p := range parts {
		set, wildcard, err := parseField(p, fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s field %q: %v", ErrInvalidCron, fields[i].name, p, err)
		}
		sets[i] = set
		wildcards[i] = wildcard
	}

	return &Expression{
		raw:         expr,
		minute:      sets[0],
		hour:        sets[1],
		dom:         sets[2],
		month:       sets[3],
		dow:         sets[4],
		domWildcard: wildcards[2],
		dowWildcard: wildcards[4],
	}, nil
}

func parseField(field string, spec fieldSpec) (map[int]struct{}, bool, error) {
	set := make(map[int]struct{})
	wildcard := false

	for _, term := range strings.Split(field, ",") {
		if term == "" {
			return nil, false, errors.New("empty term")
		}

		base := term
		step := 1
		if idx := strings.Index(term, "/"); idx >= 0 {
			base = term[:idx]
			stepStr := term[idx+1:]
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return nil, false, fmt.Errorf("invalid step %q", stepStr)
			}
			step = s
		}

		var lo, hi int
		switch {
		case base == "*":
			lo, hi = spec.min, spec.max
			wildcard = wildcard || step == 1 && term == "*"
		case strings.Contains(base, "-"):
			rangeParts := strings.SplitN(base, "-", 2)
			a, err := strconv.Atoi(rangeParts[0])
			if err != nil {
				return nil, false, fmt.Errorf("invalid range start %q", rangeParts[0])
			}
			b, err := strconv.Atoi(rangeParts[1])
			if err != nil {
				return nil, false, fmt.Errorf("invalid range end %q", rangeParts[1])
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return nil, false, fmt.Errorf("invalid integer %q", base)
			}
			lo, hi = v, v
		}

		if lo < spec.min || hi > spec.max || lo > hi {
			return nil, false, fmt.Errorf("out of range [%d,%d]", spec.min, spec.max)
		}

		for v := lo; v <= hi; v += step {
			set[v] = struct{}{}
		}
	}

	if len(set) == 0 {
		return nil, false, errors.New("no values matched")
	}

	return set, wildcard, nil
}

// String returns the expression text exactly as it was passed to Parse; it
// is not re-rendered from the parsed field sets.
func (e *Expression) String() string {
	return e.raw
}

func (e *Expression) matches(t time.Time) bool {
	if _, ok := e.minute[t.Minute()]; !ok {
		return false
	}
	if _, ok := e.hour[t.Hour()]; !ok {
		return false
	}
	if _, ok := e.month[int(t.Month())]; !ok {
		return false
	}

	_, domOK := e.dom[t.Day()]
	_, dowOK := e.dow[int(t.Weekday())]

	switch {
	case e.domWildcard && e.dowWildcard:
		return true
	case e.domWildcard:
		return dowOK
	case e.dowWildcard:
		return domOK
	default:
		return domOK || dowOK
	}
}

// NextFireAfter walks forward from t+1min (seconds/nanoseconds zeroed) and
// returns the first instant matching the expression.
func (e *Expression) NextFireAfter(t time.Time) (time.Time, error) {
	cursor := t.Add(time.Minute).Truncate(time.Minute)

	for i := 0; i < maxIterations; i++ {
		if e.matches(cursor) {
			return cursor, nil
		}
		cursor = cursor.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("%w: no fire time found within %d iterations", ErrInvalidCron, maxIterations)
}
