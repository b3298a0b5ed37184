package cron

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	tests := []string{
		"*/5 * * * *",
		"0 0 1 1 *",
		"0,30 9-17 * * 1-5",
		"15 2 * * 0",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); err != nil {
				t.Errorf("Parse(%q) unexpected error: %v", expr, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"61 * * * *",
		"* * * *",
		"* * * * * *",
		"a * * * *",
		"60-70 * * * *",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if !errors.Is(err, ErrInvalidCron) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidCron", expr, err)
			}
		})
	}
}

func TestNextFireAfter_EveryFiveMinutes(t *testing.T) {
	expr, err := Parse("*/5 * * * *")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	t0 := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)
	next, err := expr.NextFireAfter(t0)
	if err != nil {
		t.Fatalf("NextFireAfter() error: %v", err)
	}

	want := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextFireAfter(%v) = %v, want %v", t0, next, want)
	}
}

func TestNextFireAfter_Determinism(t *testing.T) {
	expr, err := Parse("0 */6 * * *")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	t0 := time.Date(2026, 3, 14, 9, 41, 0, 0, time.UTC)
	first, err := expr.NextFireAfter(t0)
	if err != nil {
		t.Fatalf("NextFireAfter() error: %v", err)
	}

	second, err := expr.NextFireAfter(first.Add(-time.Minute))
	if err != nil {
		t.Fatalf("NextFireAfter() error: %v", err)
	}

	if !first.Equal(second) {
		t.Errorf("NextFireAfter not idempotent under -1min re-entry: %v != %v", first, second)
	}
}

func TestDayMatching_BothWildcard(t *testing.T) {
	expr, err := Parse("0 0 * * *")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	d := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	if !expr.matches(d) {
		t.Errorf("expected match when both day fields are wildcards")
	}
}

func TestDayMatching_OneWildcard(t *testing.T) {
	// day-of-month wildcard, day-of-week = Monday(1) only.
	expr, err := Parse("0 0 * * 1")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday
	tuesday := monday.AddDate(0, 0, 1)

	if !expr.matches(monday) {
		t.Errorf("expected Monday to match")
	}
	if expr.matches(tuesday) {
		t.Errorf("expected Tuesday not to match")
	}
}

func TestDayMatching_NeitherWildcard_OR(t *testing.T) {
	// day-of-month = 15, day-of-week = Monday: match if either matches.
	expr, err := Parse("0 0 15 * 1")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	day15NotMonday := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC) // Wed
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	neither := time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC) // Tue, not 15th

	if !expr.matches(day15NotMonday) {
		t.Errorf("expected day-of-month match to satisfy OR rule")
	}
	if !expr.matches(monday) {
		t.Errorf("expected day-of-week match to satisfy OR rule")
	}
	if expr.matches(neither) {
		t.Errorf("expected no match when neither day field matches")
	}
}

func TestString_RoundTrips(t *testing.T) {
	const raw = "*/5 * * * *"
	expr, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got := expr.String(); got != raw {
		t.Errorf("String() = %q, want %q", got, raw)
	}
}
