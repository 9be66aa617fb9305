package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date format used for storage and the API.
const DateLayout = "2006-01-02"

// MonthLayout is the canonical reference-month format ("YYYY-MM").
const MonthLayout = "2006-01"

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MonthKey returns the reference month of a date as "YYYY-MM".
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// Today returns the current date in UTC, truncated to midnight.
func Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseMonthKey parses a "YYYY-MM" reference month into its year and month.
func ParseMonthKey(s string) (int, time.Month, error) {
	t, err := time.ParseInLocation(MonthLayout, s, time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reference month %q (expected YYYY-MM): %w", s, err)
	}
	return t.Year(), t.Month(), nil
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths advances a date by whole months, clamping the day of month to the
// target month's length. Unlike time.Time.AddDate, Jan 31 + 1 month yields
// Feb 28 (or 29), never Mar 2/3.
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// Normalize the target year/month via a first-of-month date
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := DaysInMonth(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last day of the month containing t.
func EndOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

// ClampDayOfMonth builds a date in the given month with the day clamped to
// the month's length. A due day of 31 in April yields April 30.
func ClampDayOfMonth(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FifthBusinessDay returns the fifth business day of a month, counting
// Monday through Friday. Public holidays are not considered.
func FifthBusinessDay(year int, month time.Month) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	count := 0
	for {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
			if count == 5 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}
