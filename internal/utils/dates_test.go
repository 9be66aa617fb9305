package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonths_ClampsDayToMonthEnd(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		months   int
		expected time.Time
	}{
		{"jan 31 to feb", date(2025, time.January, 31), 1, date(2025, time.February, 28)},
		{"jan 31 to feb leap year", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"jan 31 to march keeps day", date(2025, time.January, 31), 2, date(2025, time.March, 31)},
		{"may 31 to june", date(2025, time.May, 31), 1, date(2025, time.June, 30)},
		{"mid month unchanged", date(2025, time.March, 15), 3, date(2025, time.June, 15)},
		{"crosses year boundary", date(2025, time.November, 30), 3, date(2026, time.February, 28)},
		{"twelve months", date(2025, time.February, 28), 12, date(2026, time.February, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddMonths(tt.start, tt.months))
		})
	}
}

func TestEndOfMonth(t *testing.T) {
	assert.Equal(t, date(2025, time.February, 28), EndOfMonth(date(2025, time.February, 10)))
	assert.Equal(t, date(2024, time.February, 29), EndOfMonth(date(2024, time.February, 1)))
	assert.Equal(t, date(2025, time.December, 31), EndOfMonth(date(2025, time.December, 31)))
}

func TestClampDayOfMonth(t *testing.T) {
	assert.Equal(t, date(2025, time.April, 30), ClampDayOfMonth(2025, time.April, 31))
	assert.Equal(t, date(2025, time.April, 10), ClampDayOfMonth(2025, time.April, 10))
	assert.Equal(t, date(2025, time.April, 1), ClampDayOfMonth(2025, time.April, 0))
}

func TestFifthBusinessDay(t *testing.T) {
	// September 2025 starts on a Monday: 1,2,3,4,5 are all business days
	assert.Equal(t, date(2025, time.September, 5), FifthBusinessDay(2025, time.September))

	// August 2025 starts on a Friday: 1, 4, 5, 6, 7
	assert.Equal(t, date(2025, time.August, 7), FifthBusinessDay(2025, time.August))

	// November 2025 starts on a Saturday: 3, 4, 5, 6, 7
	assert.Equal(t, date(2025, time.November, 7), FifthBusinessDay(2025, time.November))
}

func TestMonthKey_RoundTrip(t *testing.T) {
	key := MonthKey(date(2025, time.July, 23))
	assert.Equal(t, "2025-07", key)

	year, month, err := ParseMonthKey(key)
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, time.July, month)

	_, _, err = ParseMonthKey("2025/07")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), d)
	assert.Equal(t, "2025-02-28", FormatDate(d))

	_, err = ParseDate("28/02/2025")
	assert.Error(t, err)
}
