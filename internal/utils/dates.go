package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format of calendar dates (yyyy-mm-dd).
const DateLayout = "2006-01-02"

// ParseDate converts a yyyy-mm-dd formatted string into a UTC midnight time.
func ParseDate(dateStr string) (time.Time, error) {
	parts := strings.Split(dateStr, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid date format, expected yyyy-mm-dd")
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid year: %v", err)
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month: %v", err)
	}

	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day: %v", err)
	}

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month must be between 1 and 12")
	}

	if day < 1 || day > DaysInMonth(year, month) {
		return time.Time{}, fmt.Errorf("day must be between 1 and %d", DaysInMonth(year, month))
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders t as yyyy-mm-dd.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of days in a given month
func DaysInMonth(year, month int) int {
	if month == 2 {
		// Check for leap year
		if (year%4 == 0 && year%100 != 0) || (year%400 == 0) {
			return 29
		}
		return 28
	}

	// Months with 30 days: April, June, September, November
	if month == 4 || month == 6 || month == 9 || month == 11 {
		return 30
	}

	return 31
}

// DaysBetween returns the number of calendar days from -> to. It is
// negative when to is before from.
func DaysBetween(from, to time.Time) int32 {
	return int32(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// InclusiveDays counts the days of [start, end], both ends included.
func InclusiveDays(start, end time.Time) (int32, error) {
	diff := DaysBetween(start, end)
	if diff < 0 {
		return 0, fmt.Errorf("end date must be >= start date")
	}
	return diff + 1, nil
}

// AddMonths adds calendar months to t, clamping the day to the length of the
// target month (Nov 30 + 3 months is Feb 28/29, not Mar 2).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	year := y + total/12
	month := total%12 + 1
	if month <= 0 {
		month += 12
		year--
	}
	if dim := DaysInMonth(year, month); d > dim {
		d = dim
	}
	return time.Date(year, time.Month(month), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
