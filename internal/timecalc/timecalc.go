package timecalc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts used for days and periods throughout the repository.
const (
	DayLayout    = "2006-01-02"
	PeriodLayout = "2006-01"
)

var monthNamesFR = [...]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 || len(m) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hours*60 + mins, nil
}

// WindowMinutes returns the minutes between start and end. Spans where end
// precedes start, and unparseable times, contribute zero.
func WindowMinutes(start, end string) int {
	s, err := ParseClock(start)
	if err != nil {
		return 0
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0
	}
	if e < s {
		return 0
	}
	return e - s
}

// FormatHHMM formats minutes as "hh:mm", e.g. 180 -> "03:00".
func FormatHHMM(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// FormatDuration formats minutes as a human-readable string like "7h 30m" or "45m".
func FormatDuration(minutes int) string {
	h := minutes / 60
	m := minutes % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// ParseDay parses a "YYYY-MM-DD" day in UTC.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(day))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// PeriodOf returns the "YYYY-MM" period a day belongs to, or "" if the day is malformed.
func PeriodOf(day string) string {
	t, err := ParseDay(day)
	if err != nil {
		return ""
	}
	return t.Format(PeriodLayout)
}

// CurrentPeriod returns the period containing t.
func CurrentPeriod(t time.Time) string {
	return t.Format(PeriodLayout)
}

// ValidPeriod reports whether p is a well-formed "YYYY-MM" period.
func ValidPeriod(p string) bool {
	_, err := time.Parse(PeriodLayout, p)
	return err == nil
}

// DayInPeriod reports whether day falls inside the given period.
func DayInPeriod(day, period string) bool {
	p := PeriodOf(day)
	return p != "" && p == period
}

// PeriodLabel returns a French label like "Octobre 2026". Malformed periods
// are returned unchanged.
func PeriodLabel(period string) string {
	t, err := time.Parse(PeriodLayout, period)
	if err != nil {
		return period
	}
	return fmt.Sprintf("%s %d", monthNamesFR[t.Month()-1], t.Year())
}

// FormatDayFR formats a "YYYY-MM-DD" day as "dd/mm/yyyy". Malformed days are
// returned unchanged.
func FormatDayFR(day string) string {
	t, err := ParseDay(day)
	if err != nil {
		return day
	}
	return t.Format("02/01/2006")
}

// NextWorkingDay returns the first Monday-to-Friday day strictly after day.
func NextWorkingDay(day string) (string, error) {
	t, err := ParseDay(day)
	if err != nil {
		return "", err
	}
	for {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return t.Format(DayLayout), nil
		}
	}
}

// ISOWeek returns the ISO week number of day, or 0 for malformed days.
func ISOWeek(day string) int {
	t, err := ParseDay(day)
	if err != nil {
		return 0
	}
	_, week := t.ISOWeek()
	return week
}

// MonthNumber returns the month (1-12) of day, or 0 for malformed days.
func MonthNumber(day string) int {
	t, err := ParseDay(day)
	if err != nil {
		return 0
	}
	return int(t.Month())
}

// Today returns the "YYYY-MM-DD" day of t.
func Today(t time.Time) string {
	return t.Format(DayLayout)
}
