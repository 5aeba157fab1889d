package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay bounds a time-of-day value.
const MinutesPerDay = 24 * 60

// DateLayout is the wire and storage format of a booking date.
const DateLayout = "2006-01-02"

var (
	clockRe   = regexp.MustCompile(`^(\d{1,2})\s*[:.hH]\s*(\d{2})(?::\d{2})?$`)
	compactRe = regexp.MustCompile(`^(\d{2})(\d{2})$`)
)

// ParseTimeOfDay converts "19:30", "7.30", "19h30", "19:30:00" or "1930"
// into minutes after midnight.
func ParseTimeOfDay(raw string) (int, error) {
	s := strings.TrimSpace(raw)

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		m = compactRe.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, fmt.Errorf("unable to parse time of day: %q", raw)
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, fmt.Errorf("time of day out of range: %q", raw)
	}
	return hour*60 + minute, nil
}

// FormatTimeOfDay renders minutes after midnight as HH:MM. Values past
// midnight wrap onto the next day's clock.
func FormatTimeOfDay(minute int) string {
	minute %= MinutesPerDay
	if minute < 0 {
		minute += MinutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseDate validates a YYYY-MM-DD booking date and returns its canonical form.
func ParseDate(raw string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("unable to parse date %q: expected YYYY-MM-DD", raw)
	}
	return t.Format(DateLayout), nil
}

// MinuteOfDay returns t's minutes after midnight in t's own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateOf returns t's calendar date in t's own location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("unable to parse date %q: expected YYYY-MM-DD", date)
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}
