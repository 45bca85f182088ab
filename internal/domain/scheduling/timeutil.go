package scheduling

import (
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata"
)

const (
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04"
)

// Weekday is a locale-independent day of the week, Monday first.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// WeekdayOf maps a calendar date onto the seven weekday buckets.
func WeekdayOf(t time.Time) Weekday {
	// time.Weekday counts from Sunday = 0.
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday accepts the lowercase English name of a day.
func ParseWeekday(s string) (Weekday, error) {
	for i, name := range weekdayNames {
		if name == s {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseDate parses a YYYY-MM-DD calendar date. The result is midnight UTC and
// carries no zone meaning of its own.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, validationf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseTimeOfDay parses "HH:MM" into hour and minute. Both fields must be
// exactly two ASCII digits so every accepted value has one spelling.
func ParseTimeOfDay(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' || !digits(s[:2]) || !digits(s[3:]) {
		return 0, 0, validationf("invalid time %q: expected HH:MM", s)
	}
	hour, _ := strconv.Atoi(s[:2])
	if hour > 23 {
		return 0, 0, validationf("invalid hour in %q", s)
	}
	minute, _ := strconv.Atoi(s[3:])
	if minute > 59 {
		return 0, 0, validationf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// minutesOfDay converts "HH:MM" into minutes since midnight.
func minutesOfDay(s string) (int, error) {
	h, m, err := ParseTimeOfDay(s)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// combine places the civil date and time-of-day in loc.
func combine(date time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
