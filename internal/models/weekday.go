package models

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is a scheduled saving day. Sunday is never a school day and is not
// part of the domain.
type Weekday string

const (
	WeekdayMonday    Weekday = "Senin"
	WeekdayTuesday   Weekday = "Selasa"
	WeekdayWednesday Weekday = "Rabu"
	WeekdayThursday  Weekday = "Kamis"
	WeekdayFriday    Weekday = "Jumat"
	WeekdaySaturday  Weekday = "Sabtu"
)

// SchoolWeekdays lists the domain in calendar order.
var SchoolWeekdays = []Weekday{
	WeekdayMonday,
	WeekdayTuesday,
	WeekdayWednesday,
	WeekdayThursday,
	WeekdayFriday,
	WeekdaySaturday,
}

var weekdayByTime = map[time.Weekday]Weekday{
	time.Monday:    WeekdayMonday,
	time.Tuesday:   WeekdayTuesday,
	time.Wednesday: WeekdayWednesday,
	time.Thursday:  WeekdayThursday,
	time.Friday:    WeekdayFriday,
	time.Saturday:  WeekdaySaturday,
}

// ParseWeekday accepts the Indonesian label or the English day name.
func ParseWeekday(raw string) (Weekday, error) {
	needle := strings.TrimSpace(raw)
	for day, label := range weekdayByTime {
		if strings.EqualFold(needle, string(label)) || strings.EqualFold(needle, day.String()) {
			return label, nil
		}
	}
	return "", fmt.Errorf("invalid weekday %q", raw)
}

// WeekdayOf maps a calendar date onto the domain. Sundays report false.
func WeekdayOf(t time.Time) (Weekday, bool) {
	day, ok := weekdayByTime[t.Weekday()]
	return day, ok
}

// Valid reports whether w is one of the six labels.
func (w Weekday) Valid() bool {
	for _, day := range SchoolWeekdays {
		if w == day {
			return true
		}
	}
	return false
}
