package shipping

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Weekday is an ISO-8601 day of week: Monday=1 … Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf converts the weekday of t to ISO numbering.
func WeekdayOf(t time.Time) Weekday {
	// time.Sunday is 0.
	return Weekday((int(t.Weekday())+6)%7 + 1)
}

// Valid reports whether w is within Monday..Sunday.
func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// DaysUntil returns how many days forward from w the weekday next is, in 0..6.
func (w Weekday) DaysUntil(next Weekday) int {
	return ((int(next)-int(w))%7 + 7) % 7
}

func (w Weekday) String() string {
	if !w.Valid() {
		return "Weekday(" + strconv.Itoa(int(w)) + ")"
	}
	return time.Weekday(int(w) % 7).String()
}

// TimeOfDay is a wall-clock time in the business location.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, errors.Errorf("parse time of day %q: want HH:MM[:SS]", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, errors.Wrapf(err, "parse time of day %q", s)
		}
		vals[i] = v
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if !t.Valid() {
		return TimeOfDay{}, errors.Errorf("parse time of day %q: out of range", s)
	}
	return t, nil
}

// ClockOf returns the wall-clock time of t in t's own location.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay{Hour: h, Minute: m, Second: s}
}

// Valid reports whether t lies within 00:00:00..23:59:59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Before reports whether t is strictly earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Seconds() < other.Seconds()
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}
