package item

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is either Pool or a slot key "{year}-{month}-{day}" with a
// zero-indexed month.
type Location string

// Pool is the unscheduled holding area.
const Pool Location = "pool"

var ErrInvalidLocation = errors.New("invalid location")

// SlotKey builds the location of a calendar day. month is zero-indexed.
func SlotKey(year, month, day int) Location {
	return Location(fmt.Sprintf("%d-%d-%d", year, month, day))
}

// SlotKeyForDate builds the slot key of a calendar date.
func SlotKeyForDate(t time.Time) Location {
	return SlotKey(t.Year(), int(t.Month())-1, t.Day())
}

// ParseLocation validates s as the pool sentinel or a well-formed slot key.
func ParseLocation(s string) (Location, error) {
	loc := Location(strings.TrimSpace(s))
	if !loc.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}
	return loc, nil
}

func (l Location) IsPool() bool { return l == Pool }

// Valid reports whether l is the pool or a slot key naming a real date.
func (l Location) Valid() bool {
	if l.IsPool() {
		return true
	}
	_, _, _, ok := l.parts()
	return ok
}

// Date returns the calendar day of a slot key.
func (l Location) Date() (time.Time, bool) {
	year, month, day, ok := l.parts()
	if !ok {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, time.UTC), true
}

// Parts returns the year, zero-indexed month and day of a slot key.
func (l Location) Parts() (year, month, day int, ok bool) {
	return l.parts()
}

func (l Location) parts() (year, month, day int, ok bool) {
	fields := strings.Split(string(l), "-")
	if len(fields) != 3 {
		return 0, 0, 0, false
	}
	values := make([]int, 3)
	for i, field := range fields {
		if field == "" || (len(field) > 1 && field[0] == '0') {
			return 0, 0, 0, false
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		values[i] = n
	}
	year, month, day = values[0], values[1], values[2]
	if year < 1970 || year > 9999 || month > 11 || day < 1 {
		return 0, 0, 0, false
	}
	// time.Date normalizes overflow, so a round trip catches 2024-1-30.
	date := time.Date(year, time.Month(month+1), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || int(date.Month()) != month+1 {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

func (l Location) String() string { return string(l) }
