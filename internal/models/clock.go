package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a time of day as used by profile schedules
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM", or "HH:MM:SS" when withSeconds is set.
func ParseClock(s string, withSeconds bool) (Clock, error) {
	parts := strings.Split(s, ":")
	want := 2
	if withSeconds {
		want = 3
	}
	if len(parts) != want {
		return Clock{}, fmt.Errorf("clock %q: want %d fields, got %d", s, want, len(parts))
	}

	limits := []int{24, 60, 60}
	values := make([]int, 3)
	for i, p := range parts {
		if len(p) != 2 || !isDigit(p[0]) || !isDigit(p[1]) {
			return Clock{}, fmt.Errorf("clock %q: field %d must have two digits", s, i+1)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= limits[i] {
			return Clock{}, fmt.Errorf("clock %q: field %d out of range", s, i+1)
		}
		values[i] = n
	}
	return Clock{Hour: values[0], Minute: values[1], Second: values[2]}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Seconds is the offset from midnight at minute resolution. The seconds
// field is ignored because schedule slots only carry HH:MM.
func (c Clock) Seconds() int {
	return c.Hour*3600 + c.Minute*60
}

// String formats the clock as "HH:MM"
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
