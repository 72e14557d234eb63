// Package timer decides whether a scheduled job may run at a given wall
// clock time and parses the human-entered cooldown strings jobs carry.
package timer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrMalformedTime is returned alongside an eligible result when a window
// carries a start or end time that cannot be parsed.
var ErrMalformedTime = errors.New("malformed timer time")

// ErrInvalidCooldown is returned by ParseCooldown.
var ErrInvalidCooldown = errors.New("invalid cooldown")

var (
	clockPattern    = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)
	cooldownPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)
)

var weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

var unitSeconds = map[string]int{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
}

// Window restricts a job to a daily time range and optionally to a set of
// weekdays.
type Window struct {
	Enabled   bool     `json:"enabled"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	Days      []string `json:"days"`
}

// Contains reports whether now falls inside the window. A nil or disabled
// window always contains now. When a start or end time is malformed the
// window fails open: the result is true and the error wraps ErrMalformedTime
// so the caller can log it.
func (w *Window) Contains(now time.Time) (bool, error) {
	if w == nil || !w.Enabled {
		return true, nil
	}

	if len(w.Days) > 0 {
		today := weekdays[now.Weekday()]
		found := false
		for _, d := range w.Days {
			if strings.EqualFold(strings.TrimSpace(d), today) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	if w.StartTime == "" || w.EndTime == "" {
		return true, nil
	}

	start, err := clockSeconds(w.StartTime)
	if err != nil {
		return true, err
	}
	end, err := clockSeconds(w.EndTime)
	if err != nil {
		return true, err
	}

	cur := now.Hour()*3600 + now.Minute()*60 + now.Second()
	if start <= end {
		return start <= cur && cur <= end, nil
	}
	// wraps past midnight
	return cur >= start || cur <= end, nil
}

// clockSeconds converts HH:MM or HH:MM:SS to seconds since midnight.
func clockSeconds(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, errors.Wrapf(ErrMalformedTime, "%q", s)
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return 0, errors.Wrapf(ErrMalformedTime, "%q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, errors.Wrapf(ErrMalformedTime, "%q", s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, nil
}

// ValidClock reports whether s is an HH:MM 24-hour time as accepted by the
// editor.
func ValidClock(s string) bool {
	return clockPattern.MatchString(s)
}

// ValidDay reports whether s names a weekday.
func ValidDay(s string) bool {
	s = strings.ToLower(s)
	for _, d := range weekdays {
		if d == s {
			return true
		}
	}
	return false
}

// ParseCooldown converts "30", "30s", "5m", "2h", "1d" or "1w" into seconds.
func ParseCooldown(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.Wrap(ErrInvalidCooldown, "empty value")
	}

	var secs int
	if n, err := strconv.Atoi(s); err == nil {
		secs = n
	} else {
		m := cooldownPattern.FindStringSubmatch(s)
		if m == nil {
			return 0, errors.Wrapf(ErrInvalidCooldown, "%q", s)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidCooldown, "%q", s)
		}
		secs = n * unitSeconds[m[2]]
	}

	if secs < 1 {
		return 0, errors.Wrapf(ErrInvalidCooldown, "%q must be at least one second", s)
	}
	return secs, nil
}
