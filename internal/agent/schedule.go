package agent

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is the weekday/time-of-day window during which an agent may
// claim and process tasks. Times are interpreted in the configured
// timezone; a disabled schedule means the agent is always in-window.
type Schedule struct {
	Enabled  bool     `json:"enabled"`
	Timezone string   `json:"timezone"`
	Days     []string `json:"days"`  // lowercase weekday names
	Start    string   `json:"start"` // HH:MM
	End      string   `json:"end"`   // HH:MM
}

// Contains reports whether now falls inside the schedule window.
// Malformed timezone or times fail open so a bad config cannot silently
// halt an agent; the orchestrator logs the error separately via Validate.
func (s Schedule) Contains(now time.Time) bool {
	if !s.Enabled {
		return true
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	day := strings.ToLower(local.Weekday().String())
	dayOK := len(s.Days) == 0
	for _, d := range s.Days {
		if strings.ToLower(d) == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, err1 := parseClock(s.Start)
	end, err2 := parseClock(s.End)
	if err1 != nil || err2 != nil {
		return true
	}
	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= start || minute < end
}

// Validate checks the schedule for configuration mistakes.
func (s Schedule) Validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	if _, err := parseClock(s.Start); err != nil {
		return err
	}
	if _, err := parseClock(s.End); err != nil {
		return err
	}
	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
