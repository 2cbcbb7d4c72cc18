package services

import (
	"fmt"
	"time"
)

// Calendar converts wall-clock timestamps into logical days. A logical day
// is the number of cutoff-to-cutoff periods since the Unix epoch, computed
// in the configured timezone. With CutoffHour 4 in Asia/Shanghai, 03:59
// local time still belongs to the previous day's check-in window.
type Calendar struct {
	loc        *time.Location
	cutoffHour int
}

// NewCalendar builds a Calendar for the given IANA timezone and cutoff hour.
func NewCalendar(timezone string, cutoffHour int) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if cutoffHour < 0 || cutoffHour > 23 {
		return nil, fmt.Errorf("cutoff hour %d out of range", cutoffHour)
	}
	return &Calendar{loc: loc, cutoffHour: cutoffHour}, nil
}

// DayOf returns the logical day containing t.
func (c *Calendar) DayOf(t time.Time) int64 {
	shifted := t.In(c.loc).Add(-time.Duration(c.cutoffHour) * time.Hour)
	y, m, d := shifted.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Today returns the current logical day.
func (c *Calendar) Today() int64 {
	return c.DayOf(time.Now())
}

// DayStart returns the wall-clock instant at which the logical day begins.
func (c *Calendar) DayStart(day int64) time.Time {
	t := time.Unix(day*86400, 0).UTC()
	y, m, d := t.Date()
	return time.Date(y, m, d, c.cutoffHour, 0, 0, 0, c.loc)
}

// FormatDay renders a logical day as its calendar date label.
func (c *Calendar) FormatDay(day int64) string {
	return time.Unix(day*86400, 0).UTC().Format("2006-01-02")
}

// MonthBounds returns the wall-clock start of the calendar month containing
// the current moment and the start of the next month, in the calendar's
// timezone. Used for per-month quotas such as the makeup limit.
func (c *Calendar) MonthBounds(now time.Time) (time.Time, time.Time) {
	local := now.In(c.loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 1, 0)
}
