package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarDayOfMidnightCutoff(t *testing.T) {
	cal, err := NewCalendar("UTC", 0)
	require.NoError(t, err)

	a := time.Date(2024, 3, 10, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, cal.DayOf(a), cal.DayOf(b))
	assert.Equal(t, cal.DayOf(a)+1, cal.DayOf(c))
}

func TestCalendarDayOfCustomCutoff(t *testing.T) {
	// With a 4am cutoff, 03:59 still belongs to the previous day.
	cal, err := NewCalendar("UTC", 4)
	require.NoError(t, err)

	lateNight := time.Date(2024, 3, 11, 3, 59, 0, 0, time.UTC)
	prevEvening := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	morning := time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)

	assert.Equal(t, cal.DayOf(prevEvening), cal.DayOf(lateNight))
	assert.Equal(t, cal.DayOf(lateNight)+1, cal.DayOf(morning))
}

func TestCalendarTimezoneMatters(t *testing.T) {
	utc, err := NewCalendar("UTC", 0)
	require.NoError(t, err)
	shanghai, err := NewCalendar("Asia/Shanghai", 0)
	require.NoError(t, err)

	// 20:00 UTC is already the next calendar day in Shanghai (UTC+8).
	ts := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, utc.DayOf(ts)+1, shanghai.DayOf(ts))
}

func TestCalendarDayStartRoundtrip(t *testing.T) {
	cal, err := NewCalendar("Asia/Shanghai", 4)
	require.NoError(t, err)

	day := cal.DayOf(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	start := cal.DayStart(day)
	assert.Equal(t, day, cal.DayOf(start))
	assert.Equal(t, day-1, cal.DayOf(start.Add(-time.Second)))
}

func TestCalendarRejectsBadConfig(t *testing.T) {
	_, err := NewCalendar("Not/AZone", 0)
	assert.Error(t, err)
	_, err = NewCalendar("UTC", 24)
	assert.Error(t, err)
}

func TestCalendarFormatDay(t *testing.T) {
	cal, err := NewCalendar("UTC", 0)
	require.NoError(t, err)
	day := cal.DayOf(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-03-10", cal.FormatDay(day))
}
