package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeLabel(t *testing.T) {
	cases := []struct {
		in     string
		h, m   int
		wantOK bool
	}{
		{"08:00", 8, 0, true},
		{"8:05", 8, 5, true},
		{" 23:59 ", 23, 59, true},
		{"00:00", 0, 0, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"12:5", 0, 0, false},
		{"noon", 0, 0, false},
		{"", 0, 0, false},
		{"1:2:3", 0, 0, false},
	}
	for _, tc := range cases {
		h, m, err := ParseTimeLabel(tc.in)
		if !tc.wantOK {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.h, h, tc.in)
		assert.Equal(t, tc.m, m, tc.in)
	}
}

func TestAtLabel_UsesDayLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2026, 7, 1, 23, 30, 0, 0, loc)

	at, err := AtLabel(day, "08:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 8, 15, 0, 0, loc), at)
	assert.Equal(t, loc, at.Location())
}

func TestDaySpan(t *testing.T) {
	now := time.Date(2026, 3, 14, 17, 45, 0, 0, time.UTC)
	from, to := DaySpan(now)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), to)
}

func TestNormalizeTimeLabels(t *testing.T) {
	valid, invalid := NormalizeTimeLabels([]string{"20:00", "8:00", "08:00", "bad", "12:30", "20:00"})
	assert.Equal(t, []string{"08:00", "12:30", "20:00"}, valid)
	assert.Equal(t, []string{"bad"}, invalid)
}

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("03:05")
	require.NoError(t, err)
	assert.Equal(t, "0 5 3 * * *", spec)

	_, err = buildDailySpec("3am")
	assert.Error(t, err)
}
