package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePreset(t *testing.T) {
	// Wednesday afternoon
	now := time.Date(2026, 5, 6, 16, 45, 10, 0, time.UTC)

	cases := map[string]time.Time{
		PresetMorning:    time.Date(2026, 5, 7, 9, 0, 0, 0, time.UTC),
		PresetLunch:      time.Date(2026, 5, 7, 12, 30, 0, 0, time.UTC),
		PresetAfternoon:  time.Date(2026, 5, 7, 14, 0, 0, 0, time.UTC),
		PresetEvening:    time.Date(2026, 5, 7, 18, 0, 0, 0, time.UTC),
		PresetTomorrow:   time.Date(2026, 5, 7, 16, 45, 10, 0, time.UTC),
		PresetNextMonday: time.Date(2026, 5, 11, 16, 45, 10, 0, time.UTC),
		PresetNextWeek:   time.Date(2026, 5, 13, 16, 45, 10, 0, time.UTC),
	}

	for name, want := range cases {
		got, err := ResolvePreset(name, now)
		require.NoError(t, err, name)
		assert.True(t, want.Equal(got), "%s: want %s, got %s", name, want, got)
	}

	_, err := ResolvePreset("someday", now)
	assert.Error(t, err)
}

func TestNextMondayFromMonday(t *testing.T) {
	monday := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

	got, err := ResolvePreset(PresetNextMonday, monday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC), got)
}

func TestPresetsListsEveryName(t *testing.T) {
	for _, name := range Presets() {
		_, err := ResolvePreset(name, time.Now())
		assert.NoError(t, err, name)
	}
	assert.Len(t, Presets(), 7)
}

func TestAtClock(t *testing.T) {
	day := time.Date(2026, 5, 7, 16, 45, 0, 0, time.UTC)

	got, err := AtClock(day, "08:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 7, 8, 15, 0, 0, time.UTC), got)

	_, err = AtClock(day, "8pm")
	assert.Error(t, err)
}
