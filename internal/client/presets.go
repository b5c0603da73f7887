package client

import (
	"fmt"
	"sort"
	"time"
)

// Preset names accepted by ResolvePreset.
const (
	PresetMorning    = "morning"
	PresetLunch      = "lunch"
	PresetAfternoon  = "afternoon"
	PresetEvening    = "evening"
	PresetTomorrow   = "tomorrow"
	PresetNextMonday = "next-monday"
	PresetNextWeek   = "next-week"
)

type slot struct{ hour, minute int }

var slots = map[string]slot{
	PresetMorning:   {9, 0},
	PresetLunch:     {12, 30},
	PresetAfternoon: {14, 0},
	PresetEvening:   {18, 0},
}

// Presets lists every preset name in a stable order.
func Presets() []string {
	names := []string{PresetTomorrow, PresetNextMonday, PresetNextWeek}
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePreset turns a named preset into a send time relative to now, in
// now's location. The time-of-day slots land on the next calendar day; the
// day presets keep now's clock time.
func ResolvePreset(name string, now time.Time) (time.Time, error) {
	if s, ok := slots[name]; ok {
		y, m, d := now.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, s.hour, s.minute, 0, 0, now.Location()), nil
	}

	switch name {
	case PresetTomorrow:
		return now.AddDate(0, 0, 1), nil
	case PresetNextMonday:
		days := (8 - int(now.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, days), nil
	case PresetNextWeek:
		return now.AddDate(0, 0, 7), nil
	}

	return time.Time{}, fmt.Errorf("unknown preset %q", name)
}

// AtClock moves t to hh:mm on the same day.
func AtClock(t time.Time, clock string) (time.Time, error) {
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("time of day must be HH:MM, got %q", clock)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, t.Location()), nil
}
