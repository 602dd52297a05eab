package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupboard/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text  string
		days  []time.Weekday
		start time.Duration
		end   time.Duration
	}{
		{
			"Fridays, 3:30 PM - 5:00 PM",
			[]time.Weekday{time.Friday},
			15*time.Hour + 30*time.Minute, 17 * time.Hour,
		},
		{
			"Tuesdays and Thursdays, 3:30 PM - 4:30 PM",
			[]time.Weekday{time.Tuesday, time.Thursday},
			15*time.Hour + 30*time.Minute, 16*time.Hour + 30*time.Minute,
		},
		{
			"Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM",
			[]time.Weekday{time.Monday, time.Wednesday, time.Friday},
			14 * time.Hour, 15 * time.Hour,
		},
		{
			"saturday 9:00 a.m. – 11:30 a.m.",
			[]time.Weekday{time.Saturday},
			9 * time.Hour, 11*time.Hour + 30*time.Minute,
		},
		{
			"Sundays, 11:00 AM - 12:00 PM",
			[]time.Weekday{time.Sunday},
			11 * time.Hour, 12 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rec, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.days, rec.Days)
			assert.Equal(t, tt.start, rec.Start)
			assert.Equal(t, tt.end, rec.End)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, text := range []string{
		"",
		"By appointment",
		"Fridays after school",
		"3:30 PM - 5:00 PM",
		"Fridays, 5:00 PM - 3:30 PM",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			assert.True(t, errors.Is(err, ErrUnrecognized), "got %v", err)
		})
	}
}

func TestNext(t *testing.T) {
	loc := time.UTC
	rec, err := Parse("Tuesdays and Thursdays, 3:30 PM - 4:30 PM")
	require.NoError(t, err)

	// Wednesday 2026-10-14 10:00.
	wed := time.Date(2026, 10, 14, 10, 0, 0, 0, loc)
	s, ok := rec.Next(wed, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 15, 15, 30, 0, 0, loc), s.Start)
	assert.Equal(t, time.Date(2026, 10, 15, 16, 30, 0, 0, loc), s.End)

	// Thursday before the session starts gets the same day.
	thuMorning := time.Date(2026, 10, 15, 9, 0, 0, 0, loc)
	s, ok = rec.Next(thuMorning, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 15, 15, 30, 0, 0, loc), s.Start)

	// Thursday after the session moves on to Tuesday.
	thuEvening := time.Date(2026, 10, 15, 18, 0, 0, 0, loc)
	s, ok = rec.Next(thuEvening, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 20, 15, 30, 0, 0, loc), s.Start)
}

func TestBetween(t *testing.T) {
	loc := time.UTC
	rec, err := Parse("Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM")
	require.NoError(t, err)

	from := time.Date(2026, 10, 12, 0, 0, 0, 0, loc) // Monday
	to := from.AddDate(0, 0, 7)

	sessions, err := rec.Between(from, to, loc)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, time.Monday, sessions[0].Start.Weekday())
	assert.Equal(t, time.Wednesday, sessions[1].Start.Weekday())
	assert.Equal(t, time.Friday, sessions[2].Start.Weekday())
	assert.Equal(t, time.Hour, sessions[0].End.Sub(sessions[0].Start))

	_, err = rec.Between(to, from, loc)
	assert.Error(t, err)
}

func TestExportICS(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, loc)

	list := []model.Activity{
		{Name: "Chess Club", Description: "Learn strategies", Schedule: "Fridays, 3:30 PM - 5:00 PM", MaxParticipants: 12, Participants: []string{"a@b.com"}},
		{Name: "Open Lab", Description: "Drop in", Schedule: "Whenever the lab is open", MaxParticipants: 5},
		{Name: "Gym Class", Description: "Sports", Schedule: "Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM", MaxParticipants: 30},
	}

	out := ExportICS(list, now, loc)

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 2, "unparseable schedules are skipped")

	chess := events[0]
	assert.Equal(t, "Chess Club", chess.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, EventUID("Chess Club"), chess.GetProperty(ical.ComponentPropertyUniqueId).Value)
	assert.Contains(t, chess.GetProperty(ical.ComponentPropertyRrule).Value, "FREQ=WEEKLY")
	assert.Contains(t, chess.GetProperty(ical.ComponentPropertyRrule).Value, "BYDAY=FR")
	assert.Equal(t, "20261016T153000", chess.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Contains(t, chess.GetProperty(ical.ComponentPropertyDescription).Value, "11 spots left")

	gym := events[1]
	assert.Equal(t, "20261014T140000", gym.GetProperty(ical.ComponentPropertyDtStart).Value)
}

func TestEventUIDIsStable(t *testing.T) {
	assert.Equal(t, EventUID("Chess Club"), EventUID("Chess Club"))
	assert.NotEqual(t, EventUID("Chess Club"), EventUID("Drama Club"))
	assert.True(t, strings.HasSuffix(EventUID("Chess Club"), "@signupboard"))
}
