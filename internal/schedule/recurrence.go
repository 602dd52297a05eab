package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrUnrecognized is returned for schedule text that does not name any
// weekday or carries no "h:mm AM - h:mm PM" range.
var ErrUnrecognized = errors.New("schedule: unrecognized format")

// Recurrence is a weekly session pattern extracted from free text such as
// "Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM".
type Recurrence struct {
	Days []time.Weekday

	// Start and End are wall-clock offsets from midnight.
	Start time.Duration
	End   time.Duration
}

// Session is one concrete occurrence of a Recurrence.
type Session struct {
	Start time.Time
	End   time.Time
}

var timeRangeRe = regexp.MustCompile(`(?i)(\d{1,2}:\d{2})\s*([ap])\.?m\.?\s*[-–]\s*(\d{1,2}:\d{2})\s*([ap])\.?m\.?`)

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

var rruleDays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Parse extracts a weekly Recurrence. Weekdays may be singular or plural in
// any case; the time range must follow them.
func Parse(text string) (Recurrence, error) {
	loc := timeRangeRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return Recurrence{}, fmt.Errorf("%w: no time range in %q", ErrUnrecognized, text)
	}
	m := timeRangeRe.FindStringSubmatch(text)

	start, err := parseClock(m[1], m[2])
	if err != nil {
		return Recurrence{}, err
	}
	end, err := parseClock(m[3], m[4])
	if err != nil {
		return Recurrence{}, err
	}
	if end <= start {
		return Recurrence{}, fmt.Errorf("%w: range ends before it starts in %q", ErrUnrecognized, text)
	}

	days := parseDays(text[:loc[0]])
	if len(days) == 0 {
		return Recurrence{}, fmt.Errorf("%w: no weekday in %q", ErrUnrecognized, text)
	}

	return Recurrence{Days: days, Start: start, End: end}, nil
}

func parseClock(hm, meridiem string) (time.Duration, error) {
	t, err := time.Parse("3:04PM", hm+strings.ToUpper(meridiem)+"M")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseDays(text string) []time.Weekday {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r < 'a' || r > 'z'
	})

	var days []time.Weekday
	seen := make(map[time.Weekday]bool)
	for _, w := range words {
		d, ok := dayNames[w]
		if !ok {
			d, ok = dayNames[strings.TrimSuffix(w, "s")]
		}
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	return days
}

// Duration is the length of one session.
func (r Recurrence) Duration() time.Duration {
	return r.End - r.Start
}

// Rule builds the weekly rrule anchored on the day of anchor, in loc.
func (r Recurrence) Rule(anchor time.Time, loc *time.Location) (*rrule.RRule, error) {
	if loc == nil {
		loc = time.Local
	}
	anchor = anchor.In(loc)

	byDay := make([]rrule.Weekday, 0, len(r.Days))
	for _, d := range r.Days {
		byDay = append(byDay, rruleDays[d])
	}

	// Build the wall-clock start explicitly so DST shifts don't move it.
	h := int(r.Start / time.Hour)
	m := int((r.Start % time.Hour) / time.Minute)
	dtstart := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), h, m, 0, 0, loc)

	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byDay,
		Dtstart:   dtstart,
	})
}

// Next returns the first session starting strictly after t. A weekly
// recurrence always has one within the following eight days.
func (r Recurrence) Next(t time.Time, loc *time.Location) (Session, bool) {
	sessions, err := r.Between(t, t.AddDate(0, 0, 8), loc)
	if err != nil {
		return Session{}, false
	}
	for _, s := range sessions {
		if s.Start.After(t) {
			return s, true
		}
	}
	return Session{}, false
}

// Between returns every session starting within [from, to].
func (r Recurrence) Between(from, to time.Time, loc *time.Location) ([]Session, error) {
	if to.Before(from) {
		return nil, errors.New("schedule: range end is before start")
	}
	rule, err := r.Rule(from, loc)
	if err != nil {
		return nil, err
	}

	var set rrule.Set
	set.RRule(rule)

	starts := set.Between(from, to, true)
	out := make([]Session, 0, len(starts))
	for _, s := range starts {
		out = append(out, Session{Start: s, End: s.Add(r.Duration())})
	}
	return out, nil
}
