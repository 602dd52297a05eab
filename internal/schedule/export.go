package schedule

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "signupboard/internal/log"
	"signupboard/internal/model"
)

const productID = "-//signupboard//activities//EN"

// icsLocalLayout is the floating DATE-TIME form used with a TZID parameter.
const icsLocalLayout = "20060102T150405"

// EventUID derives a stable iCalendar UID from an activity name, so
// subscribers see updates instead of duplicates across refreshes.
func EventUID(activityName string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("signupboard:activity:"+activityName)).String() + "@signupboard"
}

// ExportICS renders one weekly VEVENT per activity whose schedule parses.
// The first occurrence is the next session at or after the start of now's
// day. Activities with free-form schedules are skipped.
func ExportICS(list []model.Activity, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	skipped := 0
	for _, a := range list {
		rec, err := Parse(a.Schedule)
		if err != nil {
			skipped++
			continue
		}
		rule, err := rec.Rule(dayStart, loc)
		if err != nil {
			appLog.Error("ics export: build rule failed", err, "activity", a.Name)
			skipped++
			continue
		}
		first := rule.After(dayStart, true)
		if first.IsZero() {
			skipped++
			continue
		}

		ev := cal.AddEvent(EventUID(a.Name))
		ev.SetDtStampTime(now)
		ev.SetSummary(a.Name)
		ev.SetDescription(fmt.Sprintf("%s\n%s\n%d spots left", a.Description, a.Schedule, a.SpotsLeft()))
		setLocalTime(ev, ical.ComponentPropertyDtStart, first, loc)
		setLocalTime(ev, ical.ComponentPropertyDtEnd, first.Add(rec.Duration()), loc)
		ev.AddProperty(ical.ComponentPropertyRrule, rule.OrigOptions.RRuleString())
	}

	appLog.Debug("ics export completed", "activities", len(list), "skipped", skipped)
	return cal.Serialize()
}

// setLocalTime writes a DATE-TIME in loc's wall clock with a TZID. BYDAY is
// evaluated in DTSTART's zone, so converting to UTC could move a late session
// onto the next weekday.
func setLocalTime(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if loc == time.UTC {
		ev.SetProperty(prop, t.UTC().Format(icsLocalLayout)+"Z")
		return
	}
	ev.SetProperty(prop, t.In(loc).Format(icsLocalLayout), &ical.KeyValues{
		Key:   string(ical.ParameterTzid),
		Value: []string{loc.String()},
	})
}
