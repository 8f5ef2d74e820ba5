package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"pefsched/internal/model"
	"pefsched/internal/schedule"
)

const productID = "-//pefsched//schedule//EN"

var weekdayToRRule = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// FeedOptions describe the calendar wrapper of an export.
type FeedOptions struct {
	Name string
	// Location is the site timezone, used for daily times and rule bounds.
	Location *time.Location
	// LocationTitles maps location ids to titles for the LOCATION property.
	LocationTitles map[int64]string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

func newCalendar(opts FeedOptions) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if opts.Location != nil {
		cal.SetXWRTimezone(opts.Location.String())
	}
	return cal
}

// EncodeSessions renders each session time as a recurring VEVENT with a
// weekly RRULE bounded by the session's last day.
func EncodeSessions(sessions []model.Session, opts FeedOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	stamp := opts.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := newCalendar(opts)
	for _, sess := range sessions {
		for i, st := range sess.Times {
			if len(st.Days) == 0 {
				continue
			}
			start := st.Start.In(loc)
			last := st.End.In(loc)
			dur := time.Duration(model.DailyMinutes(start, last)) * time.Minute

			ev := cal.AddEvent(sessionUID(sess, i, st))
			ev.SetDtStampTime(stamp)
			ev.SetStartAt(start)
			ev.SetEndAt(start.Add(dur))
			ev.SetSummary(sess.Title)
			if d := schedule.StripTags(sess.Description); d != "" {
				ev.SetDescription(d)
			}
			if where := eventLocation(sess, opts.LocationTitles); where != "" {
				ev.SetLocation(where)
			}
			if sess.RegisterURL != "" {
				ev.SetURL(sess.RegisterURL)
			}

			rule := rrule.ROption{
				Freq:  rrule.WEEKLY,
				Until: time.Date(last.Year(), last.Month(), last.Day(), 23, 59, 59, 0, loc).UTC(),
			}
			for _, d := range st.Days {
				rule.Byweekday = append(rule.Byweekday, weekdayToRRule[d])
			}
			ev.AddRrule(rule.RRuleString())
		}
	}
	return cal.Serialize()
}

func sessionUID(sess model.Session, idx int, st model.SessionTime) string {
	if sess.ExternalID != "" && len(sess.Times) == 1 {
		return sess.ExternalID
	}
	if st.ID > 0 {
		return fmt.Sprintf("session-%d-%d@pefsched", sess.ID, st.ID)
	}
	return fmt.Sprintf("session-%d-i%d@pefsched", sess.ID, idx)
}

func eventLocation(sess model.Session, titles map[int64]string) string {
	parts := make([]string, 0, 2)
	if t := titles[sess.LocationID]; t != "" {
		parts = append(parts, t)
	}
	if sess.Room != "" {
		parts = append(parts, sess.Room)
	}
	return strings.Join(parts, ", ")
}

// EncodeItems renders resolved occurrences as single VEVENTs.
func EncodeItems(items []schedule.Item, opts FeedOptions) string {
	stamp := opts.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := newCalendar(opts)
	for _, it := range items {
		uid := fmt.Sprintf("repeat-%d-%s@pefsched", it.Session, it.OccurrenceStart.UTC().Format("20060102T150405Z"))
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(it.OccurrenceStart)
		ev.SetEndAt(it.OccurrenceEnd)
		ev.SetSummary(it.Name)
		if it.Description != "" {
			ev.SetDescription(it.Description)
		}
		where := it.Location
		if it.Room != "" {
			where = strings.TrimPrefix(where+", "+it.Room, ", ")
		}
		if where != "" {
			ev.SetLocation(where)
		}
		if it.RegisterURL != "" {
			ev.SetURL(it.RegisterURL)
		}
		if it.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, it.Category)
		}
	}
	return cal.Serialize()
}
