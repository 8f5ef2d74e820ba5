package ics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "pefsched/internal/log"
	"pefsched/internal/model"
)

const defaultHorizon = 365 * 24 * time.Hour

// SessionOptions controls how parsed events become sessions.
type SessionOptions struct {
	LocationID int64
	ClassID    int64
	// Location is the site timezone; weekdays are taken from it.
	Location *time.Location
	// Horizon bounds rules with neither UNTIL nor COUNT. Zero means one year.
	Horizon time.Duration
}

// ToSessions maps base VEVENTs onto sessions keyed by UID. Only weekly and
// daily rules with an interval of one fit the repeat model; other rules
// and overridden instances are logged and skipped. EXDATEs are not kept.
func ToSessions(events []ParsedEvent, opts SessionOptions) []model.Session {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Horizon <= 0 {
		opts.Horizon = defaultHorizon
	}

	// Latest SEQUENCE wins for duplicate UIDs.
	latest := make(map[string]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride {
			appLog.Debug("ics import: skipping overridden instance", "uid", ev.UID)
			continue
		}
		if cur, ok := latest[ev.UID]; ok && cur.Seq > ev.Seq {
			continue
		}
		latest[ev.UID] = ev
	}

	uids := make([]string, 0, len(latest))
	for uid := range latest {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	out := make([]model.Session, 0, len(uids))
	for _, uid := range uids {
		ev := latest[uid]
		st, err := sessionTime(ev, opts)
		if err != nil {
			appLog.Warn("ics import: skipping event", "uid", uid, "rrule", ev.RawRRule, "err", err.Error())
			continue
		}
		if len(ev.ExDates) > 0 {
			appLog.Debug("ics import: exdates ignored", "uid", uid, "count", len(ev.ExDates))
		}
		title := strings.TrimSpace(ev.Summary)
		if title == "" {
			title = "(untitled)"
		}
		out = append(out, model.Session{
			ExternalID:  uid,
			Title:       title,
			ClassID:     opts.ClassID,
			LocationID:  opts.LocationID,
			Room:        ev.Location,
			Description: ev.Description,
			RegisterURL: ev.URL,
			Times:       []model.SessionTime{st},
		})
	}
	return out
}

func sessionTime(ev ParsedEvent, opts SessionOptions) (model.SessionTime, error) {
	loc := opts.Location
	start := ev.Start.In(loc)
	end := ev.End.In(loc)

	if ev.RawRRule == "" {
		return model.SessionTime{
			Start: start.UTC(),
			End:   end.UTC(),
			Days:  []time.Weekday{start.Weekday()},
		}, nil
	}

	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		return model.SessionTime{}, fmt.Errorf("parse rrule: %w", err)
	}
	if opt.Interval > 1 {
		return model.SessionTime{}, fmt.Errorf("interval %d not supported", opt.Interval)
	}

	var days []time.Weekday
	switch opt.Freq {
	case rrule.WEEKLY, rrule.DAILY:
		for i := range opt.Byweekday {
			// rrule weekdays count from Monday = 0.
			d, err := model.FromISOWeekday(opt.Byweekday[i].Day() + 1)
			if err != nil {
				return model.SessionTime{}, err
			}
			days = append(days, d)
		}
		if len(days) == 0 {
			if opt.Freq == rrule.DAILY {
				days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
			} else {
				days = []time.Weekday{start.Weekday()}
			}
		}
	default:
		return model.SessionTime{}, errors.New("only weekly and daily rules are supported")
	}
	model.SortDays(days)

	last, err := lastOccurrence(opt, start, opts.Horizon)
	if err != nil {
		return model.SessionTime{}, err
	}
	last = last.In(loc)
	spanEnd := time.Date(last.Year(), last.Month(), last.Day(), end.Hour(), end.Minute(), end.Second(), 0, loc)
	if spanEnd.Before(end) {
		spanEnd = end
	}
	return model.SessionTime{Start: start.UTC(), End: spanEnd.UTC(), Days: days}, nil
}

// lastOccurrence returns the last start of a bounded rule, or the horizon
// for unbounded ones.
func lastOccurrence(opt *rrule.ROption, start time.Time, horizon time.Duration) (time.Time, error) {
	if !opt.Until.IsZero() {
		return opt.Until, nil
	}
	if opt.Count <= 0 {
		return start.Add(horizon), nil
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, err
	}
	all := r.All()
	if len(all) == 0 {
		return start, nil
	}
	return all[len(all)-1], nil
}
