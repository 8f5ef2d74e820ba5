package schedule

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "pefsched/internal/log"
	"pefsched/internal/model"
)

const defaultMaxOccurrencesPerRow = 1000

var isoToRRule = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// ExpandConfig controls how repeat rows are turned into occurrences.
type ExpandConfig struct {
	// Location is the site timezone. Weekdays and daily start times are
	// evaluated here so that wall-clock times survive DST changes.
	Location *time.Location

	// RangeStart / RangeEnd define the half-open window [start, end).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerRow is a safety cap against very long windows. If
	// zero, defaultMaxOccurrencesPerRow is used.
	MaxOccurrencesPerRow int
}

// ExpandResult wraps the expanded occurrences and the repeat rows that hit
// the per-row cap.
type ExpandResult struct {
	Occurrences  []model.Occurrence
	TruncatedIDs []int64
}

// ExpandRows resolves each row's weekday into concrete dates within the
// window, bounded by the session's first and last day. An occurrence is
// kept when it overlaps the window.
func ExpandRows(rows []model.ScheduleRow, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, ErrInvalidRange
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerRow <= 0 {
		cfg.MaxOccurrencesPerRow = defaultMaxOccurrencesPerRow
	}

	result.Occurrences = make([]model.Occurrence, 0, len(rows))
	for i := range rows {
		occ, hitCap, err := expandRow(&rows[i], cfg)
		if err != nil {
			appLog.Error("expand: skipping repeat row", err, "repeat_id", rows[i].ID, "session", rows[i].SessionID)
			continue
		}
		if hitCap {
			result.TruncatedIDs = append(result.TruncatedIDs, rows[i].ID)
			appLog.Error("expand: truncated occurrences for repeat row due to cap",
				errors.New("max occurrences reached"),
				"repeat_id", rows[i].ID,
				"cap", cfg.MaxOccurrencesPerRow,
			)
		}
		result.Occurrences = append(result.Occurrences, occ...)
	}
	return result, nil
}

func expandRow(row *model.ScheduleRow, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	if row.Weekday < 1 || row.Weekday > 7 {
		return nil, false, errors.New("weekday out of range")
	}
	loc := cfg.Location
	spanStart := time.Unix(row.TimeStart, 0).In(loc)
	spanEnd := time.Unix(row.TimeEnd, 0).In(loc)
	dur := time.Duration(row.Duration) * time.Minute

	// The rule starts on the first day at the daily start time and runs
	// through the end of the last day.
	lastDay := time.Date(spanEnd.Year(), spanEnd.Month(), spanEnd.Day(), 23, 59, 59, 0, loc)
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{isoToRRule[row.Weekday-1]},
		Dtstart:   spanStart,
		Until:     lastDay,
	})
	if err != nil {
		return nil, false, err
	}

	// Occurrences that started before the window may still overlap it.
	starts := r.Between(cfg.RangeStart.In(loc).Add(-dur), cfg.RangeEnd.In(loc), true)

	out := make([]model.Occurrence, 0, len(starts))
	hitCap := false
	for _, start := range starts {
		end := start.Add(dur)
		if !start.Before(cfg.RangeEnd) || !end.After(cfg.RangeStart) {
			continue
		}
		if len(out) == cfg.MaxOccurrencesPerRow {
			hitCap = true
			break
		}
		out = append(out, model.Occurrence{Row: row, Start: start.In(loc), End: end.In(loc)})
	}
	return out, hitCap, nil
}
