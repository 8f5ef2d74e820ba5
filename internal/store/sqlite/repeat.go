package sqlite

import (
	"time"

	"pefsched/internal/model"
)

// BuildRepeatEvents derives one repeat row per (session time, weekday).
//
// Weekdays and the daily time window are interpreted in loc, the site
// timezone, since that is where the schedule is defined. A daily end at or
// before the daily start wraps to the next day.
func BuildRepeatEvents(s model.Session, category string, loc *time.Location) []model.RepeatEvent {
	if loc == nil {
		loc = time.UTC
	}
	var out []model.RepeatEvent
	for _, st := range s.Times {
		dur := model.DailyMinutes(st.Start.In(loc), st.End.In(loc))
		for _, d := range st.Days {
			out = append(out, model.RepeatEvent{
				SessionID:     s.ID,
				SessionTimeID: st.ID,
				LocationID:    s.LocationID,
				ClassID:       s.ClassID,
				Category:      category,
				Weekday:       model.ISOWeekday(d),
				Start:         st.Start.Unix(),
				End:           st.End.Unix(),
				Duration:      dur,
				Room:          s.Room,
				Instructor:    s.Instructor,
				RegisterURL:   s.RegisterURL,
				RegisterText:  s.RegisterText,
				ProductID:     s.ProductID,
			})
		}
	}
	return out
}
