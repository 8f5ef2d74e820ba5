package model

import "time"

// DailyMinutes is the length of the daily window between the
// time-of-day of start and of end. An end at or before the start wraps
// to the next day.
func DailyMinutes(start, end time.Time) int {
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	d := endMin - startMin
	if d <= 0 {
		d += 24 * 60
	}
	return d
}
