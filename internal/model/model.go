package model

import "time"

// Location is a branch/facility hosting sessions.
type Location struct {
	ID        int64
	Title     string
	Address   string
	Phone     string
	Email     string
	Published bool
}

// Activity is the category a class belongs to. Color is a hex string and
// may be empty, in which case the configured default color applies.
type Activity struct {
	ID        int64
	Title     string
	Color     string
	Published bool
}

// Class is a bookable offering under an activity.
type Class struct {
	ID          int64
	Title       string
	Description string
	ActivityID  int64
	Published   bool
}

// Session is a recurring class instance at one location.
type Session struct {
	ID int64
	// ExternalID is the upstream UID for sessions imported from ICS feeds.
	ExternalID string

	Title        string
	ClassID      int64
	LocationID   int64
	Room         string
	Instructor   string
	Description  string
	RegisterURL  string
	RegisterText string
	ProductID    string

	Times []SessionTime
}

// SessionTime is one recurrence rule of a session.
//
// Start carries the first day and the daily start time; End carries the
// last day and the daily end time. Both are UTC instants.
type SessionTime struct {
	ID        int64
	SessionID int64
	Start     time.Time
	End       time.Time
	Days      []time.Weekday
}

// RepeatEvent is a precomputed (session time, weekday) row used by the
// date-range query. Start and End are unix seconds (UTC) of the session
// time span; Duration is in minutes.
type RepeatEvent struct {
	ID            int64
	SessionID     int64
	SessionTimeID int64
	LocationID    int64
	ClassID       int64
	Category      string
	Weekday       int // ISO: 1=Monday .. 7=Sunday
	Start         int64
	End           int64
	Duration      int
	Room          string
	Instructor    string
	RegisterURL   string
	RegisterText  string
	ProductID     string
}

// ScheduleRow is a repeat row joined with its session, location, class
// and activity data, as returned by the store for a date-range query.
type ScheduleRow struct {
	RepeatEvent

	SessionTitle       string
	SessionDescription string
	LocationTitle      string
	ClassTitle         string
	ClassDescription   string
	Color              string
	Days               string // comma separated weekday names
	TimeStart          int64  // session time span, unix seconds UTC
	TimeEnd            int64
}

// Occurrence is a single concrete instance of a repeat row, in the site
// timezone.
type Occurrence struct {
	Row   *ScheduleRow
	Start time.Time
	End   time.Time
}
