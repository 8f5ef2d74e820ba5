package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	appLog "pefsched/internal/log"
	"pefsched/internal/model"
	"pefsched/internal/store/sqlite"
)

var (
	// ErrInvalidQuery reports malformed date-range or option parameters.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidRange reports an end date before the start date.
	ErrInvalidRange = fmt.Errorf("%w: end is before start", ErrInvalidQuery)
	// ErrTooManyResults is returned when a query matches more repeat rows
	// than Options.MaxRows.
	ErrTooManyResults = errors.New("too many results")
	// ErrInvalidEvent reports a create/update payload that cannot be stored.
	ErrInvalidEvent = errors.New("invalid event")
)

// Store is the persistence surface the service needs.
type Store interface {
	ListLocations(ctx context.Context) ([]model.Location, error)
	GetLocation(ctx context.Context, id int64) (model.Location, error)
	ListClasses(ctx context.Context) ([]model.Class, error)
	GetClass(ctx context.Context, id int64) (model.Class, error)
	ListActivities(ctx context.Context) ([]model.Activity, error)
	ListSessions(ctx context.Context, locationID int64) ([]model.Session, error)
	CreateSession(ctx context.Context, sess *model.Session) (int64, error)
	UpsertSessionByExternalID(ctx context.Context, sess *model.Session) (int64, bool, error)
	UpdateSessionTime(ctx context.Context, sessionID int64, start, end time.Time) error
	QueryRepeatRows(ctx context.Context, f sqlite.RowFilter) ([]model.ScheduleRow, error)
}

// Options are the reloadable knobs of the service.
type Options struct {
	Location             *time.Location
	DefaultColor         string
	ClassPathPrefix      string
	WarnRows             int
	MaxRows              int
	MaxOccurrencesPerRow int
}

// Service answers calendar queries and applies calendar edits.
type Service struct {
	store Store
	opts  atomic.Pointer[Options]
}

// NewService wires a service to its store.
func NewService(store Store, opts Options) *Service {
	s := &Service{store: store}
	s.SetOptions(opts)
	return s
}

// SetOptions swaps the options used by subsequent calls.
func (s *Service) SetOptions(opts Options) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultColor == "" {
		opts.DefaultColor = "#3a87ad"
	}
	if opts.ClassPathPrefix == "" {
		opts.ClassPathPrefix = "/class/"
	}
	s.opts.Store(&opts)
}

// Options returns a copy of the current options.
func (s *Service) Options() Options {
	return *s.opts.Load()
}

// Query is a date-range request as received from the calendar widget.
// Location may be empty, "0" or "all" for every location, a numeric id or
// a location title.
type Query struct {
	Location   string
	Start      string
	End        string
	Categories []string
	Exclude    []string
	Limit      []string
}

// CacheKey is a stable key for the normalized query.
func (q Query) CacheKey() string {
	norm := func(v []string) string {
		c := append([]string(nil), v...)
		sort.Strings(c)
		return strings.Join(c, ";")
	}
	return strings.Join([]string{
		"range",
		strings.ToLower(strings.TrimSpace(q.Location)),
		strings.TrimSpace(q.Start),
		strings.TrimSpace(q.End),
		norm(q.Categories),
		norm(q.Exclude),
		norm(q.Limit),
	}, "|")
}

// LocationInfo is the denormalized location attached to each item.
type LocationInfo struct {
	NID     int64  `json:"nid"`
	Title   string `json:"title"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// ClassInfo is the denormalized class attached to each item.
type ClassInfo struct {
	NID         int64  `json:"nid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// Item is one resolved occurrence in the calendar feed.
type Item struct {
	NID          int64  `json:"nid"`
	Name         string `json:"name"`
	Location     string `json:"location"`
	Days         string `json:"days"`
	Class        int64  `json:"class"`
	Session      int64  `json:"session"`
	Room         string `json:"room"`
	Instructor   string `json:"instructor"`
	Category     string `json:"category"`
	RegisterURL  string `json:"register_url"`
	RegisterText string `json:"register_text"`
	Duration     int    `json:"duration"`
	ProductID    string `json:"productid"`
	Weekday      int    `json:"weekday"`
	Start        int64  `json:"start"`
	End          int64  `json:"end"`
	Color        string `json:"color"`
	TextColor    string `json:"text_color"`
	Description  string `json:"description"`

	LocationInfo *LocationInfo `json:"location_info"`
	ClassInfo    *ClassInfo    `json:"class_info"`

	TimeStart               string `json:"time_start"`
	TimeEnd                 string `json:"time_end"`
	TimeStartCalendar       string `json:"time_start_calendar"`
	TimeEndCalendar         string `json:"time_end_calendar"`
	TimeStartCalendarGlobal string `json:"time_start_calendar_global"`
	TimeEndCalendarGlobal   string `json:"time_end_calendar_global"`
	Timezone                string `json:"timezone"`

	OccurrenceStart time.Time `json:"-"`
	OccurrenceEnd   time.Time `json:"-"`
}

// Window is a parsed date range in the site timezone.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses start and end in the site timezone. A date-only end
// names the last day of the range, so the window runs to the following
// local midnight; unix and date-time ends are exclusive as given.
func (s *Service) ParseWindow(start, end string) (Window, error) {
	loc := s.Options().Location
	from, err := ParseDateTime(start, loc)
	if err != nil {
		return Window{}, err
	}
	to, err := ParseDateTime(end, loc)
	if err != nil {
		return Window{}, err
	}
	if isDateOnly(end) {
		to = to.AddDate(0, 0, 1)
	}
	if to.Before(from) {
		return Window{}, ErrInvalidRange
	}
	return Window{Start: from, End: to}, nil
}

// DateRange resolves every occurrence of the matching repeat rows that
// overlaps the requested window.
func (s *Service) DateRange(ctx context.Context, q Query) ([]Item, error) {
	opts := s.Options()
	win, err := s.ParseWindow(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	locID, err := s.resolveLocation(ctx, q.Location)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.QueryRepeatRows(ctx, sqlite.RowFilter{
		From:       win.Start.UTC().Unix(),
		To:         win.End.UTC().Unix(),
		LocationID: locID,
		Categories: cleanList(q.Categories),
		Exclude:    cleanList(q.Exclude),
		Limit:      cleanList(q.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query repeat rows: %w", err)
	}

	if opts.WarnRows > 0 && len(rows) > opts.WarnRows {
		appLog.Warn("large schedule query",
			"rows", len(rows),
			"location", q.Location,
			"start", win.Start.Format(calendarLayout),
			"end", win.End.Format(calendarLayout),
			"categories", strings.Join(q.Categories, ","),
		)
	}
	if opts.MaxRows > 0 && len(rows) > opts.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceed limit of %d", ErrTooManyResults, len(rows), opts.MaxRows)
	}
	if len(rows) == 0 {
		return []Item{}, nil
	}

	locations, err := s.locationInfo(ctx)
	if err != nil {
		return nil, err
	}

	res, err := ExpandRows(rows, ExpandConfig{
		Location:             opts.Location,
		RangeStart:           win.Start,
		RangeEnd:             win.End,
		MaxOccurrencesPerRow: opts.MaxOccurrencesPerRow,
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(res.Occurrences))
	for _, occ := range res.Occurrences {
		items = append(items, s.buildItem(occ, locations, opts))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].OccurrenceStart.Equal(items[j].OccurrenceStart) {
			return items[i].OccurrenceStart.Before(items[j].OccurrenceStart)
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (s *Service) buildItem(occ model.Occurrence, locations map[int64]LocationInfo, opts Options) Item {
	row := occ.Row
	loc := opts.Location

	color := strings.TrimSpace(row.Color)
	if color == "" {
		color = opts.DefaultColor
	}
	textColor, err := InvertColor(color, true)
	if err != nil {
		textColor = "#FFFFFF"
	}

	it := Item{
		NID:          row.SessionID,
		Name:         decodeEntities(row.SessionTitle),
		Location:     row.LocationTitle,
		Days:         row.Days,
		Class:        row.ClassID,
		Session:      row.SessionID,
		Room:         row.Room,
		Instructor:   row.Instructor,
		Category:     row.Category,
		RegisterURL:  row.RegisterURL,
		RegisterText: row.RegisterText,
		Duration:     row.Duration,
		ProductID:    row.ProductID,
		Weekday:      row.Weekday,
		Start:        row.Start,
		End:          row.End,
		Color:        color,
		TextColor:    textColor,
		Description:  StripTags(row.SessionDescription),

		TimeStart:               occ.Start.Format(clockLayout),
		TimeEnd:                 occ.End.Format(clockLayout),
		TimeStartCalendar:       occ.Start.Format(calendarLayout),
		TimeEndCalendar:         occ.End.Format(calendarLayout),
		TimeStartCalendarGlobal: time.Unix(row.TimeStart, 0).In(loc).Format(calendarLayout),
		TimeEndCalendarGlobal:   time.Unix(row.TimeEnd, 0).In(loc).Format(calendarLayout),
		Timezone:                loc.String(),

		OccurrenceStart: occ.Start,
		OccurrenceEnd:   occ.End,
	}
	if li, ok := locations[row.LocationID]; ok {
		li := li
		it.LocationInfo = &li
	}
	if row.ClassID > 0 {
		it.ClassInfo = &ClassInfo{
			NID:         row.ClassID,
			Title:       decodeEntities(row.ClassTitle),
			Description: StripTags(row.ClassDescription),
			Path:        classPath(opts.ClassPathPrefix, row.ClassID, row.LocationID),
		}
	}
	return it
}

func classPath(prefix string, classID, locationID int64) string {
	p := prefix + strconv.FormatInt(classID, 10)
	if locationID > 0 {
		p += "?" + url.Values{"location": {strconv.FormatInt(locationID, 10)}}.Encode()
	}
	return p
}

func (s *Service) locationInfo(ctx context.Context) (map[int64]LocationInfo, error) {
	locs, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	out := make(map[int64]LocationInfo, len(locs))
	for _, l := range locs {
		out[l.ID] = LocationInfo{NID: l.ID, Title: l.Title, Address: l.Address, Phone: l.Phone, Email: l.Email}
	}
	return out, nil
}

// resolveLocation maps the location parameter to an id; 0 means any.
func (s *Service) resolveLocation(ctx context.Context, v string) (int64, error) {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "0", "all":
		return 0, nil
	}
	if isDigits(v) {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: location %q", ErrInvalidQuery, v)
		}
		return id, nil
	}
	locs, err := s.store.ListLocations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list locations: %w", err)
	}
	for _, l := range locs {
		if strings.EqualFold(l.Title, v) {
			return l.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown location %q", ErrInvalidQuery, v)
}

// ResolveLocation is resolveLocation for callers outside the package.
func (s *Service) ResolveLocation(ctx context.Context, v string) (int64, error) {
	return s.resolveLocation(ctx, v)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SplitList splits a parameter value on sep, dropping blanks.
func SplitList(v, sep string) []string {
	if v == "" {
		return nil
	}
	return cleanList(strings.Split(v, sep))
}

// --- Options ---

// Branches returns published locations keyed by id.
func (s *Service) Branches(ctx context.Context) (map[int64]string, error) {
	locs, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(locs))
	for _, l := range locs {
		out[l.ID] = l.Title
	}
	return out, nil
}

// Classes returns published classes keyed by id.
func (s *Service) Classes(ctx context.Context) (map[int64]string, error) {
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(classes))
	for _, c := range classes {
		out[c.ID] = decodeEntities(c.Title)
	}
	return out, nil
}

// Category is an activity with its display color.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Categories returns published activities ordered by title.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	acts, err := s.store.ListActivities(ctx)
	if err != nil {
		return nil, err
	}
	def := s.Options().DefaultColor
	out := make([]Category, 0, len(acts))
	for _, a := range acts {
		color := strings.TrimSpace(a.Color)
		if color == "" {
			color = def
		}
		out = append(out, Category{ID: a.ID, Name: a.Title, Color: color})
	}
	return out, nil
}

// --- Edits ---

// FlexID accepts an id encoded either as a JSON number or a string.
type FlexID int64

func (f *FlexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %q: %w", s, err)
	}
	*f = FlexID(n)
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(f))
}

// CreateEventRequest is the payload of the create-event endpoint. Days is
// a comma separated list of weekday names.
type CreateEventRequest struct {
	Title       string `json:"title"`
	EventClass  FlexID `json:"eventClass"`
	Location    FlexID `json:"location"`
	Days        string `json:"days"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Room        string `json:"room,omitempty"`
	Instructor  string `json:"instructor,omitempty"`
	Description string `json:"description,omitempty"`
}

// UpdateEventRequest moves a session to a new span.
type UpdateEventRequest struct {
	ID    FlexID `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// CreateEvent stores a new session with a single time rule.
func (s *Service) CreateEvent(ctx context.Context, req CreateEventRequest) (int64, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if req.Location <= 0 {
		return 0, fmt.Errorf("%w: location is required", ErrInvalidEvent)
	}
	if _, err := s.store.GetLocation(ctx, int64(req.Location)); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return 0, fmt.Errorf("%w: unknown location %d", ErrInvalidEvent, req.Location)
		}
		return 0, err
	}
	if req.EventClass > 0 {
		if _, err := s.store.GetClass(ctx, int64(req.EventClass)); err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				return 0, fmt.Errorf("%w: unknown class %d", ErrInvalidEvent, req.EventClass)
			}
			return 0, err
		}
	}

	start, end, err := s.parseSpan(req.Start, req.End)
	if err != nil {
		return 0, err
	}
	days, err := model.ParseDays(req.Days)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(days) == 0 {
		days = []time.Weekday{start.In(s.Options().Location).Weekday()}
	}

	sess := &model.Session{
		Title:       title,
		ClassID:     int64(req.EventClass),
		LocationID:  int64(req.Location),
		Room:        req.Room,
		Instructor:  req.Instructor,
		Description: req.Description,
		Times: []model.SessionTime{{
			Start: start.UTC(),
			End:   end.UTC(),
			Days:  days,
		}},
	}
	id, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return 0, err
	}
	appLog.Info("event created", "session", id, "title", title, "location", int64(req.Location))
	return id, nil
}

// UpdateEvent replaces the span of the session's first time rule.
func (s *Service) UpdateEvent(ctx context.Context, req UpdateEventRequest) error {
	if req.ID <= 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	start, end, err := s.parseSpan(req.Start, req.End)
	if err != nil {
		return err
	}
	if err := s.store.UpdateSessionTime(ctx, int64(req.ID), start.UTC(), end.UTC()); err != nil {
		return err
	}
	appLog.Info("event updated", "session", int64(req.ID),
		"start", start.Format(calendarLayout), "end", end.Format(calendarLayout))
	return nil
}

func (s *Service) parseSpan(startRaw, endRaw string) (time.Time, time.Time, error) {
	loc := s.Options().Location
	start, err := ParseDateTime(startRaw, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", ErrInvalidEvent, err)
	}
	end, err := ParseDateTime(endRaw, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", ErrInvalidEvent, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end is before start", ErrInvalidEvent)
	}
	return start, end, nil
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ImportSessions upserts sessions keyed by their external id. Sessions
// that fail validation are logged and skipped; any other store error stops
// the import and is returned with the counts so far.
func (s *Service) ImportSessions(ctx context.Context, sessions []model.Session) (ImportResult, error) {
	var res ImportResult
	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sess := &sessions[i]
		_, created, err := s.store.UpsertSessionByExternalID(ctx, sess)
		if errors.Is(err, sqlite.ErrInvalidSession) {
			appLog.Warn("import: skipping session", "uid", sess.ExternalID, "title", sess.Title, "err", err.Error())
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("import session %q: %w", sess.ExternalID, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	appLog.Info("import finished", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// FeedSessions returns the sessions of a location (0 for all) for the
// recurring ICS feed.
func (s *Service) FeedSessions(ctx context.Context, location string) ([]model.Session, error) {
	id, err := s.resolveLocation(ctx, location)
	if err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, id)
}
