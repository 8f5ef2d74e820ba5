package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"pefsched/internal/model"
)

type fixture struct {
	store    *Store
	location int64
	other    int64
	yoga     int64
	swim     int64
}

func openTempStore(t *testing.T, loc *time.Location) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "schedule.db"), loc)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := openTempStore(t, time.UTC)

	f := fixture{store: store}
	var err error
	if f.location, err = store.CreateLocation(ctx, model.Location{Title: "Downtown", Published: true}); err != nil {
		t.Fatal(err)
	}
	if f.other, err = store.CreateLocation(ctx, model.Location{Title: "Airport", Published: true}); err != nil {
		t.Fatal(err)
	}
	mind, err := store.CreateActivity(ctx, model.Activity{Title: "Mind Body", Color: "#00ff00", Published: true})
	if err != nil {
		t.Fatal(err)
	}
	aquatics, err := store.CreateActivity(ctx, model.Activity{Title: "Aquatics", Published: true})
	if err != nil {
		t.Fatal(err)
	}
	if f.yoga, err = store.CreateClass(ctx, model.Class{Title: "Yoga", ActivityID: mind, Published: true}); err != nil {
		t.Fatal(err)
	}
	if f.swim, err = store.CreateClass(ctx, model.Class{Title: "Lap Swim", ActivityID: aquatics, Published: true}); err != nil {
		t.Fatal(err)
	}
	return f
}

func sessionTime(start, end string, days ...time.Weekday) model.SessionTime {
	s, _ := time.Parse(time.RFC3339, start)
	e, _ := time.Parse(time.RFC3339, end)
	return model.SessionTime{Start: s, End: e, Days: days}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open("", nil); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedule.db")
	s1, err := Open(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s1.Close()
	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = s2.Close()
}

func TestListOptionsOrderedByTitle(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()
	if _, err := f.store.CreateLocation(ctx, model.Location{Title: "Hidden", Published: false}); err != nil {
		t.Fatal(err)
	}

	locs, err := f.store.ListLocations(ctx)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locs) != 2 || locs[0].Title != "Airport" || locs[1].Title != "Downtown" {
		t.Fatalf("locations = %+v", locs)
	}

	classes, err := f.store.ListClasses(ctx)
	if err != nil {
		t.Fatalf("ListClasses: %v", err)
	}
	if len(classes) != 2 || classes[0].Title != "Lap Swim" {
		t.Fatalf("classes = %+v", classes)
	}

	acts, err := f.store.ListActivities(ctx)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 2 || acts[1].Color != "#00ff00" {
		t.Fatalf("activities = %+v", acts)
	}
}

func TestCreateSessionBuildsRepeatRows(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()

	sess := &model.Session{
		Title:      "Morning Yoga",
		ClassID:    f.yoga,
		LocationID: f.location,
		Room:       "Studio A",
		Times: []model.SessionTime{
			sessionTime("2024-01-01T09:00:00Z", "2024-03-31T10:15:00Z", time.Monday, time.Wednesday),
		},
	}
	id, err := f.store.CreateSession(ctx, sess)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Times[0].ID == 0 {
		t.Fatal("session time id not assigned")
	}

	rows, err := f.store.QueryRepeatRows(ctx, RowFilter{
		From: mustUnix("2024-01-08T00:00:00Z"),
		To:   mustUnix("2024-01-15T00:00:00Z"),
	})
	if err != nil {
		t.Fatalf("QueryRepeatRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, r := range rows {
		if r.SessionID != id {
			t.Fatalf("SessionID = %d, want %d", r.SessionID, id)
		}
		if r.Category != "Mind Body" || r.Color != "#00ff00" {
			t.Fatalf("category/color = %q/%q", r.Category, r.Color)
		}
		if r.Duration != 75 {
			t.Fatalf("Duration = %d, want 75", r.Duration)
		}
		if r.LocationTitle != "Downtown" || r.ClassTitle != "Yoga" || r.SessionTitle != "Morning Yoga" {
			t.Fatalf("joined titles = %q/%q/%q", r.LocationTitle, r.ClassTitle, r.SessionTitle)
		}
		if r.Days != "monday,wednesday" {
			t.Fatalf("Days = %q", r.Days)
		}
	}
	if rows[0].Weekday != 1 || rows[1].Weekday != 3 {
		t.Fatalf("weekdays = %d,%d", rows[0].Weekday, rows[1].Weekday)
	}
}

func TestQueryRepeatRowsFilters(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()

	mk := func(title string, class, location int64, start, end string) {
		t.Helper()
		_, err := f.store.CreateSession(ctx, &model.Session{
			Title: title, ClassID: class, LocationID: location,
			Times: []model.SessionTime{sessionTime(start, end, time.Tuesday)},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	mk("Yoga Downtown", f.yoga, f.location, "2024-01-01T09:00:00Z", "2024-06-30T10:00:00Z")
	mk("Swim Downtown", f.swim, f.location, "2024-01-01T06:00:00Z", "2024-06-30T07:00:00Z")
	mk("Swim Airport", f.swim, f.other, "2024-01-01T06:00:00Z", "2024-06-30T07:00:00Z")
	mk("Old Yoga", f.yoga, f.location, "2023-01-01T09:00:00Z", "2023-06-30T10:00:00Z")

	from := mustUnix("2024-02-05T00:00:00Z")
	to := mustUnix("2024-02-12T00:00:00Z")

	tests := []struct {
		name   string
		filter RowFilter
		want   int
	}{
		{"range only", RowFilter{From: from, To: to}, 3},
		{"location", RowFilter{From: from, To: to, LocationID: f.location}, 2},
		{"categories", RowFilter{From: from, To: to, Categories: []string{"Aquatics"}}, 2},
		{"exclude", RowFilter{From: from, To: to, Exclude: []string{"Aquatics"}}, 1},
		{"limit", RowFilter{From: from, To: to, Limit: []string{"Mind Body"}}, 1},
		{"location and category", RowFilter{From: from, To: to, LocationID: f.other, Categories: []string{"Mind Body"}}, 0},
		{"past range", RowFilter{From: mustUnix("2023-03-01T00:00:00Z"), To: mustUnix("2023-03-08T00:00:00Z")}, 1},
	}
	for _, tt := range tests {
		rows, err := f.store.QueryRepeatRows(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(rows) != tt.want {
			t.Fatalf("%s: got %d rows, want %d", tt.name, len(rows), tt.want)
		}
	}
}

func TestUpdateSessionTimeRefreshesRows(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()

	id, err := f.store.CreateSession(ctx, &model.Session{
		Title: "Yoga", ClassID: f.yoga, LocationID: f.location,
		Times: []model.SessionTime{sessionTime("2024-01-01T09:00:00Z", "2024-01-31T10:00:00Z", time.Friday)},
	})
	if err != nil {
		t.Fatal(err)
	}

	newStart := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	newEnd := time.Date(2024, 5, 31, 18, 30, 0, 0, time.UTC)
	if err := f.store.UpdateSessionTime(ctx, id, newStart, newEnd); err != nil {
		t.Fatalf("UpdateSessionTime: %v", err)
	}

	got, err := f.store.GetSession(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Times[0].Start.Equal(newStart) || !got.Times[0].End.Equal(newEnd) {
		t.Fatalf("times = %v..%v", got.Times[0].Start, got.Times[0].End)
	}

	rows, err := f.store.QueryRepeatRows(ctx, RowFilter{From: newStart.Unix(), To: newEnd.Unix()})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Duration != 90 {
		t.Fatalf("rows = %+v", rows)
	}

	if err := f.store.UpdateSessionTime(ctx, 9999, newStart, newEnd); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertSessionByExternalID(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()

	sess := &model.Session{
		ExternalID: "uid-1@feed", Title: "Imported", LocationID: f.location,
		Times: []model.SessionTime{sessionTime("2024-01-01T09:00:00Z", "2024-01-31T10:00:00Z", time.Monday)},
	}
	id, created, err := f.store.UpsertSessionByExternalID(ctx, sess)
	if err != nil || !created {
		t.Fatalf("first upsert: id=%d created=%v err=%v", id, created, err)
	}

	again := &model.Session{
		ExternalID: "uid-1@feed", Title: "Imported (renamed)", LocationID: f.location,
		Times: []model.SessionTime{sessionTime("2024-01-01T09:00:00Z", "2024-01-31T10:00:00Z", time.Tuesday, time.Thursday)},
	}
	id2, created, err := f.store.UpsertSessionByExternalID(ctx, again)
	if err != nil || created || id2 != id {
		t.Fatalf("second upsert: id=%d created=%v err=%v", id2, created, err)
	}

	got, err := f.store.GetSession(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Imported (renamed)" || len(got.Times) != 1 || len(got.Times[0].Days) != 2 {
		t.Fatalf("session = %+v", got)
	}

	n, err := f.store.RebuildAllRepeatEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rebuilt %d rows, want 2", n)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	f := seed(t)
	if _, err := f.store.GetSession(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()
	bad := []*model.Session{
		{Title: "", LocationID: f.location},
		{Title: "No location"},
		{Title: "No days", LocationID: f.location, Times: []model.SessionTime{sessionTime("2024-01-01T09:00:00Z", "2024-01-31T10:00:00Z")}},
		{Title: "Backwards", LocationID: f.location, Times: []model.SessionTime{sessionTime("2024-02-01T09:00:00Z", "2024-01-31T10:00:00Z", time.Monday)}},
	}
	for _, s := range bad {
		if _, err := f.store.CreateSession(ctx, s); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("%q: expected ErrInvalidSession, got %v", s.Title, err)
		}
	}
	if _, _, err := f.store.UpsertSessionByExternalID(ctx, &model.Session{Title: "No uid", LocationID: f.location}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("missing external id: expected ErrInvalidSession, got %v", err)
	}
}

func TestBuildRepeatEventsUsesSiteTimezone(t *testing.T) {
	t.Parallel()
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}
	// 22:00-23:30 local on a Monday is Tuesday in UTC; the rule stays local.
	start := time.Date(2024, 1, 1, 22, 0, 0, 0, chicago).UTC()
	end := time.Date(2024, 1, 29, 23, 30, 0, 0, chicago).UTC()
	sess := model.Session{
		ID: 7, LocationID: 1, ClassID: 2,
		Times: []model.SessionTime{{ID: 3, Start: start, End: end, Days: []time.Weekday{time.Monday}}},
	}

	got := BuildRepeatEvents(sess, "Late", chicago)
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].Weekday != 1 || got[0].Duration != 90 || got[0].Category != "Late" {
		t.Fatalf("event = %+v", got[0])
	}
	if got[0].Start != start.Unix() || got[0].End != end.Unix() {
		t.Fatalf("span = %d..%d", got[0].Start, got[0].End)
	}
}

func mustUnix(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.Unix()
}

func TestSetLocationRebuildsRows(t *testing.T) {
	t.Parallel()
	f := seed(t)
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// 09:00-10:00 in New York across the DST change is 14:00-14:00 UTC.
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, ny).UTC()
	end := time.Date(2024, 3, 31, 10, 0, 0, 0, ny).UTC()
	if _, err := f.store.CreateSession(ctx, &model.Session{
		Title: "Yoga", ClassID: f.yoga, LocationID: f.location,
		Times: []model.SessionTime{{Start: start, End: end, Days: []time.Weekday{time.Friday}}},
	}); err != nil {
		t.Fatal(err)
	}

	duration := func() int {
		t.Helper()
		rows, err := f.store.QueryRepeatRows(ctx, RowFilter{From: start.Unix(), To: end.Unix()})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %+v", rows)
		}
		return rows[0].Duration
	}
	if got := duration(); got != 24*60 {
		t.Fatalf("UTC duration = %d", got)
	}

	n, err := f.store.SetLocation(ctx, ny)
	if err != nil {
		t.Fatalf("SetLocation: %v", err)
	}
	if n != 1 {
		t.Fatalf("rebuilt %d rows, want 1", n)
	}
	if got := duration(); got != 60 {
		t.Fatalf("New York duration = %d, want 60", got)
	}
	if f.store.Location().String() != "America/New_York" {
		t.Fatalf("location = %s", f.store.Location())
	}

	if n, err := f.store.SetLocation(ctx, ny); err != nil || n != 0 {
		t.Fatalf("unchanged zone: n=%d err=%v", n, err)
	}
}
