package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pefsched/internal/model"
	"pefsched/internal/schedule"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:yoga-1@example.com\r\n" +
	"SUMMARY:Morning Yoga\r\n" +
	"LOCATION:Studio A\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T100000Z\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20240131T235959Z\r\n" +
	"EXDATE:20240115T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:yoga-1@example.com\r\n" +
	"RECURRENCE-ID:20240117T090000Z\r\n" +
	"SUMMARY:Morning Yoga (moved)\r\n" +
	"DTSTART:20240117T110000Z\r\n" +
	"DTEND:20240117T120000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:swim-1@example.com\r\n" +
	"SUMMARY:Lap Swim\r\n" +
	"DTSTART:20240102T070000Z\r\n" +
	"DTEND:20240102T080000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gala@example.com\r\n" +
	"SUMMARY:Gala\r\n" +
	"DTSTART:20240210T180000Z\r\n" +
	"DTEND:20240210T210000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:monthly@example.com\r\n" +
	"SUMMARY:Board Meeting\r\n" +
	"DTSTART:20240105T180000Z\r\n" +
	"DTEND:20240105T190000Z\r\n" +
	"RRULE:FREQ=MONTHLY;BYMONTHDAY=5\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No UID\r\n" +
	"DTSTART:20240105T180000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	t.Parallel()
	events, err := ParseICS(Source{ID: "test"}, []byte(feed), time.UTC)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	yoga := events[0]
	if yoga.UID != "yoga-1@example.com" || yoga.Location != "Studio A" {
		t.Fatalf("unexpected event: %+v", yoga)
	}
	if !yoga.Start.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", yoga.Start)
	}
	if len(yoga.ExDates) != 1 || yoga.RawRRule == "" {
		t.Fatalf("rrule/exdate not captured: %+v", yoga)
	}
	if !events[1].IsOverride || events[1].Recurrence == nil {
		t.Fatalf("override not detected: %+v", events[1])
	}
}

func TestParseICSRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := ParseICS(Source{}, nil, time.UTC); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestToSessions(t *testing.T) {
	t.Parallel()
	events, err := ParseICS(Source{ID: "test"}, []byte(feed), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	sessions := ToSessions(events, SessionOptions{LocationID: 4, ClassID: 9})

	byUID := make(map[string]model.Session)
	for _, s := range sessions {
		byUID[s.ExternalID] = s
	}
	if len(byUID) != 3 {
		t.Fatalf("expected 3 sessions, got %d: %+v", len(byUID), sessions)
	}
	if _, ok := byUID["monthly@example.com"]; ok {
		t.Fatal("monthly rule should be skipped")
	}

	yoga := byUID["yoga-1@example.com"]
	if yoga.Title != "Morning Yoga" || yoga.LocationID != 4 || yoga.ClassID != 9 || yoga.Room != "Studio A" {
		t.Fatalf("unexpected yoga session: %+v", yoga)
	}
	st := yoga.Times[0]
	if len(st.Days) != 2 || st.Days[0] != time.Monday || st.Days[1] != time.Wednesday {
		t.Fatalf("unexpected days: %v", st.Days)
	}
	if want := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC); !st.End.Equal(want) {
		t.Fatalf("yoga span end = %s, want %s", st.End, want)
	}

	swim := byUID["swim-1@example.com"].Times[0]
	if len(swim.Days) != 1 || swim.Days[0] != time.Tuesday {
		t.Fatalf("unexpected swim days: %v", swim.Days)
	}
	if want := time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC); !swim.End.Equal(want) {
		t.Fatalf("swim span end = %s, want %s", swim.End, want)
	}

	gala := byUID["gala@example.com"].Times[0]
	if len(gala.Days) != 1 || gala.Days[0] != time.Saturday {
		t.Fatalf("unexpected gala days: %v", gala.Days)
	}
	if !gala.End.Equal(time.Date(2024, 2, 10, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected gala end %s", gala.End)
	}
}

func TestToSessionsKeepsLatestSequence(t *testing.T) {
	t.Parallel()
	base := ParsedEvent{
		UID:   "a@example.com",
		Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	old, cur := base, base
	old.Summary, old.Seq = "Old", 1
	cur.Summary, cur.Seq = "New", 2
	sessions := ToSessions([]ParsedEvent{cur, old}, SessionOptions{LocationID: 1})
	if len(sessions) != 1 || sessions[0].Title != "New" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestEncodeSessionsRoundTrip(t *testing.T) {
	t.Parallel()
	sessions := []model.Session{{
		ID:          5,
		Title:       "Evening Spin",
		LocationID:  2,
		Room:        "Cycle Room",
		Description: "<p>Bring water</p>",
		Times: []model.SessionTime{{
			ID:    11,
			Start: time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 29, 19, 0, 0, 0, time.UTC),
			Days:  []time.Weekday{time.Monday, time.Friday},
		}},
	}}
	body := EncodeSessions(sessions, FeedOptions{
		Name:           "Downtown",
		Location:       time.UTC,
		LocationTitles: map[int64]string{2: "Downtown"},
	})
	for _, want := range []string{"UID:session-5-11@pefsched", "SUMMARY:Evening Spin", "BYDAY=MO,FR", "X-WR-CALNAME:Downtown", "Bring water"} {
		if !strings.Contains(body, want) {
			t.Fatalf("feed missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "<p>") {
		t.Fatalf("description markup leaked:\n%s", body)
	}

	events, err := ParseICS(Source{ID: "roundtrip"}, []byte(body), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	back := ToSessions(events, SessionOptions{LocationID: 2})
	if len(back) != 1 {
		t.Fatalf("expected 1 session, got %d", len(back))
	}
	st := back[0].Times[0]
	if !st.Start.Equal(sessions[0].Times[0].Start) {
		t.Fatalf("start = %s", st.Start)
	}
	if !st.End.Equal(sessions[0].Times[0].End) {
		t.Fatalf("end = %s", st.End)
	}
	if len(st.Days) != 2 || st.Days[0] != time.Monday || st.Days[1] != time.Friday {
		t.Fatalf("days = %v", st.Days)
	}
}

func TestEncodeItems(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	items := []schedule.Item{{
		Session:         3,
		Name:            "Morning Yoga",
		Location:        "Downtown",
		Room:            "Studio A",
		Category:        "Mind Body",
		OccurrenceStart: start,
		OccurrenceEnd:   start.Add(time.Hour),
	}}
	body := EncodeItems(items, FeedOptions{Name: "Week"})
	for _, want := range []string{"UID:repeat-3-20240108T090000Z@pefsched", "DTSTART:20240108T090000Z", "DTEND:20240108T100000Z", "CATEGORIES:Mind Body", "LOCATION:Downtown", "Studio A"} {
		if !strings.Contains(body, want) {
			t.Fatalf("export missing %q:\n%s", want, body)
		}
	}
}

func TestFetcherConditionalAndFallback(t *testing.T) {
	t.Parallel()
	var hits, fail atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(t.TempDir())
	src := Source{ID: "s1", URL: srv.URL + "/feed.ics?token=secret"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	if err != nil || res.FromCache || len(res.Body) == 0 {
		t.Fatalf("first fetch: %+v err=%v", res, err)
	}
	res, err = f.FetchOne(ctx, src)
	if err != nil || !res.FromCache {
		t.Fatalf("second fetch should be 304 from cache: %+v err=%v", res, err)
	}
	fail.Store(1)
	res, err = f.FetchOne(ctx, src)
	if err != nil || !res.FromCache || string(res.Body) != feed {
		t.Fatalf("fallback fetch: fromCache=%v err=%v", res.FromCache, err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}

	_, errs := f.FetchAll(ctx, []Source{{ID: "empty"}})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
}

func TestFetcherRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	var big atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if big.Load() {
			_, _ = w.Write([]byte(feed + strings.Repeat("X", len(feed))))
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	f := NewFetcher(t.TempDir())
	f.maxBytes = int64(len(feed))

	// Nothing cached yet: the oversized body is an error, not a prefix.
	big.Store(true)
	if res, err := f.FetchOne(ctx, Source{ID: "fresh", URL: srv.URL + "/fresh.ics"}); !errors.Is(err, ErrFeedTooLarge) {
		t.Fatalf("expected ErrFeedTooLarge, got res=%d bytes err=%v", len(res.Body), err)
	}

	// A good copy is kept and served when the feed later grows past the limit.
	src := Source{ID: "s1", URL: srv.URL + "/feed.ics"}
	big.Store(false)
	if _, err := f.FetchOne(ctx, src); err != nil {
		t.Fatal(err)
	}
	big.Store(true)
	res, err := f.FetchOne(ctx, src)
	if err != nil || !res.FromCache || string(res.Body) != feed {
		t.Fatalf("expected cached body, got fromCache=%v %d bytes err=%v", res.FromCache, len(res.Body), err)
	}
	res, err = f.FetchOne(ctx, src)
	if err != nil || string(res.Body) != feed {
		t.Fatalf("oversized body replaced the cache: %d bytes err=%v", len(res.Body), err)
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()
	if got := redactURL("https://calendar.example.com/private/abc.ics?token=x"); got != "https://calendar.example.com/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
}
