// Package sqlite persists locations, classes, sessions and the derived
// repeat rows in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	appLog "pefsched/internal/log"
	"pefsched/internal/model"
	"pefsched/internal/store/sqlite/migrations"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidSession is returned when a session fails validation before
// anything is written.
var ErrInvalidSession = errors.New("invalid session")

// Store persists schedule state in SQLite.
type Store struct {
	db  *sql.DB
	loc atomic.Pointer[time.Location]
}

// Open opens (creating if needed) the database at path and applies embedded
// migrations. loc is the site timezone used to derive repeat rows; nil
// means UTC.
func Open(path string, loc *time.Location) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	st := &Store{db: db}
	st.loc.Store(loc)
	return st, nil
}

// Location is the site timezone repeat rows are derived in.
func (s *Store) Location() *time.Location {
	return s.loc.Load()
}

// SetLocation switches the site timezone. When it differs from the current
// one every repeat row is rebuilt in the new zone; the returned count is
// the number of rows written.
func (s *Store) SetLocation(ctx context.Context, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	prev := s.loc.Swap(loc)
	if prev != nil && prev.String() == loc.String() {
		return 0, nil
	}
	appLog.Info("site timezone changed; rebuilding repeat events", "from", prev.String(), "to", loc.String())
	return s.RebuildAllRepeatEvents(ctx)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Locations, activities, classes ---

// CreateLocation inserts a location and returns its id.
func (s *Store) CreateLocation(ctx context.Context, l model.Location) (int64, error) {
	if strings.TrimSpace(l.Title) == "" {
		return 0, errors.New("location title is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (title, address, phone, email, published) VALUES (?, ?, ?, ?, ?)`,
		l.Title, l.Address, l.Phone, l.Email, boolInt(l.Published),
	)
	if err != nil {
		return 0, fmt.Errorf("insert location: %w", err)
	}
	return res.LastInsertId()
}

// GetLocation loads a location by id.
func (s *Store) GetLocation(ctx context.Context, id int64) (model.Location, error) {
	var l model.Location
	var published int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, address, phone, email, published FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Title, &l.Address, &l.Phone, &l.Email, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, fmt.Errorf("get location %d: %w", id, err)
	}
	l.Published = published != 0
	return l, nil
}

// ListLocations returns published locations ordered by title.
func (s *Store) ListLocations(ctx context.Context) ([]model.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, address, phone, email FROM locations WHERE published = 1 ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	out := make([]model.Location, 0)
	for rows.Next() {
		l := model.Location{Published: true}
		if err := rows.Scan(&l.ID, &l.Title, &l.Address, &l.Phone, &l.Email); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateActivity inserts an activity (category) and returns its id.
func (s *Store) CreateActivity(ctx context.Context, a model.Activity) (int64, error) {
	if strings.TrimSpace(a.Title) == "" {
		return 0, errors.New("activity title is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (title, color, published) VALUES (?, ?, ?)`,
		a.Title, a.Color, boolInt(a.Published),
	)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	return res.LastInsertId()
}

// ListActivities returns published activities ordered by title.
func (s *Store) ListActivities(ctx context.Context) ([]model.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, color FROM activities WHERE published = 1 ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	out := make([]model.Activity, 0)
	for rows.Next() {
		a := model.Activity{Published: true}
		if err := rows.Scan(&a.ID, &a.Title, &a.Color); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateClass inserts a class and returns its id.
func (s *Store) CreateClass(ctx context.Context, c model.Class) (int64, error) {
	if strings.TrimSpace(c.Title) == "" {
		return 0, errors.New("class title is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO classes (title, description, activity_id, published) VALUES (?, ?, ?, ?)`,
		c.Title, c.Description, nullID(c.ActivityID), boolInt(c.Published),
	)
	if err != nil {
		return 0, fmt.Errorf("insert class: %w", err)
	}
	return res.LastInsertId()
}

// GetClass loads a class by id.
func (s *Store) GetClass(ctx context.Context, id int64) (model.Class, error) {
	var c model.Class
	var activity sql.NullInt64
	var published int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, activity_id, published FROM classes WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Description, &activity, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("get class %d: %w", id, err)
	}
	c.ActivityID = activity.Int64
	c.Published = published != 0
	return c, nil
}

// ListClasses returns published classes ordered by title.
func (s *Store) ListClasses(ctx context.Context) ([]model.Class, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, activity_id FROM classes WHERE published = 1 ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	out := make([]model.Class, 0)
	for rows.Next() {
		c := model.Class{Published: true}
		var activity sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &activity); err != nil {
			return nil, err
		}
		c.ActivityID = activity.Int64
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Sessions ---

// CreateSession inserts a session with its times and derives repeat rows in
// the same transaction. The assigned ids are written back into sess.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) (int64, error) {
	if err := validateSession(sess); err != nil {
		return 0, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Unix()
		res, err := tx.ExecContext(ctx, `INSERT INTO sessions
			(external_id, title, class_id, location_id, room, instructor, description,
			 register_url, register_text, product_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullString(sess.ExternalID), sess.Title, nullID(sess.ClassID), sess.LocationID,
			sess.Room, sess.Instructor, sess.Description,
			sess.RegisterURL, sess.RegisterText, sess.ProductID, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sess.ID = id
		if err := insertTimes(ctx, tx, sess); err != nil {
			return err
		}
		_, err = s.rebuildSessionTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	appLog.Debug("session created", "id", sess.ID, "title", sess.Title, "times", len(sess.Times))
	return sess.ID, nil
}

// UpsertSessionByExternalID creates or replaces the session carrying
// sess.ExternalID. Existing times are replaced wholesale.
func (s *Store) UpsertSessionByExternalID(ctx context.Context, sess *model.Session) (int64, bool, error) {
	if strings.TrimSpace(sess.ExternalID) == "" {
		return 0, false, fmt.Errorf("%w: external id is required", ErrInvalidSession)
	}
	if err := validateSession(sess); err != nil {
		return 0, false, err
	}

	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE external_id = ?`, sess.ExternalID).Scan(&id)
		now := time.Now().UTC().Unix()
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `INSERT INTO sessions
				(external_id, title, class_id, location_id, room, instructor, description,
				 register_url, register_text, product_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.ExternalID, sess.Title, nullID(sess.ClassID), sess.LocationID,
				sess.Room, sess.Instructor, sess.Description,
				sess.RegisterURL, sess.RegisterText, sess.ProductID, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert session: %w", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
			created = true
		case err != nil:
			return fmt.Errorf("lookup session %q: %w", sess.ExternalID, err)
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET
				title = ?, class_id = ?, location_id = ?, room = ?, instructor = ?, description = ?,
				register_url = ?, register_text = ?, product_id = ?, updated_at = ?
				WHERE id = ?`,
				sess.Title, nullID(sess.ClassID), sess.LocationID, sess.Room, sess.Instructor,
				sess.Description, sess.RegisterURL, sess.RegisterText, sess.ProductID, now, id,
			); err != nil {
				return fmt.Errorf("update session %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM repeat_events WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_times WHERE session_id = ?`, id); err != nil {
				return err
			}
		}
		sess.ID = id
		if err := insertTimes(ctx, tx, sess); err != nil {
			return err
		}
		_, err = s.rebuildSessionTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return sess.ID, created, nil
}

// GetSession loads a session and its times.
func (s *Store) GetSession(ctx context.Context, id int64) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	if err != nil {
		return sess, fmt.Errorf("get session %d: %w", id, err)
	}
	times, err := loadTimes(ctx, s.db, id)
	if err != nil {
		return sess, err
	}
	sess.Times = times
	return sess, nil
}

// ListSessions returns all sessions, optionally limited to one location.
func (s *Store) ListSessions(ctx context.Context, locationID int64) ([]model.Session, error) {
	q := sessionSelect
	var args []any
	if locationID > 0 {
		q += ` WHERE location_id = ?`
		args = append(args, locationID)
	}
	q += ` ORDER BY title, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		times, err := loadTimes(ctx, s.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Times = times
	}
	return out, nil
}

// UpdateSessionTime moves the first time rule of a session to a new span
// and refreshes its repeat rows.
func (s *Store) UpdateSessionTime(ctx context.Context, sessionID int64, start, end time.Time) error {
	if end.Before(start) {
		return errors.New("end is before start")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var timeID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM session_times WHERE session_id = ? ORDER BY id LIMIT 1`, sessionID,
		).Scan(&timeID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup session time: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_times SET start_at = ?, end_at = ? WHERE id = ?`,
			start.UTC().Unix(), end.UTC().Unix(), timeID,
		); err != nil {
			return fmt.Errorf("update session time %d: %w", timeID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC().Unix(), sessionID,
		); err != nil {
			return err
		}
		_, err = s.rebuildSessionTx(ctx, tx, sessionID)
		return err
	})
}

// --- Repeat rows ---

// RebuildRepeatEvents recomputes the repeat rows of one session.
func (s *Store) RebuildRepeatEvents(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.rebuildSessionTx(ctx, tx, sessionID)
		return err
	})
	return n, err
}

// RebuildAllRepeatEvents recomputes every repeat row, e.g. after activity
// titles changed or the site timezone moved.
func (s *Store) RebuildAllRepeatEvents(ctx context.Context) (int, error) {
	total := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			n, err := s.rebuildSessionTx(ctx, tx, id)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	appLog.Info("repeat events rebuilt", "rows", total)
	return total, nil
}

// RowFilter selects repeat rows for a date-range query. From and To are
// unix seconds (UTC).
type RowFilter struct {
	From       int64
	To         int64
	LocationID int64
	Categories []string // include only these categories
	Exclude    []string // drop these categories
	Limit      []string // additional include filter
}

// QueryRepeatRows returns repeat rows whose session span intersects
// [From, To], joined with session, location, class and activity data.
func (s *Store) QueryRepeatRows(ctx context.Context, f RowFilter) ([]model.ScheduleRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(`SELECT re.id, re.session_id, re.session_time_id, re.location_id,
		COALESCE(re.class_id, 0), re.category, re.weekday, re.start_ts, re.end_ts, re.duration,
		re.room, re.instructor, re.register_url, re.register_text, re.product_id,
		s.title, s.description, l.title, COALESCE(c.title, ''), COALESCE(c.description, ''),
		COALESCE(a.color, ''), st.days, st.start_at, st.end_at
	FROM repeat_events re
	JOIN sessions s ON s.id = re.session_id
	JOIN locations l ON l.id = re.location_id
	JOIN session_times st ON st.id = re.session_time_id
	LEFT JOIN classes c ON c.id = re.class_id
	LEFT JOIN activities a ON a.id = c.activity_id
	WHERE re.start_ts <= ? AND re.end_ts >= ?`)
	args := []any{f.To, f.From}

	if len(f.Categories) > 0 {
		b.WriteString(` AND re.category IN (` + placeholders(len(f.Categories)) + `)`)
		args = appendStrings(args, f.Categories)
	}
	if f.LocationID > 0 {
		b.WriteString(` AND re.location_id = ?`)
		args = append(args, f.LocationID)
	}
	if len(f.Exclude) > 0 {
		b.WriteString(` AND re.category NOT IN (` + placeholders(len(f.Exclude)) + `)`)
		args = appendStrings(args, f.Exclude)
	}
	if len(f.Limit) > 0 {
		b.WriteString(` AND re.category IN (` + placeholders(len(f.Limit)) + `)`)
		args = appendStrings(args, f.Limit)
	}
	b.WriteString(` ORDER BY re.start_ts, re.id`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query repeat rows: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScheduleRow, 0)
	for rows.Next() {
		var r model.ScheduleRow
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.SessionTimeID, &r.LocationID,
			&r.ClassID, &r.Category, &r.Weekday, &r.Start, &r.End, &r.Duration,
			&r.Room, &r.Instructor, &r.RegisterURL, &r.RegisterText, &r.ProductID,
			&r.SessionTitle, &r.SessionDescription, &r.LocationTitle, &r.ClassTitle, &r.ClassDescription,
			&r.Color, &r.Days, &r.TimeStart, &r.TimeEnd,
		); err != nil {
			return nil, fmt.Errorf("scan repeat row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) rebuildSessionTx(ctx context.Context, tx *sql.Tx, sessionID int64) (int, error) {
	sess, err := scanSession(tx.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	if sess.Times, err = loadTimes(ctx, tx, sessionID); err != nil {
		return 0, err
	}

	var category string
	if sess.ClassID > 0 {
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(a.title, '')
			FROM classes c LEFT JOIN activities a ON a.id = c.activity_id
			WHERE c.id = ?`, sess.ClassID).Scan(&category)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("load category for class %d: %w", sess.ClassID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM repeat_events WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("clear repeat rows: %w", err)
	}

	events := BuildRepeatEvents(sess, category, s.Location())
	for _, re := range events {
		if _, err := tx.ExecContext(ctx, `INSERT INTO repeat_events
			(session_id, session_time_id, location_id, class_id, category, weekday,
			 start_ts, end_ts, duration, room, instructor, register_url, register_text, product_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			re.SessionID, re.SessionTimeID, re.LocationID, nullID(re.ClassID), re.Category, re.Weekday,
			re.Start, re.End, re.Duration, re.Room, re.Instructor, re.RegisterURL, re.RegisterText, re.ProductID,
		); err != nil {
			return 0, fmt.Errorf("insert repeat row: %w", err)
		}
	}
	return len(events), nil
}

// --- helpers ---

const sessionSelect = `SELECT id, COALESCE(external_id, ''), title, COALESCE(class_id, 0), location_id,
	room, instructor, description, register_url, register_text, product_id FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanSession(row rowScanner) (model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.ExternalID, &sess.Title, &sess.ClassID, &sess.LocationID,
		&sess.Room, &sess.Instructor, &sess.Description, &sess.RegisterURL, &sess.RegisterText, &sess.ProductID)
	return sess, err
}

func loadTimes(ctx context.Context, q queryer, sessionID int64) ([]model.SessionTime, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, start_at, end_at, days FROM session_times WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session times: %w", err)
	}
	defer rows.Close()

	var out []model.SessionTime
	for rows.Next() {
		var st model.SessionTime
		var start, end int64
		var days string
		if err := rows.Scan(&st.ID, &start, &end, &days); err != nil {
			return nil, err
		}
		st.SessionID = sessionID
		st.Start = time.Unix(start, 0).UTC()
		st.End = time.Unix(end, 0).UTC()
		if st.Days, err = model.ParseDays(days); err != nil {
			return nil, fmt.Errorf("session time %d: %w", st.ID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func insertTimes(ctx context.Context, tx *sql.Tx, sess *model.Session) error {
	for i := range sess.Times {
		st := &sess.Times[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO session_times (session_id, start_at, end_at, days) VALUES (?, ?, ?, ?)`,
			sess.ID, st.Start.UTC().Unix(), st.End.UTC().Unix(), model.FormatDays(st.Days),
		)
		if err != nil {
			return fmt.Errorf("insert session time: %w", err)
		}
		if st.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		st.SessionID = sess.ID
	}
	return nil
}

func validateSession(sess *model.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}
	if strings.TrimSpace(sess.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidSession)
	}
	if sess.LocationID <= 0 {
		return fmt.Errorf("%w: location is required", ErrInvalidSession)
	}
	for i, st := range sess.Times {
		if st.End.Before(st.Start) {
			return fmt.Errorf("%w: time %d: end is before start", ErrInvalidSession, i)
		}
		if len(st.Days) == 0 {
			return fmt.Errorf("%w: time %d: at least one day is required", ErrInvalidSession, i)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendStrings(args []any, vals []string) []any {
	for _, v := range vals {
		args = append(args, v)
	}
	return args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
