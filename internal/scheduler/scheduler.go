// Package scheduler runs the periodic maintenance jobs: rebuilding repeat
// rows and pulling subscribed ICS feeds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pefsched/internal/config"
	"pefsched/internal/ics"
	appLog "pefsched/internal/log"
	"pefsched/internal/model"
	"pefsched/internal/schedule"
)

// Rebuilder recomputes every repeat row.
type Rebuilder interface {
	RebuildAllRepeatEvents(ctx context.Context) (int, error)
}

// Importer upserts sessions keyed by external id.
type Importer interface {
	ImportSessions(ctx context.Context, sessions []model.Session) (schedule.ImportResult, error)
}

// Fetcher downloads ICS feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Invalidator drops cached responses after data changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Deps are the collaborators the jobs act on.
type Deps struct {
	Store    Rebuilder
	Importer Importer
	Fetcher  Fetcher
	Cache    Invalidator
	Location *time.Location
	// JobTimeout bounds a single job run. Zero means five minutes.
	JobTimeout time.Duration
}

// Scheduler owns the cron runner and the current feed list.
type Scheduler struct {
	deps   Deps
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	sources []ics.Source
}

// New returns a stopped scheduler.
func New(deps Deps) *Scheduler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.JobTimeout <= 0 {
		deps.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		deps:   deps,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// SourcesFromConfig converts configured feeds into fetch sources.
func SourcesFromConfig(feeds []config.ICSConfig) []ics.Source {
	out := make([]ics.Source, 0, len(feeds))
	for i, f := range feeds {
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("ics-%d", i+1)
		}
		out = append(out, ics.Source{ID: id, URL: f.URL, LocationID: f.LocationID, ClassID: f.ClassID})
	}
	return out
}

// SetSources replaces the feed list used by the next sync.
func (s *Scheduler) SetSources(sources []ics.Source) {
	s.mu.Lock()
	s.sources = append([]ics.Source(nil), sources...)
	s.mu.Unlock()
}

func (s *Scheduler) currentSources() []ics.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ics.Source(nil), s.sources...)
}

func disabled(spec string) bool {
	v := strings.ToLower(strings.TrimSpace(spec))
	return v == "" || v == "off"
}

// Start registers the jobs in cfg and starts the runner. A running
// scheduler is restarted with the new schedules.
func (s *Scheduler) Start(cfg config.CronConfig) error {
	s.Stop(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()

	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.deps.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"rebuild", cfg.Rebuild, s.Rebuild},
		{"ics_sync", cfg.ICSSync, s.SyncICS},
	}
	for _, j := range jobs {
		if disabled(j.spec) {
			appLog.Info("cron job disabled", "job", j.name)
			continue
		}
		job := j
		if _, err := c.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("cron %s %q: %w", job.name, job.spec, err)
		}
		appLog.Info("cron job scheduled", "job", job.name, "spec", job.spec, "tz", s.deps.Location.String())
	}

	c.Start()
	s.c = c
	return nil
}

// Stop halts the runner and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.JobTimeout)
	defer cancel()
	started := time.Now()
	if err := run(ctx); err != nil {
		appLog.Error("cron job failed", err, "job", name, "elapsed", time.Since(started).String())
		return
	}
	appLog.Debug("cron job finished", "job", name, "elapsed", time.Since(started).String())
}

// RunOnce syncs feeds and rebuilds repeat rows a single time.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	syncErr := s.SyncICS(ctx)
	rebuildErr := s.Rebuild(ctx)
	return errors.Join(syncErr, rebuildErr)
}

// Rebuild recomputes all repeat rows and invalidates cached responses.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	if _, err := s.deps.Store.RebuildAllRepeatEvents(ctx); err != nil {
		return fmt.Errorf("rebuild repeat events: %w", err)
	}
	s.invalidate(ctx)
	return nil
}

// SyncICS fetches every feed and upserts its sessions. Feeds that fail are
// reported together after the rest were imported.
func (s *Scheduler) SyncICS(ctx context.Context) error {
	sources := s.currentSources()
	if len(sources) == 0 || s.deps.Fetcher == nil || s.deps.Importer == nil {
		return nil
	}

	results, errs := s.deps.Fetcher.FetchAll(ctx, sources)
	changed := false
	for _, res := range results {
		events, err := ics.ParseICS(res.Source, res.Body, s.deps.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		sessions := ics.ToSessions(events, ics.SessionOptions{
			LocationID: res.Source.LocationID,
			ClassID:    res.Source.ClassID,
			Location:   s.deps.Location,
		})
		out, err := s.deps.Importer.ImportSessions(ctx, sessions)
		if out.Created+out.Updated > 0 {
			changed = true
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		appLog.Info("ics sync", "id", res.Source.ID, "from_cache", res.FromCache,
			"created", out.Created, "updated", out.Updated, "skipped", out.Skipped)
	}
	if changed {
		s.invalidate(ctx)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) invalidate(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx); err != nil {
		appLog.Warn("cache invalidate failed", "err", err.Error())
	}
}

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
