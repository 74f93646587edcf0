package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/settings"
)

// AnnouncementSource is the part of the client the refresher needs.
type AnnouncementSource interface {
	IsLoggedIn(ctx context.Context) bool
	GetAnnouncements(ctx context.Context) ([]core.Announcement, error)
}

// AuxStore keeps the fetched snapshot next to the session settings.
type AuxStore interface {
	SaveAux(ctx context.Context, key string, v any)
	LoadAux(ctx context.Context, key string, v any) bool
}

// AnnouncementSnapshot is what the refresher persists.
type AnnouncementSnapshot struct {
	FetchedAt time.Time           `json:"fetched_at" yaml:"fetched_at"`
	Items     []core.Announcement `json:"items" yaml:"items"`
}

// LoadAnnouncements returns the last stored snapshot, if any.
func LoadAnnouncements(ctx context.Context, store AuxStore) (AnnouncementSnapshot, bool) {
	var snap AnnouncementSnapshot
	ok := store.LoadAux(ctx, settings.AuxAnnouncements, &snap)
	return snap, ok
}

// AnnouncementRefresher periodically copies the active announcements into
// the settings store so they are readable without a round trip.
type AnnouncementRefresher struct {
	source   AnnouncementSource
	store    AuxStore
	schedule string
	timeout  time.Duration
	loc      *time.Location
	logger   *log.Logger
	now      func() time.Time
}

func NewAnnouncementRefresher(source AnnouncementSource, store AuxStore, schedule string, loc *time.Location, logger *log.Logger) *AnnouncementRefresher {
	if logger == nil {
		logger = log.Discard()
	}
	if loc == nil {
		loc = time.Local
	}
	return &AnnouncementRefresher{
		source:   source,
		store:    store,
		schedule: schedule,
		timeout:  time.Minute,
		loc:      loc,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// Refresh fetches and stores announcements once. It does nothing while
// logged out.
func (r *AnnouncementRefresher) Refresh(ctx context.Context) error {
	if !r.source.IsLoggedIn(ctx) {
		r.logger.DebugContext(ctx, "Skipping announcement refresh, not logged in",
			log.FieldOperation, log.OpRefresh)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := r.source.GetAnnouncements(ctx)
	if err != nil {
		return fmt.Errorf("fetch announcements: %w", err)
	}

	r.store.SaveAux(ctx, settings.AuxAnnouncements, AnnouncementSnapshot{
		FetchedAt: r.now().UTC(),
		Items:     items,
	})
	r.logger.InfoContext(ctx, "Announcements refreshed",
		log.FieldOperation, log.OpRefresh, log.FieldRows, len(items))
	return nil
}

// Run refreshes once at startup, then on every tick of the cron schedule
// until ctx is cancelled. A running refresh is allowed to finish before Run
// returns.
func (r *AnnouncementRefresher) Run(ctx context.Context) error {
	sched, err := cron.ParseStandard(r.schedule)
	if err != nil {
		return fmt.Errorf("parse refresh schedule %q: %w", r.schedule, err)
	}

	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() { r.tick(ctx) }))

	r.tick(ctx)

	c.Start()
	r.logger.InfoContext(ctx, "Announcement refresher started",
		log.FieldOperation, log.OpStartup, "schedule", r.schedule)

	<-ctx.Done()
	<-c.Stop().Done()

	r.logger.Info("Announcement refresher stopped", log.FieldOperation, log.OpShutdown)
	return nil
}

func (r *AnnouncementRefresher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.WarnContext(ctx, "Announcement refresh failed",
			log.FieldOperation, log.OpRefresh, log.FieldError, err)
	}
}
