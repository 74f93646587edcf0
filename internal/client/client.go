package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"smartcal/internal/config"
	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/query"
	"smartcal/internal/rest"
	"smartcal/internal/session"
	"smartcal/internal/settings"
)

// Config wires the client to one backend.
type Config struct {
	BaseURL         string
	APIKey          string
	RequestTimeout  time.Duration
	AuthTimeout     time.Duration
	Tables          query.Tables
	TargetMarker    string
	SecondaryMarker string
	Location        *time.Location
	HTTPClient      *http.Client
}

// ConfigFromApp maps the application config onto a client config.
func ConfigFromApp(cfg *config.Config) (Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Config{}, fmt.Errorf("resolve timezone: %w", err)
	}
	return Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.RequestTimeout,
		AuthTimeout:    cfg.AuthTimeout,
		Tables: query.Tables{
			Events:            cfg.EventsTable,
			Schedules:         cfg.ScheduleTable,
			Announcements:     cfg.AnnouncementsTable,
			CancelledStatusID: cfg.CancelledStatusID,
		},
		TargetMarker:    cfg.CategoryTargetMarker,
		SecondaryMarker: cfg.CategorySecondaryMarker,
		Location:        loc,
	}, nil
}

// Client is the surface collaborators use. Every data method fails with a
// *core.AuthError when there is no usable session and with a *core.APIError
// when the backend rejects the request.
type Client struct {
	session *session.Manager
	exec    *rest.Executor
	urls    query.URLs
	month   *query.MonthPlanner
	store   *settings.Store
	logger  *log.Logger

	now func() time.Time
}

func New(cfg Config, store *settings.Store, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	mgr := session.NewManager(session.Config{
		BaseURL:       cfg.BaseURL,
		DefaultAPIKey: cfg.APIKey,
		AuthTimeout:   cfg.AuthTimeout,
		HTTPClient:    httpClient,
	}, store, logger)
	exec := rest.NewExecutor(mgr, rest.Config{Timeout: cfg.RequestTimeout, HTTPClient: httpClient}, logger)
	urls := query.NewURLs(cfg.BaseURL, cfg.Tables)
	classifier := core.NewClassifier(cfg.TargetMarker, cfg.SecondaryMarker)

	return &Client{
		session: mgr,
		exec:    exec,
		urls:    urls,
		month:   query.NewMonthPlanner(exec, urls, classifier, cfg.Location, logger),
		store:   store,
		logger:  logger.WithComponent(log.ComponentApp),
		now:     time.Now,
	}
}

// Settings exposes the settings store so collaborators can keep their own
// preferences and cache blobs next to the session.
func (c *Client) Settings() *settings.Store { return c.store }

// Location is the zone month windows are computed in.
func (c *Client) Location() *time.Location { return c.month.Location() }

func (c *Client) Login(ctx context.Context, email, password string, remember bool) error {
	return c.session.Login(ctx, email, password, remember)
}

func (c *Client) Logout(ctx context.Context) {
	c.session.Logout(ctx)
}

func (c *Client) IsLoggedIn(ctx context.Context) bool {
	return c.session.IsLoggedIn(ctx)
}

func (c *Client) Session(ctx context.Context) core.SessionInfo {
	return c.session.Info(ctx)
}

// GetSchedule returns the schedule rows of the given events.
func (c *Client) GetSchedule(ctx context.Context, eventIDs []int64) ([]core.ScheduleRecord, error) {
	return query.FetchByIDs[int64, core.ScheduleRecord](ctx, c.exec, eventIDs, c.urls.Schedules)
}

// GetEvents returns the given events, whatever their category.
func (c *Client) GetEvents(ctx context.Context, ids []int64) ([]core.EventRecord, error) {
	return query.FetchByIDs[int64, core.EventRecord](ctx, c.exec, ids, c.urls.EventsByIDs)
}

// GetSmartServicesMonthData returns the target-group events overlapping the
// month and their schedule rows. monthIndex is 0-based.
func (c *Client) GetSmartServicesMonthData(ctx context.Context, year, monthIndex int) (core.MonthData, error) {
	w, err := query.Window(year, monthIndex, c.month.Location())
	if err != nil {
		return core.MonthData{}, err
	}

	events, err := c.month.FetchMonthEvents(ctx, year, monthIndex)
	if err != nil {
		return core.MonthData{}, fmt.Errorf("fetch month events: %w", err)
	}

	schedules, err := c.GetSchedule(ctx, core.EventIDs(events))
	if err != nil {
		return core.MonthData{}, fmt.Errorf("fetch schedules: %w", err)
	}

	c.logger.DebugContext(ctx, "Month data ready",
		log.FieldOperation, log.OpFetchMonth,
		log.FieldYear, year,
		log.FieldMonth, monthIndex+1,
		"events", len(events),
		"schedules", len(schedules))

	return core.MonthData{
		Year:      year,
		Month:     monthIndex + 1,
		Window:    w,
		Events:    events,
		Schedules: schedules,
	}, nil
}

// GetAnnouncements returns the announcements active right now, newest first.
func (c *Client) GetAnnouncements(ctx context.Context) ([]core.Announcement, error) {
	return rest.Get[[]core.Announcement](ctx, c.exec, c.urls.Announcements(c.now()))
}

// GetUser returns the signed-in user.
func (c *Client) GetUser(ctx context.Context) (core.User, error) {
	return rest.Get[core.User](ctx, c.exec, c.urls.User())
}
