package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/query"
	"smartcal/internal/settings"
	"smartcal/internal/storage"
)

// fakeBackend speaks the slice of PostgREST and GoTrue the client uses.
type fakeBackend struct {
	mu           sync.Mutex
	logins       int
	validToken   string
	noModeColumn bool
	requests     []string
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, r.URL.Path)
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var creds core.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
			return
		}
		b.mu.Lock()
		b.logins++
		b.validToken = fmt.Sprintf("tok-%d", b.logins)
		token := b.validToken
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})
	mux.HandleFunc("GET /auth/v1/user", b.authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"u-1","email":"ana@example.com","role":"authenticated"}`))
	}))
	mux.HandleFunc("GET /rest/v1/events", b.authed(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if b.noModeColumn && strings.Contains(q.Get("select"), "mode_id") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"42703","message":"column events.mode_id does not exist"}`))
			return
		}
		if ids := q.Get("id"); ids != "" {
			var rows []map[string]any
			for _, id := range parseIn(ids) {
				rows = append(rows, map[string]any{"id": id, "title": "Event " + strconv.FormatInt(id, 10), "status_id": 1})
			}
			_ = json.NewEncoder(w).Encode(rows)
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":10,"title":"Smart intro","start_datetime":"2026-01-12T09:00:00+00:00","end_datetime":"2026-01-13T17:00:00+00:00","status_id":1,"category":{"id":1,"name":"Smart Services"}},
			{"id":11,"title":"KPI sync","start_datetime":"2026-01-14T09:00:00+00:00","end_datetime":"2026-01-14T10:00:00+00:00","status_id":1,"category":{"id":2,"name":"KPI"}},
			{"id":12,"title":"Smart lab","start_datetime":"2026-01-20T09:00:00+00:00","end_datetime":"2026-01-20T12:00:00+00:00","status_id":1,"category":{"id":1,"name":"smart"}}
		]`))
	}))
	mux.HandleFunc("GET /rest/v1/event_schedules", b.authed(func(w http.ResponseWriter, r *http.Request) {
		var rows []core.ScheduleRecord
		for _, id := range parseIn(r.URL.Query().Get("event_id")) {
			rows = append(rows,
				core.ScheduleRecord{EventID: id, DayNumber: 1, ScheduleDate: "2026-01-12", StartTime: "09:00:00", EndTime: "17:00:00"},
				core.ScheduleRecord{EventID: id, DayNumber: 2, ScheduleDate: "2026-01-13", StartTime: "09:00:00", EndTime: "17:00:00"},
			)
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	mux.HandleFunc("GET /rest/v1/announcements", b.authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"title":"Maintenance","status":"active","start_date":"2026-01-01T00:00:00+00:00","end_date":null,"created_at":"2026-01-01T00:00:00+00:00"}]`))
	}))
	return mux
}

// authed rejects stale tokens the way PostgREST reports an expired JWT.
func (b *fakeBackend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.mu.Lock()
		valid := b.validToken
		b.mu.Unlock()
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"PGRST303","message":"JWT expired"}`))
			return
		}
		next(w, r)
	}
}

// expire invalidates the current token without telling the client.
func (b *fakeBackend) expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validToken = "rotated"
}

func parseIn(v string) []int64 {
	v = strings.TrimSuffix(strings.TrimPrefix(v, "in.("), ")")
	var ids []int64
	for _, s := range strings.Split(v, ",") {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func newTestClient(t *testing.T) (*Client, *fakeBackend, *settings.Store) {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	store := settings.NewStore(storage.NewChain(storage.NewMemory(), storage.NewMemory()), "", log.Discard())
	c := New(Config{
		BaseURL:        srv.URL,
		APIKey:         "anon",
		RequestTimeout: 5 * time.Second,
		AuthTimeout:    5 * time.Second,
		Tables:         query.DefaultTables(),
		Location:       time.UTC,
	}, store, log.Discard())
	c.now = func() time.Time { return time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC) }
	return c, backend, store
}

func TestClient_RequiresLogin(t *testing.T) {
	c, backend, _ := newTestClient(t)
	ctx := context.Background()

	assert.False(t, c.IsLoggedIn(ctx))
	_, err := c.GetAnnouncements(ctx)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, core.ErrNotLoggedIn)
	assert.Empty(t, backend.requests)
}

func TestClient_MonthData(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "ana@example.com", "secret", true))

	data, err := c.GetSmartServicesMonthData(ctx, 2026, 0)
	require.NoError(t, err)

	assert.Equal(t, 2026, data.Year)
	assert.Equal(t, 1, data.Month)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), data.Window.Start)
	assert.Equal(t, []int64{10, 12}, core.EventIDs(data.Events))
	require.Len(t, data.Schedules, 4)
	assert.Equal(t, int64(10), data.Schedules[0].EventID)
	assert.Equal(t, int64(12), data.Schedules[3].EventID)
}

func TestClient_MonthDataSurvivesSchemaDrift(t *testing.T) {
	c, backend, _ := newTestClient(t)
	backend.noModeColumn = true
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "ana@example.com", "secret", true))

	data, err := c.GetSmartServicesMonthData(ctx, 2026, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 12}, core.EventIDs(data.Events))
}

func TestClient_RecoversExpiredSession(t *testing.T) {
	c, backend, store := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "ana@example.com", "secret", true))

	backend.expire()
	user, err := c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)

	assert.Equal(t, 2, backend.logins)
	assert.Equal(t, "tok-2", store.Get(ctx).String(core.SettingToken))
}

func TestClient_EventsAndScheduleChunking(t *testing.T) {
	c, backend, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "ana@example.com", "secret", false))

	ids := make([]int64, 75)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	events, err := c.GetEvents(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, core.EventIDs(events))

	schedules, err := c.GetSchedule(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, schedules)

	assert.Equal(t, []string{"/rest/v1/events", "/rest/v1/events"}, backend.requests)
}

func TestClient_LogoutForgetsSession(t *testing.T) {
	c, _, store := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "ana@example.com", "secret", true))

	announcements, err := c.GetAnnouncements(ctx)
	require.NoError(t, err)
	require.Len(t, announcements, 1)
	store.SaveAux(ctx, settings.AuxAnnouncements, announcements)

	c.Logout(ctx)

	assert.False(t, c.IsLoggedIn(ctx))
	assert.Equal(t, core.SessionInfo{}, c.Session(ctx))
	assert.Empty(t, store.Get(ctx))
	var cached []core.Announcement
	assert.False(t, store.LoadAux(ctx, settings.AuxAnnouncements, &cached))
}
