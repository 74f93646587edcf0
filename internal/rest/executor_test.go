package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/session"
	"smartcal/internal/settings"
	"smartcal/internal/storage"
)

const expiredBody = `{"code":"PGRST303","details":null,"hint":null,"message":"JWT expired"}`

// fakeAuth hands out "token-<n>" and moves to the next token on every
// reauthentication.
type fakeAuth struct {
	mu        sync.Mutex
	n         int
	reauths   int
	reauthErr error
	headerErr error
}

func (f *fakeAuth) Headers(context.Context) (http.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	h := make(http.Header)
	h.Set("apikey", "anon")
	h.Set("Authorization", fmt.Sprintf("Bearer token-%d", f.n))
	return h, nil
}

func (f *fakeAuth) Reauthenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauths++
	if f.reauthErr != nil {
		return f.reauthErr
	}
	f.n++
	return nil
}

func newExecutor(auth Authenticator, timeout time.Duration) *Executor {
	return NewExecutor(auth, Config{Timeout: timeout}, log.Discard())
}

func TestExecutor_FetchJSON(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	rows, err := Get[[]map[string]int](context.Background(), newExecutor(&fakeAuth{}, 0), srv.URL+"/rest/v1/events")
	require.NoError(t, err)
	assert.Equal(t, []map[string]int{{"id": 1}, {"id": 2}}, rows)

	assert.Equal(t, "anon", gotHeaders.Get("apikey"))
	assert.Equal(t, "Bearer token-0", gotHeaders.Get("Authorization"))
	assert.NotEmpty(t, gotHeaders.Get("X-Request-Id"))
}

func TestExecutor_NotLoggedInSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	auth := &fakeAuth{headerErr: &core.AuthError{Err: core.ErrNotLoggedIn}}
	_, err := newExecutor(auth, 0).FetchJSON(context.Background(), srv.URL)
	assert.ErrorIs(t, err, core.ErrNotLoggedIn)
	assert.Zero(t, hits.Load())
}

func TestExecutor_NonExpiryErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`},
		{name: "unauthorized without expiry marker", status: http.StatusUnauthorized, body: `{"message":"invalid signature"}`},
		{name: "expiry text on a forbidden status", status: http.StatusForbidden, body: expiredBody},
		{name: "plain text", status: http.StatusBadGateway, body: "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			auth := &fakeAuth{}
			_, err := newExecutor(auth, 0).FetchJSON(context.Background(), srv.URL)

			var apiErr *core.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.body, apiErr.Body)
			var authErr *core.AuthError
			assert.False(t, errors.As(err, &authErr))
			assert.Equal(t, int32(1), hits.Load())
			assert.Zero(t, auth.reauths)
		})
	}
}

// expiringServer rejects every token in expired with a session-expiry 401.
func expiringServer(t *testing.T, expired map[string]bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if expired[token] {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(expiredBody))
			return
		}
		_ = json.NewEncoder(w).Encode([]string{token})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecutor_RetriesOnceAfterReauth(t *testing.T) {
	var hits atomic.Int32
	srv := expiringServer(t, map[string]bool{"token-0": true}, &hits)
	auth := &fakeAuth{}

	got, err := Get[[]string](context.Background(), newExecutor(auth, 0), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"token-1"}, got)
	assert.Equal(t, 1, auth.reauths)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecutor_SecondExpiryIsFatal(t *testing.T) {
	var hits atomic.Int32
	srv := expiringServer(t, map[string]bool{"token-0": true, "token-1": true}, &hits)
	auth := &fakeAuth{}

	_, err := newExecutor(auth, 0).FetchJSON(context.Background(), srv.URL)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	assert.Equal(t, 1, auth.reauths)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecutor_WithoutExpiredRetry(t *testing.T) {
	var hits atomic.Int32
	srv := expiringServer(t, map[string]bool{"token-0": true}, &hits)
	auth := &fakeAuth{}

	_, err := newExecutor(auth, 0).FetchJSON(context.Background(), srv.URL, WithoutExpiredRetry())
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, auth.reauths)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecutor_ReauthFailureNamesBothCauses(t *testing.T) {
	var hits atomic.Int32
	srv := expiringServer(t, map[string]bool{"token-0": true}, &hits)
	auth := &fakeAuth{reauthErr: &core.AuthError{Err: core.ErrNoSavedCredentials}}

	_, err := newExecutor(auth, 0).FetchJSON(context.Background(), srv.URL)
	var authErr *core.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, core.ErrNoSavedCredentials)
	assert.Contains(t, err.Error(), "session expired")
	assert.Contains(t, err.Error(), "no saved credentials")
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newExecutor(&fakeAuth{}, 50*time.Millisecond).FetchJSON(context.Background(), srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := newExecutor(&fakeAuth{}, 0).FetchJSON(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestExecutor_ConcurrentExpiriesShareOneLogin(t *testing.T) {
	const callers = 6
	var logins, dataHits atomic.Int32
	var arrived atomic.Int32
	allArrived := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/auth/v1/token" {
			logins.Add(1)
			// keep the login open long enough for every caller to join it
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(`{"access_token":"fresh"}`))
			return
		}

		dataHits.Add(1)
		if r.Header.Get("Authorization") == "Bearer stale" {
			if arrived.Add(1) == callers {
				close(allArrived)
			}
			<-allArrived
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"JWT expired"}`))
			return
		}
		_, _ = w.Write([]byte(`[1]`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := settings.NewStore(storage.NewMemory(), "", log.Discard())
	store.Save(ctx, core.Settings{
		core.SettingAPIKey:   "anon",
		core.SettingToken:    "stale",
		core.SettingEmail:    "ana@example.com",
		core.SettingPassword: "secret",
	})
	mgr := session.NewManager(session.Config{BaseURL: srv.URL, DefaultAPIKey: "anon"}, store, log.Discard())
	exec := newExecutor(mgr, 5*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = Get[[]int](ctx, exec, srv.URL+"/rest/v1/events")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, int32(2*callers), dataHits.Load())
	assert.Equal(t, "fresh", store.Get(ctx).String(core.SettingToken))
}
