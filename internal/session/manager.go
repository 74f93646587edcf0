package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/settings"
)

const (
	reauthKey = "reauthenticate"

	tokenPath = "/auth/v1/token?grant_type=password"

	defaultAuthTimeout = 20 * time.Second
	maxErrorBody       = 64 << 10
)

// Config holds what the manager needs to reach the auth endpoint.
type Config struct {
	BaseURL       string
	DefaultAPIKey string
	AuthTimeout   time.Duration
	HTTPClient    *http.Client
}

// Manager owns the session of one client: the API key, the bearer token and
// the remembered credentials used to recover from an expired token.
type Manager struct {
	baseURL       string
	defaultAPIKey string
	authTimeout   time.Duration
	httpClient    *http.Client
	store         *settings.Store
	logger        *log.Logger

	mu    sync.Mutex
	state core.SessionState
	// bumped by Logout so a reauthentication that settles afterwards does
	// not resurrect the session
	generation uint64

	group singleflight.Group
}

// NewManager creates a manager with an empty session. Nothing is read from
// the store until the first EnsureAuth.
func NewManager(cfg Config, store *settings.Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	timeout := cfg.AuthTimeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		defaultAPIKey: cfg.DefaultAPIKey,
		authTimeout:   timeout,
		httpClient:    client,
		store:         store,
		logger:        logger.WithComponent(log.ComponentSession),
	}
}

// BaseURL is the backend origin without a trailing slash.
func (m *Manager) BaseURL() string { return m.baseURL }

// EnsureAuth makes sure an API key and a token are available, hydrating the
// missing parts from the settings store. It never touches the network.
func (m *Manager) EnsureAuth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureAuthLocked(ctx)
}

func (m *Manager) ensureAuthLocked(ctx context.Context) error {
	if m.state.APIKey == "" || m.state.Token == "" {
		m.hydrateLocked(ctx)
	}
	if m.state.APIKey == "" {
		m.state.APIKey = m.defaultAPIKey
	}
	if m.state.Token == "" {
		return &core.AuthError{Err: core.ErrNotLoggedIn}
	}
	if m.state.APIKey == "" {
		// a token without an API key is never usable
		return &core.AuthError{Reason: "no api key configured", Err: core.ErrNotLoggedIn}
	}
	return nil
}

// hydrateLocked fills the empty fields of the in-memory state from storage.
func (m *Manager) hydrateLocked(ctx context.Context) {
	stored := m.store.Get(ctx)
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = stored.String(key)
		}
	}
	fill(&m.state.APIKey, core.SettingAPIKey)
	fill(&m.state.Token, core.SettingToken)
	fill(&m.state.Email, core.SettingEmail)
	fill(&m.state.Password, core.SettingPassword)

	if m.state.Token != "" {
		m.logger.DebugContext(ctx, "Session hydrated from storage", log.FieldOperation, log.OpHydrate)
	}
}

// IsLoggedIn reports whether EnsureAuth succeeds.
func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	return m.EnsureAuth(ctx) == nil
}

// Headers returns the headers every authenticated backend call carries.
func (m *Manager) Headers(ctx context.Context) (http.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureAuthLocked(ctx); err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("apikey", m.state.APIKey)
	h.Set("Authorization", "Bearer "+m.state.Token)
	h.Set("Accept", "application/json")
	h.Set("Accept-Profile", "public")
	h.Set("Content-Type", "application/json")
	return h, nil
}

// Login exchanges email and password for a token. With remember set, the
// API key, token and credentials are persisted for later runs.
func (m *Manager) Login(ctx context.Context, email, password string, remember bool) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	return m.login(ctx, email, password, remember, gen)
}

func (m *Manager) login(ctx context.Context, email, password string, remember bool, gen uint64) error {
	if email == "" || password == "" {
		return &core.AuthError{Reason: "email and password are required"}
	}
	apiKey := m.apiKey()

	ctx, cancel := context.WithTimeout(ctx, m.authTimeout)
	defer cancel()

	token, err := m.requestToken(ctx, apiKey, email, password)
	if err != nil {
		m.logger.WarnContext(ctx, "Login failed", log.FieldOperation, log.OpLogin, log.FieldEmail, email, log.FieldError, err)
		return err
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return &core.AuthError{Reason: "logged out while signing in", Err: core.ErrNotLoggedIn}
	}
	m.state = core.SessionState{APIKey: apiKey, Token: token, Email: email, Password: password}
	m.mu.Unlock()

	if remember {
		m.store.Save(ctx, core.Settings{
			core.SettingAPIKey:   apiKey,
			core.SettingToken:    token,
			core.SettingEmail:    email,
			core.SettingPassword: password,
		})
	}

	m.logger.InfoContext(ctx, "Logged in", log.FieldOperation, log.OpLogin, log.FieldEmail, email)
	return nil
}

// apiKey is the key a new token is issued under. The configured default
// wins over whatever was hydrated from storage.
func (m *Manager) apiKey() string {
	if m.defaultAPIKey != "" {
		return m.defaultAPIKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.APIKey
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (m *Manager) requestToken(ctx context.Context, apiKey, email, password string) (string, error) {
	body, err := json.Marshal(core.Credentials{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &core.AuthError{Reason: "login request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &core.AuthError{Reason: "login rejected", Err: &core.APIError{Status: resp.StatusCode, Body: string(raw)}}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &core.AuthError{Reason: "malformed login response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", &core.AuthError{Reason: "login response carried no access token"}
	}
	return tr.AccessToken, nil
}

// Reauthenticate logs in again with the remembered credentials. Concurrent
// callers share one login; the shared attempt is bounded by the auth timeout
// and keeps running if the caller that started it goes away. A caller stops
// waiting when its own ctx ends.
func (m *Manager) Reauthenticate(ctx context.Context) error {
	ch := m.group.DoChan(reauthKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.authTimeout)
		defer cancel()
		return nil, m.reauthenticate(runCtx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) reauthenticate(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	creds := core.Credentials{Email: m.state.Email, Password: m.state.Password}
	if creds.Email == "" || creds.Password == "" {
		if stored, ok := m.store.Get(ctx).Credentials(); ok {
			creds = stored
		}
	}
	m.mu.Unlock()

	if creds.Email == "" || creds.Password == "" {
		m.logger.WarnContext(ctx, "Cannot reauthenticate without saved credentials", log.FieldOperation, log.OpReauth)
		return &core.AuthError{Err: core.ErrNoSavedCredentials}
	}

	m.logger.InfoContext(ctx, "Session expired, signing in again", log.FieldOperation, log.OpReauth, log.FieldEmail, creds.Email)
	return m.login(ctx, creds.Email, creds.Password, true, gen)
}

// Logout clears the session and purges the persisted settings and caches.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.state = core.SessionState{}
	m.generation++
	m.mu.Unlock()

	m.group.Forget(reauthKey)
	m.store.Purge(ctx)
	m.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
}

// Info describes the session for display. The token expiry is read from the
// JWT exp claim without verifying the signature.
func (m *Manager) Info(ctx context.Context) core.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureAuthLocked(ctx); err != nil {
		return core.SessionInfo{}
	}

	info := core.SessionInfo{LoggedIn: true, Email: m.state.Email}
	if exp, err := tokenExpiry(m.state.Token); err == nil {
		info.ExpiresAt = exp
	}
	return info
}

func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}
