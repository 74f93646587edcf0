package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"smartcal/internal/core"
)

// setupEnv points the CLI at a fake auth endpoint and a temp settings file.
func setupEnv(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var creds core.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1"}`))
	})
	mux.HandleFunc("GET /auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"PGRST301","message":"bad jwt"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-1","email":"ana@example.com"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("SMARTCAL_BASE_URL", srv.URL)
	t.Setenv("SMARTCAL_API_KEY", "anon")
	t.Setenv("STORAGE_PRIMARY", "file")
	t.Setenv("STORAGE_FALLBACK", "none")
	t.Setenv("SETTINGS_FILE", filepath.Join(dir, "settings.json"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TIMEZONE", "UTC")
	require.NoError(t, os.Unsetenv("SMARTCAL_PASSWORD"))
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_UsageErrors(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"bad format", []string{"-format", "xml", "status"}},
		{"month out of range", []string{"month", "-month", "13"}},
		{"bad ids", []string{"events", "-ids", "1,abc"}},
		{"login without password", []string{"login", "-email", "ana@example.com"}},
		{"stray argument", []string{"status", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestRun_LoginRememberedAcrossRuns(t *testing.T) {
	setupEnv(t)

	code, out, errOut := runCLI(t, "login", "-email", "ana@example.com", "-password", "secret", "-remember")
	require.Equal(t, exitOK, code, errOut)
	var info core.SessionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.LoggedIn)

	code, out, errOut = runCLI(t, "-format", "yaml", "status")
	require.Equal(t, exitOK, code, errOut)
	var status map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["logged_in"])
	assert.Equal(t, "ana@example.com", status["email"])

	code, out, errOut = runCLI(t, "user")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, `"id": "u-1"`)

	code, _, _ = runCLI(t, "logout")
	require.Equal(t, exitOK, code)

	code, _, errOut = runCLI(t, "user")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "smartcal login")
}

func TestRun_RejectedLogin(t *testing.T) {
	setupEnv(t)

	code, _, errOut := runCLI(t, "login", "-email", "ana@example.com", "-password", "wrong")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "Invalid login credentials")
}

func TestRun_CachedAnnouncementsMissing(t *testing.T) {
	setupEnv(t)

	code, _, errOut := runCLI(t, "announcements", "-cached")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "no stored announcements")
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 4, 2,,9 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 9}, ids)

	ids, err = parseIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseIDs("0")
	assert.ErrorIs(t, err, errUsage)
}
