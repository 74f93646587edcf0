package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrNoSavedCredentials = errors.New("no saved credentials")
)

// AuthError covers a missing session, missing remembered credentials and a
// login or reauthentication rejected by the backend.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err == nil:
		return "auth: " + e.Reason
	case e.Reason == "":
		return "auth: " + e.Err.Error()
	default:
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is any non-2xx backend response that is not recovered internally.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

type apiErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Details          string `json:"details"`
	Hint             string `json:"hint"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *APIError) decode() apiErrorBody {
	var b apiErrorBody
	_ = json.Unmarshal([]byte(e.Body), &b)
	return b
}

// Code is the PostgREST/Postgres error code carried in the body, if any.
func (e *APIError) Code() string {
	return e.decode().Code
}

// Message is the most descriptive message the body carries, if any.
func (e *APIError) Message() string {
	b := e.decode()
	for _, s := range []string{b.ErrorDescription, b.Message, b.Msg, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SessionExpiredError marks a 401 caused by an expired bearer token. It is
// resolved inside the request executor and never returned to callers.
type SessionExpiredError struct {
	Cause *APIError
}

func (e *SessionExpiredError) Error() string {
	return "session expired: " + e.Cause.Error()
}

func (e *SessionExpiredError) Unwrap() error { return e.Cause }

// SchemaDriftError marks a query that referenced a column or relationship the
// backend schema does not have.
type SchemaDriftError struct {
	Cause *APIError
}

func (e *SchemaDriftError) Error() string {
	return "schema drift: " + e.Cause.Error()
}

func (e *SchemaDriftError) Unwrap() error { return e.Cause }

// IsSessionExpired classifies a failed response as session expiry: status is
// exactly 401 and the body mentions "jwt expired" or the PGRST303 code.
func IsSessionExpired(status int, body string) bool {
	if status != 401 {
		return false
	}
	b := strings.ToLower(body)
	return strings.Contains(b, "jwt expired") || strings.Contains(b, "pgrst303")
}

// Codes reported when a select references a column or embedded relation that
// does not exist: Postgres undefined_column, PostgREST missing relationship
// and PostgREST missing column in the schema cache.
var schemaDriftCodes = map[string]struct{}{
	"42703":    {},
	"PGRST200": {},
	"PGRST204": {},
}

// IsSchemaDrift reports whether err is a backend "column does not exist"
// style failure.
func IsSchemaDrift(err error) bool {
	var drift *SchemaDriftError
	if errors.As(err, &drift) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := schemaDriftCodes[strings.ToUpper(apiErr.Code())]; ok {
		return true
	}
	msg := strings.ToLower(apiErr.Message())
	if msg == "" {
		msg = strings.ToLower(apiErr.Body)
	}
	return strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")
}
