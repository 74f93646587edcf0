package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/middleware/security"
)

// errorBody is the JSON shape of every error the facade returns.
type errorBody struct {
	Error          string `json:"error"`
	Type           string `json:"type"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	UpstreamCode   string `json:"upstream_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps client errors onto facade responses: a missing or rejected
// session is 401, a backend refusal is 502, a bad request is 400.
func statusFor(err error) (int, errorBody) {
	var (
		authErr *core.AuthError
		apiErr  *core.APIError
	)
	switch {
	case errors.Is(err, errValidation), errors.Is(err, core.ErrInvalidMonth):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Type: log.ErrorTypeValidation}
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Type: log.ErrorTypeAuth}
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, errorBody{
			Error:          err.Error(),
			Type:           log.ErrorTypeUpstream,
			UpstreamStatus: apiErr.Status,
			UpstreamCode:   apiErr.Code(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "backend timed out", Type: log.ErrorTypeTimeout}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Type: log.ErrorTypeInternal}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, op,
				log.NewFields().WithComponent(log.ComponentHTTP).WithClientIP(security.ClientIP(r)))
	}
	writeJSON(w, status, body)
}
