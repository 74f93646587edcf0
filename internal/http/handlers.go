package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"smartcal/internal/icsexport"
	"smartcal/internal/log"
	"smartcal/internal/middleware/security"
)

const maxLoginBody = 64 << 10

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Login rate limit exceeded",
		log.FieldOperation, log.OpLogin, log.FieldClientIP, security.ClientIP(r))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: "too many login attempts, try again later",
		Type:  log.ErrorTypeRateLimit,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, log.OpLogin, validationError("malformed login body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, log.OpLogin, validationError("email and password are required"))
		return
	}

	if err := s.svc.Login(r.Context(), req.Email, req.Password, req.Remember); err != nil {
		writeError(w, r, log.OpLogin, err)
		return
	}
	s.invalidate(r.Context())
	writeJSON(w, http.StatusOK, s.svc.Session(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.svc.Logout(r.Context())
	s.invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session(r.Context()))
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.now().In(s.svc.Location()))
	if err != nil {
		writeError(w, r, log.OpFetchMonth, err)
		return
	}

	data, hit, err := s.monthData(r.Context(), params)
	if err != nil {
		writeError(w, r, log.OpFetchMonth, err)
		return
	}
	w.Header().Set("X-Cache", cacheStatus(hit))
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleMonthICS(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.now().In(s.svc.Location()))
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}

	data, hit, err := s.monthData(r.Context(), params)
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}
	body, err := icsexport.Encode(data, s.svc.Location())
	if err != nil {
		writeError(w, r, log.OpExport, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("X-Cache", cacheStatus(hit))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ids, err := ParseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, log.OpFetchBatch, err)
		return
	}
	events, err := s.svc.GetEvents(r.Context(), ids)
	if err != nil {
		writeError(w, r, log.OpFetchBatch, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ids, err := ParseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, log.OpFetchBatch, err)
		return
	}
	rows, err := s.svc.GetSchedule(r.Context(), ids)
	if err != nil {
		writeError(w, r, log.OpFetchBatch, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.GetAnnouncements(r.Context())
	if err != nil {
		writeError(w, r, log.OpFetch, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUser(r.Context())
	if err != nil {
		writeError(w, r, log.OpFetch, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
