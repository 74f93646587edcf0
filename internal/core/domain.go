package core

import (
	"encoding/json"
	"errors"
	"time"
)

// Well-known fields of the persisted settings blob.
const (
	SettingAPIKey   = "apiKey"
	SettingToken    = "token"
	SettingEmail    = "email"
	SettingPassword = "password"
)

type (
	// Credentials are the user-supplied login pair.
	Credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	// SessionState is the live session of one client. A non-empty Token is
	// always paired with a non-empty APIKey.
	SessionState struct {
		APIKey   string
		Token    string
		Email    string
		Password string
	}

	// SessionInfo is the read-only view of the session handed to collaborators.
	SessionInfo struct {
		LoggedIn  bool      `json:"logged_in" yaml:"logged_in"`
		Email     string    `json:"email,omitempty" yaml:"email,omitempty"`
		ExpiresAt time.Time `json:"expires_at,omitzero" yaml:"expires_at,omitempty"`
	}

	// Settings is the opaque JSON object persisted under the settings key.
	Settings map[string]any

	// QueryWindow is the closed interval covered by a month query.
	QueryWindow struct {
		Start time.Time `json:"start" yaml:"start"`
		End   time.Time `json:"end" yaml:"end"`
	}

	// Lookup is a joined id/name row (category, program, mode).
	Lookup struct {
		ID   int64  `json:"id" yaml:"id"`
		Name string `json:"name" yaml:"name"`
	}

	// EventRecord, ScheduleRecord, Announcement and User are typed views of
	// backend rows. Raw holds the row as received and is what gets encoded
	// back out, so columns without a field survive.
	EventRecord struct {
		Raw           json.RawMessage `json:"-" yaml:"-"`
		ID            int64           `json:"id" yaml:"id"`
		Title         string          `json:"title" yaml:"title"`
		Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
		Location      string          `json:"location,omitempty" yaml:"location,omitempty"`
		StartDatetime Timestamp       `json:"start_datetime" yaml:"start_datetime"`
		EndDatetime   Timestamp       `json:"end_datetime" yaml:"end_datetime"`
		StatusID      int64           `json:"status_id" yaml:"status_id"`
		CategoryID    *int64          `json:"category_id,omitempty" yaml:"category_id,omitempty"`
		ProgramID     *int64          `json:"program_id,omitempty" yaml:"program_id,omitempty"`
		ModeID        *int64          `json:"mode_id,omitempty" yaml:"mode_id,omitempty"`
		Category      *Lookup         `json:"category,omitempty" yaml:"category,omitempty"`
		Program       *Lookup         `json:"program,omitempty" yaml:"program,omitempty"`
		Mode          *Lookup         `json:"mode,omitempty" yaml:"mode,omitempty"`
	}

	// ScheduleRecord is one day of a (possibly multi-day) event. Dates and
	// times are kept as the backend renders them.
	ScheduleRecord struct {
		Raw          json.RawMessage `json:"-" yaml:"-"`
		EventID      int64           `json:"event_id" yaml:"event_id"`
		DayNumber    int             `json:"day_number" yaml:"day_number"`
		ScheduleDate string          `json:"schedule_date" yaml:"schedule_date"`
		StartTime    string          `json:"start_time" yaml:"start_time"`
		EndTime      string          `json:"end_time" yaml:"end_time"`
	}

	Announcement struct {
		Raw       json.RawMessage `json:"-" yaml:"-"`
		ID        RowID           `json:"id" yaml:"id"`
		Title     string          `json:"title" yaml:"title"`
		Message   string          `json:"message,omitempty" yaml:"message,omitempty"`
		Status    string          `json:"status" yaml:"status"`
		StartDate Timestamp       `json:"start_date" yaml:"start_date"`
		EndDate   *Timestamp      `json:"end_date,omitempty" yaml:"end_date,omitempty"`
		CreatedAt Timestamp       `json:"created_at" yaml:"created_at"`
	}

	User struct {
		Raw          json.RawMessage `json:"-" yaml:"-"`
		ID           string          `json:"id" yaml:"id"`
		Email        string          `json:"email" yaml:"email"`
		Role         string          `json:"role,omitempty" yaml:"role,omitempty"`
		LastSignInAt *Timestamp      `json:"last_sign_in_at,omitempty" yaml:"last_sign_in_at,omitempty"`
		UserMetadata map[string]any  `json:"user_metadata,omitempty" yaml:"user_metadata,omitempty"`
	}

	// MonthData is what the month view needs: the target-group events of the
	// month and the schedule rows belonging to them. Month is 1-12.
	MonthData struct {
		Year      int              `json:"year" yaml:"year"`
		Month     int              `json:"month" yaml:"month"`
		Window    QueryWindow      `json:"window" yaml:"window"`
		Events    []EventRecord    `json:"events" yaml:"events"`
		Schedules []ScheduleRecord `json:"schedules" yaml:"schedules"`
	}
)

var ErrInvalidMonth = errors.New("invalid month index")

// String returns the string value stored under key, or "".
func (s Settings) String(key string) string {
	if s == nil {
		return ""
	}
	v, _ := s[key].(string)
	return v
}

// Merge returns a copy of s with every field of partial written over it.
func (s Settings) Merge(partial Settings) Settings {
	out := make(Settings, len(s)+len(partial))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Credentials returns the remembered login pair, if any.
func (s Settings) Credentials() (Credentials, bool) {
	c := Credentials{Email: s.String(SettingEmail), Password: s.String(SettingPassword)}
	return c, c.Email != "" && c.Password != ""
}

// Contains reports whether t falls inside the window (both ends inclusive).
func (w QueryWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// EventIDs returns the IDs of events in their current order.
func EventIDs(events []EventRecord) []int64 {
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

// CategoryName is the joined category name, or "" when the join is absent.
func (e EventRecord) CategoryName() string {
	if e.Category == nil {
		return ""
	}
	return e.Category.Name
}
