package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smartcal/internal/core"
)

// Column projections for the events table. The reduced one drops the
// program and mode lookups that older schemas do not have.
const (
	ExtendedEventProjection = "id,title,description,start_datetime,end_datetime,location,status_id," +
		"category_id,program_id,mode_id," +
		"category:event_categories(id,name),program:programs(id,name),mode:event_modes(id,name)"
	ReducedEventProjection = "id,title,description,start_datetime,end_datetime,location,status_id," +
		"category_id,category:event_categories(id,name)"

	scheduleProjection = "event_id,day_number,schedule_date,start_time,end_time"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Tables names the backend tables and the status id of cancelled events.
type Tables struct {
	Events            string
	Schedules         string
	Announcements     string
	CancelledStatusID int
}

// DefaultTables matches the stock backend schema.
func DefaultTables() Tables {
	return Tables{
		Events:            "events",
		Schedules:         "event_schedules",
		Announcements:     "announcements",
		CancelledStatusID: 4,
	}
}

// URLs builds fully-qualified backend URLs.
type URLs struct {
	baseURL string
	tables  Tables
}

func NewURLs(baseURL string, tables Tables) URLs {
	def := DefaultTables()
	if tables.Events == "" {
		tables.Events = def.Events
	}
	if tables.Schedules == "" {
		tables.Schedules = def.Schedules
	}
	if tables.Announcements == "" {
		tables.Announcements = def.Announcements
	}
	if tables.CancelledStatusID == 0 {
		tables.CancelledStatusID = def.CancelledStatusID
	}
	return URLs{baseURL: strings.TrimRight(baseURL, "/"), tables: tables}
}

// params keeps query parameters in insertion order.
type params [][2]string

func (p params) add(k, v string) params { return append(p, [2]string{k, v}) }

func (p params) encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
	}
	return b.String()
}

func (u URLs) rest(table string, p params) string {
	return u.baseURL + "/rest/v1/" + url.PathEscape(table) + "?" + p.encode()
}

// Schedules lists the schedule rows of the given events, by day number.
func (u URLs) Schedules(eventIDs []int64) string {
	return u.rest(u.tables.Schedules, params{}.
		add("select", scheduleProjection).
		add("event_id", "in.("+joinIDs(eventIDs)+")").
		add("order", "day_number.asc"))
}

// EventsByIDs lists the given events with the extended projection.
func (u URLs) EventsByIDs(ids []int64) string {
	return u.rest(u.tables.Events, params{}.
		add("select", ExtendedEventProjection).
		add("id", "in.("+joinIDs(ids)+")").
		add("order", "start_datetime.asc"))
}

// MonthEvents lists the non-cancelled events overlapping w.
func (u URLs) MonthEvents(w core.QueryWindow, projection string) string {
	return u.rest(u.tables.Events, params{}.
		add("select", projection).
		add("status_id", "neq."+strconv.Itoa(u.tables.CancelledStatusID)).
		add("start_datetime", "lte."+formatTimestamp(w.End)).
		add("end_datetime", "gte."+formatTimestamp(w.Start)).
		add("order", "start_datetime.asc"))
}

// Announcements lists the announcements active at now, newest first.
func (u URLs) Announcements(now time.Time) string {
	ts := formatTimestamp(now)
	return u.rest(u.tables.Announcements, params{}.
		add("select", "*").
		add("status", "eq.active").
		add("start_date", "lte."+ts).
		add("or", fmt.Sprintf("(end_date.gt.%s,end_date.is.null)", ts)).
		add("order", "created_at.desc"))
}

// User is the auth endpoint describing the signed-in user.
func (u URLs) User() string {
	return u.baseURL + "/auth/v1/user"
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
