// Package icsexport renders month data as an iCalendar feed.
package icsexport

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"smartcal/internal/core"
)

const (
	productID = "-//smartcal//month export//EN"
	uidDomain = "smartcal"
)

var clockLayouts = []string{"15:04:05", "15:04"}

// Encode renders data with the current time as DTSTAMP.
func Encode(data core.MonthData, loc *time.Location) (string, error) {
	return EncodeAt(data, loc, time.Now())
}

// EncodeAt renders one VEVENT per schedule row. Events without schedule rows
// get a single VEVENT spanning their own start and end; events with neither
// are left out. Schedule dates and times are read in loc.
func EncodeAt(data core.MonthData, loc *time.Location, stamp time.Time) (string, error) {
	if loc == nil {
		loc = time.UTC
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(fmt.Sprintf("smartcal %04d-%02d", data.Year, data.Month))

	byEvent := make(map[int64][]core.ScheduleRecord, len(data.Events))
	for _, s := range data.Schedules {
		byEvent[s.EventID] = append(byEvent[s.EventID], s)
	}

	for _, ev := range data.Events {
		rows := byEvent[ev.ID]
		if len(rows) == 0 {
			if ev.StartDatetime.IsZero() {
				continue
			}
			vev := cal.AddEvent(fmt.Sprintf("smartcal-%d@%s", ev.ID, uidDomain))
			describe(vev, ev, stamp)
			vev.SetStartAt(ev.StartDatetime.Time)
			if end := ev.EndDatetime.Time; end.After(ev.StartDatetime.Time) {
				vev.SetEndAt(end)
			}
			continue
		}

		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].ScheduleDate != rows[j].ScheduleDate {
				return rows[i].ScheduleDate < rows[j].ScheduleDate
			}
			return rows[i].DayNumber < rows[j].DayNumber
		})
		for _, row := range rows {
			if err := addScheduleRow(cal, ev, row, loc, stamp); err != nil {
				return "", fmt.Errorf("event %d: %w", ev.ID, err)
			}
		}
	}

	return cal.Serialize(), nil
}

func addScheduleRow(cal *ical.Calendar, ev core.EventRecord, row core.ScheduleRecord, loc *time.Location, stamp time.Time) error {
	day, err := time.ParseInLocation(time.DateOnly, row.ScheduleDate, loc)
	if err != nil {
		return fmt.Errorf("schedule date %q: %w", row.ScheduleDate, err)
	}

	vev := cal.AddEvent(fmt.Sprintf("smartcal-%d-%s-%d@%s", ev.ID, day.Format("20060102"), row.DayNumber, uidDomain))
	describe(vev, ev, stamp)

	start, ok := atClock(day, row.StartTime)
	if !ok {
		vev.SetAllDayStartAt(day)
		vev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		return nil
	}
	vev.SetStartAt(start)
	if end, ok := atClock(day, row.EndTime); ok && end.After(start) {
		vev.SetEndAt(end)
	}
	return nil
}

func describe(vev *ical.VEvent, ev core.EventRecord, stamp time.Time) {
	vev.SetDtStampTime(stamp)
	vev.SetSummary(ev.Title)
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		vev.SetLocation(ev.Location)
	}
	if name := ev.CategoryName(); name != "" {
		vev.AddCategory(name)
	}
}

// atClock places a wall-clock time on day. An empty or unparseable clock
// reports false.
func atClock(day time.Time, clock string) (time.Time, bool) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return time.Time{}, false
	}
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, day.Location()), true
	}
	return time.Time{}, false
}
