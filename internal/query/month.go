package query

import (
	"context"
	"fmt"
	"time"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/rest"
)

// Window returns the closed interval of the month: from midnight on the
// first day to 23:59:59.999 on the last day, in loc. monthIndex is 0-based.
func Window(year, monthIndex int, loc *time.Location) (core.QueryWindow, error) {
	if monthIndex < 0 || monthIndex > 11 {
		return core.QueryWindow{}, fmt.Errorf("%w: %d (want 0-11)", core.ErrInvalidMonth, monthIndex)
	}
	if loc == nil {
		loc = time.Local
	}
	month := time.Month(monthIndex + 1)
	return core.QueryWindow{
		Start: time.Date(year, month, 1, 0, 0, 0, 0, loc),
		// day 0 of the next month is the last day of this one
		End: time.Date(year, month+1, 0, 23, 59, 59, int(999*time.Millisecond), loc),
	}, nil
}

// MonthPlanner fetches the target-group events of a month.
type MonthPlanner struct {
	fetcher    rest.Fetcher
	urls       URLs
	classifier core.Classifier
	loc        *time.Location
	logger     *log.Logger
}

func NewMonthPlanner(fetcher rest.Fetcher, urls URLs, classifier core.Classifier, loc *time.Location, logger *log.Logger) *MonthPlanner {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &MonthPlanner{
		fetcher:    fetcher,
		urls:       urls,
		classifier: classifier,
		loc:        loc,
		logger:     logger.WithComponent(log.ComponentQuery),
	}
}

// Location is the zone month windows are computed in.
func (p *MonthPlanner) Location() *time.Location { return p.loc }

// FetchMonthEvents queries the events overlapping the month with the
// extended projection. If the backend rejects it for a missing column or
// relation, the reduced projection is tried exactly once and its error, if
// any, is returned as is. Only events of the target category group are kept.
func (p *MonthPlanner) FetchMonthEvents(ctx context.Context, year, monthIndex int) ([]core.EventRecord, error) {
	w, err := Window(year, monthIndex, p.loc)
	if err != nil {
		return nil, err
	}

	events, err := rest.Get[[]core.EventRecord](ctx, p.fetcher, p.urls.MonthEvents(w, ExtendedEventProjection))
	if err != nil {
		if !core.IsSchemaDrift(err) {
			return nil, err
		}
		p.logger.WarnContext(ctx, "Month query hit schema drift, retrying with reduced projection",
			log.FieldOperation, log.OpFallback,
			log.FieldYear, year,
			log.FieldMonth, monthIndex+1,
			log.FieldError, err)

		events, err = rest.Get[[]core.EventRecord](ctx, p.fetcher, p.urls.MonthEvents(w, ReducedEventProjection))
		if err != nil {
			return nil, err
		}
	}

	kept := p.classifier.FilterEvents(events, core.GroupTarget)
	p.logger.DebugContext(ctx, "Fetched month events",
		log.FieldOperation, log.OpFetchMonth,
		log.FieldYear, year,
		log.FieldMonth, monthIndex+1,
		log.FieldRows, len(events),
		"kept", len(kept))
	return kept, nil
}
