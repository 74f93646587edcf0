package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// errValidation marks a request the facade refuses before calling the client.
var errValidation = errors.New("invalid request")

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

// MonthParams holds the parsed year and 1-based month of a month request.
type MonthParams struct {
	Year  int
	Month int
}

// Index is the 0-based month the client expects.
func (p MonthParams) Index() int { return p.Month - 1 }

// ParseMonthParams reads year and month (1-12) from the query, defaulting
// each to the current one.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1970 || y > 9999 {
			return MonthParams{}, validationError("year %q must be a number between 1970 and 9999", v)
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return MonthParams{}, validationError("month %q must be a number between 1 and 12", v)
		}
		params.Month = m
	}

	return params, nil
}

// ParseIDs reads a comma separated list of positive integer ids. A missing
// or empty parameter is an empty list.
func ParseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int64{}, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, validationError("id %q must be a positive integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
