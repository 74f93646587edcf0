package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/core"
	"smartcal/internal/rest"
)

// recordingFetcher answers every URL through respond and remembers the calls.
type recordingFetcher struct {
	calls   []string
	respond func(u string) (json.RawMessage, error)
}

func (f *recordingFetcher) FetchJSON(_ context.Context, u string, _ ...rest.Option) (json.RawMessage, error) {
	f.calls = append(f.calls, u)
	return f.respond(u)
}

func seq(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestChunk(t *testing.T) {
	for _, n := range []int{1, 49, 50, 51, 100, 101, 137} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			ids := seq(n)
			chunks := Chunk(ids, MaxChunkSize)

			require.Len(t, chunks, (n+MaxChunkSize-1)/MaxChunkSize)
			var flat []int64
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), MaxChunkSize)
				assert.NotEmpty(t, c)
				flat = append(flat, c...)
			}
			assert.Equal(t, ids, flat)
		})
	}

	assert.Empty(t, Chunk([]int64{}, MaxChunkSize))
}

func TestChunk_AppendDoesNotClobberNextChunk(t *testing.T) {
	ids := seq(4)
	chunks := Chunk(ids, 2)
	_ = append(chunks[0], 99)
	assert.Equal(t, []int64{3, 4}, chunks[1])
}

// idsFromURL echoes the ids of an in.(...) filter as rows.
func idsFromURL(param string) func(string) (json.RawMessage, error) {
	return func(u string) (json.RawMessage, error) {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, err
		}
		list := strings.TrimSuffix(strings.TrimPrefix(parsed.Query().Get(param), "in.("), ")")
		rows := []map[string]string{}
		for _, id := range strings.Split(list, ",") {
			rows = append(rows, map[string]string{"id": id})
		}
		return json.Marshal(rows)
	}
}

func TestFetchByIDs_SequentialChunksInOrder(t *testing.T) {
	f := &recordingFetcher{respond: idsFromURL("event_id")}
	urls := NewURLs("https://db.example.com", Tables{})
	ids := seq(120)

	rows, err := FetchByIDs[int64, map[string]string](context.Background(), f, ids, urls.Schedules)
	require.NoError(t, err)

	require.Len(t, f.calls, 3)
	require.Len(t, rows, 120)
	for i, row := range rows {
		assert.Equal(t, strconv.Itoa(i+1), row["id"])
	}
}

func TestFetchByIDs_EmptyInputMakesNoCalls(t *testing.T) {
	f := &recordingFetcher{respond: func(string) (json.RawMessage, error) {
		t.Fatal("unexpected request")
		return nil, nil
	}}

	rows, err := FetchByIDs[int64, core.ScheduleRecord](context.Background(), f, nil, NewURLs("http://x", Tables{}).Schedules)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Empty(t, f.calls)
}

func TestFetchByIDs_StopsAtFailingChunk(t *testing.T) {
	boom := &core.APIError{Status: 500, Body: `{"message":"boom"}`}
	f := &recordingFetcher{}
	f.respond = func(string) (json.RawMessage, error) {
		if len(f.calls) == 2 {
			return nil, boom
		}
		return json.RawMessage(`[]`), nil
	}

	_, err := FetchByIDs[int64, core.ScheduleRecord](context.Background(), f, seq(200), NewURLs("http://x", Tables{}).Schedules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/4")

	var apiErr *core.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Len(t, f.calls, 2)
}

func TestURLs(t *testing.T) {
	urls := NewURLs("https://db.example.com/", Tables{Schedules: "sched", CancelledStatusID: 9})

	t.Run("schedules", func(t *testing.T) {
		u, err := url.Parse(urls.Schedules([]int64{3, 1, 2}))
		require.NoError(t, err)
		assert.Equal(t, "/rest/v1/sched", u.Path)
		q := u.Query()
		assert.Equal(t, "event_id,day_number,schedule_date,start_time,end_time", q.Get("select"))
		assert.Equal(t, "in.(3,1,2)", q.Get("event_id"))
		assert.Equal(t, "day_number.asc", q.Get("order"))
	})

	t.Run("events by ids", func(t *testing.T) {
		u, err := url.Parse(urls.EventsByIDs([]int64{5}))
		require.NoError(t, err)
		assert.Equal(t, "/rest/v1/events", u.Path)
		assert.Equal(t, "in.(5)", u.Query().Get("id"))
		assert.Equal(t, ExtendedEventProjection, u.Query().Get("select"))
	})

	t.Run("announcements", func(t *testing.T) {
		now := mustTime(t, "2026-02-10T08:30:00Z")
		u, err := url.Parse(urls.Announcements(now))
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "/rest/v1/announcements", u.Path)
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.active", q.Get("status"))
		assert.Equal(t, "lte.2026-02-10T08:30:00.000Z", q.Get("start_date"))
		assert.Equal(t, "(end_date.gt.2026-02-10T08:30:00.000Z,end_date.is.null)", q.Get("or"))
		assert.Equal(t, "created_at.desc", q.Get("order"))
	})

	t.Run("user", func(t *testing.T) {
		assert.Equal(t, "https://db.example.com/auth/v1/user", urls.User())
	})

	t.Run("month keeps parameter order", func(t *testing.T) {
		w, err := Window(2026, 0, mustLocation(t, "UTC"))
		require.NoError(t, err)
		raw := urls.MonthEvents(w, ReducedEventProjection)
		u, err := url.Parse(raw)
		require.NoError(t, err)

		var keys []string
		for _, pair := range strings.Split(u.RawQuery, "&") {
			keys = append(keys, strings.SplitN(pair, "=", 2)[0])
		}
		assert.Equal(t, []string{"select", "status_id", "start_datetime", "end_datetime", "order"}, keys)
		assert.Equal(t, "neq.9", u.Query().Get("status_id"))
		assert.Equal(t, fmt.Sprintf("lte.%s", "2026-01-31T23:59:59.999Z"), u.Query().Get("start_datetime"))
		assert.Equal(t, "gte.2026-01-01T00:00:00.000Z", u.Query().Get("end_datetime"))
	})
}
