package query

import (
	"context"
	"encoding/json"
	"fmt"

	"smartcal/internal/rest"
)

// MaxChunkSize is the largest number of IDs sent in one IN filter.
const MaxChunkSize = 50

// Chunk splits ids into contiguous chunks of at most size elements, keeping
// their order. Chunks share the backing array of ids.
func Chunk[T any](ids []T, size int) [][]T {
	if size <= 0 {
		size = MaxChunkSize
	}
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

// FetchByIDs issues one request per chunk of ids, one after the other, and
// concatenates the rows in chunk order. No IDs means no requests.
func FetchByIDs[ID, Row any](ctx context.Context, f rest.Fetcher, ids []ID, build func([]ID) string) ([]Row, error) {
	rows := []Row{}
	chunks := Chunk(ids, MaxChunkSize)
	for i, chunk := range chunks {
		raw, err := f.FetchJSON(ctx, build(chunk))
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		var part []Row
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: decode rows: %w", i+1, len(chunks), err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}
