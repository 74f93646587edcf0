package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"smartcal/internal/core"
	"smartcal/internal/log"
	"smartcal/internal/storage"
)

const DefaultKey = "smartcal.settings"

// Auxiliary cache blobs owned by collaborators. They are purged on logout.
const (
	AuxSchedule      = "smartcal.schedule"
	AuxAnnouncements = "smartcal.announcements"
	AuxEventMeta     = "smartcal.eventMeta"
)

// AuxKeys lists every auxiliary key removed by Purge.
var AuxKeys = []string{AuxSchedule, AuxAnnouncements, AuxEventMeta}

// Store persists the settings blob through a storage backend, usually a
// storage.Chain of primary and fallback. None of its methods fail: storage
// problems are logged and treated as absent data.
type Store struct {
	backend storage.Backend
	key     string
	logger  *log.Logger

	// serializes read-merge-write so concurrent saves do not drop fields
	mu sync.Mutex
}

// NewStore creates a settings store. An empty key selects DefaultKey.
func NewStore(backend storage.Backend, key string, logger *log.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		backend: backend,
		key:     key,
		logger:  logger.WithComponent(log.ComponentSettings),
	}
}

// Key returns the storage key of the settings blob.
func (s *Store) Key() string { return s.key }

// Get returns the stored settings, or an empty map when nothing usable is
// stored.
func (s *Store) Get(ctx context.Context) core.Settings {
	raw, err := s.backend.GetItem(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) || len(unwrapJoined(err)) > 1 {
			s.logger.WarnContext(ctx, "Failed to read settings", log.FieldKey, s.key, log.FieldError, err)
		}
		return core.Settings{}
	}

	var out core.Settings
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		s.logger.WarnContext(ctx, "Ignoring malformed settings blob", log.FieldKey, s.key, log.FieldError, err)
		return core.Settings{}
	}
	return out
}

// Save merges partial over the stored settings and writes the result to
// every backend.
func (s *Store) Save(ctx context.Context, partial core.Settings) {
	if len(partial) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.Get(ctx).Merge(partial)
	data, err := json.Marshal(merged)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to encode settings", log.FieldKey, s.key, log.FieldError, err)
		return
	}
	if err := s.backend.SetItem(ctx, s.key, string(data)); err != nil {
		s.logger.WarnContext(ctx, "Settings not written to every backend",
			log.FieldOperation, log.OpPersist, log.FieldKey, s.key, log.FieldError, err)
	}
}

// Purge removes the settings blob and every auxiliary cache key.
func (s *Store) Purge(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range append([]string{s.key}, AuxKeys...) {
		if err := s.backend.RemoveItem(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "Failed to remove key",
				log.FieldOperation, log.OpPurge, log.FieldKey, key, log.FieldError, err)
		}
	}
}

// SaveAux stores v as JSON under one of the auxiliary keys.
func (s *Store) SaveAux(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to encode cache blob", log.FieldKey, key, log.FieldError, err)
		return
	}
	if err := s.backend.SetItem(ctx, key, string(data)); err != nil {
		s.logger.WarnContext(ctx, "Cache blob not written to every backend",
			log.FieldOperation, log.OpPersist, log.FieldKey, key, log.FieldError, err)
	}
}

// LoadAux decodes the blob stored under key into v and reports whether one
// was found.
func (s *Store) LoadAux(ctx context.Context, key string, v any) bool {
	raw, err := s.backend.GetItem(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.WarnContext(ctx, "Ignoring malformed cache blob", log.FieldKey, key, log.FieldError, err)
		return false
	}
	return true
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
