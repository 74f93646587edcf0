package backend

import (
	"context"
	"fmt"

	"smartcal/internal/log"
	"smartcal/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend. A primary that cannot be
// opened is fatal; a fallback that cannot be opened is logged and skipped so
// the client still works with one backend.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	primary, err := f.create(ctx, config.Primary, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize primary %s backend: %w", config.Primary, err)
	}

	var fallback storage.Backend
	if config.Fallback != "" && config.Fallback != NoBackend {
		fallback, err = f.create(ctx, config.Fallback, config)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize fallback backend, continuing with primary only",
				log.FieldBackend, config.Fallback, log.FieldError, err)
			fallback = nil
		}
	}

	chain := storage.NewChain(primary, fallback)
	f.logger.InfoContext(ctx, "Initialized settings storage",
		"primary", config.Primary,
		"fallback", config.Fallback,
		"backends", chain.Len())

	return &BackendResult{
		Storage: chain,
		Cleanup: chain.Close,
	}, nil
}

func (f *DefaultFactory) create(ctx context.Context, t BackendType, config Config) (storage.Backend, error) {
	switch t {
	case SQLiteBackend:
		return storage.NewSQLite(config.SQLiteDBPath)
	case RedisBackend:
		return storage.NewRedis(ctx, storage.RedisConfig{URL: config.RedisURL, Prefix: config.RedisPrefix})
	case FileBackend:
		return storage.NewFile(config.FilePath)
	case MemoryBackend:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", t)
	}
}
