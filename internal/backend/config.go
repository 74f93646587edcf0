package backend

import (
	"fmt"

	"smartcal/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Primary:      BackendType(appConfig.StoragePrimary),
		Fallback:     BackendType(appConfig.StorageFallback),
		SQLiteDBPath: appConfig.SQLiteDBPath,
		RedisURL:     appConfig.RedisURL,
		RedisPrefix:  appConfig.RedisPrefix,
		FilePath:     appConfig.SettingsFile,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Primary.IsValid() || c.Primary == NoBackend {
		return fmt.Errorf("invalid primary backend type: %s", c.Primary)
	}
	if c.Fallback == "" {
		c.Fallback = NoBackend
	}
	if !c.Fallback.IsValid() {
		return fmt.Errorf("invalid fallback backend type: %s", c.Fallback)
	}
	if c.Fallback == c.Primary {
		return fmt.Errorf("fallback backend must differ from primary (%s)", c.Primary)
	}

	for _, t := range []BackendType{c.Primary, c.Fallback} {
		switch t {
		case SQLiteBackend:
			if c.SQLiteDBPath == "" {
				return fmt.Errorf("SQLite database path is required for sqlite backend")
			}
		case RedisBackend:
			if c.RedisURL == "" {
				return fmt.Errorf("Redis URL is required for redis backend")
			}
		case FileBackend:
			if c.FilePath == "" {
				return fmt.Errorf("settings file path is required for file backend")
			}
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, RedisBackend, FileBackend, MemoryBackend, NoBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
