package storage

import (
	"fmt"
	"slices"

	"keepalive/internal/models"
)

type constructor func(Config) (Storage, error)

// Factory builds a Storage from the storage section of the config.
type Factory struct {
	backends map[string]constructor
}

// NewFactory returns a factory knowing every built-in backend:
// json (history file committed from CI), memory (one-shot runs and tests),
// postgres and sqlite.
func NewFactory() *Factory {
	return &Factory{backends: map[string]constructor{
		models.StorageTypeJSON:     func(c Config) (Storage, error) { return NewJSONStorage(c) },
		models.StorageTypeMemory:   func(c Config) (Storage, error) { return NewMemoryStorage(c) },
		models.StorageTypePostgres: func(c Config) (Storage, error) { return NewPostgresStorage(c) },
		models.StorageTypeSQLite:   func(c Config) (Storage, error) { return NewSQLiteStorage(c) },
	}}
}

// Create validates cfg and opens the backend it names.
func (f *Factory) Create(cfg models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return f.backends[cfg.Type](Config{
		Type:             cfg.Type,
		Path:             cfg.Path,
		ConnectionString: cfg.Database.DSN,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		CacheTTL:         cfg.Options["cache_ttl"],
	})
}

// GetSupportedProviders lists the backend names in sorted order.
func (f *Factory) GetSupportedProviders() []string {
	names := make([]string, 0, len(f.backends))
	for name := range f.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateConfig checks that cfg names a known backend and carries what it needs.
func (f *Factory) ValidateConfig(cfg models.StorageConfig) error {
	if _, ok := f.backends[cfg.Type]; !ok {
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	switch cfg.Type {
	case models.StorageTypeJSON:
		if cfg.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", cfg.Type)
		}
	}
	return nil
}
