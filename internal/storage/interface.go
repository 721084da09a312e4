package storage

import (
	"context"
	"time"

	"keepalive/internal/models"
)

// Storage defines run history persistence. Runs are written once, when they
// finish, and read back newest first.
type Storage interface {
	// SaveRun stores a run, replacing any run with the same ID
	SaveRun(ctx context.Context, run *models.Run) error

	// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
	GetRun(ctx context.Context, id string) (*models.Run, error)

	// ListRuns returns runs matching the filter, newest first
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)

	// CountRuns returns the number of runs matching the filter, ignoring its limit
	CountRuns(ctx context.Context, filter RunFilter) (int, error)

	// LatestRun returns the most recently started run. Returns ErrNotFound when history is empty.
	LatestRun(ctx context.Context) (*models.Run, error)

	// PruneRuns deletes runs started before the cutoff and reports how many were removed
	PruneRuns(ctx context.Context, before time.Time) (int, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// RunFilter narrows a history query. Zero values match everything; a
// non-positive Limit means no limit.
type RunFilter struct {
	Limit   int
	Outcome models.Outcome
	Trigger models.Trigger
}

func (f RunFilter) matches(r *models.Run) bool {
	if f.Outcome != "" && r.HealthCheck.Outcome != f.Outcome {
		return false
	}
	if f.Trigger != "" && r.Trigger != f.Trigger {
		return false
	}
	return true
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// MaxOpenConns and MaxIdleConns bound database pools when positive
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`

	// ConnMaxLifetime recycles database connections when positive
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	// CacheTTL specifies how long file-based backends trust their in-memory copy
	CacheTTL string `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}
