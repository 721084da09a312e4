package storage

import (
	"context"
	"sync"
	"time"

	"keepalive/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing and one-shot runs where
// history does not need to survive a restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	runs []*models.Run // sorted newest first
	byID map[string]*models.Run
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		byID: make(map[string]*models.Run),
	}, nil
}

// SaveRun stores or replaces a run
func (m *MemoryStorage) SaveRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cloneRun(run)
	if _, exists := m.byID[run.ID]; exists {
		for i, r := range m.runs {
			if r.ID == run.ID {
				m.runs[i] = c
				break
			}
		}
	} else {
		m.runs = append(m.runs, c)
	}
	m.byID[run.ID] = c
	sortNewestFirst(m.runs)

	return nil
}

// GetRun retrieves a run by its ID
func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.byID[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns runs matching the filter, newest first
func (m *MemoryStorage) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return selectRuns(m.runs, filter), nil
}

// CountRuns returns the number of matching runs
func (m *MemoryStorage) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.runs {
		if filter.matches(r) {
			n++
		}
	}
	return n, nil
}

// LatestRun returns the most recently started run
func (m *MemoryStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.runs) == 0 {
		return nil, ErrNotFound
	}
	return cloneRun(m.runs[0]), nil
}

// PruneRuns deletes runs started before the cutoff
func (m *MemoryStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.runs[:0]
	removed := 0
	for _, r := range m.runs {
		if r.StartedAt.Before(before) {
			delete(m.byID, r.ID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return removed, nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all data
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = nil
	m.byID = make(map[string]*models.Run)

	return nil
}
