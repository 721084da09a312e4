package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keepalive/internal/models"
)

// JSONStorage implements the Storage interface using a JSON file for persistence.
// It keeps an in-memory cache that is refreshed when the file changes on disk,
// so a CI job that commits the file between runs sees its own history.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Runs        []*models.Run `json:"runs"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	cacheTTL := 5 * time.Minute
	if config.CacheTTL != "" {
		if duration, err := time.ParseDuration(config.CacheTTL); err == nil {
			cacheTTL = duration
		}
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{Runs: []*models.Run{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	// Fast path: cache is still valid.
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	// Slow path: acquire write lock and re-validate before doing any I/O.
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	sortNewestFirst(data.Runs)

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file and renames it over the target,
// so a crash mid-write never leaves a truncated history behind.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// SaveRun stores or replaces a run
func (j *JSONStorage) SaveRun(ctx context.Context, run *models.Run) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := cloneRun(run)
	runs := make([]*models.Run, len(j.data.Runs), len(j.data.Runs)+1)
	copy(runs, j.data.Runs)
	replaced := false
	for i, existing := range runs {
		if existing.ID == run.ID {
			runs[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		runs = append(runs, c)
	}
	sortNewestFirst(runs)

	// The cache only changes once the file does.
	next := &JSONData{Runs: runs}
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

// GetRun retrieves a run by its ID
func (j *JSONStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, r := range j.data.Runs {
		if r.ID == id {
			return cloneRun(r), nil
		}
	}
	return nil, ErrNotFound
}

// ListRuns returns runs matching the filter, newest first
func (j *JSONStorage) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return selectRuns(j.data.Runs, filter), nil
}

// CountRuns returns the number of matching runs
func (j *JSONStorage) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	n := 0
	for _, r := range j.data.Runs {
		if filter.matches(r) {
			n++
		}
	}
	return n, nil
}

// LatestRun returns the most recently started run
func (j *JSONStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if len(j.data.Runs) == 0 {
		return nil, ErrNotFound
	}
	return cloneRun(j.data.Runs[0]), nil
}

// PruneRuns deletes runs started before the cutoff
func (j *JSONStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]*models.Run, 0, len(j.data.Runs))
	for _, r := range j.data.Runs {
		if !r.StartedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	removed := len(j.data.Runs) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	next := &JSONData{Runs: kept}
	if err := j.saveData(next); err != nil {
		return 0, err
	}
	j.data = next
	return removed, nil
}

// Ping verifies the backing file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("storage file unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; every write is flushed to disk immediately.
func (j *JSONStorage) Close() error {
	return nil
}
