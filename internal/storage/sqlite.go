package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"keepalive/internal/models"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps run history in a SQLite database. Filterable fields are
// stored as columns; the full run is kept as a JSON payload.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and applies pending migrations.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveRun stores or replaces a run
func (ss *SQLiteStorage) SaveRun(ctx context.Context, run *models.Run) error {
	payload, err := marshalRun(run)
	if err != nil {
		return err
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO runs (id, trigger_source, outcome, status_code, health_check_status, redeploy_status, started_at, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trigger_source = excluded.trigger_source,
			outcome = excluded.outcome,
			status_code = excluded.status_code,
			health_check_status = excluded.health_check_status,
			redeploy_status = excluded.redeploy_status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			payload = excluded.payload`,
		run.ID,
		string(run.Trigger),
		string(run.HealthCheck.Outcome),
		run.HealthCheck.Probe.StatusCode,
		string(run.HealthCheck.Status),
		string(run.Redeploy.Status),
		run.StartedAt.UnixNano(),
		run.FinishedAt.UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by its ID
func (ss *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var payload string
	err := ss.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return unmarshalRun([]byte(payload))
}

// sqliteWhere builds the WHERE clause for a filter.
func sqliteWhere(filter RunFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Trigger != "" {
		conds = append(conds, "trigger_source = ?")
		args = append(args, string(filter.Trigger))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListRuns returns runs matching the filter, newest first
func (ss *SQLiteStorage) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	where, args := sqliteWhere(filter)
	query := "SELECT payload FROM runs" + where + " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.Run, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := unmarshalRun([]byte(payload))
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of matching runs
func (ss *SQLiteStorage) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := sqliteWhere(filter)
	var n int
	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// LatestRun returns the most recently started run
func (ss *SQLiteStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	runs, err := ss.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// PruneRuns deletes runs started before the cutoff
func (ss *SQLiteStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	return int(n), nil
}

// Ping verifies the database is reachable
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
