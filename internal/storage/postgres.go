package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"keepalive/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStorage implements the Storage interface using PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a connection pool and applies pending migrations.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// goose needs database/sql; closing this handle leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveRun stores or replaces a run (upsert).
func (ps *PostgresStorage) SaveRun(ctx context.Context, run *models.Run) error {
	payload, err := marshalRun(run)
	if err != nil {
		return err
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO runs (id, trigger_source, outcome, status_code, health_check_status, redeploy_status, started_at, finished_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			trigger_source = EXCLUDED.trigger_source,
			outcome = EXCLUDED.outcome,
			status_code = EXCLUDED.status_code,
			health_check_status = EXCLUDED.health_check_status,
			redeploy_status = EXCLUDED.redeploy_status,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			payload = EXCLUDED.payload`,
		run.ID,
		string(run.Trigger),
		string(run.HealthCheck.Outcome),
		run.HealthCheck.Probe.StatusCode,
		string(run.HealthCheck.Status),
		string(run.Redeploy.Status),
		run.StartedAt,
		run.FinishedAt,
		json.RawMessage(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by its ID.
func (ps *PostgresStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var payload []byte
	err := ps.pool.QueryRow(ctx, `SELECT payload FROM runs WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return unmarshalRun(payload)
}

// pgWhere builds the WHERE clause for a filter with numbered placeholders.
func pgWhere(filter RunFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		conds = append(conds, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.Trigger != "" {
		args = append(args, string(filter.Trigger))
		conds = append(conds, fmt.Sprintf("trigger_source = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListRuns returns runs matching the filter, newest first.
func (ps *PostgresStorage) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	where, args := pgWhere(filter)
	query := "SELECT payload FROM runs" + where + " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.Run, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := unmarshalRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of matching runs.
func (ps *PostgresStorage) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := pgWhere(filter)
	var n int
	if err := ps.pool.QueryRow(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// LatestRun returns the most recently started run.
func (ps *PostgresStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	runs, err := ps.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// PruneRuns deletes runs started before the cutoff.
func (ps *PostgresStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM runs WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
