// Package postgres persists cumulative meter series in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"glowsync/internal/readings/domain"
)

const (
	defaultPointsTable = "meter_statistics"
	defaultSeriesTable = "meter_series"
)

// SeriesRepository is the PostgreSQL implementation of the series store.
// The persistence unique key for points is series_key + hour_start.
type SeriesRepository struct {
	db          *sql.DB
	pointsTable string
	seriesTable string
}

// Option configures the repository.
type Option func(*SeriesRepository)

// WithPointsTable overrides the default statistic points table name.
func WithPointsTable(table string) Option {
	return func(repo *SeriesRepository) {
		if table != "" {
			repo.pointsTable = table
		}
	}
}

// WithSeriesTable overrides the default series metadata table name.
func WithSeriesTable(table string) Option {
	return func(repo *SeriesRepository) {
		if table != "" {
			repo.seriesTable = table
		}
	}
}

// NewSeriesRepository creates a repository using the default table names.
func NewSeriesRepository(db *sql.DB, opts ...Option) *SeriesRepository {
	repo := &SeriesRepository{
		db:          db,
		pointsTable: defaultPointsTable,
		seriesTable: defaultSeriesTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the backing tables when they do not exist yet.
func (r *SeriesRepository) EnsureSchema(ctx context.Context) error {
	series := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	series_key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	unit_of_measurement TEXT NOT NULL,
	has_sum BOOLEAN NOT NULL DEFAULT TRUE,
	has_mean BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, r.seriesTable)

	points := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	series_key TEXT NOT NULL,
	hour_start TIMESTAMPTZ NOT NULL,
	state DOUBLE PRECISION NOT NULL,
	cumulative_sum DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (series_key, hour_start)
)`, r.pointsTable)

	if _, err := r.db.ExecContext(ctx, series); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, points)
	return err
}

// EnsureMetadata registers or refreshes the series metadata.
func (r *SeriesRepository) EnsureMetadata(ctx context.Context, meta domain.SeriesMetadata) error {
	if meta.Key == "" {
		return domain.ErrUnknownSeriesKey
	}
	query := fmt.Sprintf(`
INSERT INTO %s (series_key, name, unit_of_measurement, has_sum, has_mean)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (series_key)
DO UPDATE SET
	name = EXCLUDED.name,
	unit_of_measurement = EXCLUDED.unit_of_measurement,
	has_sum = EXCLUDED.has_sum,
	has_mean = EXCLUDED.has_mean,
	updated_at = NOW()`, r.seriesTable)

	_, err := r.db.ExecContext(ctx, query, meta.Key.String(), meta.Name, meta.Unit, meta.HasSum, meta.HasMean)
	return err
}

// ReadTail loads the most recent points of a series, returned ascending by
// hour so the reconciliation engine can use them directly.
func (r *SeriesRepository) ReadTail(ctx context.Context, key domain.SeriesKey, limit int) ([]domain.StatPoint, error) {
	if limit <= 0 {
		return nil, errors.New("statistics: tail limit must be positive")
	}
	query := fmt.Sprintf(`
SELECT hour_start, state, cumulative_sum
FROM %s
WHERE series_key = $1
ORDER BY hour_start DESC
LIMIT $2`, r.pointsTable)

	rows, err := r.db.QueryContext(ctx, query, key.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Hour.Before(points[j].Hour) })
	return points, nil
}

// Upsert applies a reconciliation pass in one transaction, in the order the
// engine emitted the points. Re-submitting an identical point is a no-op;
// a point for an existing hour overwrites it. On failure nothing is applied.
func (r *SeriesRepository) Upsert(ctx context.Context, key domain.SeriesKey, points []domain.StatPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (series_key, hour_start, state, cumulative_sum)
VALUES ($1, $2, $3, $4)
ON CONFLICT (series_key, hour_start)
DO UPDATE SET
	state = EXCLUDED.state,
	cumulative_sum = EXCLUDED.cumulative_sum,
	updated_at = NOW()`, r.pointsTable)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, point := range points {
		if _, err := stmt.ExecContext(ctx, key.String(), point.Hour.UTC(), point.State, point.Sum); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query returns the persisted points of a series within [from, to), ascending.
func (r *SeriesRepository) Query(ctx context.Context, key domain.SeriesKey, from, to time.Time) ([]domain.StatPoint, error) {
	query := fmt.Sprintf(`
SELECT hour_start, state, cumulative_sum
FROM %s
WHERE series_key = $1
	AND hour_start >= $2
	AND hour_start < $3
ORDER BY hour_start ASC`, r.pointsTable)

	rows, err := r.db.QueryContext(ctx, query, key.String(), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPoints(rows)
}

// Latest returns the most recent persisted point of a series.
func (r *SeriesRepository) Latest(ctx context.Context, key domain.SeriesKey) (domain.StatPoint, bool, error) {
	query := fmt.Sprintf(`
SELECT hour_start, state, cumulative_sum
FROM %s
WHERE series_key = $1
ORDER BY hour_start DESC
LIMIT 1`, r.pointsTable)

	var point domain.StatPoint
	var hour time.Time
	err := r.db.QueryRowContext(ctx, query, key.String()).Scan(&hour, &point.State, &point.Sum)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatPoint{}, false, nil
	}
	if err != nil {
		return domain.StatPoint{}, false, err
	}
	point.Hour = hour.UTC()
	return point, true, nil
}

func scanPoints(rows *sql.Rows) ([]domain.StatPoint, error) {
	var points []domain.StatPoint
	for rows.Next() {
		var point domain.StatPoint
		var hour time.Time
		if err := rows.Scan(&hour, &point.State, &point.Sum); err != nil {
			return nil, err
		}
		point.Hour = hour.UTC()
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}
