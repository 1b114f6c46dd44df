// Package memory holds an in-memory series store for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"glowsync/internal/readings/domain"
)

// SeriesRepository is a mutex-guarded in-memory series store. It mirrors the
// postgres repository's behavior, including all-or-nothing upserts.
type SeriesRepository struct {
	mu       sync.RWMutex
	metadata map[domain.SeriesKey]domain.SeriesMetadata
	points   map[domain.SeriesKey]map[int64]domain.StatPoint

	// FailWrites makes Upsert fail without mutating state, for failure-path tests.
	FailWrites bool
}

// NewSeriesRepository constructs a repository.
func NewSeriesRepository() *SeriesRepository {
	return &SeriesRepository{
		metadata: make(map[domain.SeriesKey]domain.SeriesMetadata),
		points:   make(map[domain.SeriesKey]map[int64]domain.StatPoint),
	}
}

// EnsureMetadata registers or refreshes the series metadata.
func (r *SeriesRepository) EnsureMetadata(_ context.Context, meta domain.SeriesMetadata) error {
	if meta.Key == "" {
		return domain.ErrUnknownSeriesKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[meta.Key] = meta
	return nil
}

// Metadata returns the registered metadata for a series key.
func (r *SeriesRepository) Metadata(key domain.SeriesKey) (domain.SeriesMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.metadata[key]
	return meta, ok
}

// ReadTail loads the most recent points of a series, ascending by hour.
func (r *SeriesRepository) ReadTail(_ context.Context, key domain.SeriesKey, limit int) ([]domain.StatPoint, error) {
	if limit <= 0 {
		return nil, errors.New("statistics: tail limit must be positive")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := sortedPoints(r.points[key])
	if len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

// Upsert applies a reconciliation pass atomically.
func (r *SeriesRepository) Upsert(_ context.Context, key domain.SeriesKey, points []domain.StatPoint) error {
	if len(points) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites {
		return errors.New("statistics: write failed")
	}
	if r.points[key] == nil {
		r.points[key] = make(map[int64]domain.StatPoint)
	}
	for _, point := range points {
		hour := point.Hour.UTC().Truncate(time.Hour)
		point.Hour = hour
		r.points[key][hour.Unix()] = point
	}
	return nil
}

// Query returns the persisted points of a series within [from, to), ascending.
func (r *SeriesRepository) Query(_ context.Context, key domain.SeriesKey, from, to time.Time) ([]domain.StatPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.StatPoint
	for _, point := range sortedPoints(r.points[key]) {
		if point.Hour.Before(from) || !point.Hour.Before(to) {
			continue
		}
		result = append(result, point)
	}
	return result, nil
}

// Latest returns the most recent persisted point of a series.
func (r *SeriesRepository) Latest(_ context.Context, key domain.SeriesKey) (domain.StatPoint, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := sortedPoints(r.points[key])
	if len(points) == 0 {
		return domain.StatPoint{}, false, nil
	}
	return points[len(points)-1], true, nil
}

func sortedPoints(byHour map[int64]domain.StatPoint) []domain.StatPoint {
	points := make([]domain.StatPoint, 0, len(byHour))
	for _, point := range byHour {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Hour.Before(points[j].Hour) })
	return points
}
