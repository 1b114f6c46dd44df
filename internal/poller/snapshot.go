package poller

import (
	"math"
	"sync"
	"time"

	"glowsync/internal/readings/domain"
)

// costPerUnitPrecision is the number of decimals for the derived
// cost-per-unit attribute.
const costPerUnitPrecision = 4

// SeriesSnapshot is the presentation-layer view of one series after a pass.
type SeriesSnapshot struct {
	Key         domain.SeriesKey
	LatestHour  time.Time
	LatestState float64
	WindowTotal float64
	UpdatedAt   time.Time
}

// Snapshot holds the read-only per-series state the HTTP API serves. It is
// replaced wholesale per series by the poller; readers never see a pass
// half-applied.
type Snapshot struct {
	mu     sync.RWMutex
	series map[domain.SeriesKey]SeriesSnapshot
}

// NewSnapshot constructs an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{series: make(map[domain.SeriesKey]SeriesSnapshot)}
}

// Update records the latest view of a series.
func (s *Snapshot) Update(view SeriesSnapshot) {
	if view.Key == "" {
		return
	}
	s.mu.Lock()
	s.series[view.Key] = view
	s.mu.Unlock()
}

// Get returns the latest view of a series.
func (s *Snapshot) Get(key domain.SeriesKey) (SeriesSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.series[key]
	return view, ok
}

// All returns every series view, keyed by series.
func (s *Snapshot) All() map[domain.SeriesKey]SeriesSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[domain.SeriesKey]SeriesSnapshot, len(s.series))
	for key, view := range s.series {
		result[key] = view
	}
	return result
}

// CostPerUnit derives total cost / total consumption over the visible window
// for one resource, rounded to 4 decimals. It reports false until both series
// have data.
func (s *Snapshot) CostPerUnit(resource domain.ResourceKind) (float64, bool) {
	consumptionKey, err := domain.NewSeriesKey(resource, domain.MetricConsumption)
	if err != nil {
		return 0, false
	}
	costKey, err := domain.NewSeriesKey(resource, domain.MetricCost)
	if err != nil {
		return 0, false
	}

	s.mu.RLock()
	consumption, okConsumption := s.series[consumptionKey]
	cost, okCost := s.series[costKey]
	s.mu.RUnlock()

	if !okConsumption || !okCost || consumption.WindowTotal <= 0 || cost.WindowTotal <= 0 {
		return 0, false
	}

	shift := math.Pow(10, costPerUnitPrecision)
	return math.Round(cost.WindowTotal/consumption.WindowTotal*shift) / shift, true
}
