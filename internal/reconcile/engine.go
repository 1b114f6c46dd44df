// Package reconcile merges a freshly fetched window of hourly observations
// into a previously persisted cumulative series without duplicating,
// double-counting, or regressing stored totals.
package reconcile

import (
	"math"
	"sort"
	"time"

	"glowsync/internal/readings/domain"
)

const (
	// statePrecision is the number of decimal places a bucket state is
	// rounded to before comparison and emission.
	statePrecision = 3
	// epsilon is the threshold below which a fetched value and a stored
	// state are considered the same reading.
	epsilon = 0.001
)

// Stats summarizes one reconciliation pass for logging and metrics.
type Stats struct {
	New       int
	Revised   int
	Unchanged int
	Skipped   int
}

// Total returns the number of observations examined.
func (s Stats) Total() int { return s.New + s.Revised + s.Unchanged + s.Skipped }

// Reconcile computes the statistic points to upsert for one series given the
// normalized observations of this poll and the persisted tail loaded at the
// start of the pass. It is a pure function: identical inputs yield identical
// output, which makes a retried pass a no-op once the store has applied it.
//
// The running total is threaded through the pass as lastKnownSum and advanced
// past every stored point that precedes the hour being processed, so a batch
// that skips over stored hours still extends the chain from the latest stored
// sum. A revised hour shifts every later in-window sum by its delta; hours
// older than the fetch window keep their stored sums until the rolling window
// revisits them.
//
// Points are returned ascending by hour, which is the order the store must
// apply them in.
func Reconcile(observations []domain.Observation, tail []domain.StatPoint) ([]domain.StatPoint, Stats) {
	var stats Stats

	existing := make(map[int64]domain.StatPoint, len(tail))
	for _, point := range tail {
		existing[point.Hour.Unix()] = point
	}

	sorted := make([]domain.Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hour.Before(sorted[j].Hour) })

	if len(sorted) == 0 {
		return nil, stats
	}

	// The stored tail is walked alongside the sorted observations so the
	// running total never falls behind a persisted point the batch skipped
	// over. latestBefore tracks the newest stored point strictly before the
	// hour being processed.
	sortedTail := make([]domain.StatPoint, len(tail))
	copy(sortedTail, tail)
	sort.Slice(sortedTail, func(i, j int) bool { return sortedTail[i].Hour.Before(sortedTail[j].Hour) })

	var (
		lastKnownSum float64
		latestBefore domain.StatPoint
		hasBefore    bool
		tailIdx      int
	)

	// carried accumulates the deltas introduced so far this pass — revised
	// readings and backfilled hours alike — so that every later stored sum
	// in the window shifts with its earlier hours.
	var carried float64

	points := make([]domain.StatPoint, 0, len(sorted))
	for _, obs := range sorted {
		value := roundState(obs.Value)
		if value <= 0 {
			// A zero or missing reading contributes nothing and is never
			// persisted; the sum chain must not advance for it.
			stats.Skipped++
			continue
		}

		hour := obs.Hour.UTC().Truncate(time.Hour)
		for tailIdx < len(sortedTail) && sortedTail[tailIdx].Hour.Before(hour) {
			latestBefore = sortedTail[tailIdx]
			hasBefore = true
			tailIdx++
		}
		stored, seen := existing[hour.Unix()]

		switch {
		case !seen:
			// A new hour extends the chain from whichever is further along:
			// the sum emitted so far this pass, or the latest stored sum
			// before this hour shifted by the carried deltas.
			if hasBefore {
				if baseline := roundState(latestBefore.Sum + carried); baseline > lastKnownSum {
					lastKnownSum = baseline
				}
			}
			// A backfilled hour ahead of existing points contributes to
			// every later stored sum, so its value rides on carried.
			carried += value
			lastKnownSum = roundState(lastKnownSum + value)
			points = append(points, domain.StatPoint{Hour: hour, State: value, Sum: lastKnownSum})
			stats.New++

		case math.Abs(value-stored.State) < epsilon:
			// Unchanged reading: re-emit the stored point, shifted only by
			// deltas carried from earlier revised hours. With no carried
			// delta this is an exact re-emit and the upsert is a no-op.
			lastKnownSum = roundState(stored.Sum + carried)
			points = append(points, domain.StatPoint{Hour: hour, State: stored.State, Sum: lastKnownSum})
			stats.Unchanged++

		default:
			delta := value - stored.State
			carried += delta
			lastKnownSum = roundState(stored.Sum + carried)
			points = append(points, domain.StatPoint{Hour: hour, State: value, Sum: lastKnownSum})
			stats.Revised++
		}
	}

	return points, stats
}

func roundState(value float64) float64 {
	shift := math.Pow(10, statePrecision)
	return math.Round(value*shift) / shift
}
