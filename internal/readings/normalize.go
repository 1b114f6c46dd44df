package readings

import (
	"sort"
	"strings"
	"time"

	"glowsync/internal/glowmarkt"
	"glowsync/internal/readings/domain"
)

// penceToPounds converts upstream cost readings (minor currency unit) to the
// major unit before they enter reconciliation.
const penceToPounds = 100.0

// Classify maps an upstream resource name to a resource/metric pair. Names
// matching neither commodity are skipped by the caller.
func Classify(name string) (domain.ResourceKind, domain.MetricKind, bool) {
	lowered := strings.ToLower(name)

	var resource domain.ResourceKind
	switch {
	case strings.Contains(lowered, "electricity"):
		resource = domain.ResourceElectricity
	case strings.Contains(lowered, "gas"):
		resource = domain.ResourceGas
	default:
		return "", "", false
	}

	metric := domain.MetricConsumption
	if strings.Contains(lowered, "cost") {
		metric = domain.MetricCost
	}
	return resource, metric, true
}

// Normalize converts raw upstream readings into canonical observations:
// sub-hour timestamps are bucketed to their containing hour and summed, and
// cost values are converted from pence to pounds. The result is ordered
// ascending by hour with at most one observation per bucket.
func Normalize(resource domain.ResourceKind, metric domain.MetricKind, raw []glowmarkt.Reading) []domain.Observation {
	buckets := make(map[int64]float64, len(raw))
	for _, reading := range raw {
		hour := reading.At.UTC().Truncate(time.Hour)
		value := reading.Value
		if metric == domain.MetricCost {
			value /= penceToPounds
		}
		buckets[hour.Unix()] += value
	}

	observations := make([]domain.Observation, 0, len(buckets))
	for unix, value := range buckets {
		observations = append(observations, domain.Observation{
			Hour:     time.Unix(unix, 0).UTC(),
			Resource: resource,
			Metric:   metric,
			Value:    value,
		})
	}
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Hour.Before(observations[j].Hour)
	})
	return observations
}

// mergeObservations folds a normalized batch into the per-series accumulator,
// summing values that land in the same bucket. Two upstream resources can feed
// the same series (e.g. split-rate electricity meters).
func mergeObservations(accumulator map[int64]float64, batch []domain.Observation) {
	for _, obs := range batch {
		accumulator[obs.Hour.Unix()] += obs.Value
	}
}
