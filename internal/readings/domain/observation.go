package domain

import (
	"fmt"
	"time"
)

// ResourceKind is the metered commodity.
type ResourceKind string

const (
	ResourceElectricity ResourceKind = "electricity"
	ResourceGas         ResourceKind = "gas"
)

// MetricKind is what is being measured for a resource.
type MetricKind string

const (
	MetricConsumption MetricKind = "consumption"
	MetricCost        MetricKind = "cost"
)

// IsValid checks if the resource kind is one of the supported values.
func (r ResourceKind) IsValid() bool {
	switch r {
	case ResourceElectricity, ResourceGas:
		return true
	default:
		return false
	}
}

// IsValid checks if the metric kind is one of the supported values.
func (m MetricKind) IsValid() bool {
	switch m {
	case MetricConsumption, MetricCost:
		return true
	default:
		return false
	}
}

// SeriesKey identifies one persisted cumulative series.
// The persistence unique key is seriesKey + hourStart.
type SeriesKey string

// NewSeriesKey derives the stable series key for a resource/metric pair.
func NewSeriesKey(resource ResourceKind, metric MetricKind) (SeriesKey, error) {
	if !resource.IsValid() {
		return "", ErrInvalidResourceKind
	}
	if !metric.IsValid() {
		return "", ErrInvalidMetricKind
	}
	return SeriesKey(fmt.Sprintf("%s_%s", resource, metric)), nil
}

// String returns the raw string for storage.
func (k SeriesKey) String() string { return string(k) }

// AllSeriesKeys lists every series this service maintains, in a stable order.
func AllSeriesKeys() []SeriesKey {
	return []SeriesKey{
		"electricity_consumption",
		"electricity_cost",
		"gas_consumption",
		"gas_cost",
	}
}

// Observation is a single normalized metered fact for one hour bucket.
// After normalization there is at most one Observation per (hour, series).
type Observation struct {
	Hour     time.Time
	Resource ResourceKind
	Metric   MetricKind
	Value    float64
}

// Validate ensures basic domain invariants for an observation.
func (o Observation) Validate() error {
	if o.Hour.IsZero() {
		return ErrInvalidHour
	}
	if !o.Hour.Equal(o.Hour.Truncate(time.Hour)) {
		return ErrInvalidHour
	}
	if !o.Resource.IsValid() {
		return ErrInvalidResourceKind
	}
	if !o.Metric.IsValid() {
		return ErrInvalidMetricKind
	}
	if o.Value < 0 {
		return ErrNegativeValue
	}
	return nil
}

// SeriesKey returns the series this observation belongs to.
func (o Observation) SeriesKey() (SeriesKey, error) {
	return NewSeriesKey(o.Resource, o.Metric)
}

// StatPoint is one persisted point of a cumulative series.
// Sum is the running total through and including Hour.
type StatPoint struct {
	Hour  time.Time
	State float64
	Sum   float64
}

// SeriesMetadata describes a series to the long-term store.
type SeriesMetadata struct {
	Key     SeriesKey
	Name    string
	Unit    string
	HasSum  bool
	HasMean bool
}

// MetadataFor returns the registration metadata for a series key.
func MetadataFor(key SeriesKey) (SeriesMetadata, error) {
	switch key {
	case "electricity_consumption":
		return SeriesMetadata{Key: key, Name: "Electricity Consumption", Unit: "kWh", HasSum: true}, nil
	case "electricity_cost":
		return SeriesMetadata{Key: key, Name: "Electricity Cost", Unit: "GBP", HasSum: true}, nil
	case "gas_consumption":
		return SeriesMetadata{Key: key, Name: "Gas Consumption", Unit: "m³", HasSum: true}, nil
	case "gas_cost":
		return SeriesMetadata{Key: key, Name: "Gas Cost", Unit: "GBP", HasSum: true}, nil
	default:
		return SeriesMetadata{}, ErrUnknownSeriesKey
	}
}
