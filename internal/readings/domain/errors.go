package domain

import "errors"

var (
	// ErrInvalidResourceKind is returned for a resource kind outside electricity/gas.
	ErrInvalidResourceKind = errors.New("readings: invalid resource kind")
	// ErrInvalidMetricKind is returned for a metric kind outside consumption/cost.
	ErrInvalidMetricKind = errors.New("readings: invalid metric kind")
	// ErrInvalidHour is returned when an observation hour is zero or not hour-aligned.
	ErrInvalidHour = errors.New("readings: invalid hour")
	// ErrNegativeValue is returned when an observation carries a negative value.
	ErrNegativeValue = errors.New("readings: negative value")
	// ErrUnknownSeriesKey is returned for a series key this service does not maintain.
	ErrUnknownSeriesKey = errors.New("readings: unknown series key")
)
