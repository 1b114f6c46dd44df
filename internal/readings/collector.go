// Package readings fetches and normalizes smart-meter observations from the
// upstream metering API.
package readings

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"glowsync/internal/glowmarkt"
	"glowsync/internal/readings/domain"
)

// MeterAPI is the slice of the upstream client the collector depends on.
type MeterAPI interface {
	VirtualEntities(ctx context.Context) ([]glowmarkt.VirtualEntity, error)
	Readings(ctx context.Context, resourceID string, from, to time.Time) ([]glowmarkt.Reading, error)
	Catchup(ctx context.Context, resourceID string) error
}

// Collector drives one fetch+normalize pass over the upstream resource tree.
type Collector struct {
	api    MeterAPI
	logger *log.Logger
}

// NewCollector constructs a Collector.
func NewCollector(api MeterAPI, logger *log.Logger) (*Collector, error) {
	if api == nil {
		return nil, errors.New("readings: nil meter api")
	}
	return &Collector{api: api, logger: logger}, nil
}

// Collect lists the upstream resources, fetches each classified resource's
// hourly series over the window, and returns normalized observations grouped
// by series key. Per-resource failures degrade to a logged skip; only a
// failure to list the resource tree aborts the whole pass.
func (c *Collector) Collect(ctx context.Context, window domain.Window) (map[domain.SeriesKey][]domain.Observation, error) {
	entities, err := c.api.VirtualEntities(ctx)
	if err != nil {
		return nil, err
	}

	accumulators := make(map[domain.SeriesKey]map[int64]float64)
	kinds := make(map[domain.SeriesKey][2]string)

	for _, entity := range entities {
		if len(entity.Resources) == 0 {
			c.logf("event=entity_without_resources entity=%s", entity.ID)
			continue
		}
		for _, resource := range entity.Resources {
			if resource.ID == "" {
				c.logf("event=resource_missing_id entity=%s", entity.ID)
				continue
			}
			resourceKind, metricKind, ok := Classify(resource.Name)
			if !ok {
				c.logf("event=resource_skipped resource=%s name=%q", resource.ID, resource.Name)
				continue
			}

			raw, err := c.api.Readings(ctx, resource.ID, window.From, window.To)
			if errors.Is(err, glowmarkt.ErrNoData) {
				c.logf("event=resource_empty resource=%s", resource.ID)
				continue
			}
			if err != nil {
				c.logf("event=resource_fetch_failed resource=%s error=%v", resource.ID, err)
				continue
			}

			key, err := domain.NewSeriesKey(resourceKind, metricKind)
			if err != nil {
				continue
			}
			if accumulators[key] == nil {
				accumulators[key] = make(map[int64]float64)
				kinds[key] = [2]string{string(resourceKind), string(metricKind)}
			}
			mergeObservations(accumulators[key], Normalize(resourceKind, metricKind, raw))
		}
	}

	result := make(map[domain.SeriesKey][]domain.Observation, len(accumulators))
	for key, buckets := range accumulators {
		pair := kinds[key]
		observations := make([]domain.Observation, 0, len(buckets))
		for unix, value := range buckets {
			observations = append(observations, domain.Observation{
				Hour:     time.Unix(unix, 0).UTC(),
				Resource: domain.ResourceKind(pair[0]),
				Metric:   domain.MetricKind(pair[1]),
				Value:    value,
			})
		}
		sort.Slice(observations, func(i, j int) bool {
			return observations[i].Hour.Before(observations[j].Hour)
		})
		result[key] = observations
	}
	return result, nil
}

// TriggerCatchup fires the upstream refresh request for every classified
// resource. Errors are logged per resource and never abort the batch; the
// caller waits its own grace period before the next fetch.
func (c *Collector) TriggerCatchup(ctx context.Context) {
	entities, err := c.api.VirtualEntities(ctx)
	if err != nil {
		c.logf("event=catchup_list_failed error=%v", err)
		return
	}
	for _, entity := range entities {
		for _, resource := range entity.Resources {
			if resource.ID == "" {
				continue
			}
			if _, _, ok := Classify(resource.Name); !ok {
				continue
			}
			if err := c.api.Catchup(ctx, resource.ID); err != nil {
				c.logf("event=catchup_failed resource=%s error=%v", resource.ID, err)
			}
		}
	}
}

func (c *Collector) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
