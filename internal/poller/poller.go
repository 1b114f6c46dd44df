// Package poller drives the periodic fetch → normalize → reconcile → store
// cycle against the upstream metering API.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"glowsync/internal/observability/metrics"
	"glowsync/internal/readings/domain"
	"glowsync/internal/reconcile"
)

// Collector fetches and normalizes one window of upstream observations.
type Collector interface {
	Collect(ctx context.Context, window domain.Window) (map[domain.SeriesKey][]domain.Observation, error)
	TriggerCatchup(ctx context.Context)
}

// SeriesStore is the slice of the series store the poller depends on.
type SeriesStore interface {
	EnsureMetadata(ctx context.Context, meta domain.SeriesMetadata) error
	ReadTail(ctx context.Context, key domain.SeriesKey, limit int) ([]domain.StatPoint, error)
	Upsert(ctx context.Context, key domain.SeriesKey, points []domain.StatPoint) error
}

// AlertSink receives the latest bucket of a series after a successful pass.
type AlertSink interface {
	Evaluate(ctx context.Context, key domain.SeriesKey, latest domain.StatPoint)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Poller owns the polling loop. One reconciliation pass runs per series per
// cycle; passes for the same series are mutually exclusive so a manual
// trigger cannot race the timer into divergent baselines.
type Poller struct {
	collector Collector
	store     SeriesStore
	alerts    AlertSink
	clock     Clock
	logger    *log.Logger

	interval     time.Duration
	catchupGrace time.Duration
	lookback     int

	snapshot *Snapshot

	mu         sync.Mutex
	seriesLock map[domain.SeriesKey]*sync.Mutex
	firstDone  bool

	// sleep is replaced in tests to skip the catch-up grace wait.
	sleep func(ctx context.Context, d time.Duration)
}

// Option configures the poller.
type Option func(*Poller)

// WithAlerts attaches an alert sink.
func WithAlerts(sink AlertSink) Option {
	return func(p *Poller) {
		if sink != nil {
			p.alerts = sink
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithSleep overrides the grace wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New constructs a Poller.
func New(collector Collector, store SeriesStore, cfg Config, logger *log.Logger, opts ...Option) (*Poller, error) {
	if collector == nil {
		return nil, errors.New("poller: nil collector")
	}
	if store == nil {
		return nil, errors.New("poller: nil store")
	}
	if cfg.TailLookback <= 0 {
		return nil, errors.New("poller: tail lookback must be positive")
	}

	poller := &Poller{
		collector:    collector,
		store:        store,
		clock:        SystemClock{},
		logger:       logger,
		interval:     cfg.Interval.Std(),
		catchupGrace: cfg.CatchupGrace.Std(),
		lookback:     cfg.TailLookback,
		snapshot:     NewSnapshot(),
		seriesLock:   make(map[domain.SeriesKey]*sync.Mutex),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(poller)
	}
	return poller, nil
}

// Snapshot exposes the presentation-layer view maintained by the poller.
func (p *Poller) Snapshot() *Snapshot { return p.snapshot }

// Run registers series metadata, runs one immediate cycle, then polls at the
// configured interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.registerMetadata(ctx); err != nil {
		return err
	}

	if err := p.RunCycle(ctx); err != nil {
		p.logf("event=poll_cycle_failed error=%v", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.RunCycle(ctx); err != nil {
				p.logf("event=poll_cycle_failed error=%v", err)
			}
		}
	}
}

// RunCycle executes one full poll cycle, including the catch-up nudge and
// grace wait on every cycle after the first. It returns an error only when
// the upstream fetch fails outright; per-series store failures degrade to a
// logged skip and are retried next interval because the next pass recomputes
// from the same baseline.
func (p *Poller) RunCycle(ctx context.Context) error {
	return p.runCycle(ctx, true)
}

// TriggerNow executes one poll cycle without the catch-up nudge or its grace
// wait, so a manual trigger responds immediately instead of blocking on the
// provider refresh delay.
func (p *Poller) TriggerNow(ctx context.Context) error {
	return p.runCycle(ctx, false)
}

func (p *Poller) runCycle(ctx context.Context, withCatchup bool) error {
	started := p.clock.Now()

	// Coax the provider into refreshing its cache before every poll after
	// the first, then give it a fixed grace period. The request is
	// fire-and-forget; only the grace delay is awaited.
	if withCatchup && p.hasCompletedFirstCycle() && p.catchupGrace > 0 {
		p.collector.TriggerCatchup(ctx)
		metrics.IncCatchup()
		p.sleep(ctx, p.catchupGrace)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	window := domain.WindowEnding(p.clock.Now())

	fetchStart := time.Now()
	batches, err := p.collector.Collect(ctx, window)
	if err != nil {
		metrics.ObserveFetch(metrics.ResultError, time.Since(fetchStart))
		metrics.ObservePollCycle(metrics.ResultError, p.clock.Now().Sub(started))
		return fmt.Errorf("poller: fetch window %s..%s: %w",
			window.From.Format(time.RFC3339), window.To.Format(time.RFC3339), err)
	}
	metrics.ObserveFetch(metrics.ResultSuccess, time.Since(fetchStart))

	failed := 0
	for _, key := range domain.AllSeriesKeys() {
		observations := batches[key]
		if len(observations) == 0 {
			p.logf("event=series_empty series=%s", key)
			continue
		}
		if err := p.runSeriesPass(ctx, key, observations); err != nil {
			failed++
			p.logf("event=series_pass_failed series=%s error=%v", key, err)
		}
	}

	p.markFirstCycleDone()

	result := metrics.ResultSuccess
	if failed > 0 {
		result = metrics.ResultError
	}
	metrics.ObservePollCycle(result, p.clock.Now().Sub(started))
	p.logf("event=poll_cycle_done window_from=%s window_to=%s failed_series=%d",
		window.From.Format(time.RFC3339), window.To.Format(time.RFC3339), failed)
	return nil
}

// runSeriesPass reconciles one series against its persisted tail and applies
// the resulting upserts. The tail is loaded once; the pass computes in memory
// from that single consistent baseline.
func (p *Poller) runSeriesPass(ctx context.Context, key domain.SeriesKey, observations []domain.Observation) error {
	lock := p.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	tail, err := p.store.ReadTail(ctx, key, p.lookback)
	if err != nil {
		metrics.IncSeriesPass(key.String(), metrics.ResultError)
		return fmt.Errorf("read tail: %w", err)
	}

	points, stats := reconcile.Reconcile(observations, tail)
	metrics.AddReconcileOutcome(key.String(), "new", stats.New)
	metrics.AddReconcileOutcome(key.String(), "revised", stats.Revised)
	metrics.AddReconcileOutcome(key.String(), "unchanged", stats.Unchanged)
	metrics.AddReconcileOutcome(key.String(), "skipped", stats.Skipped)

	if len(points) > 0 {
		if err := p.store.Upsert(ctx, key, points); err != nil {
			metrics.IncStoreWriteFailure()
			metrics.IncSeriesPass(key.String(), metrics.ResultError)
			return fmt.Errorf("upsert %d points: %w", len(points), err)
		}
	}
	metrics.IncSeriesPass(key.String(), metrics.ResultSuccess)
	p.logf("event=series_pass_done series=%s new=%d revised=%d unchanged=%d skipped=%d",
		key, stats.New, stats.Revised, stats.Unchanged, stats.Skipped)

	p.updateSnapshot(key, points, observations)

	if p.alerts != nil && len(points) > 0 {
		p.alerts.Evaluate(ctx, key, points[len(points)-1])
	}
	return nil
}

func (p *Poller) updateSnapshot(key domain.SeriesKey, points []domain.StatPoint, observations []domain.Observation) {
	view := SeriesSnapshot{Key: key, UpdatedAt: p.clock.Now()}
	if len(points) > 0 {
		latest := points[len(points)-1]
		view.LatestHour = latest.Hour
		view.LatestState = latest.State
	}
	for _, obs := range observations {
		view.WindowTotal += obs.Value
	}
	p.snapshot.Update(view)
}

func (p *Poller) registerMetadata(ctx context.Context) error {
	for _, key := range domain.AllSeriesKeys() {
		meta, err := domain.MetadataFor(key)
		if err != nil {
			return err
		}
		if err := p.store.EnsureMetadata(ctx, meta); err != nil {
			return fmt.Errorf("poller: register metadata for %s: %w", key, err)
		}
	}
	return nil
}

func (p *Poller) lockFor(key domain.SeriesKey) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.seriesLock[key]
	if !ok {
		lock = &sync.Mutex{}
		p.seriesLock[key] = lock
	}
	return lock
}

func (p *Poller) hasCompletedFirstCycle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstDone
}

func (p *Poller) markFirstCycleDone() {
	p.mu.Lock()
	p.firstDone = true
	p.mu.Unlock()
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
