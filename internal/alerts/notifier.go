// Package alerts raises usage-threshold notifications over reconciled series.
package alerts

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"glowsync/internal/observability/metrics"
	"glowsync/internal/readings/domain"
)

// Rule is one usage threshold on a series' hourly state.
type Rule struct {
	Series    domain.SeriesKey
	Threshold float64
}

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier evaluates threshold rules after each reconciliation pass and
// delivers breaches via a channel. Repeated breaches of the same rule are
// suppressed for the cooldown interval; identical content is never resent
// inside the dedupe window.
type Notifier struct {
	rules   map[domain.SeriesKey][]Rule
	channel Channel
	clock   Clock
	logger  *log.Logger

	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same rule.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a threshold notifier.
func NewNotifier(rules []Rule, channel Channel, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	byKey := make(map[domain.SeriesKey][]Rule)
	for _, rule := range rules {
		if rule.Series == "" || rule.Threshold <= 0 {
			continue
		}
		byKey[rule.Series] = append(byKey[rule.Series], rule)
	}
	n := &Notifier{
		rules:   byKey,
		channel: channel,
		clock:   systemClock{},
		sent:    make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Evaluate checks the latest hour bucket of a series against its rules.
func (n *Notifier) Evaluate(ctx context.Context, key domain.SeriesKey, latest domain.StatPoint) {
	if n == nil || n.channel == nil {
		return
	}
	for _, rule := range n.rules[key] {
		if latest.State <= rule.Threshold {
			continue
		}
		n.dispatch(ctx, key, rule, latest)
	}
}

func (n *Notifier) dispatch(ctx context.Context, key domain.SeriesKey, rule Rule, latest domain.StatPoint) {
	meta, err := domain.MetadataFor(key)
	if err != nil {
		return
	}
	content := fmt.Sprintf(
		"Usage alert\nSeries: %s\nHour: %s\nValue: %.3f %s\nThreshold: %.3f %s",
		meta.Name,
		latest.Hour.UTC().Format(time.RFC3339),
		latest.State, meta.Unit,
		rule.Threshold, meta.Unit,
	)
	if !n.shouldSend(key, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncAlertNotification(metrics.ResultError)
		n.logf("event=alert_send_failed series=%s error=%v", key, err)
		return
	}
	metrics.IncAlertNotification(metrics.ResultSuccess)
	n.markSent(key, content)
	n.logf("event=alert_sent series=%s hour=%s value=%.3f threshold=%.3f",
		key, latest.Hour.UTC().Format(time.RFC3339), latest.State, rule.Threshold)
}

func (n *Notifier) shouldSend(key domain.SeriesKey, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key.String()]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key domain.SeriesKey, content string) {
	n.mu.Lock()
	n.sent[key.String()] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func (n *Notifier) logf(format string, args ...any) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}
