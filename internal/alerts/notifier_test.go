package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"glowsync/internal/readings/domain"
)

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func point(hour time.Time, state float64) domain.StatPoint {
	return domain.StatPoint{Hour: hour, State: state, Sum: state}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}

	notifier, err := NewNotifier(
		[]Rule{{Series: "electricity_consumption", Threshold: 3.0}},
		channel,
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour, 4.5))

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"Series: Electricity Consumption",
			"Hour: 2026-08-20T06:00:00Z",
			"Value: 4.500 kWh",
			"Threshold: 3.000 kWh",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestNotifierBelowThresholdIsSilent(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(
		[]Rule{{Series: "electricity_consumption", Threshold: 3.0}},
		channel,
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour, 2.9))
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour, 3.0))
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected no notifications at or below threshold, got %d", got)
	}

	// A different series never matches the rule.
	notifier.Evaluate(context.Background(), "gas_consumption", point(hour, 99))
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected no notifications for unruled series, got %d", got)
	}
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, time.August, 20, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}

	notifier, err := NewNotifier(
		[]Rule{{Series: "electricity_consumption", Threshold: 3.0}},
		channel,
		WithClock(clock),
		WithCooldown(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour, 4.5))
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour.Add(time.Hour), 5.0))
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(31 * time.Minute)
	notifier.Evaluate(context.Background(), "electricity_consumption", point(hour.Add(2*time.Hour), 5.0))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, time.August, 20, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}

	notifier, err := NewNotifier(
		[]Rule{{Series: "gas_consumption", Threshold: 1.0}},
		channel,
		WithClock(clock),
		WithDedupeWindow(time.Hour),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	hour := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	notifier.Evaluate(context.Background(), "gas_consumption", point(hour, 2.5))
	clock.Add(5 * time.Minute)
	notifier.Evaluate(context.Background(), "gas_consumption", point(hour, 2.5))
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification inside dedupe window, got %d", got)
	}

	// Content differs once the value moves, so it goes out.
	notifier.Evaluate(context.Background(), "gas_consumption", point(hour, 3.1))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
	if !strings.Contains(channel.Latest(), "3.100") {
		t.Fatalf("expected latest content with new value, got %s", channel.Latest())
	}
}
