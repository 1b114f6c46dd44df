package poller

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("poller: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AlertRule is one usage threshold on a series' hourly state.
type AlertRule struct {
	Series    string  `yaml:"series"`
	Threshold float64 `yaml:"threshold"`
}

// AlertConfig configures usage alerting.
type AlertConfig struct {
	WebhookURL string      `yaml:"webhook_url"`
	Cooldown   Duration    `yaml:"cooldown"`
	Rules      []AlertRule `yaml:"rules"`
}

// Config defines poller behavior. Values come from an optional yaml file
// pointed at by GLOWSYNC_CONFIG, with env fallbacks for the scalar knobs.
type Config struct {
	Interval     Duration    `yaml:"interval"`
	CatchupGrace Duration    `yaml:"catchup_grace"`
	TailLookback int         `yaml:"tail_lookback"`
	Alerts       AlertConfig `yaml:"alerts"`
}

// LoadConfig loads poller config from yaml and env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Interval:     Duration(30 * time.Minute),
		CatchupGrace: Duration(2 * time.Minute),
		TailLookback: 1000,
	}

	if path := os.Getenv("GLOWSYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if raw := os.Getenv("GLOWSYNC_POLL_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("poller: invalid GLOWSYNC_POLL_INTERVAL: %w", err)
		}
		cfg.Interval = Duration(parsed)
	}
	if raw := os.Getenv("GLOWSYNC_CATCHUP_GRACE"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("poller: invalid GLOWSYNC_CATCHUP_GRACE: %w", err)
		}
		cfg.CatchupGrace = Duration(parsed)
	}
	if raw := os.Getenv("GLOWSYNC_TAIL_LOOKBACK"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("poller: invalid GLOWSYNC_TAIL_LOOKBACK: %w", err)
		}
		cfg.TailLookback = parsed
	}
	if url := os.Getenv("GLOWSYNC_ALERT_WEBHOOK_URL"); url != "" {
		cfg.Alerts.WebhookURL = url
	}

	if cfg.Interval.Std() < time.Minute {
		return cfg, errors.New("poller: interval must be at least one minute")
	}
	if cfg.TailLookback <= 0 {
		return cfg, errors.New("poller: tail lookback must be positive")
	}
	return cfg, nil
}
