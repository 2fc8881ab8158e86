package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/logline/tail"
)

// Config represents a logline.yaml configuration file.
// All values are optional and act as defaults for flags.
// CLI flags always override config values.
//
// Pointer fields distinguish "unset" from an explicit zero.
type Config struct {
	Name      string  `yaml:"name"`
	Server    string  `yaml:"server"`
	File      string  `yaml:"file"`
	DeviceID  string  `yaml:"device_id"`
	FromStart bool    `yaml:"from_start"`
	TailBytes *uint64 `yaml:"tail_bytes"`
	Verbose   bool    `yaml:"verbose"`

	AlignLines      bool   `yaml:"align_lines"`
	QueueBytes      int64  `yaml:"queue_bytes"`
	ChunkBytes      int    `yaml:"chunk_bytes"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	Watch           string `yaml:"watch"`

	PollInterval      Duration  `yaml:"poll_interval"`
	KeepaliveInterval Duration  `yaml:"keepalive_interval"`
	ConnectTimeout    Duration  `yaml:"connect_timeout"`
	WriteTimeout      Duration  `yaml:"write_timeout"`
	HandshakeAck      bool      `yaml:"handshake_ack"`
	HandshakeTimeout  Duration  `yaml:"handshake_timeout"`
	DrainTimeout      *Duration `yaml:"drain_timeout"`

	Backoff     BackoffConfig `yaml:"backoff"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Journal     JournalConfig `yaml:"journal"`
	Adapter     AdapterConfig `yaml:"adapter"`
}

// BackoffConfig holds reconnect backoff tuning.
type BackoffConfig struct {
	Initial    Duration `yaml:"initial"`
	Max        Duration `yaml:"max"`
	Multiplier float64  `yaml:"multiplier"`
	Jitter     *float64 `yaml:"jitter"`
}

// JournalConfig holds session journal storage settings.
// An empty Backend disables the journal.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds lifecycle notification settings.
// An empty Type disables notifications.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Events  []string          `yaml:"events,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Validate checks enumerated values and ranges. Required fields are
// checked after flags are merged, not here.
func (c *Config) Validate() error {
	if _, err := tail.ParseWatchMode(c.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if c.QueueBytes < 0 {
		return fmt.Errorf("queue_bytes must be >= 0, got %d", c.QueueBytes)
	}
	if c.ChunkBytes < 0 {
		return fmt.Errorf("chunk_bytes must be >= 0, got %d", c.ChunkBytes)
	}
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes must be >= 0, got %d", c.MaxPayloadBytes)
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be >= 1, got %v", c.Backoff.Multiplier)
	}
	if j := c.Backoff.Jitter; j != nil && (*j < 0 || *j >= 1) {
		return fmt.Errorf("backoff.jitter must be in [0, 1), got %v", *j)
	}
	if c.Backoff.Max.Duration > 0 && c.Backoff.Max.Duration < c.Backoff.Initial.Duration {
		return fmt.Errorf("backoff.max (%s) is less than backoff.initial (%s)", c.Backoff.Max, c.Backoff.Initial)
	}

	switch c.Journal.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("journal.backend must be fs or s3, got %q", c.Journal.Backend)
	}
	if c.Journal.Backend != "" && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal.backend is %s", c.Journal.Backend)
	}

	switch c.Adapter.Type {
	case "":
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type)
		}
	default:
		return fmt.Errorf("adapter.type must be redis or webhook, got %q", c.Adapter.Type)
	}
	if r := c.Adapter.Retries; r != nil && *r < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *r)
	}
	return nil
}
