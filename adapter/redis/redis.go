// Package redis publishes agent events on a Redis pub/sub channel.
//
// The channel name may be a template: "{service}" and "{event}" are
// replaced per event, so subscribers can PSUBSCRIBE to a subset such as
// "logline:*:file_rotated".
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/logline/adapter"
)

const (
	// DefaultChannel is used when no channel is configured.
	DefaultChannel = "logline:events"
	// DefaultTimeout bounds one PUBLISH.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the number of republishes after a failure.
	DefaultRetries = 3
)

// retryBase is swapped in tests.
var retryBase = 500 * time.Millisecond

// Config configures a Redis Adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL string
	// Channel is the channel name or template. Empty means DefaultChannel.
	Channel string
	// Timeout bounds each PUBLISH. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of republishes. Negative is invalid.
	Retries int
}

// Adapter publishes JSON-encoded agent events.
type Adapter struct {
	channel string
	timeout time.Duration
	retries int
	client  *goredis.Client
}

// New validates cfg and creates an Adapter. No connection is made until
// the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	a := &Adapter{
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		client:  goredis.NewClient(opts),
	}
	if a.channel == "" {
		a.channel = DefaultChannel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// Channel returns the configured channel name or template.
func (a *Adapter) Channel() string {
	return a.channel
}

// ChannelFor resolves the channel template for event.
func (a *Adapter) ChannelFor(event *adapter.AgentEvent) string {
	if !strings.Contains(a.channel, "{") {
		return a.channel
	}
	return strings.NewReplacer(
		"{service}", event.Service,
		"{event}", event.EventType,
	).Replace(a.channel)
}

// Publish sends event to its channel, retrying failures until the retry
// budget or ctx runs out.
func (a *Adapter) Publish(ctx context.Context, event *adapter.AgentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event)

	policy := adapter.RetryPolicy{Retries: a.retries, Base: retryBase}
	err = adapter.Retry(ctx, policy, func(ctx context.Context) error {
		pubCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		err := a.client.Publish(pubCtx, channel, body).Err()
		if errors.Is(err, goredis.ErrClosed) {
			// A closed client never recovers.
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

// Close closes the client. Later publishes fail without retrying.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
