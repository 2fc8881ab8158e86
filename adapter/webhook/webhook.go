// Package webhook delivers agent events to an HTTP endpoint.
//
// Each event is one JSON POST. Server errors and transport failures are
// retried; client errors (4xx) are not, since resending the same body
// cannot fix them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/logline/adapter"
	"github.com/pithecene-io/logline/iox"
	"github.com/pithecene-io/logline/types"
)

const (
	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of redeliveries after a failed POST.
	DefaultRetries = 3

	// EventHeader carries the event kind so receivers can route without
	// parsing the body.
	EventHeader = "X-Logline-Event"
	// AgentHeader carries the agent ID.
	AgentHeader = "X-Logline-Agent"
)

// retryBase is swapped in tests.
var retryBase = 500 * time.Millisecond

// Config configures a webhook Adapter.
type Config struct {
	// URL receives the POST requests (required).
	URL string
	// Headers are added to every request, after the defaults.
	Headers map[string]string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of redeliveries. Negative is invalid.
	Retries int
}

// Adapter posts agent events as JSON.
type Adapter struct {
	url     string
	headers map[string]string
	retries int
	client  *http.Client
}

// New validates cfg and creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("webhook adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		url:     cfg.URL,
		headers: cfg.Headers,
		retries: cfg.Retries,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Publish posts event, retrying transient failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.AgentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	policy := adapter.RetryPolicy{Retries: a.retries, Base: retryBase}
	err = adapter.Retry(ctx, policy, func(ctx context.Context) error {
		err := a.post(ctx, event, body)
		var status *StatusError
		if errors.As(err, &status) && !status.Retriable() {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the request may succeed if sent again.
// 408 and 429 are the client-range codes that signal a transient state.
func (e *StatusError) Retriable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	default:
		return true
	}
}

func (a *Adapter) post(ctx context.Context, event *adapter.AgentEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "logline-agent/"+types.Version)
	req.Header.Set(EventHeader, event.EventType)
	req.Header.Set(AgentHeader, event.AgentID)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	// Drain so the connection can be reused.
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
