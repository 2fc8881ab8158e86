package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pithecene-io/logline/log"
	"github.com/pithecene-io/logline/metrics"
	"github.com/pithecene-io/logline/types"
)

// DefaultBuffer is the number of events held for publishing before new
// ones are dropped.
const DefaultBuffer = 32

// DefaultEvents are the event kinds published when none are configured.
var DefaultEvents = []types.EventKind{
	types.EventAgentStarted,
	types.EventConnected,
	types.EventConnectionLost,
	types.EventFileRotated,
	types.EventFileTruncated,
	types.EventAgentStopped,
}

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// Origin is stamped on every event.
	Origin Origin
	// Events selects which kinds are published. Empty means DefaultEvents.
	Events []types.EventKind
	// Buffer is the outbox size. Zero means DefaultBuffer.
	Buffer int
	// Collector counts publish outcomes. May be nil.
	Collector *metrics.Collector
	// Logger reports failures. May be nil.
	Logger *log.Logger
}

// Notifier is a types.Observer that forwards selected events to an
// Adapter from a background goroutine.
type Notifier struct {
	adapter   Adapter
	origin    Origin
	events    map[types.EventKind]bool
	collector *metrics.Collector
	logger    *log.Logger

	mu     sync.Mutex
	closed bool
	outbox chan *AgentEvent
	done   chan struct{}

	// ctx bounds in-flight publishes; cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNotifier starts a notifier publishing through a.
func NewNotifier(a Adapter, cfg NotifierConfig) *Notifier {
	kinds := cfg.Events
	if len(kinds) == 0 {
		kinds = DefaultEvents
	}
	events := make(map[types.EventKind]bool, len(kinds))
	for _, k := range kinds {
		events[k] = true
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		adapter:   a,
		origin:    cfg.Origin,
		events:    events,
		collector: cfg.Collector,
		logger:    cfg.Logger,
		outbox:    make(chan *AgentEvent, cfg.Buffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go n.loop()
	return n
}

// Observe implements types.Observer. It never blocks.
func (n *Notifier) Observe(e types.Event) {
	if !n.events[e.Kind] {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.outbox <- NewAgentEvent(n.origin, e):
	default:
		n.collector.IncNotifyDropped()
	}
}

// Close stops accepting events, publishes what is buffered until ctx ends,
// and closes the adapter.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.outbox)
	}
	n.mu.Unlock()

	var err error
	select {
	case <-n.done:
	case <-ctx.Done():
		n.cancel()
		<-n.done
		err = ctx.Err()
	}
	n.cancel()
	if cerr := n.adapter.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (n *Notifier) loop() {
	defer close(n.done)
	for ev := range n.outbox {
		if n.ctx.Err() != nil {
			n.collector.IncNotifyDropped()
			continue
		}
		if err := n.adapter.Publish(n.ctx, ev); err != nil {
			n.collector.IncNotifyFailure()
			n.logger.Warn("notification failed", map[string]any{
				"event_type": ev.EventType,
				"error":      err.Error(),
			})
			continue
		}
		n.collector.IncNotifySuccess()
	}
}

// ParseEvents resolves configured event names to kinds.
// Unknown names are rejected so typos do not silently disable notifications.
func ParseEvents(names []string) ([]types.EventKind, error) {
	known := make(map[types.EventKind]bool, len(types.AllEventKinds))
	for _, k := range types.AllEventKinds {
		known[k] = true
	}
	out := make([]types.EventKind, 0, len(names))
	for _, name := range names {
		k := types.EventKind(strings.TrimSpace(name))
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
		out = append(out, k)
	}
	return out, nil
}
