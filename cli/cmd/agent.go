package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/logline/adapter"
	"github.com/pithecene-io/logline/adapter/redis"
	"github.com/pithecene-io/logline/adapter/webhook"
	"github.com/pithecene-io/logline/cli/config"
	"github.com/pithecene-io/logline/identity"
	"github.com/pithecene-io/logline/iox"
	"github.com/pithecene-io/logline/journal"
	"github.com/pithecene-io/logline/log"
	"github.com/pithecene-io/logline/metrics"
	"github.com/pithecene-io/logline/runtime"
	"github.com/pithecene-io/logline/session"
	"github.com/pithecene-io/logline/tail"
	"github.com/pithecene-io/logline/types"
)

// Exit codes for the agent.
const (
	exitSuccess     = 0
	exitError       = 1
	exitConfigError = 2
)

// shutdownTimeout bounds flushing the journal and notifications after the
// agent stops.
const shutdownTimeout = 5 * time.Second

// AgentFlags returns the flags of the top-level agent action.
// Required values are checked after the config file is merged, so none
// are marked Required here.
func AgentFlags() []cli.Flag {
	flags := []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Service name sent in the handshake (required)",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Collector address (host:port)",
			Value:   fmt.Sprintf("127.0.0.1:%d", types.DefaultPort),
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Log file to ship (required)",
		},
		&cli.StringFlag{
			Name:  "device-id",
			Usage: "Device identifier (default: hostname)",
		},
		&cli.BoolFlag{
			Name:  "from-start",
			Usage: "Ship the whole existing file (overrides --tail-bytes)",
		},
		&cli.Uint64Flag{
			Name:    "tail-bytes",
			Aliases: []string{"t"},
			Usage:   "Bytes of existing content to ship on startup (0 skips it)",
			Value:   types.DefaultTailBytes,
		},
		&cli.BoolFlag{
			Name:  "align-lines",
			Usage: "Start the initial tail at a line boundary",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
		},
		&cli.IntFlag{
			Name:  "chunk-bytes",
			Usage: "Maximum bytes read from the file per chunk",
			Value: tail.DefaultChunkSize,
		},
		&cli.StringFlag{
			Name:  "watch",
			Usage: "Change detection: notify or poll",
			Value: string(tail.WatchNotify),
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "Poll period (and notify fallback timeout)",
			Value: tail.DefaultPollInterval,
		},
		&cli.DurationFlag{
			Name:  "keepalive-interval",
			Usage: "Idle time before a keepalive frame is sent",
			Value: session.DefaultKeepaliveInterval,
		},
		&cli.BoolFlag{
			Name:  "handshake-ack",
			Usage: "Wait for the collector to acknowledge the handshake",
		},
		&cli.DurationFlag{
			Name:  "drain-timeout",
			Usage: "How long to keep sending queued data on shutdown (0 disables)",
			Value: session.DefaultDrainTimeout,
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address (e.g. :9100)",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Lifecycle notification adapter: redis or webhook",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel (redis adapter only)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the result summary",
		},
	}
	return append(flags, journalFlags()...)
}

// agentChoice is the fully resolved agent configuration.
type agentChoice struct {
	supervisor  runtime.Config
	metricsAddr string
	journal     journal.Config
	adapter     config.AdapterConfig
}

// AgentAction runs the agent until SIGINT or SIGTERM.
func AgentAction(c *cli.Context) error {
	fileCfg, err := loadConfigFile(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	choice, err := resolveAgent(c, fileCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runAgent(ctx, choice, os.Stderr)
	if err != nil {
		if types.IsConfigError(err) {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return cli.Exit(fmt.Sprintf("agent failed: %v", err), exitError)
	}

	if !c.Bool("quiet") {
		printAgentResult(c.App.Writer, result)
	}
	return nil
}

func loadConfigFile(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

// resolveAgent merges flags over the config file over defaults.
func resolveAgent(c *cli.Context, fc *config.Config) (agentChoice, error) {
	var choice agentChoice

	name := resolveString(c, "name", configVal(fc, func(f *config.Config) string { return f.Name }))
	if name == "" {
		return choice, missingError("name")
	}
	file := resolveString(c, "file", configVal(fc, func(f *config.Config) string { return f.File }))
	if file == "" {
		return choice, missingError("file")
	}
	server := resolveString(c, "server", configVal(fc, func(f *config.Config) string { return f.Server }))

	deviceID, err := identity.ResolveDeviceID(resolveString(c, "device-id", configVal(fc, func(f *config.Config) string { return f.DeviceID })))
	if err != nil {
		return choice, types.NewConfigError("device_id", err)
	}

	tailBytes := c.Uint64("tail-bytes")
	if !c.IsSet("tail-bytes") && fc != nil && fc.TailBytes != nil {
		tailBytes = *fc.TailBytes
	}

	watch, err := tail.ParseWatchMode(resolveString(c, "watch", configVal(fc, func(f *config.Config) string { return f.Watch })))
	if err != nil {
		return choice, types.NewConfigError("watch", err)
	}

	drain := c.Duration("drain-timeout")
	if !c.IsSet("drain-timeout") && fc != nil && fc.DrainTimeout != nil {
		drain = fc.DrainTimeout.Duration
	}

	backoff := session.DefaultBackoffConfig()
	if fc != nil {
		if d := fc.Backoff.Initial.Duration; d > 0 {
			backoff.Initial = d
		}
		if d := fc.Backoff.Max.Duration; d > 0 {
			backoff.Max = d
		}
		if m := fc.Backoff.Multiplier; m > 0 {
			backoff.Multiplier = m
		}
		if j := fc.Backoff.Jitter; j != nil {
			backoff.Jitter = *j
		}
	}

	choice.supervisor = runtime.Config{
		Agent: types.AgentConfig{
			ServiceName: name,
			ServerAddr:  server,
			FilePath:    file,
			DeviceID:    deviceID,
			FromStart:   resolveBool(c, "from-start", configVal(fc, func(f *config.Config) bool { return f.FromStart })),
			TailBytes:   tailBytes,
			Verbose:     resolveBool(c, "verbose", configVal(fc, func(f *config.Config) bool { return f.Verbose })),
		},
		AlignLines:        resolveBool(c, "align-lines", configVal(fc, func(f *config.Config) bool { return f.AlignLines })),
		QueueBytes:        configVal(fc, func(f *config.Config) int64 { return f.QueueBytes }),
		ChunkBytes:        resolveInt(c, "chunk-bytes", configVal(fc, func(f *config.Config) int { return f.ChunkBytes })),
		Watch:             watch,
		PollInterval:      resolveDuration(c, "poll-interval", configVal(fc, func(f *config.Config) time.Duration { return f.PollInterval.Duration })),
		MaxPayload:        configVal(fc, func(f *config.Config) int { return f.MaxPayloadBytes }),
		ConnectTimeout:    configVal(fc, func(f *config.Config) time.Duration { return f.ConnectTimeout.Duration }),
		WriteTimeout:      configVal(fc, func(f *config.Config) time.Duration { return f.WriteTimeout.Duration }),
		KeepaliveInterval: resolveDuration(c, "keepalive-interval", configVal(fc, func(f *config.Config) time.Duration { return f.KeepaliveInterval.Duration })),
		HandshakeAck:      resolveBool(c, "handshake-ack", configVal(fc, func(f *config.Config) bool { return f.HandshakeAck })),
		HandshakeTimeout:  configVal(fc, func(f *config.Config) time.Duration { return f.HandshakeTimeout.Duration }),
		DrainTimeout:      drain,
		Backoff:           backoff,
	}
	if err := choice.supervisor.Agent.Validate(); err != nil {
		return choice, err
	}

	choice.metricsAddr = resolveString(c, "metrics-addr", configVal(fc, func(f *config.Config) string { return f.MetricsAddr }))

	jc, err := resolveJournal(c, fc)
	if err != nil {
		return choice, err
	}
	choice.journal = jc

	ac, err := resolveAdapter(c, fc)
	if err != nil {
		return choice, err
	}
	choice.adapter = ac
	return choice, nil
}

// resolveJournal returns the journal config. An empty Backend means the
// journal is disabled.
func resolveJournal(c *cli.Context, fc *config.Config) (journal.Config, error) {
	var jfc config.JournalConfig
	if fc != nil {
		jfc = fc.Journal
	}
	jc := journal.Config{
		Dataset:      resolveString(c, "journal-dataset", jfc.Dataset),
		Backend:      resolveString(c, "journal-backend", jfc.Backend),
		Path:         resolveString(c, "journal-path", jfc.Path),
		Region:       resolveString(c, "journal-s3-region", jfc.Region),
		Endpoint:     resolveString(c, "journal-s3-endpoint", jfc.Endpoint),
		UsePathStyle: resolveBool(c, "journal-s3-path-style", jfc.S3PathStyle),
	}
	if jc.Backend == "" {
		if jc.Path != "" {
			return jc, types.NewConfigError("journal", errors.New("--journal-path is set but --journal-backend is not"))
		}
		return jc, nil
	}
	if err := jc.Validate(); err != nil {
		return jc, types.NewConfigError("journal", err)
	}
	return jc, nil
}

// resolveAdapter returns the notification adapter config. An empty Type
// means notifications are disabled.
func resolveAdapter(c *cli.Context, fc *config.Config) (config.AdapterConfig, error) {
	var ac config.AdapterConfig
	if fc != nil {
		ac = fc.Adapter
	}
	ac.Type = resolveString(c, "adapter", ac.Type)
	ac.URL = resolveString(c, "adapter-url", ac.URL)
	ac.Channel = resolveString(c, "adapter-channel", ac.Channel)

	switch ac.Type {
	case "":
		if ac.URL != "" {
			return ac, types.NewConfigError("adapter", errors.New("--adapter-url is set but --adapter is not"))
		}
	case "redis", "webhook":
		if ac.URL == "" {
			return ac, types.NewConfigError("adapter", fmt.Errorf("--adapter-url is required for the %s adapter", ac.Type))
		}
		if ac.Channel != "" && ac.Type != "redis" {
			return ac, types.NewConfigError("adapter", errors.New("--adapter-channel is only valid for the redis adapter"))
		}
	default:
		return ac, types.NewConfigError("adapter", fmt.Errorf("unknown adapter %q (must be redis or webhook)", ac.Type))
	}
	if _, err := adapter.ParseEvents(ac.Events); err != nil {
		return ac, types.NewConfigError("adapter.events", err)
	}
	return ac, nil
}

func missingError(flag string) error {
	return types.NewConfigError(flag, fmt.Errorf("--%s is required (or set %q in the config file)", flag, flag))
}

// buildAdapter creates the configured notification adapter.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case "redis":
		cfg := redis.Config{URL: ac.URL, Channel: ac.Channel, Timeout: ac.Timeout.Duration, Retries: redis.DefaultRetries}
		if retries >= 0 {
			cfg.Retries = retries
		}
		return redis.New(cfg)
	case "webhook":
		cfg := webhook.Config{URL: ac.URL, Headers: ac.Headers, Timeout: ac.Timeout.Duration, Retries: webhook.DefaultRetries}
		if retries >= 0 {
			cfg.Retries = retries
		}
		return webhook.New(cfg)
	default:
		return nil, fmt.Errorf("unknown adapter %q", ac.Type)
	}
}

// runAgent wires logging, metrics, the journal, and notifications around a
// supervisor and runs it until ctx is cancelled. Logs go to logOut.
func runAgent(ctx context.Context, choice agentChoice, logOut io.Writer) (*runtime.Result, error) {
	agent := choice.supervisor.Agent
	agentID := identity.AgentID(agent.DeviceID, agent.FilePath)

	logger := log.NewLogger(log.Context{
		Service:  agent.ServiceName,
		DeviceID: agent.DeviceID,
		AgentID:  agentID,
		File:     agent.FilePath,
	}, agent.Verbose).WithOutput(logOut)
	defer iox.DiscardErr(logger.Sync)

	collector := metrics.NewCollector(metrics.Dimensions{
		Service:        agent.ServiceName,
		DeviceID:       agent.DeviceID,
		AgentID:        agentID,
		WatchMode:      string(choice.supervisor.Watch),
		JournalBackend: choice.journal.Backend,
	})
	observers := types.Observers{log.NewEventObserver(logger), collector}

	var notifier *adapter.Notifier
	if choice.adapter.Type != "" {
		a, err := buildAdapter(choice.adapter)
		if err != nil {
			return nil, types.NewConfigError("adapter", err)
		}
		events, err := adapter.ParseEvents(choice.adapter.Events)
		if err != nil {
			iox.DiscardClose(a)
			return nil, types.NewConfigError("adapter.events", err)
		}
		notifier = adapter.NewNotifier(a, adapter.NotifierConfig{
			Origin: adapter.Origin{
				Service:  agent.ServiceName,
				DeviceID: agent.DeviceID,
				AgentID:  agentID,
				FilePath: agent.FilePath,
			},
			Events:    events,
			Collector: collector,
			Logger:    logger,
		})
		observers = append(observers, notifier)
		defer closeWithTimeout(logger, "notifier", notifier.Close)
	}

	var recorder *journal.Recorder
	if choice.journal.Backend != "" {
		if choice.journal.Backend == journal.BackendFS {
			if err := os.MkdirAll(choice.journal.Path, 0o755); err != nil {
				return nil, types.NewConfigError("journal.path", err)
			}
		}
		ds, err := journal.Open(ctx, choice.journal)
		if err != nil {
			return nil, fmt.Errorf("open session journal: %w", err)
		}
		w := journal.NewWriter(ds, journal.Identity{
			Service:    agent.ServiceName,
			DeviceID:   agent.DeviceID,
			AgentID:    agentID,
			FilePath:   agent.FilePath,
			ServerAddr: agent.ServerAddr,
		}, collector)
		recorder = journal.NewRecorder(w, logger, 0)
		defer closeWithTimeout(logger, "journal", recorder.Close)
	}

	cfg := choice.supervisor
	cfg.Observer = observers
	if recorder != nil {
		cfg.OnSessionClose = recorder.Record
	}

	sup, err := runtime.NewSupervisor(cfg)
	if err != nil {
		return nil, err
	}

	if choice.metricsAddr != "" {
		srv, err := startMetrics(ctx, choice.metricsAddr, collector, sup, logger)
		if err != nil {
			return nil, types.NewConfigError("metrics_addr", err)
		}
		logger.Info("metrics listening", map[string]any{"addr": srv.Addr()})
	}

	result, err := sup.Run(ctx)
	if err != nil {
		return nil, err
	}
	if result.Queue.Chunks > 0 {
		logger.Warn("unsent data left in queue", map[string]any{
			"chunks": result.Queue.Chunks,
			"bytes":  result.Queue.Bytes,
		})
	}
	return result, nil
}

// startMetrics serves the Prometheus endpoint until ctx is cancelled.
func startMetrics(ctx context.Context, addr string, c *metrics.Collector, sup *runtime.Supervisor, logger *log.Logger) (*metrics.Server, error) {
	exp := metrics.NewExporter(c,
		metrics.GaugeFunc{
			Name:  "queue_bytes",
			Help:  "Bytes waiting in the pending queue.",
			Value: func() float64 { return float64(sup.QueueStats().Bytes) },
		},
		metrics.GaugeFunc{
			Name:  "queue_chunks",
			Help:  "Chunks waiting in the pending queue.",
			Value: func() float64 { return float64(sup.QueueStats().Chunks) },
		},
		metrics.GaugeFunc{
			Name:  "tail_offset_bytes",
			Help:  "Current read offset in the monitored file.",
			Value: func() float64 { return float64(sup.TailState().Offset) },
		},
		metrics.GaugeFunc{
			Name: "session_streaming",
			Help: "1 while the connection session is streaming.",
			Value: func() float64 {
				if sup.SessionState() == session.Streaming {
					return 1
				}
				return 0
			},
		},
	)
	reg, err := metrics.NewRegistry(exp)
	if err != nil {
		return nil, err
	}
	srv, err := metrics.Listen(addr, reg)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Warn("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()
	return srv, nil
}

func closeWithTimeout(logger *log.Logger, name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		logger.Warn("shutdown incomplete", map[string]any{
			"component": name,
			"error":     err.Error(),
		})
	}
}

func printAgentResult(w io.Writer, r *runtime.Result) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "\nagent_id=%s, duration=%s, connect_failures=%d\n",
		r.AgentID,
		r.Duration.Round(time.Millisecond),
		r.Session.ConnectFailures,
	)
	fmt.Fprintf(w, "offset=%d, sessions=%d, chunks_sent=%d, bytes_sent=%d, keepalives=%d\n",
		r.Tail.Offset,
		r.Session.Sessions,
		r.Session.ChunksSent,
		r.Session.BytesSent,
		r.Session.Keepalives,
	)
	if r.Queue.Chunks > 0 {
		fmt.Fprintf(w, "unsent: chunks=%d, bytes=%d\n", r.Queue.Chunks, r.Queue.Bytes)
	}
}

// --- flag/config precedence helpers ---

// configVal reads a field from an optional config file.
func configVal[T any](fc *config.Config, get func(*config.Config) T) T {
	var zero T
	if fc == nil {
		return zero
	}
	return get(fc)
}

// resolveString returns the flag value when set explicitly, otherwise the
// config value, otherwise the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}
