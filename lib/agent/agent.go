// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/config"
	"github.com/beacon-telemetry/beacon/lib/dispatch"
	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/identity"
	"github.com/beacon-telemetry/beacon/lib/instrument"
	"github.com/beacon-telemetry/beacon/lib/queue"
	"github.com/beacon-telemetry/beacon/lib/version"
)

// instrumentationName scopes the agent's own meters.
const instrumentationName = "github.com/beacon-telemetry/beacon"

// Fault reasons recorded on beacon.agent.faults.
const (
	FaultBuild = "build"
	FaultPanic = "panic"
)

// Options carries the agent's collaborators. Every field is optional.
type Options struct {
	// Logger receives the agent's own operational messages. Nil
	// discards them. Do not pass a logger whose handler is this
	// agent's LogHandler.
	Logger *slog.Logger

	// MeterProvider receives the agent's metrics. Nil means
	// otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Clock drives timestamps, intervals, and backoff. Nil means
	// clock.Real().
	Clock clock.Clock

	// Transport replaces the HTTP transport to the collector.
	Transport dispatch.Transport

	// Probe replaces the identity resolver's system lookups.
	Probe identity.Probe
}

// Stats is a snapshot of the agent's counters.
type Stats struct {
	// Pushed counts events accepted into the queue.
	Pushed uint64

	// Queued is the number of events waiting for the next cycle.
	Queued int

	// Faults counts swallowed failures at the ingestion boundary.
	Faults uint64

	Dispatch dispatch.Stats
}

// Agent is one embedded telemetry agent. Safe for concurrent use.
//
// The embedded Instrumenter provides the instrumentation sources
// (RoundTripper, Middleware, LogHandler, CapturePanic, Go,
// RecordError, Measure, Time, DB), all reporting to this agent.
type Agent struct {
	*instrument.Instrumenter

	config     *config.Config
	logger     *slog.Logger
	resolver   *identity.Resolver
	builder    *event.Builder
	queue      *queue.Queue[event.Event]
	dispatcher *dispatch.Dispatcher

	faultCounter  metric.Int64Counter
	pushedCounter metric.Int64Counter
	depthGauge    metric.Registration
	faultLog      rate.Sometimes
	faults        atomic.Uint64

	startOnce sync.Once
	mu        sync.Mutex
	cancel    context.CancelFunc
}

// New validates cfg and assembles an agent. Nothing runs until Start.
func New(cfg *config.Config, options Options) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("agent: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: invalid config: %w", err)
	}
	statusPolicy, err := dispatch.ParseStatusPolicy(cfg.StatusPolicy)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	logLevel, err := cfg.Instrument.Level()
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	provider := options.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName, metric.WithInstrumentationVersion(version.SDK()))

	transport := options.Transport
	if transport == nil {
		transport = dispatch.NewHTTPTransport(cfg.Endpoint, cfg.SendTimeout.Std())
	}

	a := &Agent{
		config:   cfg,
		logger:   logger,
		queue:    queue.New[event.Event](),
		faultLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}
	a.resolver = identity.NewResolver(identity.Config{
		AppVersion: cfg.AppVersion,
		Region:     cfg.Region,
		Probe:      options.Probe,
	})
	a.builder = event.NewBuilder(event.BuilderConfig{
		APIKey:      cfg.APIKey,
		Project:     cfg.Project,
		Environment: cfg.Environment,
		Identity:    a.resolver,
		Clock:       clk,
	})
	a.Instrumenter = instrument.New(a, instrument.Config{
		CollectorEndpoint: cfg.Endpoint,
		SlowThreshold:     cfg.Instrument.SlowThreshold.Std(),
		LogLevel:          logLevel,
		Clock:             clk,
		Disabled: instrument.Sources{
			HTTP:        !cfg.Instrument.HTTP,
			Requests:    !cfg.Instrument.Requests,
			Logging:     !cfg.Instrument.Logging,
			Exceptions:  !cfg.Instrument.Exceptions,
			Performance: !cfg.Instrument.Performance,
			Database:    !cfg.Instrument.Database,
		},
	})

	a.dispatcher, err = dispatch.New(dispatch.Config{
		Source:      a.queue,
		Transport:   transport,
		APIKey:      cfg.APIKey,
		Secret:      cfg.APISecret,
		Project:     cfg.Project,
		Environment: cfg.Environment,
		Interval:    cfg.FlushInterval.Std(),
		Retry: dispatch.RetryPolicy{
			Limit:       cfg.RetryLimit,
			BaseBackoff: cfg.BaseBackoff.Std(),
			Status:      statusPolicy,
			Jitter:      cfg.Jitter,
		},
		SendTimeout:  cfg.SendTimeout.Std(),
		DrainTimeout: cfg.DrainTimeout.Std(),
		Clock:        clk,
		Logger:       logger,
		Meter:        meter,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	if err := a.registerMetrics(meter); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	return a, nil
}

func (a *Agent) registerMetrics(meter metric.Meter) error {
	var err error
	a.faultCounter, err = meter.Int64Counter("beacon.agent.faults",
		metric.WithDescription("Failures swallowed at the agent's ingestion boundary."),
		metric.WithUnit("{fault}"))
	if err != nil {
		return fmt.Errorf("creating fault counter: %w", err)
	}
	a.pushedCounter, err = meter.Int64Counter("beacon.agent.events.pushed",
		metric.WithDescription("Events accepted into the ingestion queue."),
		metric.WithUnit("{event}"))
	if err != nil {
		return fmt.Errorf("creating pushed counter: %w", err)
	}
	depth, err := meter.Int64ObservableGauge("beacon.agent.queue.depth",
		metric.WithDescription("Events waiting for the next dispatch cycle."),
		metric.WithUnit("{event}"))
	if err != nil {
		return fmt.Errorf("creating queue depth gauge: %w", err)
	}
	a.depthGauge, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(depth, int64(a.queue.Len()))
		return nil
	}, depth)
	if err != nil {
		return fmt.Errorf("registering queue depth callback: %w", err)
	}
	return nil
}

// Build assembles an event stamped with this agent's identity and
// metadata. A failure, including a panic while building, is counted as
// a fault and returned as an error.
func (a *Agent) Build(eventType event.Type, category event.Category, status event.Status, data map[string]any, metrics map[string]float64) (built event.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("building %s event: recovered panic: %v", eventType, recovered)
			a.fault(FaultPanic, err)
		}
	}()
	built, err = a.builder.Build(eventType, category, status, data, metrics)
	if err != nil {
		a.fault(FaultBuild, err)
	}
	return built, err
}

// Push enqueues an event for the next dispatch cycle. Never blocks on
// I/O.
func (a *Agent) Push(e event.Event) {
	a.queue.Push(e)
	a.pushedCounter.Add(context.Background(), 1)
}

// Emit builds and enqueues an event. It never panics and never
// returns an error; failures are counted as faults.
func (a *Agent) Emit(eventType event.Type, category event.Category, status event.Status, data map[string]any, metrics map[string]float64) {
	defer a.recoverFault()
	built, err := a.Build(eventType, category, status, data, metrics)
	if err != nil {
		return
	}
	a.Push(built)
}

// EmitEvent enqueues an event built elsewhere, for instance one whose
// severity was overridden. It never panics.
func (a *Agent) EmitEvent(e event.Event) {
	defer a.recoverFault()
	a.Push(e)
}

func (a *Agent) recoverFault() {
	if recovered := recover(); recovered != nil {
		a.fault(FaultPanic, fmt.Errorf("recovered panic: %v", recovered))
	}
}

func (a *Agent) fault(reason string, err error) {
	a.faults.Add(1)
	a.faultCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
	a.faultLog.Do(func() {
		a.logger.Debug("telemetry event discarded",
			"reason", reason,
			"error", err,
			"faults_total", a.faults.Load(),
		)
	})
}

// Start launches the dispatch loop. Only the first call has any
// effect; the loop runs until Shutdown or until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		runContext, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.cancel = cancel
		a.mu.Unlock()

		a.logger.Info("beacon agent started",
			"endpoint", a.config.Endpoint,
			"project", a.config.Project,
			"environment", a.config.Environment,
			"sdk_version", version.SDK(),
			"flush_interval", a.config.FlushInterval.Std(),
		)
		a.dispatcher.Start(runContext)
	})
}

// Shutdown stops the dispatch loop and waits for its final drain to
// finish or for ctx to end, whichever comes first. An agent that was
// never started still drains what it queued. Events emitted after
// Shutdown are queued but never sent.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.Start(context.Background())

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	cancel()

	select {
	case <-a.dispatcher.Done():
	case <-ctx.Done():
		return fmt.Errorf("agent: waiting for final drain: %w", ctx.Err())
	}
	if err := a.depthGauge.Unregister(); err != nil {
		a.logger.Debug("unregistering queue depth callback", "error", err)
	}
	stats := a.dispatcher.Stats()
	a.logger.Info("beacon agent stopped",
		"batches_sent", stats.BatchesSent,
		"events_sent", stats.EventsSent,
		"events_dropped", stats.EventsDropped,
		"faults", a.faults.Load(),
	)
	return nil
}

// Done is closed once the dispatch loop has exited.
func (a *Agent) Done() <-chan struct{} {
	return a.dispatcher.Done()
}

// Identity returns the process snapshot stamped into events,
// resolving it if no event has been built yet.
func (a *Agent) Identity() identity.Snapshot {
	return a.resolver.Collect(a.config.APIKey)
}

// Stats returns a snapshot of the agent's counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Pushed:   a.queue.Pushed(),
		Queued:   a.queue.Len(),
		Faults:   a.faults.Load(),
		Dispatch: a.dispatcher.Stats(),
	}
}
