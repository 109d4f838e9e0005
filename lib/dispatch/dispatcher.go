// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/signer"
)

// Source is the drain side of the ingestion queue. Flush must
// atomically remove and return everything pending.
type Source interface {
	Flush() []event.Event
}

// Config holds the dispatcher's dependencies and tuning.
type Config struct {
	// Source is drained once per cycle. Required.
	Source Source

	// Transport sends signed batches. Required.
	Transport Transport

	// APIKey is sent in X-API-KEY.
	APIKey string

	// Secret signs every attempt. When empty the dispatcher still
	// drains the queue each cycle but never sends; drained events are
	// counted as discarded.
	Secret string

	// Project and Environment are stamped into each batch envelope.
	Project     string
	Environment string

	// Interval between drain cycles. Required.
	Interval time.Duration

	// Retry bounds attempts per batch. Zero fields take defaults.
	Retry RetryPolicy

	// SendTimeout bounds a single attempt. Zero means
	// DefaultSendTimeout.
	SendTimeout time.Duration

	// DrainTimeout bounds the final send after cancellation. Zero
	// means DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Clock drives intervals, backoff, and timestamps. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger receives delivery diagnostics. Nil discards.
	Logger *slog.Logger

	// Meter creates the dispatch counters. Nil means a no-op meter.
	Meter metric.Meter
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	// Cycles counts wake-ups, including those that found the queue
	// empty.
	Cycles uint64

	// Attempts counts individual sends, including retries and the
	// final drain.
	Attempts uint64

	// BatchesSent and EventsSent count batches the collector accepted
	// with a 2xx.
	BatchesSent uint64
	EventsSent  uint64

	// BatchesRejected and EventsRejected count batches that ended on
	// a terminal non-2xx status.
	BatchesRejected uint64
	EventsRejected  uint64

	// BatchesDropped and EventsDropped count batches abandoned after
	// exhausting their attempts, failing to encode, or failing the
	// shutdown drain.
	BatchesDropped uint64
	EventsDropped  uint64

	// EventsDiscarded counts events drained while no secret was
	// configured.
	EventsDiscarded uint64
}

// Batch outcomes recorded on the beacon.dispatch.batches counter.
const (
	OutcomeSent      = "sent"
	OutcomeRejected  = "rejected"
	OutcomeDropped   = "dropped"
	OutcomeDiscarded = "discarded"
)

// Dispatcher runs the periodic drain-compose-sign-send loop.
type Dispatcher struct {
	config Config
	retry  RetryPolicy
	clock  clock.Clock
	logger *slog.Logger

	batchCounter   metric.Int64Counter
	eventCounter   metric.Int64Counter
	attemptCounter metric.Int64Counter

	// dropLog throttles drop warnings so an unreachable collector
	// produces one line per interval rather than one per batch.
	dropLog rate.Sometimes

	running atomic.Bool
	done    chan struct{}

	cycles          atomic.Uint64
	attempts        atomic.Uint64
	batchesSent     atomic.Uint64
	eventsSent      atomic.Uint64
	batchesRejected atomic.Uint64
	eventsRejected  atomic.Uint64
	batchesDropped  atomic.Uint64
	eventsDropped   atomic.Uint64
	eventsDiscarded atomic.Uint64
}

// New validates config and creates a Dispatcher. The loop does not
// run until Start or Run is called.
func New(config Config) (*Dispatcher, error) {
	if config.Source == nil {
		return nil, errors.New("dispatch: Source is required")
	}
	if config.Transport == nil {
		return nil, errors.New("dispatch: Transport is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("dispatch: Interval must be positive, got %v", config.Interval)
	}
	if config.Retry.Limit < 0 {
		return nil, fmt.Errorf("dispatch: retry limit must not be negative, got %d", config.Retry.Limit)
	}
	if config.Retry.BaseBackoff < 0 {
		return nil, fmt.Errorf("dispatch: base backoff must not be negative, got %v", config.Retry.BaseBackoff)
	}
	if _, err := ParseStatusPolicy(string(config.Retry.Status)); err != nil {
		return nil, err
	}
	if config.SendTimeout == 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.SendTimeout < 0 || config.DrainTimeout < 0 {
		return nil, errors.New("dispatch: timeouts must not be negative")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	meter := config.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("github.com/beacon-telemetry/beacon/lib/dispatch")
	}

	batchCounter, err := meter.Int64Counter("beacon.dispatch.batches",
		metric.WithDescription("Batches resolved by the dispatcher, by outcome."),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, fmt.Errorf("dispatch: creating batch counter: %w", err)
	}
	eventCounter, err := meter.Int64Counter("beacon.dispatch.events",
		metric.WithDescription("Events resolved by the dispatcher, by outcome."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("dispatch: creating event counter: %w", err)
	}
	attemptCounter, err := meter.Int64Counter("beacon.dispatch.attempts",
		metric.WithDescription("Individual batch send attempts."),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("dispatch: creating attempt counter: %w", err)
	}

	return &Dispatcher{
		config:         config,
		retry:          config.Retry.withDefaults(),
		clock:          clk,
		logger:         logger,
		batchCounter:   batchCounter,
		eventCounter:   eventCounter,
		attemptCounter: attemptCounter,
		dropLog:        rate.Sometimes{First: 1, Interval: time.Minute},
		done:           make(chan struct{}),
	}, nil
}

// Start runs the loop in a new goroutine. It returns false, and does
// nothing, if the loop was already started by Start or Run.
func (d *Dispatcher) Start(ctx context.Context) bool {
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	go d.run(ctx)
	return true
}

// Run runs the loop on the calling goroutine until ctx is cancelled,
// then makes one final drain-and-send bounded by DrainTimeout and
// returns. A second call, or a call after Start, returns immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.run(ctx)
}

// Done is closed when the loop has exited, after the final drain.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns a snapshot of the dispatcher's counters. Safe to call
// concurrently with the loop.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cycles:          d.cycles.Load(),
		Attempts:        d.attempts.Load(),
		BatchesSent:     d.batchesSent.Load(),
		EventsSent:      d.eventsSent.Load(),
		BatchesRejected: d.batchesRejected.Load(),
		EventsRejected:  d.eventsRejected.Load(),
		BatchesDropped:  d.batchesDropped.Load(),
		EventsDropped:   d.eventsDropped.Load(),
		EventsDiscarded: d.eventsDiscarded.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	if d.config.Secret == "" {
		d.logger.Warn("no api secret configured, telemetry will be drained but not sent")
	}

	for {
		// One pending timer per cycle: the next wake-up is scheduled
		// only after the previous batch is resolved, so a slow
		// collector stretches the cycle instead of stacking batches.
		select {
		case <-d.clock.After(d.config.Interval):
		case <-ctx.Done():
			d.drain(nil)
			return
		}

		d.cycles.Add(1)
		if interrupted := d.cycle(ctx); interrupted != nil {
			d.drain(interrupted)
			return
		}
	}
}

// cycle drains the source and delivers the result. It returns the
// drained events when ctx was cancelled before they were resolved, so
// the caller can hand them to the final drain.
func (d *Dispatcher) cycle(ctx context.Context) []event.Event {
	events := d.config.Source.Flush()
	if len(events) == 0 {
		return nil
	}
	if d.config.Secret == "" {
		d.eventsDiscarded.Add(uint64(len(events)))
		d.record(context.Background(), OutcomeDiscarded, len(events))
		return nil
	}

	body, err := d.compose(events)
	if err != nil {
		d.drop(events, "encoding failed", "error", err)
		return nil
	}

	var (
		status  int
		sendErr error
		delay   time.Duration
	)
	for attempt := 0; attempt < d.retry.Limit; attempt++ {
		if attempt > 0 {
			delay = d.retry.Delay(attempt-1, delay)
			select {
			case <-d.clock.After(delay):
			case <-ctx.Done():
				return events
			}
		}

		status, sendErr = d.send(ctx, body)
		if sendErr == nil && d.retry.Terminal(status) {
			d.resolve(events, status)
			return nil
		}
		if ctx.Err() != nil {
			return events
		}
		d.logger.Debug("batch send failed",
			"attempt", attempt+1,
			"limit", d.retry.Limit,
			"status", status,
			"error", sendErr,
		)
	}

	d.drop(events, "retry limit reached",
		"attempts", d.retry.Limit,
		"status", status,
		"error", sendErr,
	)
	return nil
}

// drain makes one best-effort send after shutdown of pending plus
// anything still queued. There is no retry: on failure the batch is
// abandoned.
func (d *Dispatcher) drain(pending []event.Event) {
	events := append(pending, d.config.Source.Flush()...)
	if len(events) == 0 {
		return
	}
	if d.config.Secret == "" {
		d.eventsDiscarded.Add(uint64(len(events)))
		d.record(context.Background(), OutcomeDiscarded, len(events))
		return
	}

	body, err := d.compose(events)
	if err != nil {
		d.drop(events, "drain: encoding failed", "error", err)
		return
	}

	drainContext, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
	defer cancel()

	status, err := d.send(drainContext, body)
	if err != nil || !d.retry.Terminal(status) {
		d.drop(events, "drain: batch send failed, abandoning",
			"status", status,
			"error", err,
		)
		return
	}
	d.resolve(events, status)
}

func (d *Dispatcher) compose(events []event.Event) ([]byte, error) {
	batch := Compose(events, d.config.Project, d.config.Environment, d.clock.Now())
	return signer.Canonicalize(batch)
}

// send makes one attempt with a fresh timestamp and signature, so a
// retry late in the backoff schedule still falls inside the
// collector's freshness window.
func (d *Dispatcher) send(ctx context.Context, body []byte) (int, error) {
	timestamp := event.Timestamp(d.clock.Now())
	delivery := Delivery{
		APIKey:    d.config.APIKey,
		Timestamp: timestamp,
		Signature: signer.Sign(d.config.Secret, timestamp, body),
		Body:      body,
	}

	attemptContext, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	d.attempts.Add(1)
	d.attemptCounter.Add(ctx, 1)
	return d.config.Transport.Send(attemptContext, delivery)
}

func (d *Dispatcher) resolve(events []event.Event, status int) {
	count := len(events)
	if status >= 200 && status < 300 {
		d.batchesSent.Add(1)
		d.eventsSent.Add(uint64(count))
		d.record(context.Background(), OutcomeSent, count)
		return
	}
	d.batchesRejected.Add(1)
	d.eventsRejected.Add(uint64(count))
	d.record(context.Background(), OutcomeRejected, count)
	d.logger.Warn("collector rejected batch",
		"status", status,
		"events", count,
	)
}

func (d *Dispatcher) drop(events []event.Event, message string, args ...any) {
	count := len(events)
	d.batchesDropped.Add(1)
	d.eventsDropped.Add(uint64(count))
	d.record(context.Background(), OutcomeDropped, count)
	d.dropLog.Do(func() {
		d.logger.Warn(message, append(args,
			"events", count,
			"events_dropped_total", d.eventsDropped.Load(),
		)...)
	})
}

func (d *Dispatcher) record(ctx context.Context, outcome string, events int) {
	attributes := metric.WithAttributes(attribute.String("outcome", outcome))
	d.batchCounter.Add(ctx, 1, attributes)
	d.eventCounter.Add(ctx, int64(events), attributes)
}
