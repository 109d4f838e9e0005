// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/queue"
	"github.com/beacon-telemetry/beacon/lib/signer"
	"github.com/beacon-telemetry/beacon/lib/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

// fakeTransport replays scripted statuses and signals each call on
// called. A scripted status of 0 is returned as a transport error.
// Once the script runs out every send gets 200.
type fakeTransport struct {
	mu         sync.Mutex
	statuses   []int
	deliveries []Delivery
	called     chan Delivery
}

func newFakeTransport(statuses ...int) *fakeTransport {
	return &fakeTransport{
		statuses: statuses,
		called:   make(chan Delivery, 64),
	}
}

func (f *fakeTransport) Send(_ context.Context, delivery Delivery) (int, error) {
	f.mu.Lock()
	f.deliveries = append(f.deliveries, delivery)
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()

	f.called <- delivery
	if status == 0 {
		return 0, errors.New("connection refused")
	}
	return status, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func testEvent(n int) event.Event {
	return event.Event{
		Meta: event.Meta{TraceID: "trace"},
		Body: event.Body{
			Category: event.CategoryApplication,
			Type:     event.TypeLog,
			Severity: event.SeverityLow,
			Status:   event.StatusSuccess,
			Metrics:  map[string]float64{},
			Data:     map[string]any{"n": n},
		},
	}
}

func newTestDispatcher(t *testing.T, config Config) *Dispatcher {
	t.Helper()
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = testutil.DiscardLogger()
	}
	dispatcher, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dispatcher
}

func decodeBatch(t *testing.T, body []byte) Batch {
	t.Helper()
	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("decoding batch: %v", err)
	}
	return batch
}

func eventNumbers(batch Batch) []int {
	numbers := make([]int, len(batch.Events))
	for i, entry := range batch.Events {
		numbers[i] = int(entry.Body.Data["n"].(float64))
	}
	return numbers
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	source.Push(testEvent(2))
	transport := newFakeTransport(500, 500, 200)

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		APIKey:    "k1",
		Secret:    "s1",
		Retry:     RetryPolicy{Limit: 5, BaseBackoff: time.Second},
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	first := testutil.RequireReceive(t, transport.called, waitTimeout, "first attempt")

	fake.WaitForTimers(1)
	fake.Advance(1 * time.Second)
	second := testutil.RequireReceive(t, transport.called, waitTimeout, "second attempt")

	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)
	third := testutil.RequireReceive(t, transport.called, waitTimeout, "third attempt")

	// The next interval timer is registered only after the batch
	// resolves, so the counters are settled once it appears.
	fake.WaitForTimers(1)
	stats := dispatcher.Stats()
	if stats.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", stats.Attempts)
	}
	if stats.BatchesSent != 1 || stats.EventsSent != 2 {
		t.Errorf("sent = %d batches / %d events, want 1 / 2", stats.BatchesSent, stats.EventsSent)
	}
	if stats.BatchesDropped != 0 {
		t.Errorf("BatchesDropped = %d, want 0", stats.BatchesDropped)
	}

	wantTimestamps := []time.Time{
		epoch.Add(5 * time.Second),
		epoch.Add(6 * time.Second),
		epoch.Add(8 * time.Second),
	}
	for i, delivery := range []Delivery{first, second, third} {
		if delivery.Timestamp != event.Timestamp(wantTimestamps[i]) {
			t.Errorf("attempt %d timestamp = %s, want %s", i+1, delivery.Timestamp, event.Timestamp(wantTimestamps[i]))
		}
		if string(delivery.Body) != string(first.Body) {
			t.Errorf("attempt %d body differs from first attempt", i+1)
		}
		if !signer.Verify("s1", delivery.Timestamp, delivery.Body, delivery.Signature) {
			t.Errorf("attempt %d signature does not verify", i+1)
		}
		if delivery.APIKey != "k1" {
			t.Errorf("attempt %d api key = %q, want k1", i+1, delivery.APIKey)
		}
	}
	if first.Signature == second.Signature {
		t.Error("retry reused the first attempt's signature")
	}

	cancel()
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")
}

func TestRetryLimitDropsBatch(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	transport := newFakeTransport(500, 500, 500)

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		Secret:    "s1",
		Retry:     RetryPolicy{Limit: 3, BaseBackoff: time.Second},
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "attempt 1")
	fake.WaitForTimers(1)
	fake.Advance(1 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "attempt 2")
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "attempt 3")

	// No backoff follows the final attempt: the only pending timer is
	// the next interval, and the drop is already recorded.
	fake.WaitForTimers(1)
	stats := dispatcher.Stats()
	if stats.Attempts != 3 {
		t.Errorf("Attempts = %d, want exactly the retry limit 3", stats.Attempts)
	}
	if stats.BatchesDropped != 1 || stats.EventsDropped != 1 {
		t.Errorf("dropped = %d batches / %d events, want 1 / 1", stats.BatchesDropped, stats.EventsDropped)
	}

	// The dropped batch is gone; the next cycle carries only what was
	// pushed after the drain.
	source.Push(testEvent(2))
	fake.Advance(5 * time.Second)
	next := testutil.RequireReceive(t, transport.called, waitTimeout, "next cycle")
	batch := decodeBatch(t, next.Body)
	if batch.Meta.EventCount != 1 {
		t.Fatalf("next batch event_count = %d, want 1", batch.Meta.EventCount)
	}
	if numbers := eventNumbers(batch); numbers[0] != 2 {
		t.Errorf("next batch carries event %d, want 2", numbers[0])
	}
}

func TestTerminalStatusPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		policy       StatusPolicy
		statuses     []int
		wantAttempts uint64
		wantSent     uint64
		wantRejected uint64
	}{
		{"4xx terminal by default", TerminalBelow500, []int{401}, 1, 0, 1},
		{"4xx retried when strict", TerminalOnSuccess, []int{401, 200}, 2, 1, 0},
		{"transport error retried", TerminalBelow500, []int{0, 202}, 2, 1, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			fake := clock.Fake(epoch)
			source := queue.New[event.Event]()
			source.Push(testEvent(1))
			transport := newFakeTransport(test.statuses...)

			dispatcher := newTestDispatcher(t, Config{
				Source:    source,
				Transport: transport,
				Secret:    "s1",
				Retry:     RetryPolicy{Limit: 5, BaseBackoff: time.Second, Status: test.policy},
				Clock:     fake,
			})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			dispatcher.Start(ctx)

			fake.WaitForTimers(1)
			fake.Advance(5 * time.Second)
			for attempt := range len(test.statuses) {
				testutil.RequireReceive(t, transport.called, waitTimeout, "attempt %d", attempt+1)
				fake.WaitForTimers(1)
				if attempt < len(test.statuses)-1 {
					fake.Advance(time.Second << attempt)
				}
			}

			stats := dispatcher.Stats()
			if stats.Attempts != test.wantAttempts {
				t.Errorf("Attempts = %d, want %d", stats.Attempts, test.wantAttempts)
			}
			if stats.BatchesSent != test.wantSent {
				t.Errorf("BatchesSent = %d, want %d", stats.BatchesSent, test.wantSent)
			}
			if stats.BatchesRejected != test.wantRejected {
				t.Errorf("BatchesRejected = %d, want %d", stats.BatchesRejected, test.wantRejected)
			}
		})
	}
}

func TestNoSecretNeverSends(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	for n := range 3 {
		source.Push(testEvent(n))
	}
	transport := newFakeTransport()

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		APIKey:    "k1",
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	fake.WaitForTimers(1)

	if source.Len() != 0 {
		t.Errorf("queue length = %d after cycle, want 0", source.Len())
	}
	if stats := dispatcher.Stats(); stats.EventsDiscarded != 3 || stats.Attempts != 0 {
		t.Errorf("stats = %+v, want 3 discarded and 0 attempts", stats)
	}

	source.Push(testEvent(4))
	cancel()
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")
	if count := transport.count(); count != 0 {
		t.Errorf("transport called %d times without a secret", count)
	}
	if stats := dispatcher.Stats(); stats.EventsDiscarded != 4 {
		t.Errorf("EventsDiscarded = %d after drain, want 4", stats.EventsDiscarded)
	}
}

func TestDrainOnShutdown(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	source.Push(testEvent(2))
	transport := newFakeTransport()

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		Secret:    "s1",
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	cancel()

	delivery := testutil.RequireReceive(t, transport.called, waitTimeout, "drain send")
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")

	batch := decodeBatch(t, delivery.Body)
	if batch.Meta.EventCount != 2 || len(batch.Events) != 2 {
		t.Errorf("drained batch event_count = %d with %d events, want 2", batch.Meta.EventCount, len(batch.Events))
	}
	if stats := dispatcher.Stats(); stats.BatchesSent != 1 || stats.Cycles != 0 {
		t.Errorf("stats = %+v, want one batch sent and no completed cycles", stats)
	}
}

func TestDrainCarriesInterruptedBatch(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	transport := newFakeTransport(500)

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		Secret:    "s1",
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "first attempt")

	// Cancel while the batch is waiting out its backoff. The drain
	// sends it together with anything pushed since.
	fake.WaitForTimers(1)
	source.Push(testEvent(2))
	cancel()

	delivery := testutil.RequireReceive(t, transport.called, waitTimeout, "drain send")
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")

	numbers := eventNumbers(decodeBatch(t, delivery.Body))
	if len(numbers) != 2 || numbers[0] != 1 || numbers[1] != 2 {
		t.Errorf("drained events = %v, want [1 2]", numbers)
	}
}

func TestDrainFailureAbandonsBatch(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	transport := newFakeTransport(503)

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		Secret:    "s1",
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	fake.WaitForTimers(1)
	cancel()

	testutil.RequireReceive(t, transport.called, waitTimeout, "drain send")
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")

	stats := dispatcher.Stats()
	if stats.Attempts != 1 {
		t.Errorf("Attempts = %d, want a single drain attempt", stats.Attempts)
	}
	if stats.BatchesDropped != 1 {
		t.Errorf("BatchesDropped = %d, want 1", stats.BatchesDropped)
	}
}

func TestEmptyCycleSendsNothing(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	transport := newFakeTransport()
	dispatcher := newTestDispatcher(t, Config{
		Source:    queue.New[event.Event](),
		Transport: transport,
		Secret:    "s1",
		Clock:     fake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	for range 3 {
		fake.WaitForTimers(1)
		fake.Advance(5 * time.Second)
	}
	fake.WaitForTimers(1)
	cancel()
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")

	if count := transport.count(); count != 0 {
		t.Errorf("transport called %d times for empty cycles", count)
	}
	if stats := dispatcher.Stats(); stats.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", stats.Cycles)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(t, Config{
		Source:    queue.New[event.Event](),
		Transport: newFakeTransport(),
		Clock:     clock.Fake(epoch),
	})
	ctx, cancel := context.WithCancel(context.Background())
	if !dispatcher.Start(ctx) {
		t.Fatal("first Start returned false")
	}
	if dispatcher.Start(ctx) {
		t.Error("second Start returned true")
	}
	// Run after Start must return immediately rather than run a
	// second loop.
	dispatcher.Run(ctx)

	cancel()
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")
}

func TestDispatchMetrics(t *testing.T) {
	t.Parallel()

	provider, reader := testutil.NewMeterProvider()
	fake := clock.Fake(epoch)
	source := queue.New[event.Event]()
	source.Push(testEvent(1))
	source.Push(testEvent(2))
	transport := newFakeTransport(500, 200)

	dispatcher := newTestDispatcher(t, Config{
		Source:    source,
		Transport: transport,
		Secret:    "s1",
		Retry:     RetryPolicy{Limit: 1},
		Clock:     fake,
		Meter:     provider.Meter("test"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "dropped batch")
	fake.WaitForTimers(1)

	source.Push(testEvent(3))
	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, transport.called, waitTimeout, "sent batch")
	fake.WaitForTimers(1)
	cancel()
	testutil.RequireClosed(t, dispatcher.Done(), waitTimeout, "dispatcher exit")

	outcome := func(value string) attribute.KeyValue { return attribute.String("outcome", value) }
	if got := testutil.CounterValue(t, reader, "beacon.dispatch.batches", outcome(OutcomeDropped)); got != 1 {
		t.Errorf("dropped batches = %d, want 1", got)
	}
	if got := testutil.CounterValue(t, reader, "beacon.dispatch.events", outcome(OutcomeDropped)); got != 2 {
		t.Errorf("dropped events = %d, want 2", got)
	}
	if got := testutil.CounterValue(t, reader, "beacon.dispatch.batches", outcome(OutcomeSent)); got != 1 {
		t.Errorf("sent batches = %d, want 1", got)
	}
	if got := testutil.CounterValue(t, reader, "beacon.dispatch.attempts"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	valid := Config{
		Source:    queue.New[event.Event](),
		Transport: newFakeTransport(),
		Interval:  time.Second,
	}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing source", func(c *Config) { c.Source = nil }},
		{"missing transport", func(c *Config) { c.Transport = nil }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"negative retry limit", func(c *Config) { c.Retry.Limit = -1 }},
		{"negative backoff", func(c *Config) { c.Retry.BaseBackoff = -time.Second }},
		{"unknown status policy", func(c *Config) { c.Retry.Status = "sometimes" }},
		{"negative drain timeout", func(c *Config) { c.DrainTimeout = -time.Second }},
	}
	for _, test := range tests {
		config := valid
		test.modify(&config)
		if _, err := New(config); err == nil {
			t.Errorf("%s: New succeeded, want error", test.name)
		}
	}
	if _, err := New(valid); err != nil {
		t.Errorf("valid config: %v", err)
	}
}
