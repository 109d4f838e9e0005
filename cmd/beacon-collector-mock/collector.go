// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/dispatch"
	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/netutil"
	"github.com/beacon-telemetry/beacon/lib/signer"
)

// collectorConfig parameterizes a collector.
type collectorConfig struct {
	// Secrets maps API keys to signing secrets.
	Secrets map[string]string

	// MaxSkew bounds X-TIMESTAMP drift. Zero means
	// signer.DefaultMaxSkew; negative disables the check.
	MaxSkew time.Duration

	// FailStatus, when nonzero, is returned for the first FailCount
	// verified batches instead of accepting them.
	FailStatus int
	FailCount  int

	Clock  clock.Clock
	Logger *slog.Logger
}

// collector stores verified batches in memory for inspection.
type collector struct {
	config    collectorConfig
	verifier  *signer.Verifier
	startedAt time.Time

	mu     sync.Mutex
	events []storedEvent

	accepted atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64

	// subscriberMu protects subscribers. Ingest fans out under RLock;
	// the subscribe handler adds and removes itself under Lock.
	subscriberMu sync.RWMutex
	subscribers  []*subscriber
}

// storedEvent is one received event with its delivery context.
type storedEvent struct {
	APIKey     string      `json:"api_key"`
	ReceivedAt string      `json:"received_at"`
	Event      event.Event `json:"event"`
}

// subscriber is a connected /subscribe stream. Each verified batch is
// pushed on batches; a full channel drops the batch for that client.
type subscriber struct {
	batches chan subscribeFrame
}

// subscribeFrame is one line of the /subscribe stream.
type subscribeFrame struct {
	APIKey string         `json:"api_key"`
	Batch  dispatch.Batch `json:"batch"`
}

// statusResponse is served by /status.
type statusResponse struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	BatchesAccepted uint64  `json:"batches_accepted"`
	BatchesRejected uint64  `json:"batches_rejected"`
	BatchesFailed   uint64  `json:"batches_failed"`
	StoredEvents    int     `json:"stored_events"`
	Subscribers     int     `json:"subscribers"`
}

// eventQueryResponse is served by /events.
type eventQueryResponse struct {
	Events []storedEvent `json:"events"`
	Count  int           `json:"count"`
}

func newCollector(config collectorConfig) *collector {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &collector{
		config: config,
		verifier: &signer.Verifier{
			Lookup:  signer.StaticSecrets(config.Secrets),
			MaxSkew: config.MaxSkew,
			Clock:   config.Clock,
			Logger:  config.Logger,
		},
		startedAt: config.Clock.Now(),
	}
}

// handler routes the collector's endpoints:
//
//	POST /ingest     signed batch intake
//	GET  /status     counters
//	GET  /events     stored events, filtered by query parameters
//	GET  /subscribe  newline-delimited JSON stream of incoming batches
func (c *collector) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /ingest", c.countRejections(c.verifier.Middleware(http.HandlerFunc(c.handleIngest))))
	mux.HandleFunc("GET /status", c.handleStatus)
	mux.HandleFunc("GET /events", c.handleEvents)
	mux.HandleFunc("GET /subscribe", c.handleSubscribe)
	return mux
}

// countRejections counts the requests the verifier refused.
func (c *collector) countRejections(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		next.ServeHTTP(recorder, request)
		switch recorder.status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusRequestEntityTooLarge:
			c.rejected.Add(1)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (c *collector) handleIngest(writer http.ResponseWriter, request *http.Request) {
	apiKey := signer.APIKey(request.Context())

	body, err := netutil.ReadBody(request.Body, netutil.MaxBatchSize)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	var batch dispatch.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(writer, "invalid batch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if batch.Meta.EventCount != len(batch.Events) {
		http.Error(writer, fmt.Sprintf("event_count %d does not match %d events",
			batch.Meta.EventCount, len(batch.Events)), http.StatusBadRequest)
		return
	}

	receivedAt := event.Timestamp(c.config.Clock.Now())
	c.mu.Lock()
	if c.config.FailStatus != 0 && c.failed.Load() < uint64(c.config.FailCount) {
		c.failed.Add(1)
		c.mu.Unlock()
		c.config.Logger.Info("failing batch on request",
			"api_key", apiKey,
			"status", c.config.FailStatus,
			"event_count", len(batch.Events),
		)
		http.Error(writer, "injected failure", c.config.FailStatus)
		return
	}

	for _, entry := range batch.Events {
		c.events = append(c.events, storedEvent{APIKey: apiKey, ReceivedAt: receivedAt, Event: entry})
	}
	c.mu.Unlock()
	c.accepted.Add(1)

	types := make([]string, 0, len(batch.Events))
	for _, entry := range batch.Events {
		types = append(types, string(entry.Body.Type))
	}
	c.config.Logger.Info("batch accepted",
		"api_key", apiKey,
		"project", batch.Meta.Project,
		"environment", batch.Meta.Environment,
		"sdk_version", batch.Meta.SDKVersion,
		"event_count", batch.Meta.EventCount,
		"types", strings.Join(types, ","),
	)

	c.notifySubscribers(subscribeFrame{APIKey: apiKey, Batch: batch})

	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(map[string]int{"accepted": len(batch.Events)})
}

func (c *collector) handleStatus(writer http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	stored := len(c.events)
	c.mu.Unlock()
	c.subscriberMu.RLock()
	subscribers := len(c.subscribers)
	c.subscriberMu.RUnlock()

	writeJSON(writer, &statusResponse{
		UptimeSeconds:   c.config.Clock.Now().Sub(c.startedAt).Seconds(),
		BatchesAccepted: c.accepted.Load(),
		BatchesRejected: c.rejected.Load(),
		BatchesFailed:   c.failed.Load(),
		StoredEvents:    stored,
		Subscribers:     subscribers,
	})
}

// handleEvents filters stored events. Every query parameter is
// optional: api_key, type, severity, status, and contains (a substring
// of the event's data rendered as JSON).
func (c *collector) handleEvents(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	c.mu.Lock()
	all := make([]storedEvent, len(c.events))
	copy(all, c.events)
	c.mu.Unlock()

	matched := []storedEvent{}
	for _, stored := range all {
		if value := query.Get("api_key"); value != "" && stored.APIKey != value {
			continue
		}
		if value := query.Get("type"); value != "" && string(stored.Event.Body.Type) != value {
			continue
		}
		if value := query.Get("severity"); value != "" && string(stored.Event.Body.Severity) != value {
			continue
		}
		if value := query.Get("status"); value != "" && string(stored.Event.Body.Status) != value {
			continue
		}
		if value := query.Get("contains"); value != "" {
			data, _ := json.Marshal(stored.Event.Body.Data)
			if !strings.Contains(string(data), value) {
				continue
			}
		}
		matched = append(matched, stored)
	}

	writeJSON(writer, &eventQueryResponse{Events: matched, Count: len(matched)})
}

// notifySubscribers pushes a frame to every connected subscriber
// without blocking.
func (c *collector) notifySubscribers(frame subscribeFrame) {
	c.subscriberMu.RLock()
	defer c.subscriberMu.RUnlock()

	for _, client := range c.subscribers {
		select {
		case client.batches <- frame:
		default:
		}
	}
}

// handleSubscribe streams each verified batch as one JSON line until
// the client disconnects. The subscriber is registered before the
// response headers are flushed, so a client that has seen the headers
// misses nothing.
func (c *collector) handleSubscribe(writer http.ResponseWriter, request *http.Request) {
	client := &subscriber{batches: make(chan subscribeFrame, 64)}

	c.subscriberMu.Lock()
	c.subscribers = append(c.subscribers, client)
	c.subscriberMu.Unlock()

	defer func() {
		c.subscriberMu.Lock()
		for i, existing := range c.subscribers {
			if existing == client {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				break
			}
		}
		c.subscriberMu.Unlock()
	}()

	controller := http.NewResponseController(writer)
	writer.Header().Set("Content-Type", "application/x-ndjson")
	writer.WriteHeader(http.StatusOK)
	if err := controller.Flush(); err != nil {
		return
	}

	encoder := json.NewEncoder(writer)
	for {
		select {
		case frame := <-client.batches:
			if err := encoder.Encode(frame); err != nil {
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		case <-request.Context().Done():
			return
		}
	}
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}
