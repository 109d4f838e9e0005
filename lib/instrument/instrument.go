// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"log/slog"
	"time"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/event"
)

// DefaultSlowThreshold is the duration at or above which a timed
// function is reported as SLOW_FUNCTION.
const DefaultSlowThreshold = 500 * time.Millisecond

// Sink receives events. The agent implements it; Build is expected to
// account for its own failures, so sources simply skip the push when
// Build returns an error.
type Sink interface {
	Build(eventType event.Type, category event.Category, status event.Status, data map[string]any, metrics map[string]float64) (event.Event, error)
	Push(event.Event)
}

// Config parameterizes an Instrumenter.
type Config struct {
	// CollectorEndpoint is the agent's own collector URL. Outgoing
	// requests to the same host are never reported, so the agent does
	// not observe its own deliveries.
	CollectorEndpoint string

	// SlowThreshold defaults to DefaultSlowThreshold.
	SlowThreshold time.Duration

	// LogLevel is the minimum level LogHandler forwards. Defaults to
	// slog.LevelWarn.
	LogLevel slog.Leveler

	// Clock measures durations. Nil means clock.Real().
	Clock clock.Clock

	// Disabled turns the selected sources into pass-throughs that
	// report nothing. The zero value enables every source.
	Disabled Sources
}

// Sources selects instrumentation sources.
type Sources struct {
	HTTP        bool
	Requests    bool
	Logging     bool
	Exceptions  bool
	Performance bool
	Database    bool
}

// Instrumenter creates instrumentation sources that report to one
// sink. Safe for concurrent use.
type Instrumenter struct {
	sink          Sink
	endpoint      string
	slowThreshold time.Duration
	logLevel      slog.Leveler
	clock         clock.Clock
	disabled      Sources
}

// New returns an Instrumenter reporting to sink.
func New(sink Sink, config Config) *Instrumenter {
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = DefaultSlowThreshold
	}
	if config.LogLevel == nil {
		config.LogLevel = slog.LevelWarn
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Instrumenter{
		sink:          sink,
		endpoint:      config.CollectorEndpoint,
		slowThreshold: config.SlowThreshold,
		logLevel:      config.LogLevel,
		clock:         config.Clock,
		disabled:      config.Disabled,
	}
}

func (in *Instrumenter) emit(eventType event.Type, category event.Category, status event.Status, data map[string]any, metrics map[string]float64) {
	built, err := in.sink.Build(eventType, category, status, data, metrics)
	if err != nil {
		return
	}
	in.sink.Push(built)
}

func (in *Instrumenter) since(start time.Time) map[string]float64 {
	return map[string]float64{"duration_ms": milliseconds(in.clock.Now().Sub(start))}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
