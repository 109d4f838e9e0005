// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/google/uuid"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/identity"
	"github.com/beacon-telemetry/beacon/lib/version"
)

var (
	// ErrNonFiniteMetric is returned by Build when a metric is NaN or
	// infinite. JSON has no representation for either, and one such
	// value would make the whole batch unencodable.
	ErrNonFiniteMetric = errors.New("event: metric value is not finite")

	// ErrUnencodableData is returned by Build when the data map cannot
	// be JSON-encoded (channels, functions, cyclic values).
	ErrUnencodableData = errors.New("event: data is not JSON-encodable")
)

// IdentitySource supplies the process snapshot. *identity.Resolver
// implements it.
type IdentitySource interface {
	Collect(apiKey string) identity.Snapshot
}

// BuilderConfig holds the values stamped onto every event.
type BuilderConfig struct {
	APIKey      string
	Project     string
	Environment string

	// Identity is required.
	Identity IdentitySource

	// Clock provides event timestamps. Nil means clock.Real().
	Clock clock.Clock
}

// Builder assembles events. It holds no mutable state and is safe for
// concurrent use.
type Builder struct {
	config BuilderConfig
}

// NewBuilder returns a Builder. It panics if config.Identity is nil,
// which is a wiring error rather than a runtime condition.
func NewBuilder(config BuilderConfig) *Builder {
	if config.Identity == nil {
		panic("event: BuilderConfig.Identity is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Builder{config: config}
}

// Build assembles an event. Apart from the timestamp, trace id, and
// the cached identity, the result depends only on the arguments. Nil
// data and metrics become empty maps so the wire form always carries
// both objects.
func (b *Builder) Build(eventType Type, category Category, status Status, data map[string]any, metrics map[string]float64) (Event, error) {
	for name, value := range metrics {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return Event{}, fmt.Errorf("%w: %s=%v", ErrNonFiniteMetric, name, value)
		}
	}
	if len(data) > 0 {
		if _, err := json.Marshal(data); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrUnencodableData, err)
		}
	}

	copiedMetrics := make(map[string]float64, len(metrics))
	maps.Copy(copiedMetrics, metrics)
	copiedData := make(map[string]any, len(data))
	maps.Copy(copiedData, data)

	return Event{
		Meta: Meta{
			SDKVersion:    version.SDK(),
			SchemaVersion: version.SchemaVersion,
			Timestamp:     Timestamp(b.config.Clock.Now()),
			TraceID:       uuid.NewString(),
			Project:       b.config.Project,
			Environment:   b.config.Environment,
		},
		Identity: b.config.Identity.Collect(b.config.APIKey),
		Body: Body{
			Category: category,
			Type:     eventType,
			Severity: Classify(eventType),
			Status:   status,
			Metrics:  copiedMetrics,
			Data:     copiedData,
		},
	}, nil
}
