// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewMeterProvider returns an SDK meter provider backed by a manual
// reader, for asserting on counters a component records.
func NewMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// CounterValue collects from reader and sums the int64 counter name
// over every data point carrying all of attributes. A counter that
// has not been recorded yet reads as zero.
func CounterValue(t TB, reader sdkmetric.Reader, name string, attributes ...attribute.KeyValue) int64 {
	t.Helper()

	var collected metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &collected); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}

	var total int64
	for _, scope := range collected.ScopeMetrics {
		for _, recorded := range scope.Metrics {
			if recorded.Name != name {
				continue
			}
			sum, ok := recorded.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want metricdata.Sum[int64]", name, recorded.Data)
			}
			for _, point := range sum.DataPoints {
				if hasAttributes(point.Attributes, attributes) {
					total += point.Value
				}
			}
		}
	}
	return total
}

func hasAttributes(set attribute.Set, want []attribute.KeyValue) bool {
	for _, pair := range want {
		value, ok := set.Value(pair.Key)
		if !ok || value.Emit() != pair.Value.Emit() {
			return false
		}
	}
	return true
}

// GaugeValue collects from reader and returns the last value of the
// int64 gauge name. ok is false when the gauge reported no point.
func GaugeValue(t TB, reader sdkmetric.Reader, name string) (value int64, ok bool) {
	t.Helper()

	var collected metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &collected); err != nil {
		t.Fatalf("collecting metrics: %v", err)
	}
	for _, scope := range collected.ScopeMetrics {
		for _, recorded := range scope.Metrics {
			if recorded.Name != name {
				continue
			}
			gauge, isGauge := recorded.Data.(metricdata.Gauge[int64])
			if !isGauge {
				t.Fatalf("metric %s is %T, want metricdata.Gauge[int64]", name, recorded.Data)
			}
			for _, point := range gauge.DataPoints {
				value, ok = point.Value, true
			}
		}
	}
	return value, ok
}
