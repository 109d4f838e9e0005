// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for beacon packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests never hang on a goroutine that failed to
// signal. They are the only place tests use real wall-clock timeouts;
// everything else runs on clock.Fake.
//
// [DiscardLogger] returns a logger that drops all records, for
// components that require a non-nil *slog.Logger.
//
// [NewMeterProvider], [CounterValue], and [GaugeValue] read back OpenTelemetry
// instruments through a manual reader.
package testutil
