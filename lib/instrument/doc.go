// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrument turns activity in the host program into telemetry
// events, using Go's own extension points rather than patching
// anything:
//
//   - [Instrumenter.RoundTripper] wraps an http.RoundTripper and reports
//     outgoing calls as HTTP_CALL, HTTP_ERROR, or HTTP_EXCEPTION.
//     Requests to the collector itself pass through unobserved.
//   - [Instrumenter.Middleware] wraps an http.Handler and reports each
//     request as INCOMING_REQUEST.
//   - [Instrumenter.LogHandler] is an slog.Handler that forwards records
//     at or above a level as LOG events, with severity taken from the
//     record's level.
//   - [Instrumenter.CapturePanic] and [Instrumenter.Go] report panics as
//     EXCEPTION events and re-panic.
//   - [Instrumenter.Measure] and [Instrumenter.Time] report function
//     timing as FUNCTION_CALL, or SLOW_FUNCTION past a threshold.
//   - [Instrumenter.DB] wraps a *sql.DB and reports statements as
//     DB_QUERY or DB_ERROR.
//
// Every source reaches the agent through the two-call [Sink]
// interface (build an event, push it). A source never fails the
// operation it observes: a build error is the sink's to count, and
// the observed call's own result is always returned unchanged.
package instrument
