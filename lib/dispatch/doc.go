// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the agent's delivery loop: one goroutine that
// periodically drains the ingestion queue, wraps the drained events in
// a batch envelope, signs it, and POSTs it to the collector with
// bounded retry.
//
// Each cycle walks the same states:
//
//	IDLE ──interval──▶ DRAIN ──empty──▶ IDLE
//	                     │
//	                     ▼
//	                  COMPOSE ─▶ SIGN ─▶ SEND ──terminal status──▶ IDLE
//	                                     │  ▲
//	                        retryable    ▼  │
//	                                   BACKOFF
//	                                     │
//	                         limit reached ──▶ DROP ─▶ IDLE
//
// A status is terminal according to the configured [StatusPolicy]; by
// default anything below 500, including 4xx rejections, ends the
// cycle. Transport errors and other statuses are retried after
// base × 2^attempt (attempt counted from 0), optionally jittered. A
// batch that exhausts its attempts is dropped and never revisited:
// the next cycle sees only events pushed after the drain.
//
// The queue's lock is held only for the drain swap. Composition,
// signing, network waits, and backoff sleeps all happen outside it,
// so a hung collector never stalls producers.
//
// Nothing here returns an error to the host. Failures are logged
// (drop warnings are rate-limited), counted in [Stats], and recorded
// on OpenTelemetry counters.
//
// When the Run context is cancelled the loop makes one final
// best-effort drain-and-send, bounded by DrainTimeout, then exits and
// closes Done.
package dispatch
