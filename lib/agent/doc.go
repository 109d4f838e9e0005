// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the in-process telemetry agent a host program
// embeds.
//
// An [Agent] owns one of everything the pipeline needs: the identity
// resolver, the event builder, the ingestion queue, the dispatcher
// that drains it, and the instrumentation sources that feed it. There
// is no package-level state; a process may run several agents side by
// side, each with its own credentials and collector.
//
//	cfg, err := config.Load()
//	...
//	beacon, err := agent.New(cfg, agent.Options{Logger: logger})
//	...
//	beacon.Start(ctx)
//	defer beacon.Shutdown(context.Background())
//
//	client := &http.Client{Transport: beacon.RoundTripper(nil)}
//	mux := beacon.Middleware(router)
//	beacon.Emit(event.TypeLog, event.CategoryApplication, event.StatusSuccess,
//		map[string]any{"message": "cache warmed"}, nil)
//
// The agent must never break its host. [Agent.Emit] and
// [Agent.EmitEvent] recover from any panic and swallow every error,
// counting each as a fault on the beacon.agent.faults counter and in
// [Stats], with a rate-limited debug log line. Instrumentation
// sources funnel through the same boundary.
//
// Telemetry about the agent itself is recorded through OpenTelemetry
// metrics on the configured MeterProvider (the global provider by
// default):
//
//   - beacon.agent.faults{reason}: swallowed failures
//   - beacon.agent.events.pushed: events accepted into the queue
//   - beacon.agent.queue.depth: events waiting for the next cycle
//   - beacon.dispatch.batches{outcome}, beacon.dispatch.events{outcome},
//     beacon.dispatch.attempts: delivery results
package agent
