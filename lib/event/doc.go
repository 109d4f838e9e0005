// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the canonical telemetry event envelope and the
// builder that assembles it.
//
// An event has three parts:
//
//   - meta: which SDK and schema produced it, when, a unique trace id,
//     and the project/environment it belongs to
//   - identity: the process snapshot from package identity, identical
//     for every event an agent emits
//   - event (the Body): what happened, as a category, type, severity,
//     status, numeric metrics, and free-form descriptive data
//
// Events are values. The builder copies the caller's data and metrics
// maps, so an event is never affected by later mutation of the inputs
// and can be handed to the ingestion queue without further locking.
//
// Severity is derived from the event type by [Classify]. Callers that
// know better (log capture maps the log level instead) override it
// with [Event.WithSeverity].
package event
