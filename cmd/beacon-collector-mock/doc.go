// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon-collector-mock is a stand-in collector for developing and
// testing programs that embed the Beacon agent. It verifies each
// batch exactly as a production collector does (API key, HMAC
// signature over the timestamp and canonical body, timestamp
// freshness), keeps accepted events in memory, and exposes them for
// inspection.
//
//	beacon-collector-mock --listen 127.0.0.1:8000 --key k1:s1
//	BEACON_ENDPOINT=http://127.0.0.1:8000/ingest BEACON_API_KEY=k1 BEACON_API_SECRET=s1 ./my-service
//
// Endpoints:
//   - POST /ingest: signed batch intake. Unverifiable requests get 401
//     (or 400 for a malformed timestamp) and are counted as rejected.
//   - GET /status: uptime and batch counters.
//   - GET /events: stored events, filtered by the optional api_key,
//     type, severity, status, and contains query parameters.
//   - GET /subscribe: a newline-delimited JSON stream carrying each
//     accepted batch as it arrives.
//
// --fail-status and --fail-count answer the first batches with an
// error status instead of accepting them, for watching an agent's
// retry and status policy at work.
//
// Logs go to stderr as text on a terminal and as JSON otherwise.
package main
