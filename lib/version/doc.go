// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the beacon
// agent and its tools.
//
// The agent stamps two versions onto every event and batch: the SDK
// version (which build of the agent produced the record) and the
// schema version (which envelope layout the collector should expect).
// The SDK version is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/beacon-telemetry/beacon/lib/version.Version=2.1.0"
//
// The schema version is a constant: it changes only when the wire
// envelope changes, never per build.
package version
