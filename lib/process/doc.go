// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for Beacon binaries: the
// raw stderr reporting that happens before a structured logger exists
// or after main has given up on it.
package process
