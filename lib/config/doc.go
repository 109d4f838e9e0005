// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads beacon agent configuration.
//
// Configuration comes from at most one file, named by the
// BEACON_CONFIG environment variable (via [Load]) or passed
// explicitly (via [LoadFile]). There is no discovery and no search
// path. Files ending in .json or .jsonc are parsed as JSON with
// comments and trailing commas allowed; anything else is YAML.
//
// Three environment variables override the file, because these are
// the values deployments inject as secrets rather than commit:
// BEACON_API_KEY, BEACON_API_SECRET, and BEACON_ENDPOINT. String
// fields also expand ${VAR} and ${VAR:-default} references after
// loading.
//
// A file may carry per-environment sections under "environments".
// The section whose name matches the effective environment is applied
// over the base values:
//
//	endpoint: https://collector.example.com/ingest
//	environment: staging
//	environments:
//	  production:
//	    flush_interval: 10s
//	    status_policy: success-only
//
// Durations accept Go duration strings ("1.5s", "250ms") or bare
// numbers of seconds.
//
// Key exports:
//
//   - [Config] -- the agent's complete configuration
//   - [Default] -- the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- range and shape checks
package config
