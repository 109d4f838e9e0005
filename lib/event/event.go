// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"time"

	"github.com/beacon-telemetry/beacon/lib/identity"
)

// Category is the coarse subsystem an event describes.
type Category string

const (
	CategoryApplication Category = "APPLICATION"
	CategoryNetwork     Category = "NETWORK"
	CategoryDatabase    Category = "DATABASE"
)

// Status is the outcome of the occurrence an event describes.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusWarning Status = "WARNING"
)

// Type names the kind of occurrence. The set is open: instrumentation
// may emit types not listed here, and they classify as SeverityLow.
type Type string

const (
	TypeHTTPCall        Type = "HTTP_CALL"
	TypeHTTPError       Type = "HTTP_ERROR"
	TypeHTTPException   Type = "HTTP_EXCEPTION"
	TypeIncomingRequest Type = "INCOMING_REQUEST"
	TypeException       Type = "EXCEPTION"
	TypeLog             Type = "LOG"
	TypeDBQuery         Type = "DB_QUERY"
	TypeDBError         Type = "DB_ERROR"
	TypeFunctionCall    Type = "FUNCTION_CALL"
	TypeSlowFunction    Type = "SLOW_FUNCTION"
)

// Event is one observed occurrence, ready for the ingestion queue.
type Event struct {
	Meta     Meta              `json:"meta"`
	Identity identity.Snapshot `json:"identity"`
	Body     Body              `json:"event"`
}

// Meta describes where and when an event was produced.
type Meta struct {
	SDKVersion    string `json:"sdk_version"`
	SchemaVersion string `json:"schema_version"`
	// Timestamp is RFC 3339 with nanoseconds, always UTC.
	Timestamp   string `json:"timestamp"`
	TraceID     string `json:"trace_id"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
}

// Body is what happened.
type Body struct {
	Category Category           `json:"category"`
	Type     Type               `json:"type"`
	Severity Severity           `json:"severity"`
	Status   Status             `json:"status"`
	Metrics  map[string]float64 `json:"metrics"`
	Data     map[string]any     `json:"data"`
}

// WithSeverity returns a copy of e with its severity replaced.
func (e Event) WithSeverity(severity Severity) Event {
	e.Body.Severity = severity
	return e
}

// Timestamp formats t the way every beacon wire timestamp is written:
// UTC, RFC 3339 with nanosecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
