// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"time"

	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/version"
)

// Batch is the request body of one delivery.
type Batch struct {
	Meta   BatchMeta     `json:"batch_meta"`
	Events []event.Event `json:"events"`
}

// BatchMeta describes a batch. EventCount always equals len(Events).
type BatchMeta struct {
	SDKVersion    string `json:"sdk_version"`
	SchemaVersion string `json:"schema_version"`
	SentAt        string `json:"sent_at"`
	EventCount    int    `json:"event_count"`
	Project       string `json:"project"`
	Environment   string `json:"environment"`
}

// Compose wraps events, in order, in a batch envelope stamped at
// sentAt.
func Compose(events []event.Event, project, environment string, sentAt time.Time) Batch {
	if events == nil {
		events = []event.Event{}
	}
	return Batch{
		Meta: BatchMeta{
			SDKVersion:    version.SDK(),
			SchemaVersion: version.SchemaVersion,
			SentAt:        event.Timestamp(sentAt),
			EventCount:    len(events),
			Project:       project,
			Environment:   environment,
		},
		Events: events,
	}
}
