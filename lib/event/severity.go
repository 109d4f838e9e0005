// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "log/slog"

// Severity is a coarse importance level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityByType = map[Type]Severity{
	TypeException:       SeverityHigh,
	TypeHTTPException:   SeverityHigh,
	TypeHTTPError:       SeverityMedium,
	TypeHTTPCall:        SeverityLow,
	TypeIncomingRequest: SeverityLow,
	TypeDBQuery:         SeverityMedium,
	TypeDBError:         SeverityHigh,
	TypeLog:             SeverityLow,
	TypeFunctionCall:    SeverityLow,
	TypeSlowFunction:    SeverityMedium,
}

// Classify returns the default severity for an event type. Unknown
// types are SeverityLow.
func Classify(eventType Type) Severity {
	if severity, ok := severityByType[eventType]; ok {
		return severity
	}
	return SeverityLow
}

// LevelFatal is the conventional slog level for unrecoverable errors;
// slog itself stops at LevelError.
const LevelFatal = slog.LevelError + 4

// SeverityForLevel maps a log level to a severity: debug and info are
// low, warnings medium, errors high, fatal and above critical.
func SeverityForLevel(level slog.Level) Severity {
	switch {
	case level >= LevelFatal:
		return SeverityCritical
	case level >= slog.LevelError:
		return SeverityHigh
	case level >= slog.LevelWarn:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
