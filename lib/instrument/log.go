// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"

	"github.com/beacon-telemetry/beacon/lib/event"
)

// LogHandler returns an slog.Handler that reports records at or above
// the configured level as LOG events and passes every record next
// would accept on to next. A nil next makes it a pure sink.
//
// The event's severity comes from the record's level rather than the
// LOG type's default, and records at ERROR and above carry status
// FAILURE.
//
//	logger := slog.New(instrumenter.LogHandler(slog.NewJSONHandler(os.Stderr, nil)))
func (in *Instrumenter) LogHandler(next slog.Handler) slog.Handler {
	if in.disabled.Logging {
		if next == nil {
			return slog.DiscardHandler
		}
		return next
	}
	return &logHandler{in: in, next: next}
}

type logHandler struct {
	in   *Instrumenter
	next slog.Handler

	// attrs are pre-bound attributes, already flattened with their
	// group prefix. prefix is the open group path for later attrs.
	attrs  map[string]any
	prefix string
}

func (h *logHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.in.logLevel.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *logHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.in.logLevel.Level() {
		h.report(record)
	}
	if h.next != nil && h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for _, attr := range attrs {
		flatten(clone.attrs, clone.prefix, attr)
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return clone
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.prefix = h.prefix + name + "."
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return clone
}

func (h *logHandler) clone() *logHandler {
	attrs := make(map[string]any, len(h.attrs))
	for key, value := range h.attrs {
		attrs[key] = value
	}
	return &logHandler{in: h.in, next: h.next, attrs: attrs, prefix: h.prefix}
}

func (h *logHandler) report(record slog.Record) {
	attributes := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for key, value := range h.attrs {
		attributes[key] = value
	}
	record.Attrs(func(attr slog.Attr) bool {
		flatten(attributes, h.prefix, attr)
		return true
	})

	data := map[string]any{
		"level":      record.Level.String(),
		"message":    record.Message,
		"attributes": attributes,
	}
	if record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		data["file"] = frame.File
		data["line"] = frame.Line
		data["function"] = frame.Function
	}

	status := event.StatusSuccess
	if record.Level >= slog.LevelError {
		status = event.StatusFailure
	}
	built, err := h.in.sink.Build(event.TypeLog, event.CategoryApplication, status, data, nil)
	if err != nil {
		return
	}
	h.in.sink.Push(built.WithSeverity(event.SeverityForLevel(record.Level)))
}

// flatten writes attr into out under dotted keys, converting values to
// forms that always JSON-encode.
func flatten(out map[string]any, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range value.Group() {
			flatten(out, groupPrefix, member)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	out[prefix+attr.Key] = plainValue(value)
}

func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindBool:
		return value.Bool()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		number := value.Float64()
		if math.IsNaN(number) || math.IsInf(number, 0) {
			return fmt.Sprint(number)
		}
		return number
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return event.Timestamp(value.Time())
	}
	if list, ok := value.Any().([]string); ok {
		return slices.Clone(list)
	}
	// fmt recovers from panicking Error and String methods.
	return fmt.Sprint(value.Any())
}
