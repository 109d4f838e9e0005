// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/beacon-telemetry/beacon/lib/event"
)

// CapturePanic reports a panic in progress as an EXCEPTION event and
// re-panics with the same value. It must be deferred directly:
//
//	defer instrumenter.CapturePanic()
//
// When there is no panic it does nothing.
func (in *Instrumenter) CapturePanic() {
	if in.disabled.Exceptions {
		return
	}
	if recovered := recover(); recovered != nil {
		in.reportPanic(recovered, nil)
		panic(recovered)
	}
}

// Go runs fn in a new goroutine with CapturePanic deferred, so a crash
// in background work is reported before it takes the process down.
func (in *Instrumenter) Go(fn func()) {
	go func() {
		defer in.CapturePanic()
		fn()
	}()
}

// RecordError reports an error the program handled itself as an
// EXCEPTION event with handled=true.
func (in *Instrumenter) RecordError(err error) {
	if err == nil || in.disabled.Exceptions {
		return
	}
	data := map[string]any{
		"error_type": fmt.Sprintf("%T", err),
		"message":    err.Error(),
		"handled":    true,
	}
	addCallSite(data, 2)
	in.emit(event.TypeException, event.CategoryApplication, event.StatusFailure, data, nil)
}

// reportPanic must be called from the deferred function that
// recovered, so the panicking frame is still on the stack.
func (in *Instrumenter) reportPanic(recovered any, extra map[string]any) {
	data := map[string]any{
		"error_type": panicType(recovered),
		"message":    panicMessage(recovered),
		"stacktrace": string(debug.Stack()),
		"handled":    false,
	}
	addPanicSite(data)
	for key, value := range extra {
		data[key] = value
	}
	in.emit(event.TypeException, event.CategoryApplication, event.StatusFailure, data, nil)
}

func panicType(recovered any) string {
	if err, ok := recovered.(error); ok {
		return fmt.Sprintf("%T", err)
	}
	return fmt.Sprintf("panic(%T)", recovered)
}

func panicMessage(recovered any) string {
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(recovered)
}

// addPanicSite records the frame that panicked: the first frame after
// runtime.gopanic that is not itself in the runtime.
func addPanicSite(data map[string]any) {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(1, pcs)])
	afterPanic := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			afterPanic = true
		} else if afterPanic && !strings.HasPrefix(frame.Function, "runtime.") {
			setFrame(data, frame)
			return
		}
		if !more {
			return
		}
	}
}

func addCallSite(data map[string]any, skip int) {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+1, pcs) == 0 {
		return
	}
	frame, _ := runtime.CallersFrames(pcs).Next()
	setFrame(data, frame)
}

func setFrame(data map[string]any, frame runtime.Frame) {
	data["file"] = frame.File
	data["line"] = frame.Line
	data["function"] = frame.Function
}
