// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"runtime"
	"strings"

	"github.com/beacon-telemetry/beacon/lib/event"
)

// Measure runs fn and reports its duration under name. Runs at or
// above the slow threshold are SLOW_FUNCTION with status WARNING;
// faster ones are FUNCTION_CALL. A panicking fn is still timed, and
// the panic continues.
func (in *Instrumenter) Measure(name string, fn func()) {
	if in.disabled.Performance {
		fn()
		return
	}
	defer in.time(name, callerPackage(2))()
	fn()
}

// Time starts timing name and returns the function that stops it:
//
//	defer instrumenter.Time("checkout.submit")()
func (in *Instrumenter) Time(name string) func() {
	if in.disabled.Performance {
		return func() {}
	}
	return in.time(name, callerPackage(2))
}

func (in *Instrumenter) time(name, module string) func() {
	start := in.clock.Now()
	return func() {
		elapsed := in.clock.Now().Sub(start)
		eventType, status := event.TypeFunctionCall, event.StatusSuccess
		if elapsed >= in.slowThreshold {
			eventType, status = event.TypeSlowFunction, event.StatusWarning
		}
		in.emit(eventType, event.CategoryApplication, status, map[string]any{
			"function_name": name,
			"module":        module,
		}, map[string]float64{"duration_ms": milliseconds(elapsed)})
	}
}

// callerPackage returns the import path of the function skip frames
// above callerPackage's caller.
func callerPackage(skip int) string {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+1, pcs) == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames(pcs).Next()
	return packageOf(frame.Function)
}

// packageOf extracts the import path from a qualified function name
// such as "example.com/app/orders.(*Service).Submit".
func packageOf(function string) string {
	slash := strings.LastIndex(function, "/")
	if dot := strings.Index(function[slash+1:], "."); dot >= 0 {
		return function[:slash+1+dot]
	}
	return function
}
