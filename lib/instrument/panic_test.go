// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beacon-telemetry/beacon/lib/event"
)

var errLedger = errors.New("ledger corrupted")

func panicsWithLedger() {
	panic(errLedger)
}

func TestCapturePanicReportsAndRepanics(t *testing.T) {
	t.Parallel()

	instrumenter, sink, _ := newTestInstrumenter(Config{})

	func() {
		defer func() {
			if recovered := recover(); recovered != errLedger {
				t.Errorf("recovered %v, want the original error", recovered)
			}
		}()
		defer instrumenter.CapturePanic()
		panicsWithLedger()
	}()

	recorded := sink.only(t)
	if recorded.Body.Type != event.TypeException || recorded.Body.Severity != event.SeverityHigh {
		t.Errorf("event = %s/%s, want EXCEPTION/HIGH", recorded.Body.Type, recorded.Body.Severity)
	}
	data := recorded.Body.Data
	if data["error_type"] != "*errors.errorString" {
		t.Errorf("error_type = %v", data["error_type"])
	}
	if data["message"] != "ledger corrupted" || data["handled"] != false {
		t.Errorf("data = %v", data)
	}
	if function, _ := data["function"].(string); !strings.HasSuffix(function, ".panicsWithLedger") {
		t.Errorf("function = %q, want the panicking function", function)
	}
	if stack, _ := data["stacktrace"].(string); !strings.Contains(stack, "panicsWithLedger") {
		t.Error("stacktrace does not include the panicking function")
	}
}

func TestCapturePanicWithoutPanic(t *testing.T) {
	t.Parallel()

	instrumenter, sink, _ := newTestInstrumenter(Config{})
	func() {
		defer instrumenter.CapturePanic()
	}()
	if events := sink.recorded(); len(events) != 0 {
		t.Errorf("recorded %d events without a panic", len(events))
	}
}

func TestCapturePanicNonErrorValue(t *testing.T) {
	t.Parallel()

	instrumenter, sink, _ := newTestInstrumenter(Config{})
	func() {
		defer func() { recover() }()
		defer instrumenter.CapturePanic()
		panic(42)
	}()

	data := sink.only(t).Body.Data
	if data["error_type"] != "panic(int)" || data["message"] != "42" {
		t.Errorf("data = %v", data)
	}
}

func TestGoRunsFunction(t *testing.T) {
	t.Parallel()

	instrumenter, sink, _ := newTestInstrumenter(Config{})
	done := make(chan struct{})
	instrumenter.Go(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not run")
	}
	if events := sink.recorded(); len(events) != 0 {
		t.Errorf("recorded %d events for a clean goroutine", len(events))
	}
}
