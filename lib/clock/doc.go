// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so the dispatcher's
// wake-up and backoff timing can be driven deterministically in tests.
//
// Production code holds a Clock field set to Real(). Tests use Fake(),
// whose time moves only when Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go dispatcher.Run(ctx)
//	fake.WaitForTimers(1)          // the loop is now waiting on its interval
//	fake.Advance(5 * time.Second)  // fire it
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
