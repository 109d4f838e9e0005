// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Delivery defaults.
const (
	DefaultRetryLimit   = 5
	DefaultBaseBackoff  = 1 * time.Second
	DefaultSendTimeout  = 3 * time.Second
	DefaultDrainTimeout = 2 * time.Second

	// MaxBackoff caps a single retry delay. A BaseBackoff above it is
	// used as the cap instead.
	MaxBackoff = 5 * time.Minute
)

// StatusPolicy decides which HTTP statuses end a delivery.
type StatusPolicy string

const (
	// TerminalBelow500 treats every status below 500 as final. A 4xx
	// is taken to mean the collector durably rejected the batch, so
	// it is not retried. This also means an authentication failure
	// (401 from a bad secret) silently stops delivery of that batch.
	TerminalBelow500 StatusPolicy = "below-500"

	// TerminalOnSuccess treats only 2xx as final; every other status
	// is retried up to the limit like a 5xx.
	TerminalOnSuccess StatusPolicy = "success-only"
)

// ParseStatusPolicy accepts the policy names used in configuration.
// The empty string selects TerminalBelow500.
func ParseStatusPolicy(name string) (StatusPolicy, error) {
	switch StatusPolicy(name) {
	case "", TerminalBelow500:
		return TerminalBelow500, nil
	case TerminalOnSuccess:
		return TerminalOnSuccess, nil
	}
	return "", fmt.Errorf("dispatch: unknown status policy %q (want %q or %q)", name, TerminalBelow500, TerminalOnSuccess)
}

// RetryPolicy bounds delivery attempts for one batch.
type RetryPolicy struct {
	// Limit is the maximum number of send attempts per batch. Zero
	// means DefaultRetryLimit.
	Limit int

	// BaseBackoff is the delay after the first failed attempt. Zero
	// means DefaultBaseBackoff.
	BaseBackoff time.Duration

	// Status selects which responses are terminal. Empty means
	// TerminalBelow500.
	Status StatusPolicy

	// Jitter switches from plain doubling to decorrelated jitter:
	// each delay is drawn uniformly from [base, 3 × previous delay].
	// Off by default, so fleets restarting together retry in lockstep.
	Jitter bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Limit == 0 {
		p.Limit = DefaultRetryLimit
	}
	if p.BaseBackoff == 0 {
		p.BaseBackoff = DefaultBaseBackoff
	}
	if p.Status == "" {
		p.Status = TerminalBelow500
	}
	return p
}

// Terminal reports whether status ends the delivery.
func (p RetryPolicy) Terminal(status int) bool {
	if p.Status == TerminalOnSuccess {
		return status >= 200 && status < 300
	}
	return status < 500
}

// Delay returns how long to wait after failed attempt number attempt
// (counted from 0). previous is the delay returned for the prior
// attempt, used only with Jitter. The result saturates at MaxBackoff
// rather than overflowing, however large attempt grows.
func (p RetryPolicy) Delay(attempt int, previous time.Duration) time.Duration {
	ceiling := max(MaxBackoff, p.BaseBackoff)
	if p.Jitter {
		previous = max(previous, p.BaseBackoff)
		upper := ceiling
		if previous < ceiling/3 {
			upper = 3 * previous
		}
		return p.BaseBackoff + rand.N(upper-p.BaseBackoff+1)
	}

	delay := p.BaseBackoff
	for range attempt {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}
