// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"net"
	"os"
	"runtime"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func fixedProbe() Probe {
	return Probe{
		Hostname: func() (string, error) { return "web-1", nil },
		LookupIP: func(string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.7")}, nil
		},
		KernelRelease: func() (string, error) { return "6.8.0-test", nil },
	}
}

func TestCollectPopulatesSnapshot(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(Config{AppVersion: "3.2.1", Region: "eu-west-1", Probe: fixedProbe()})
	snapshot := resolver.Collect("key-1")

	if snapshot.APIKey != "key-1" {
		t.Errorf("APIKey = %q, want key-1", snapshot.APIKey)
	}
	if snapshot.Hostname != "web-1" {
		t.Errorf("Hostname = %q, want web-1", snapshot.Hostname)
	}
	if snapshot.IP != "10.0.0.7" {
		t.Errorf("IP = %q, want the IPv4 address 10.0.0.7", snapshot.IP)
	}
	if snapshot.OSVersion != "6.8.0-test" {
		t.Errorf("OSVersion = %q, want 6.8.0-test", snapshot.OSVersion)
	}
	if snapshot.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", snapshot.OS, runtime.GOOS)
	}
	if snapshot.RuntimeVersion != runtime.Version() {
		t.Errorf("RuntimeVersion = %q, want %q", snapshot.RuntimeVersion, runtime.Version())
	}
	if snapshot.ProcessID != os.Getpid() {
		t.Errorf("ProcessID = %d, want %d", snapshot.ProcessID, os.Getpid())
	}
	if snapshot.AppVersion != "3.2.1" || snapshot.Region != "eu-west-1" {
		t.Errorf("AppVersion/Region = %q/%q, want 3.2.1/eu-west-1", snapshot.AppVersion, snapshot.Region)
	}
	if _, err := uuid.Parse(snapshot.InstanceID); err != nil {
		t.Errorf("InstanceID %q is not a UUID: %v", snapshot.InstanceID, err)
	}
}

func TestCollectIsMemoizedAcrossAPIKeys(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(Config{Probe: fixedProbe()})
	first := resolver.Collect("key-1")
	second := resolver.Collect("key-2")

	if first != second {
		t.Fatalf("snapshots differ:\n first: %+v\nsecond: %+v", first, second)
	}
	if second.APIKey != "key-1" {
		t.Fatalf("APIKey = %q, want the first caller's key-1", second.APIKey)
	}
}

func TestCollectProbesOnce(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	probe := fixedProbe()
	probe.Hostname = func() (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "web-1", nil
	}
	resolver := NewResolver(Config{Probe: probe})

	var wg sync.WaitGroup
	snapshots := make([]Snapshot, 16)
	for i := range snapshots {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshots[i] = resolver.Collect("key")
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("hostname probed %d times, want 1", calls)
	}
	for i, snapshot := range snapshots {
		if snapshot != snapshots[0] {
			t.Fatalf("snapshot %d differs from snapshot 0", i)
		}
	}
}

func TestCollectDegradesToUnknown(t *testing.T) {
	t.Parallel()

	failure := errors.New("probe failed")
	resolver := NewResolver(Config{Probe: Probe{
		Hostname:      func() (string, error) { return "", failure },
		LookupIP:      func(string) ([]net.IP, error) { t.Error("LookupIP called without a hostname"); return nil, failure },
		KernelRelease: func() (string, error) { return "", failure },
	}})

	snapshot := resolver.Collect("key")
	if snapshot.Hostname != Unknown || snapshot.IP != Unknown || snapshot.OSVersion != Unknown {
		t.Fatalf("want unknown placeholders, got hostname=%q ip=%q os_version=%q",
			snapshot.Hostname, snapshot.IP, snapshot.OSVersion)
	}
	if snapshot.Region != Unknown || snapshot.AppVersion != "1.0.0" {
		t.Errorf("defaults: region=%q app_version=%q", snapshot.Region, snapshot.AppVersion)
	}
}

func TestCollectLookupFailureKeepsHostname(t *testing.T) {
	t.Parallel()

	probe := fixedProbe()
	probe.LookupIP = func(string) ([]net.IP, error) { return nil, errors.New("no such host") }
	snapshot := NewResolver(Config{Probe: probe}).Collect("key")

	if snapshot.Hostname != "web-1" {
		t.Errorf("Hostname = %q, want web-1", snapshot.Hostname)
	}
	if snapshot.IP != Unknown {
		t.Errorf("IP = %q, want %q", snapshot.IP, Unknown)
	}
}

func TestCollectIPv6Only(t *testing.T) {
	t.Parallel()

	probe := fixedProbe()
	probe.LookupIP = func(string) ([]net.IP, error) { return []net.IP{net.ParseIP("2001:db8::5")}, nil }
	snapshot := NewResolver(Config{Probe: probe}).Collect("key")

	if snapshot.IP != "2001:db8::5" {
		t.Errorf("IP = %q, want 2001:db8::5", snapshot.IP)
	}
}

func TestDistinctResolversHaveDistinctInstances(t *testing.T) {
	t.Parallel()

	first := NewResolver(Config{Probe: fixedProbe()}).Collect("key")
	second := NewResolver(Config{Probe: fixedProbe()}).Collect("key")
	if first.InstanceID == second.InstanceID {
		t.Fatalf("two resolvers produced the same instance id %s", first.InstanceID)
	}
}
