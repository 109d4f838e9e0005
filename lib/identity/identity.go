// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity computes the per-process descriptive snapshot that
// accompanies every event: which host, OS, runtime, and process
// instance produced it.
//
// The snapshot is computed once, on the first Collect call, and is
// immutable afterwards. Later calls return the same value no matter
// which API key they pass; the first caller's key is the one recorded.
// Probing never fails: anything that cannot be determined is reported
// as [Unknown].
package identity

import (
	"net"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Unknown is the placeholder for any field that could not be probed.
const Unknown = "unknown"

// Snapshot is the static identity of one agent process. It is a plain
// value; copies are safe to share.
type Snapshot struct {
	APIKey         string `json:"api_key"`
	Hostname       string `json:"hostname"`
	IP             string `json:"ip"`
	Region         string `json:"region"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	RuntimeVersion string `json:"runtime_version"`
	ProcessID      int    `json:"process_id"`
	AppVersion     string `json:"app_version"`
	InstanceID     string `json:"instance_id"`
}

// Probe holds the system lookups the resolver performs. Nil fields
// fall back to the real system calls; tests substitute failing or
// fixed implementations.
type Probe struct {
	Hostname      func() (string, error)
	LookupIP      func(host string) ([]net.IP, error)
	KernelRelease func() (string, error)
}

// Config parameterizes a Resolver. Empty AppVersion and Region are
// reported as "1.0.0" and Unknown respectively.
type Config struct {
	AppVersion string
	Region     string
	Probe      Probe
}

// Resolver memoizes a Snapshot for the life of the process (or of the
// agent that owns it). Safe for concurrent use; after the first
// Collect returns, reads take no lock beyond sync.Once's fast path.
type Resolver struct {
	config   Config
	once     sync.Once
	snapshot Snapshot
}

// NewResolver returns a Resolver that has not yet probed anything.
func NewResolver(config Config) *Resolver {
	if config.AppVersion == "" {
		config.AppVersion = "1.0.0"
	}
	if config.Region == "" {
		config.Region = Unknown
	}
	if config.Probe.Hostname == nil {
		config.Probe.Hostname = os.Hostname
	}
	if config.Probe.LookupIP == nil {
		config.Probe.LookupIP = net.LookupIP
	}
	if config.Probe.KernelRelease == nil {
		config.Probe.KernelRelease = kernelRelease
	}
	return &Resolver{config: config}
}

// Collect returns the process snapshot, computing it on the first
// call. apiKey is recorded only by that first call.
func (r *Resolver) Collect(apiKey string) Snapshot {
	r.once.Do(func() {
		r.snapshot = r.probe(apiKey)
	})
	return r.snapshot
}

func (r *Resolver) probe(apiKey string) Snapshot {
	hostname := Unknown
	if name, err := r.config.Probe.Hostname(); err == nil && name != "" {
		hostname = name
	}

	osVersion := Unknown
	if release, err := r.config.Probe.KernelRelease(); err == nil && release != "" {
		osVersion = release
	}

	return Snapshot{
		APIKey:         apiKey,
		Hostname:       hostname,
		IP:             r.resolveIP(hostname),
		Region:         r.config.Region,
		OS:             runtime.GOOS,
		OSVersion:      osVersion,
		RuntimeVersion: runtime.Version(),
		ProcessID:      os.Getpid(),
		AppVersion:     r.config.AppVersion,
		InstanceID:     uuid.NewString(),
	}
}

// resolveIP looks the hostname up and prefers an IPv4 address, the
// way gethostbyname-style resolution reports a host.
func (r *Resolver) resolveIP(hostname string) string {
	if hostname == Unknown {
		return Unknown
	}
	addresses, err := r.config.Probe.LookupIP(hostname)
	if err != nil || len(addresses) == 0 {
		return Unknown
	}
	for _, address := range addresses {
		if v4 := address.To4(); v4 != nil {
			return v4.String()
		}
	}
	return addresses[0].String()
}
