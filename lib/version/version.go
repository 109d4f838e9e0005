// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// SchemaVersion identifies the event and batch envelope layout. The
// collector uses it to pick a decoder.
const SchemaVersion = "1.0"

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version of the SDK.
	Version = "2.0.0"
)

// SDK returns the sdk_version stamped into events and batch metadata.
func SDK() string {
	return Version
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns detailed version information including the Go runtime.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info()>" to stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}
