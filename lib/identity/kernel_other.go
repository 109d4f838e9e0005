// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package identity

import "errors"

func kernelRelease() (string, error) {
	return "", errors.New("identity: kernel release not available on this platform")
}
