// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd

package identity

import "golang.org/x/sys/unix"

// kernelRelease returns the kernel release string from uname(2).
func kernelRelease() (string, error) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(utsname.Release[:]), nil
}
