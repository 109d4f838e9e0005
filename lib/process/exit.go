// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// ExitUsage is the exit code for command-line mistakes.
const ExitUsage = 2

// Fatal writes "error: err" to stderr and exits. Flag parsing errors
// exit with ExitUsage; everything else exits with 1. --help is not an
// error and exits 0.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(w, "error: %v\n", err)
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return 1
}

// UsageError marks an error caused by how the binary was invoked.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }
