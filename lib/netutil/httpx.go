// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP helpers shared by the dispatcher's
// transport, the collector verifier, and the HTTP client interceptor.
//
// Response and request body reads are bounded so a misbehaving peer
// cannot make the agent allocate without limit inside the host
// process. The collector replies with a short acknowledgement; a
// batch body is at most a few megabytes.
package netutil

import (
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MaxResponseSize bounds collector response reads: 64 KB. Only the
// status code matters to the dispatcher; the body is read for
// connection reuse and diagnostics.
const MaxResponseSize int64 = 64 << 10

// MaxBatchSize bounds request body reads on the collector side: 32 MB.
const MaxBatchSize int64 = 32 << 20

// DrainResponse reads and discards up to MaxResponseSize bytes so the
// underlying connection can be reused by the HTTP client.
func DrainResponse(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
}

// ErrorBody reads an HTTP error response body for diagnostic messages.
// Read errors are ignored; a partial body is still useful in a log
// line.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return strings.TrimSpace(string(data))
}

// ReadBody reads a request body up to limit bytes. A body longer than
// limit is an error rather than a silent truncation, because a
// truncated batch can never verify.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

// SameHost reports whether rawURL addresses the same host (and port)
// as endpoint. Unparseable input never matches.
func SameHost(rawURL, endpoint string) bool {
	if rawURL == "" || endpoint == "" {
		return false
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	collector, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return target.Host != "" && strings.EqualFold(target.Host, collector.Host)
}
