// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/beacon-telemetry/beacon/lib/event"
	"github.com/beacon-telemetry/beacon/lib/netutil"
)

// RoundTripper returns base wrapped so that every request is reported.
// A nil base means http.DefaultTransport.
//
//	client := &http.Client{Transport: instrumenter.RoundTripper(nil)}
func (in *Instrumenter) RoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if in.disabled.HTTP {
		return base
	}
	return &roundTripper{in: in, base: base}
}

type roundTripper struct {
	in   *Instrumenter
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	if netutil.SameHost(request.URL.String(), rt.in.endpoint) {
		return rt.base.RoundTrip(request)
	}

	start := rt.in.clock.Now()
	response, err := rt.base.RoundTrip(request)
	metrics := rt.in.since(start)

	data := map[string]any{
		"method": request.Method,
		"url":    request.URL.Redacted(),
	}
	switch {
	case err != nil:
		data["exception_type"] = errorType(err)
		data["message"] = err.Error()
		rt.in.emit(event.TypeHTTPException, event.CategoryNetwork, event.StatusFailure, data, metrics)
	case response.StatusCode >= 400:
		data["status_code"] = response.StatusCode
		if response.ContentLength >= 0 {
			data["response_size"] = response.ContentLength
		}
		rt.in.emit(event.TypeHTTPError, event.CategoryNetwork, event.StatusFailure, data, metrics)
	default:
		data["status_code"] = response.StatusCode
		rt.in.emit(event.TypeHTTPCall, event.CategoryNetwork, event.StatusSuccess, data, metrics)
	}
	return response, err
}

// errorType names the concrete type of err, looking through the
// *url.Error the HTTP client wraps everything in.
func errorType(err error) string {
	var urlError *url.Error
	if errors.As(err, &urlError) && urlError.Err != nil {
		err = urlError.Err
	}
	return fmt.Sprintf("%T", err)
}
