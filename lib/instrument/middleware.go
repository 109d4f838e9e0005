// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"net/http"

	"github.com/beacon-telemetry/beacon/lib/event"
)

// Middleware returns next wrapped so that every request it serves is
// reported as INCOMING_REQUEST. Responses of 400 and above carry
// status FAILURE. A panic in next is reported as EXCEPTION and then
// re-raised for the server to handle; http.ErrAbortHandler is
// re-raised without a report.
func (in *Instrumenter) Middleware(next http.Handler) http.Handler {
	if in.disabled.Requests {
		return next
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}
		start := in.clock.Now()

		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered != http.ErrAbortHandler && !in.disabled.Exceptions {
					in.reportPanic(recovered, map[string]any{
						"method": request.Method,
						"path":   request.URL.Path,
					})
				}
				panic(recovered)
			}
		}()

		next.ServeHTTP(recorder, request)

		status := event.StatusSuccess
		if recorder.status >= 400 {
			status = event.StatusFailure
		}
		in.emit(event.TypeIncomingRequest, event.CategoryApplication, status, map[string]any{
			"method":        request.Method,
			"path":          request.URL.Path,
			"status_code":   recorder.status,
			"response_size": recorder.written,
		}, in.since(start))
	})
}

// statusRecorder captures the status code and body size a handler
// writes.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(data)
	r.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
