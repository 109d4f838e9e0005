// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/beacon-telemetry/beacon/lib/clock"
	"github.com/beacon-telemetry/beacon/lib/netutil"
)

// DefaultMaxSkew is how far X-TIMESTAMP may drift from the verifier's
// clock, in either direction, before a request is refused as stale.
const DefaultMaxSkew = 5 * time.Minute

// SecretLookup returns the signing secret for an API key, or false if
// the key is unknown.
type SecretLookup func(apiKey string) (secret string, ok bool)

// StaticSecrets adapts a fixed key→secret map to a SecretLookup.
func StaticSecrets(secrets map[string]string) SecretLookup {
	return func(apiKey string) (string, bool) {
		secret, ok := secrets[apiKey]
		return secret, ok
	}
}

// RejectError is returned by Verifier.Verify when a request fails
// authentication. Status is the HTTP status the collector should reply
// with.
type RejectError struct {
	Status int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("signer: rejected (%d): %s", e.Status, e.Reason)
}

func reject(status int, reason string) error {
	return &RejectError{Status: status, Reason: reason}
}

// Verifier authenticates signed batch requests on the collector side.
type Verifier struct {
	// Lookup resolves API keys to secrets. Required.
	Lookup SecretLookup

	// MaxSkew bounds timestamp drift. Zero means DefaultMaxSkew; a
	// negative value disables the freshness check.
	MaxSkew time.Duration

	// MaxBodySize bounds the request body. Zero means
	// netutil.MaxBatchSize.
	MaxBodySize int64

	// Clock is the verifier's notion of now. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives one line per rejected request. Nil discards.
	Logger *slog.Logger
}

// Verify reads the request body and checks the API key, signature, and
// timestamp freshness, in that order. On success it returns the body
// and the authenticated API key. Every failure is a *RejectError.
func (v *Verifier) Verify(request *http.Request) (body []byte, apiKey string, err error) {
	limit := v.MaxBodySize
	if limit == 0 {
		limit = netutil.MaxBatchSize
	}
	body, err = netutil.ReadBody(request.Body, limit)
	if err != nil {
		return nil, "", reject(http.StatusRequestEntityTooLarge, err.Error())
	}

	apiKey = request.Header.Get(HeaderAPIKey)
	timestamp := request.Header.Get(HeaderTimestamp)
	signature := request.Header.Get(HeaderSignature)

	secret, ok := v.Lookup(apiKey)
	if apiKey == "" || !ok {
		return nil, "", reject(http.StatusUnauthorized, "invalid API key")
	}
	if !Verify(secret, timestamp, body, signature) {
		return nil, "", reject(http.StatusUnauthorized, "invalid signature")
	}

	skew := v.MaxSkew
	if skew == 0 {
		skew = DefaultMaxSkew
	}
	if skew > 0 {
		sent, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, "", reject(http.StatusBadRequest, "invalid timestamp")
		}
		now := v.Clock
		if now == nil {
			now = clock.Real()
		}
		if drift := now.Now().Sub(sent); drift > skew || drift < -skew {
			return nil, "", reject(http.StatusUnauthorized, "timestamp expired")
		}
	}

	return body, apiKey, nil
}

type apiKeyContextKey struct{}

// APIKey returns the API key a request was authenticated with by
// Verifier.Middleware, or "" outside a verified request.
func APIKey(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

// Middleware verifies each request before passing it to next. The
// downstream handler sees the verified body as request.Body and can
// read the API key with APIKey. Rejected requests get the RejectError
// status and a plain-text reason.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		body, apiKey, err := v.Verify(request)
		if err != nil {
			status, reason := http.StatusBadRequest, err.Error()
			var rejectErr *RejectError
			if errors.As(err, &rejectErr) {
				status, reason = rejectErr.Status, rejectErr.Reason
			}
			if v.Logger != nil {
				v.Logger.Warn("batch rejected",
					"remote", request.RemoteAddr,
					"status", status,
					"error", err,
				)
			}
			http.Error(writer, reason, status)
			return
		}

		request.Body = io.NopCloser(bytes.NewReader(body))
		request.ContentLength = int64(len(body))
		next.ServeHTTP(writer, request.WithContext(context.WithValue(request.Context(), apiKeyContextKey{}, apiKey)))
	})
}
