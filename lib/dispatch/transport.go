// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beacon-telemetry/beacon/lib/netutil"
	"github.com/beacon-telemetry/beacon/lib/signer"
)

// Delivery is one signed send attempt.
type Delivery struct {
	APIKey    string
	Timestamp string
	Signature string
	Body      []byte
}

// Transport sends a signed batch to the collector. It returns the
// HTTP status of the response, or an error when no response was
// received. Implementations must respect ctx cancellation.
type Transport interface {
	Send(ctx context.Context, delivery Delivery) (int, error)
}

// HTTPTransport posts batches to a collector endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport posting to endpoint. timeout
// bounds each request including reading the response; zero means
// DefaultSendTimeout.
//
// The transport owns its http.Client so that instrumentation installed
// on http.DefaultTransport never observes the agent's own traffic.
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Transport: base, Timeout: timeout},
	}
}

// Endpoint returns the collector URL.
func (t *HTTPTransport) Endpoint() string { return t.endpoint }

// Send implements Transport. Any response, including 4xx and 5xx, is
// reported through the status code with a nil error; interpreting it
// is the retry policy's job.
func (t *HTTPTransport) Send(ctx context.Context, delivery Delivery) (int, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(delivery.Body))
	if err != nil {
		return 0, fmt.Errorf("dispatch: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(signer.HeaderAPIKey, delivery.APIKey)
	request.Header.Set(signer.HeaderTimestamp, delivery.Timestamp)
	request.Header.Set(signer.HeaderSignature, delivery.Signature)

	response, err := t.client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("dispatch: posting batch: %w", err)
	}
	defer response.Body.Close()
	netutil.DrainResponse(response.Body)
	return response.StatusCode, nil
}
