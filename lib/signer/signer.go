// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer authenticates batches between the agent and the
// collector.
//
// The agent serializes each batch once, in canonical form, and sends
// exactly those bytes. The signature covers the X-TIMESTAMP header
// value followed by the body:
//
//	X-SIGNATURE = hex(HMAC-SHA256(secret, timestamp || body))
//
// Canonical form is RFC 8785 (JSON Canonicalization Scheme): object
// keys sorted, no insignificant whitespace, fixed number and string
// formatting. A verifier that re-encodes a decoded body with any
// conforming JCS implementation reproduces the signed bytes exactly;
// a verifier that checks the raw received body needs no JSON at all.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Wire header names shared by the dispatcher and the verifier.
const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderTimestamp = "X-TIMESTAMP"
	HeaderSignature = "X-SIGNATURE"
)

// Canonicalize encodes v as canonical JSON. v is first encoded with
// encoding/json (so struct tags apply) and then transformed to RFC 8785
// form.
func Canonicalize(v any) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signer: encoding body: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return nil, fmt.Errorf("signer: canonicalizing body: %w", err)
	}
	return canonical, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of timestamp followed by
// body, keyed by secret.
func Sign(secret, timestamp string, body []byte) string {
	return hex.EncodeToString(mac(secret, timestamp, body))
}

// Verify reports whether signature is the valid signature of timestamp
// and body under secret. The comparison is constant-time; a signature
// that is not valid hex never verifies.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, mac(secret, timestamp, body))
}

func mac(secret, timestamp string, body []byte) []byte {
	hash := hmac.New(sha256.New, []byte(secret))
	hash.Write([]byte(timestamp))
	hash.Write(body)
	return hash.Sum(nil)
}
