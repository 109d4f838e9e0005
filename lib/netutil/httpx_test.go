// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestReadBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		data, err := ReadBody(strings.NewReader(`{"ok":true}`), 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"ok":true}` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		data, err := ReadBody(bytes.NewReader(make([]byte, 16)), 16)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) != 16 {
			t.Fatalf("got %d bytes, want 16", len(data))
		}
	})

	t.Run("over limit", func(t *testing.T) {
		if _, err := ReadBody(bytes.NewReader(make([]byte, 17)), 16); err == nil {
			t.Fatal("expected error for oversized body")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadBody(failReader{}, 16); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("  invalid signature\n")); got != "invalid signature" {
		t.Fatalf("ErrorBody = %q, want %q", got, "invalid signature")
	}
	if got := ErrorBody(failReader{}); got != "" {
		t.Fatalf("ErrorBody on failing reader = %q, want empty", got)
	}
}

func TestErrorBodyIsBounded(t *testing.T) {
	huge := strings.Repeat("x", int(MaxResponseSize)+100)
	if got := ErrorBody(strings.NewReader(huge)); int64(len(got)) != MaxResponseSize {
		t.Fatalf("ErrorBody length = %d, want %d", len(got), MaxResponseSize)
	}
}

func TestSameHost(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		endpoint string
		want     bool
	}{
		{"same host and port", "http://collector:8080/other", "http://collector:8080/api/logs", true},
		{"case insensitive", "https://Collector.example.com/x", "https://collector.example.com/api", true},
		{"different port", "http://collector:9090/", "http://collector:8080/api/logs", false},
		{"different host", "https://api.example.com/", "https://collector.example.com/api", false},
		{"empty endpoint", "https://api.example.com/", "", false},
		{"relative url", "/just/a/path", "http://collector:8080/", false},
		{"unparseable", "http://[::1", "http://collector:8080/", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := SameHost(test.url, test.endpoint); got != test.want {
				t.Errorf("SameHost(%q, %q) = %v, want %v", test.url, test.endpoint, got, test.want)
			}
		})
	}
}
