// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://script.example.com/macros/s/abc/exec", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"127.0.0.1:8089", false},
		{":8089", false},
		{"localhost:0", false},
		{"8089", true},
		{"host:port", true},
		{"host:70000", true},
	}
	for _, tt := range tests {
		v := New()
		v.ListenAddr("listen", tt.value)
		if tt.wantErr == v.IsValid() {
			t.Errorf("ListenAddr(%q) valid=%v, wantErr=%v", tt.value, v.IsValid(), tt.wantErr)
		}
	}
}

func TestValidator_Durations(t *testing.T) {
	v := New()
	v.PositiveDuration("a", time.Second)
	v.NonNegativeDuration("b", 0)
	v.DurationBelow("c", time.Minute, "limit", time.Hour)
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}

	v.PositiveDuration("a", 0)
	v.NonNegativeDuration("b", -time.Second)
	v.DurationBelow("c", time.Hour, "limit", time.Hour)
	if got := len(v.Errors()); got != 3 {
		t.Fatalf("expected 3 errors, got %d", got)
	}
}

func TestValidator_OneOfAndRange(t *testing.T) {
	v := New()
	v.OneOf("backend", "memory", []string{"memory", "file"})
	v.Range("retries", 2, 0, 10)
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	v.OneOf("backend", "etcd", []string{"memory", "file"})
	v.Range("retries", 11, 0, 10)
	if v.IsValid() {
		t.Fatal("expected errors")
	}
}

func TestValidationError_Aggregates(t *testing.T) {
	v := New()
	if v.Err() != nil {
		t.Fatal("empty validator should return nil error")
	}
	v.NotEmpty("name", " ")
	v.Positive("count", 0)
	v.Custom("custom", 1, func(any) error { return errors.New("boom") })

	err := v.Err()
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(ve.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(ve.Errors()))
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined message, got %q", err.Error())
	}

	// Mutating the validator afterwards must not affect the returned error.
	v.NonNegative("later", -1)
	if len(ve.Errors()) != 3 {
		t.Error("ValidationError should hold a copy")
	}
}
