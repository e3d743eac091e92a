// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionIDFromContext(t *testing.T) {
	if got := SessionIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Errorf("SessionIDFromContext(nil) = %q, want empty", got)
	}
	ctx := ContextWithSessionID(context.Background(), "sess_a")
	if got := SessionIDFromContext(ctx); got != "sess_a" {
		t.Errorf("SessionIDFromContext() = %q, want sess_a", got)
	}
	wrong := context.WithValue(context.Background(), sessionIDKey, 42)
	if got := SessionIDFromContext(wrong); got != "" {
		t.Errorf("SessionIDFromContext(wrong type) = %q, want empty", got)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithCorrelationID(ctx, "corr-1")
	ctx = ContextWithSessionID(ctx, "sess_b")

	l := WithContext(ctx, baseLogger)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry[FieldRequestID] != "req-123" {
		t.Errorf("request_id = %v", entry[FieldRequestID])
	}
	if entry[FieldCorrelationID] != "corr-1" {
		t.Errorf("correlation_id = %v", entry[FieldCorrelationID])
	}
	if entry[FieldSessionID] != "sess_b" {
		t.Errorf("session_id = %v", entry[FieldSessionID])
	}
}

func TestWithContextNoFieldsReturnsOriginal(t *testing.T) {
	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	l := WithContext(context.Background(), baseLogger)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := entry[FieldRequestID]; ok {
		t.Error("unexpected request_id field")
	}
}

func TestDerive(t *testing.T) {
	logger1 := Derive(nil)
	if logger1.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger from Derive with nil builder")
	}

	logger2 := Derive(func(ctx *zerolog.Context) {
		ctx.Str("custom_field", "test_value")
	})
	if logger2.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger from Derive with custom builder")
	}
}

func TestWithTraceContext(t *testing.T) {
	logger1 := WithTraceContext(context.Background())
	if logger1.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger without trace")
	}

	noopTracer := noop.NewTracerProvider().Tracer("test")
	ctx2, span := noopTracer.Start(context.Background(), "test-span")
	defer span.End()
	logger2 := WithTraceContext(ctx2)
	if logger2.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger with noop span")
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx3 := trace.ContextWithSpanContext(context.Background(), sc)
	logger3 := WithTraceContext(ctx3)
	if logger3.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger with span context")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil")
	}

	var buf bytes.Buffer
	custom := zerolog.New(&buf).With().Str("origin", "ctx").Logger()
	ctx := custom.WithContext(context.Background())
	got := FromContext(ctx)
	got.Info().Msg("x")
	if !bytes.Contains(buf.Bytes(), []byte(`"origin":"ctx"`)) {
		t.Errorf("expected context logger to be used, got %s", buf.String())
	}
}
