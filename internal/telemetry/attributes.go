// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Session attributes
	SessionIDKey      = "session.id"
	SessionLogicalKey = "session.logical_id"
	SessionStateKey   = "session.state"
	SessionReasonKey  = "session.reason"

	// Backend API attributes
	APIEndpointKey = "api.endpoint"
	APIAttemptsKey = "api.attempts"
	APIEncodingKey = "api.encoding"
	APICachedKey   = "api.cached"

	// Cross-tab attributes
	CrossTabTypeKey      = "crosstab.type"
	CrossTabTransportKey = "crosstab.transport"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes creates session span attributes, skipping empty values.
func SessionAttributes(sessionID, logicalID, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if logicalID != "" {
		attrs = append(attrs, attribute.String(SessionLogicalKey, logicalID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(SessionStateKey, state))
	}
	return attrs
}

// LogoutAttributes creates attributes for a logout span.
func LogoutAttributes(sessionID, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(SessionReasonKey, reason),
	}
}

// APIAttributes creates backend call span attributes.
func APIAttributes(endpoint, encoding string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(APIEndpointKey, endpoint),
		attribute.String(APIEncodingKey, encoding),
	}
}

// CrossTabAttributes creates cross-tab message span attributes.
func CrossTabAttributes(msgType, transport string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CrossTabTypeKey, msgType),
		attribute.String(CrossTabTransportKey, transport),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
