// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldLogicalID     = "logical_id"
	FieldMessageID     = "message_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"
	FieldSource    = "source"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldWarning  = "warning"

	// Timing fields
	FieldDeadline  = "deadline"
	FieldRemaining = "remaining"
	FieldInterval  = "interval"

	// Transport fields
	FieldKey       = "key"
	FieldTransport = "transport"
	FieldMsgType   = "msg_type"
	FieldEndpoint  = "endpoint"
	FieldAttempt   = "attempt"
	FieldBaseURL   = "base_url"
	FieldPath      = "path"
)
