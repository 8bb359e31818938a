// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldTicketID      = "ticket_id"
	FieldContentID     = "content_id"
	FieldUserID        = "user_id"
	FieldDeviceID      = "device_id"
	FieldKeyID         = "key_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Decision fields
	FieldAllowed   = "allowed"
	FieldErrorCode = "error_code"
	FieldReason    = "reason"
	FieldCacheHit  = "cache_hit"

	// Timing fields
	FieldDurationMS = "duration_ms"
	FieldP95MS      = "p95_ms"
	FieldP99MS      = "p99_ms"

	// Network fields
	FieldClientIP   = "client_ip"
	FieldRemoteAddr = "remote_addr"
	FieldPath       = "path"
)
