package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageLogEntry is one append-only audit record per invocation attempt.
// TenantID and KeyID are nil when the call never authenticated.
type UsageLogEntry struct {
	TenantID       *uuid.UUID     `json:"tenant_id,omitempty"`
	KeyID          *uuid.UUID     `json:"key_id,omitempty"`
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	Success        bool           `json:"success"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	RequestID      string         `json:"request_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
