package schema

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of daemon failure kinds. Callers
// branch on the kind, not on HTTP status.
type ErrorKind string

const (
	// KindDisconnected indicates no live agent connection.
	KindDisconnected ErrorKind = "DISCONNECTED"
	// KindTimeout indicates a deadline expired; Details carries the phase.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindNoSuchRef indicates a ref missing from the addressed snapshot.
	KindNoSuchRef ErrorKind = "NO_SUCH_REF"
	// KindStaleSnapshot indicates a snapshot id mismatch.
	KindStaleSnapshot ErrorKind = "STALE_SNAPSHOT"
	// KindNoActiveSnapshot indicates no snapshot is retained at all.
	KindNoActiveSnapshot ErrorKind = "NO_ACTIVE_SNAPSHOT"
	// KindBadRequest indicates a malformed or unknown command request.
	KindBadRequest ErrorKind = "BAD_REQUEST"
	// KindExtensionError wraps a failure reported by the agent.
	KindExtensionError ErrorKind = "EXTENSION_ERROR"
	// KindUnauthorized indicates a missing or invalid bearer token.
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	// KindInternal indicates an unexpected daemon-side failure.
	KindInternal ErrorKind = "INTERNAL"
)

// TimeoutPhase tags which wait a TIMEOUT interrupted.
type TimeoutPhase string

const (
	// PhaseWaitForExtension is the wait for an agent connection.
	PhaseWaitForExtension TimeoutPhase = "wait_for_extension"
	// PhaseExtensionResponse is the wait for a correlated reply.
	PhaseExtensionResponse TimeoutPhase = "extension_response"
)

// Recovery carries machine-actionable remediation hints.
type Recovery struct {
	ReconnectRequired       bool   `json:"reconnect_required,omitempty"`
	ResetSessionRecommended bool   `json:"reset_session_recommended,omitempty"`
	NextCommand             string `json:"next_command,omitempty"`
}

// StructuredError is the single failure shape crossing the HTTP
// boundary. Immutable once constructed.
type StructuredError struct {
	Code     ErrorKind      `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Recovery *Recovery      `json:"recovery,omitempty"`
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a StructuredError with the given kind and message.
func NewError(kind ErrorKind, format string, args ...any) *StructuredError {
	return &StructuredError{Code: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrDisconnected reports an absent agent connection.
func ErrDisconnected(reason string) *StructuredError {
	msg := "extension not connected"
	if reason != "" {
		msg = reason
	}
	return &StructuredError{
		Code:     KindDisconnected,
		Message:  msg,
		Recovery: &Recovery{ReconnectRequired: true},
	}
}

// ErrTimeout reports an expired deadline in the given phase.
func ErrTimeout(phase TimeoutPhase, timeoutMS int) *StructuredError {
	return &StructuredError{
		Code:    KindTimeout,
		Message: fmt.Sprintf("timed out after %dms waiting for %s", timeoutMS, phase),
		Details: map[string]any{"phase": string(phase), "timeout_ms": timeoutMS},
	}
}

// ErrStaleSnapshot reports a snapshot id mismatch with both ids.
func ErrStaleSnapshot(latest, requested SnapshotID) *StructuredError {
	return &StructuredError{
		Code:    KindStaleSnapshot,
		Message: "snapshot is stale; take a new snapshot before acting on refs",
		Details: map[string]any{
			"latest_snapshot_id":    string(latest),
			"requested_snapshot_id": string(requested),
		},
		Recovery: &Recovery{NextCommand: "snapshot"},
	}
}

// ErrNoActiveSnapshot reports that no snapshot is retained.
func ErrNoActiveSnapshot() *StructuredError {
	return &StructuredError{
		Code:     KindNoActiveSnapshot,
		Message:  "no snapshot has been taken",
		Recovery: &Recovery{NextCommand: "snapshot"},
	}
}

// ErrNoSuchRef reports a ref absent from the addressed snapshot.
func ErrNoSuchRef(ref RefID, snapshotID SnapshotID) *StructuredError {
	return &StructuredError{
		Code:    KindNoSuchRef,
		Message: fmt.Sprintf("ref %q not present in snapshot", ref),
		Details: map[string]any{
			"ref":         string(ref),
			"snapshot_id": string(snapshotID),
		},
		Recovery: &Recovery{NextCommand: "snapshot"},
	}
}

// ErrBadRequest reports a malformed request.
func ErrBadRequest(format string, args ...any) *StructuredError {
	return NewError(KindBadRequest, format, args...)
}

// ErrUnauthorized reports a failed bearer token check.
func ErrUnauthorized() *StructuredError {
	return NewError(KindUnauthorized, "missing or invalid token")
}

// ErrExtension wraps an agent-reported failure.
func ErrExtension(code, message string, details map[string]any) *StructuredError {
	if message == "" {
		message = "extension reported an error"
	}
	d := details
	if code != "" {
		if d == nil {
			d = map[string]any{}
		}
		d["extension_code"] = code
	}
	return &StructuredError{Code: KindExtensionError, Message: message, Details: d}
}

// AsStructured converts any error into a StructuredError. Already
// structured errors pass through untouched; everything else becomes
// INTERNAL. This is the single boundary conversion; no unstructured
// error crosses the HTTP surface.
func AsStructured(err error) *StructuredError {
	if err == nil {
		return nil
	}
	var structured *StructuredError
	if errors.As(err, &structured) {
		return structured
	}
	return NewError(KindInternal, "%s", err.Error())
}
