// Package sweeperr defines the typed, non-fatal error kinds shared by the
// server, scanner and shrinker engines, mirroring the Code/Message/Cause
// shape the wider content-addressed stack in this codebase's ancestry uses
// for its own operator-facing errors.
package sweeperr

import "fmt"

// Code identifies a specific operator-facing error kind. Every Code here
// corresponds to one of the non-fatal error kinds in the protocol design:
// the process keeps running and the caller moves on to the next file.
type Code string

const (
	// CodePathGone is returned when a stat or open fails for a path that
	// was enumerated moments earlier.
	CodePathGone Code = "path_gone"
	// CodeStaleCache is returned when a cached chunk set no longer matches
	// the file's current (size, mtime) and had to be dropped.
	CodeStaleCache Code = "stale_cache"
	// CodeProtocolMismatch is returned when an echo's command or
	// request id does not match the pending request.
	CodeProtocolMismatch Code = "protocol_mismatch"
	// CodeFrameError is returned when a frame is malformed or the
	// connection ends mid-frame.
	CodeFrameError Code = "frame_error"
	// CodeDeletionRefused is returned when a destructive operation's
	// precondition (size or whole-file digest) no longer holds.
	CodeDeletionRefused Code = "deletion_refused"
)

// Error is a typed error carrying a Code, an operator-facing Message and an
// optional underlying Cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// PathGone wraps a stat/open failure for a path that disappeared between
// enumeration and use.
func PathGone(path string, cause error) *Error {
	return Wrap(CodePathGone, fmt.Sprintf("path gone or unreadable: %s", path), cause)
}

// StaleCache reports a cache entry that no longer matches the file on disk.
func StaleCache(path string) *Error {
	return New(CodeStaleCache, fmt.Sprintf("stale cache entry dropped: %s", path))
}

// ProtocolMismatch reports an echo that doesn't correlate to the pending
// request.
func ProtocolMismatch(requestID string) *Error {
	return New(CodeProtocolMismatch, fmt.Sprintf("echo does not match pending request %s", requestID))
}

// FrameError wraps a malformed-frame or mid-frame-EOF failure.
func FrameError(cause error) *Error {
	return Wrap(CodeFrameError, "malformed or partial frame", cause)
}

// DeletionRefused reports a destructive operation whose precondition no
// longer held at the moment of deletion.
func DeletionRefused(path, reason string) *Error {
	return New(CodeDeletionRefused, fmt.Sprintf("deletion refused for %s: %s", path, reason))
}
