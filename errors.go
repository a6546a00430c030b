package chatsync

import "fmt"

// TransportError wraps a connect or frame-send failure. It is handled
// inside the connection manager's retry loop and is never surfaced
// per-message.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the credential was rejected or is no longer usable.
// It is surfaced as a distinct "needs re-authentication" state; the
// connection manager pauses reconnection until the credential is refreshed.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// StoreError is a failed message-store call, returned to the specific
// caller. A failed load is retryable and leaves prior state intact; a
// failed send marks its PendingMessage FAILED.
type StoreError struct {
	Op   string
	Code string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UploadError is a failed attachment upload. It aborts the whole send
// before any message is created.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ValidationError marks a malformed inbound frame. The frame is dropped
// and logged; it never crashes the reducer.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid frame: " + e.Detail
}
