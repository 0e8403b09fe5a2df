package sheetsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrQuotaExceeded = errors.New("quota exceeded")

	ErrRateLimited       = errors.New("rate limited")
	ErrTransient         = errors.New("transient network error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
	ErrAmbiguousKind     = errors.New("resource kind is ambiguous")
	ErrNotReady          = errors.New("remote is not ready")
	ErrQueueCorrupted    = errors.New("queue corrupted")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionActive     = errors.New("another session is active for this dataset")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RemoteError is returned by dispatchers for non-2xx responses.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter int // seconds, 0 if absent
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// ReconciliationError means the remote change was applied but the
// write-back to the tabular store failed. The next diff may report the
// affected rows as changed again.
type ReconciliationError struct {
	Keys []int
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for %d rows: %v", len(e.Keys), e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// CorruptionError lists the integrity violations of a persisted queue.
type CorruptionError struct {
	SessionID  string
	Violations []Violation
}

func (e *CorruptionError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("session %s: %d violations: %s", e.SessionID, len(e.Violations), strings.Join(msgs, "; "))
}

func (e *CorruptionError) Unwrap() error { return ErrQueueCorrupted }
