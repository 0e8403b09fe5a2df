package sheetsync

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ErrorClass is the retry classification of a remote error
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassTransient  ErrorClass = "transient"
	ClassAuth       ErrorClass = "auth"
	ClassValidation ErrorClass = "validation"
	ClassUnknown    ErrorClass = "unknown"
)

// Retryable reports whether the class consumes a retry attempt
func (c ErrorClass) Retryable() bool {
	return c == ClassRateLimit || c == ClassTransient
}

// Values of DispatchResult.ErrorKind
const (
	ErrorKindFatal          = "fatal"
	ErrorKindRetryExhausted = "retry_exhausted"
	ErrorKindCanceled       = "canceled"
)

// DispatchResult is the outcome of one item's remote call
type DispatchResult struct {
	Success    bool       `json:"success"`
	Attempts   int        `json:"attempts"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Class      ErrorClass `json:"class,omitempty"`
	Error      string     `json:"error,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	RemoteID   string     `json:"remote_id,omitempty"`
}

// Classify maps an error from a Dispatcher to its retry class
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		switch {
		case remoteErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimit
		case remoteErr.StatusCode == http.StatusUnauthorized, remoteErr.StatusCode == http.StatusForbidden:
			return ClassAuth
		case remoteErr.StatusCode == http.StatusRequestTimeout, remoteErr.StatusCode >= 500:
			return ClassTransient
		case remoteErr.StatusCode >= 400:
			return ClassValidation
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrQuotaExceeded):
		return ClassRateLimit
	case errors.Is(err, ErrUnauthorized):
		return ClassAuth
	case errors.Is(err, ErrValidation), errors.Is(err, ErrAmbiguousKind):
		return ClassValidation
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassUnknown
}

// RetryManager executes a single remote call with backoff
type RetryManager struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewRetryManager creates a RetryManager from the retry fields of cfg
func NewRetryManager(cfg *Config) *RetryManager {
	c := cfg.withDefaults()
	return &RetryManager{
		maxRetries: c.MaxRetries,
		baseDelay:  c.BaseDelay,
		maxDelay:   c.MaxDelay,
		sleep:      c.Sleep,
		logger:     c.Logger,
	}
}

// Backoff returns the wait after the given zero-based attempt. A larger
// server hint wins, still capped at the maximum delay.
func (m *RetryManager) Backoff(attempt int, hint time.Duration) time.Duration {
	d := m.baseDelay
	for i := 0; i < attempt && d < m.maxDelay; i++ {
		d *= 2
	}
	if hint > d {
		d = hint
	}
	if d > m.maxDelay {
		d = m.maxDelay
	}
	return d
}

// Execute runs call until it succeeds, fails fatally, or the retry budget
// for rate-limit and transient errors is spent.
func (m *RetryManager) Execute(ctx context.Context, call func(ctx context.Context) (*Response, error)) DispatchResult {
	var result DispatchResult

	for i := 0; i <= m.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			result.ErrorKind = ErrorKindCanceled
			result.Error = err.Error()
			return result
		}

		result.Attempts = i + 1
		resp, err := call(ctx)
		if err == nil {
			result.Success = true
			result.Class = ClassNone
			result.ErrorKind = ""
			result.Error = ""
			if resp != nil {
				result.StatusCode = resp.StatusCode
				result.RemoteID = resp.RemoteID
			}
			return result
		}

		if ctx.Err() != nil {
			result.ErrorKind = ErrorKindCanceled
			result.Error = err.Error()
			return result
		}

		class := Classify(err)
		result.Class = class
		result.Error = err.Error()
		var remoteErr *RemoteError
		hint := time.Duration(0)
		if errors.As(err, &remoteErr) {
			result.StatusCode = remoteErr.StatusCode
			hint = time.Duration(remoteErr.RetryAfter) * time.Second
		}

		if !class.Retryable() {
			result.ErrorKind = ErrorKindFatal
			return result
		}
		if i == m.maxRetries {
			break
		}

		// Exponential backoff with reasonable limits
		backoff := m.Backoff(i, hint)
		m.logger.Debug("retrying remote call", "attempt", i+1, "class", string(class), "backoff", backoff)
		if err := m.sleep(ctx, backoff); err != nil {
			result.ErrorKind = ErrorKindCanceled
			result.Error = err.Error()
			return result
		}
	}

	result.ErrorKind = ErrorKindRetryExhausted
	return result
}
