package sheetsync_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sheetsync.ErrorClass
	}{
		{"nil", nil, sheetsync.ClassNone},
		{"429", &sheetsync.RemoteError{StatusCode: 429}, sheetsync.ClassRateLimit},
		{"401", &sheetsync.RemoteError{StatusCode: 401}, sheetsync.ClassAuth},
		{"403", &sheetsync.RemoteError{StatusCode: 403}, sheetsync.ClassAuth},
		{"408", &sheetsync.RemoteError{StatusCode: 408}, sheetsync.ClassTransient},
		{"503", &sheetsync.RemoteError{StatusCode: 503}, sheetsync.ClassTransient},
		{"422", &sheetsync.RemoteError{StatusCode: 422}, sheetsync.ClassValidation},
		{"wrapped remote", fmt.Errorf("put: %w", &sheetsync.RemoteError{StatusCode: 429}), sheetsync.ClassRateLimit},
		{"sentinel rate limit", sheetsync.ErrRateLimited, sheetsync.ClassRateLimit},
		{"sentinel auth", fmt.Errorf("x: %w", sheetsync.ErrUnauthorized), sheetsync.ClassAuth},
		{"ambiguous kind", sheetsync.ErrAmbiguousKind, sheetsync.ClassValidation},
		{"deadline", context.DeadlineExceeded, sheetsync.ClassTransient},
		{"net error", timeoutError{}, sheetsync.ClassTransient},
		{"unknown", errors.New("boom"), sheetsync.ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sheetsync.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryManager_Backoff(t *testing.T) {
	cfg := testConfig(nil, nil)
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 10 * time.Second
	m := sheetsync.NewRetryManager(cfg)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := m.Backoff(i, 0); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
	if got := m.Backoff(0, 5*time.Second); got != 5*time.Second {
		t.Errorf("Backoff with hint = %v, want 5s", got)
	}
	if got := m.Backoff(0, time.Minute); got != 10*time.Second {
		t.Errorf("Backoff with large hint = %v, want cap", got)
	}
}

func TestRetryManager_Execute(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error // returned in order, then success
		maxRetries   int
		wantSuccess  bool
		wantAttempts int
		wantKind     string
		wantClass    sheetsync.ErrorClass
		wantSleeps   int
	}{
		{
			name:         "first try",
			maxRetries:   3,
			wantSuccess:  true,
			wantAttempts: 1,
		},
		{
			name:         "recovers from rate limit",
			errs:         []error{&sheetsync.RemoteError{StatusCode: 429}, &sheetsync.RemoteError{StatusCode: 503}},
			maxRetries:   3,
			wantSuccess:  true,
			wantAttempts: 3,
			wantSleeps:   2,
		},
		{
			name:         "auth is not retried",
			errs:         []error{&sheetsync.RemoteError{StatusCode: 401}},
			maxRetries:   3,
			wantAttempts: 1,
			wantKind:     sheetsync.ErrorKindFatal,
			wantClass:    sheetsync.ClassAuth,
		},
		{
			name:         "validation is not retried",
			errs:         []error{&sheetsync.RemoteError{StatusCode: 422}},
			maxRetries:   3,
			wantAttempts: 1,
			wantKind:     sheetsync.ErrorKindFatal,
			wantClass:    sheetsync.ClassValidation,
		},
		{
			name: "exhausted",
			errs: []error{
				&sheetsync.RemoteError{StatusCode: 429}, &sheetsync.RemoteError{StatusCode: 429},
				&sheetsync.RemoteError{StatusCode: 429}, &sheetsync.RemoteError{StatusCode: 429},
			},
			maxRetries:   3,
			wantAttempts: 4,
			wantKind:     sheetsync.ErrorKindRetryExhausted,
			wantClass:    sheetsync.ClassRateLimit,
			wantSleeps:   3,
		},
		{
			name:         "zero retries means a single attempt",
			errs:         []error{sheetsync.ErrRateLimited, sheetsync.ErrRateLimited},
			maxRetries:   0,
			wantAttempts: 1,
			wantKind:     sheetsync.ErrorKindRetryExhausted,
			wantClass:    sheetsync.ClassRateLimit,
		},
		{
			name:         "negative retries use the default",
			errs:         []error{sheetsync.ErrTransient, sheetsync.ErrTransient, sheetsync.ErrTransient, sheetsync.ErrTransient},
			maxRetries:   -1,
			wantAttempts: 4,
			wantKind:     sheetsync.ErrorKindRetryExhausted,
			wantClass:    sheetsync.ClassTransient,
			wantSleeps:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sleeps []time.Duration
			cfg := testConfig(nil, &sleeps)
			cfg.MaxRetries = tt.maxRetries
			m := sheetsync.NewRetryManager(cfg)

			calls := 0
			result := m.Execute(context.Background(), func(ctx context.Context) (*sheetsync.Response, error) {
				calls++
				if calls <= len(tt.errs) {
					return nil, tt.errs[calls-1]
				}
				return &sheetsync.Response{StatusCode: 201, RemoteID: "77"}, nil
			})

			if result.Success != tt.wantSuccess || result.Attempts != tt.wantAttempts || calls != tt.wantAttempts {
				t.Errorf("result = %+v, calls = %d", result, calls)
			}
			if result.ErrorKind != tt.wantKind || result.Class != tt.wantClass {
				t.Errorf("kind/class = %q/%q, want %q/%q", result.ErrorKind, result.Class, tt.wantKind, tt.wantClass)
			}
			if len(sleeps) != tt.wantSleeps {
				t.Errorf("sleeps = %v, want %d", sleeps, tt.wantSleeps)
			}
			for i := 1; i < len(sleeps); i++ {
				if sleeps[i] <= sleeps[i-1] {
					t.Errorf("backoff not increasing: %v", sleeps)
				}
			}
			if tt.wantSuccess && result.RemoteID != "77" {
				t.Errorf("RemoteID = %q", result.RemoteID)
			}
		})
	}
}

func TestRetryManager_RetryAfterHint(t *testing.T) {
	var sleeps []time.Duration
	cfg := testConfig(nil, &sleeps)
	m := sheetsync.NewRetryManager(cfg)

	calls := 0
	m.Execute(context.Background(), func(ctx context.Context) (*sheetsync.Response, error) {
		calls++
		if calls == 1 {
			return nil, &sheetsync.RemoteError{StatusCode: 429, RetryAfter: 4}
		}
		return &sheetsync.Response{StatusCode: 200}, nil
	})
	if len(sleeps) != 1 || sleeps[0] != 4*time.Second {
		t.Errorf("sleeps = %v, want [4s]", sleeps)
	}
}

func TestRetryManager_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := sheetsync.NewRetryManager(testConfig(nil, nil))

	result := m.Execute(ctx, func(ctx context.Context) (*sheetsync.Response, error) {
		cancel()
		return nil, ctx.Err()
	})
	if result.ErrorKind != sheetsync.ErrorKindCanceled || result.Attempts != 1 {
		t.Errorf("result = %+v, want canceled after 1 attempt", result)
	}

	result = m.Execute(ctx, func(ctx context.Context) (*sheetsync.Response, error) {
		t.Fatal("call made with canceled context")
		return nil, nil
	})
	if result.ErrorKind != sheetsync.ErrorKindCanceled || result.Attempts != 0 {
		t.Errorf("result = %+v, want canceled before any attempt", result)
	}
}
