package sheetsync_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	sheetsync "github.com/ideamans/go-sheetsync"
)

// fakeDispatcher records calls and answers from a per-call script
type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []*sheetsync.CallDescriptor
	readiness *sheetsync.Readiness
	readyErr  error
	readyHits int
	nextID    int
	respond   func(n int, call *sheetsync.CallDescriptor) (*sheetsync.Response, error)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		readiness: &sheetsync.Readiness{Connected: true, Authorized: true, QuotaUsed: 1, QuotaLimit: 40},
		nextID:    9000,
	}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call *sheetsync.CallDescriptor) (*sheetsync.Response, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	n := len(d.calls)
	respond := d.respond
	d.mu.Unlock()

	if respond != nil {
		if resp, err := respond(n, call); resp != nil || err != nil {
			return resp, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch call.Operation {
	case sheetsync.OpCreate:
		d.nextID++
		return &sheetsync.Response{StatusCode: 201, RemoteID: fmt.Sprint(d.nextID)}, nil
	default:
		return &sheetsync.Response{StatusCode: 200}, nil
	}
}

func (d *fakeDispatcher) Readiness(ctx context.Context) (*sheetsync.Readiness, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyHits++
	if d.readyErr != nil {
		return nil, d.readyErr
	}
	r := *d.readiness
	return &r, nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) rowKeys() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]int, len(d.calls))
	for i, c := range d.calls {
		keys[i] = c.RowKey
	}
	return keys
}

// fakeClock advances only when told to
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testConfig has no waits and records the backoff sleeps
func testConfig(clock *fakeClock, sleeps *[]time.Duration) *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.InterCallDelay = 0
	cfg.Logger = discardLogger()
	if clock != nil {
		cfg.Now = clock.Now
	}
	var mu sync.Mutex
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		mu.Unlock()
		return ctx.Err()
	}
	return cfg
}

func product(key int, values map[string]interface{}) *sheetsync.Record {
	v := map[string]interface{}{"_kind": "product"}
	for k, val := range values {
		v[k] = val
	}
	return &sheetsync.Record{Key: key, Values: v}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
