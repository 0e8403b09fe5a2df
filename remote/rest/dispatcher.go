// Package rest dispatches catalog calls to a Shopify-style REST API.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	sheetsync "github.com/ideamans/go-sheetsync"
)

// CallLimitHeader reports "used/limit" calls of the current bucket
const CallLimitHeader = "X-Shopify-Shop-Api-Call-Limit"

const (
	defaultTimeout       = 30 * time.Second
	defaultReadinessPath = "/shop.json"
	maxErrorBody         = 512
)

// Config holds the remote endpoint and credentials
type Config struct {
	// BaseURL is the API root, e.g. https://shop.myshopify.com/admin/api/2024-01
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	ReadinessPath string        `yaml:"readiness_path"`
}

// Validate checks the required fields
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Token == "" {
		return errors.New("remote token is required")
	}
	return nil
}

// Option customizes a Dispatcher
type Option func(*options)

type options struct {
	base *http.Client
}

// WithHTTPClient sets the client the bearer transport wraps
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.base = c }
}

// Dispatcher implements sheetsync.Dispatcher
type Dispatcher struct {
	baseURL       string
	readinessPath string
	token         string
	client        *http.Client

	mu         sync.Mutex
	quotaUsed  int
	quotaLimit int
}

// New creates a Dispatcher. Every request carries the token as a bearer
// credential and an X-Shopify-Access-Token header.
func New(ctx context.Context, cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.base)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = defaultTimeout
	}

	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = defaultReadinessPath
	}
	return &Dispatcher{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		readinessPath: readinessPath,
		client:        client,
		token:         cfg.Token,
	}, nil
}

// Dispatch sends one call. Non-2xx responses return *sheetsync.RemoteError.
func (d *Dispatcher) Dispatch(ctx context.Context, call *sheetsync.CallDescriptor) (*sheetsync.Response, error) {
	var body io.Reader
	if call.Payload != nil {
		data, err := json.Marshal(map[string]interface{}{call.Envelope: call.Payload})
		if err != nil {
			return nil, fmt.Errorf("%w: encode row %d: %v", sheetsync.ErrValidation, call.RowKey, err)
		}
		body = bytes.NewReader(data)
	}

	resp, data, err := d.do(ctx, call.Method, call.Endpoint, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError(resp, data)
	}

	out := &sheetsync.Response{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out.Body); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s response: %w", call.Method, call.Endpoint, err)
	}
	if resource, ok := out.Body[call.Envelope].(map[string]interface{}); ok {
		if id, ok := resource["id"]; ok && id != nil {
			out.RemoteID = fmt.Sprint(id)
		}
	}
	return out, nil
}

// Readiness probes the shop endpoint. A transport failure reports
// Connected=false rather than an error.
func (d *Dispatcher) Readiness(ctx context.Context) (*sheetsync.Readiness, error) {
	resp, data, err := d.do(ctx, http.MethodGet, d.readinessPath, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &sheetsync.Readiness{Connected: false}, nil
	}

	r := &sheetsync.Readiness{Connected: true}
	r.QuotaUsed, r.QuotaLimit = d.Quota()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		r.Authorized = false
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.Authorized = true
	default:
		return nil, remoteError(resp, data)
	}
	return r, nil
}

// Quota returns the last observed call-limit bucket, 0/0 if never seen
func (d *Dispatcher) Quota() (used, limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quotaUsed, d.quotaLimit
}

func (d *Dispatcher) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s %s: %v", sheetsync.ErrTransient, method, endpoint, err)
	}
	d.observeQuota(resp.Header.Get(CallLimitHeader))
	return resp, data, nil
}

func (d *Dispatcher) observeQuota(header string) {
	used, limit, ok := ParseCallLimit(header)
	if !ok {
		return
	}
	d.mu.Lock()
	d.quotaUsed, d.quotaLimit = used, limit
	d.mu.Unlock()
}

// ParseCallLimit parses a "used/limit" header value
func ParseCallLimit(v string) (used, limit int, ok bool) {
	u, l, found := strings.Cut(strings.TrimSpace(v), "/")
	if !found {
		return 0, 0, false
	}
	used, err := strconv.Atoi(strings.TrimSpace(u))
	if err != nil {
		return 0, 0, false
	}
	limit, err = strconv.Atoi(strings.TrimSpace(l))
	if err != nil || limit <= 0 {
		return 0, 0, false
	}
	return used, limit, true
}

// ParseRetryAfter returns the hint in whole seconds. Both delta-seconds
// and HTTP-date forms are accepted.
func ParseRetryAfter(v string, now time.Time) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return int(math.Ceil(secs))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return int(math.Ceil(d.Seconds()))
		}
	}
	return 0
}

func remoteError(resp *http.Response, body []byte) *sheetsync.RemoteError {
	return &sheetsync.RemoteError{
		StatusCode: resp.StatusCode,
		Code:       strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_")),
		Message:    errorMessage(body, resp.Status),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// errorMessage flattens {"errors": "..."} and {"errors": {"field": ["..."]}}
func errorMessage(body []byte, fallback string) string {
	var envelope struct {
		Errors interface{} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Errors != nil {
		switch e := envelope.Errors.(type) {
		case string:
			return e
		case []interface{}:
			return joinValues(e)
		case map[string]interface{}:
			fields := make([]string, 0, len(e))
			for f := range e {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			parts := make([]string, 0, len(fields))
			for _, f := range fields {
				switch v := e[f].(type) {
				case []interface{}:
					parts = append(parts, f+": "+joinValues(v))
				default:
					parts = append(parts, fmt.Sprintf("%s: %v", f, v))
				}
			}
			return strings.Join(parts, "; ")
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func joinValues(vs []interface{}) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ", ")
}
