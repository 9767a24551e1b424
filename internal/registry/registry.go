// Package registry implements the crates.io-compatible wire protocol used
// to probe version existence, list owners, and read sparse-index entries
// (spec.md §4.3, §6). Every probe is wrapped in a circuit breaker so a
// degraded registry stops being hammered mid-run instead of spinning the
// retry loop through max_delay repeatedly.
package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// UserAgent identifies the engine to the registry (spec.md §4.3).
const UserAgent = "shipper-engine/1"

// Status is the three-plus-one-valued classification of a registry probe
// result (spec.md §4.3).
type Status int

const (
	Found Status = iota
	NotFound
	Transient
	Permanent
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single registry probe.
type Result struct {
	Status     Status
	Reason     string
	StatusCode int
}

// Retryable reports whether the execution engine's retry loop should
// attempt this probe again (spec.md §4.6).
func (r Result) Retryable() bool {
	return r.Status == Transient
}

// Config describes a single registry endpoint (spec.md §6).
type Config struct {
	// Name is the registry identifier, used for token scoping.
	Name string
	// APIBase is the base URL for the versions/owners API, e.g.
	// "https://crates.io".
	APIBase string
	// IndexBase is the base URL for the sparse index, e.g.
	// "https://index.crates.io".
	IndexBase string
}

// Client probes a single registry over HTTP.
type Client struct {
	cfg        Config
	token      string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken attaches a resolved bearer token to authenticated requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying http.Client (tests install a
// transport double here).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every individual request (spec.md §4.3).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger attaches structured logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client for a single registry.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		timeout:    10 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry:" + cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// VersionExists performs GET {api_base}/api/v1/crates/{name}/{version}
// (spec.md §4.3 operation 1, §6).
func (c *Client) VersionExists(ctx context.Context, name, version string) (Result, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s/%s", c.cfg.APIBase, name, version)
	return c.probe(ctx, "version_exists", url, false)
}

// OwnersResult is the outcome of a list_owners probe.
type OwnersResult struct {
	Result
	Logins []string
}

// ListOwners performs an authenticated GET {api_base}/api/v1/crates/{name}/owners
// (spec.md §4.3 operation 2).
func (c *Client) ListOwners(ctx context.Context, name string) (OwnersResult, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s/owners", c.cfg.APIBase, name)

	body, result, err := c.do(ctx, "list_owners", url, true)
	if err != nil {
		return OwnersResult{Result: result}, err
	}
	if result.Status != Found {
		return OwnersResult{Result: result}, nil
	}

	var parsed struct {
		Users []struct {
			Login string `json:"login"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return OwnersResult{Result: Result{Status: Permanent, Reason: "malformed owners response"}}, nil
	}

	logins := make([]string, 0, len(parsed.Users))
	for _, u := range parsed.Users {
		logins = append(logins, u.Login)
	}
	return OwnersResult{Result: result, Logins: logins}, nil
}

// IndexLookup performs GET {index_base}/{prefix}/{name}, parses the
// line-delimited JSON sparse-index records, and reports Found iff a
// record's "vers" field matches version (spec.md §4.3 operation 3).
func (c *Client) IndexLookup(ctx context.Context, name, version string) (Result, error) {
	url := fmt.Sprintf("%s/%s/%s", c.cfg.IndexBase, IndexPrefix(name), name)

	body, result, err := c.do(ctx, "index_lookup", url, false)
	if err != nil {
		return result, err
	}
	if result.Status != Found {
		return result, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var rec struct {
			Vers string `json:"vers"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Vers == version {
			return Result{Status: Found}, nil
		}
	}
	return Result{Status: NotFound}, nil
}

// IndexPrefix derives the registry's standard sparse-index prefix from a
// package name: 1-letter names live under "1", 2-letter under "2",
// 3-letter under "3/<first-char>", and longer names under
// "<first-two-chars>/<third-and-fourth-chars>" (spec.md §4.3 operation 3).
func IndexPrefix(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3/" + lower[:1]
	default:
		return lower[:2] + "/" + lower[2:4]
	}
}

func (c *Client) probe(ctx context.Context, op, url string, authenticated bool) (Result, error) {
	_, result, err := c.do(ctx, op, url, authenticated)
	return result, err
}

// do issues a single GET through the circuit breaker and classifies the
// response into a Result. Transient outcomes (network errors, 429, 5xx)
// count as breaker failures, so repeated ones open the breaker. The error
// return is always nil: an open breaker, a request that cannot be built,
// and a cancelled context are all reported as a Transient Result.
func (c *Client) do(ctx context.Context, op, url string, authenticated bool) ([]byte, Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		body   []byte
		result Result
	}

	raw, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		if authenticated && c.token != "" {
			req.Header.Set("Authorization", c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return outcome{result: Result{Status: Transient, Reason: err.Error()}}, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		result := classify(resp.StatusCode)
		if result.Status == Transient {
			return outcome{body: body, result: result}, fmt.Errorf("%s: %s", op, result.Reason)
		}
		return outcome{body: body, result: result}, nil
	})

	out, ok := raw.(outcome)
	if !ok {
		c.logger.Warn("registry probe breaker open", zap.String("op", op), zap.Error(breakerErr))
		return nil, Result{Status: Transient, Reason: breakerErr.Error()}, nil
	}
	c.logger.Debug("registry probe", zap.String("op", op), zap.String("status", out.result.Status.String()))
	return out.body, out.result, nil
}

func classify(statusCode int) Result {
	switch {
	case statusCode == http.StatusOK:
		return Result{Status: Found, StatusCode: statusCode}
	case statusCode == http.StatusNotFound:
		return Result{Status: NotFound, StatusCode: statusCode}
	case statusCode == http.StatusTooManyRequests:
		return Result{Status: Transient, Reason: "rate limited", StatusCode: statusCode}
	case statusCode >= 500:
		return Result{Status: Transient, Reason: "server error", StatusCode: statusCode}
	case statusCode >= 400:
		return Result{Status: Permanent, Reason: "client error", StatusCode: statusCode}
	default:
		return Result{Status: Transient, Reason: "unexpected status", StatusCode: statusCode}
	}
}
