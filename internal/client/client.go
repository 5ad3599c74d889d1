// Package client provides an HTTP client for the pick9 aggregator.
//
// Submit posts a batch to the configured server address, normally the
// root path. The read methods resolve the /api/v1 endpoints against the
// same host.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/logging"
	"github.com/xtxerr/pick9/internal/storage"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
	"github.com/xtxerr/pick9/internal/storage/types"
)

var log = logging.Component("client")

// Headers shared with the server.
const (
	requestIDHeader = "X-Request-Id"
	seqHeader       = "X-Pick9-Seq"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Client.
type Config struct {
	// ServerAddress is the URL batches are posted to,
	// e.g. "http://127.0.0.1:8000/".
	ServerAddress string

	// Timeout bounds each request attempt.
	Timeout time.Duration

	// Retries is the number of resubmissions after a busy answer or a
	// transport failure. A submission that failed in transit may already
	// have been merged, so a retry can count the batch twice. Zero
	// disables retries.
	Retries int

	// RetryBackoff is the delay before the first retry; it doubles with
	// each attempt.
	RetryBackoff time.Duration

	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
}

// =============================================================================
// Client
// =============================================================================

// Client talks to one aggregator. It is safe for concurrent use.
type Client struct {
	cfg       Config
	submitURL string
	base      *url.URL
	http      *http.Client

	submitted atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// New creates a client for cfg.ServerAddress.
func New(cfg Config) (*Client, error) {
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = config.DefaultServerAddress
	}
	u, err := url.Parse(cfg.ServerAddress)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("server address %q: %w", cfg.ServerAddress, errors.ErrInvalidAddress)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSubmitTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = config.DefaultRetryBackoff
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		cfg:       cfg,
		submitURL: u.String(),
		base:      &url.URL{Scheme: u.Scheme, Host: u.Host},
		http:      hc,
	}, nil
}

// Stats holds client counters.
type Stats struct {
	Submitted int64
	Retried   int64
	Failed    int64
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Retried:   c.retried.Load(),
		Failed:    c.failed.Load(),
	}
}

// =============================================================================
// Submit
// =============================================================================

// Submit posts batch and returns the grand total the server reported, or
// nil if the server acknowledged without one.
func (c *Client) Submit(ctx context.Context, batch *types.CounterSet) (*big.Int, error) {
	body, err := snapshot.Encode(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	// One ID for all attempts so the server log ties retries together.
	id := uuid.NewString()
	backoff := c.cfg.RetryBackoff

	for attempt := 0; ; attempt++ {
		total, err := c.submitOnce(ctx, id, body)
		if err == nil {
			c.submitted.Add(1)
			return total, nil
		}

		if attempt >= c.cfg.Retries || !retriable(ctx, err) {
			c.failed.Add(1)
			return nil, err
		}

		log.Warn("submit failed, retrying",
			"request_id", id,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)
		c.retried.Add(1)

		select {
		case <-ctx.Done():
			c.failed.Add(1)
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Client) submitOnce(ctx context.Context, id string, body []byte) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, id)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	// Servers that only acknowledge with an empty 200 report no total.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out totalResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parseTotal(out.Total)
}

// =============================================================================
// Reads
// =============================================================================

type totalResponse struct {
	Total string `json:"total"`
	Seq   uint64 `json:"seq"`
}

// Total returns the server's grand total and the merge sequence it
// reflects.
func (c *Client) Total(ctx context.Context) (*big.Int, uint64, error) {
	resp, err := c.get(ctx, "/api/v1/total", "")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out totalResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, 0, err
	}
	total, err := parseTotal(out.Total)
	return total, out.Seq, err
}

// Snapshot downloads and decodes the server's total.
func (c *Client) Snapshot(ctx context.Context, schema types.Schema) (*types.CounterSet, uint64, error) {
	resp, err := c.get(ctx, "/api/v1/snapshot", "")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}

	seq, _ := strconv.ParseUint(resp.Header.Get(seqHeader), 10, 64)
	cs, err := snapshot.Decode(schema, data)
	if err != nil {
		return nil, 0, err
	}
	return cs, seq, nil
}

// ServerStats returns the server's store statistics.
func (c *Client) ServerStats(ctx context.Context) (*storage.Stats, error) {
	resp, err := c.get(ctx, "/api/v1/stats", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out storage.Stats
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads a Parquet export into w.
func (c *Client) Export(ctx context.Context, w io.Writer, compression string) (int64, error) {
	query := ""
	if compression != "" {
		query = url.Values{"compression": {compression}}.Encode()
	}

	resp, err := c.get(ctx, "/api/v1/export", query)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Health returns nil if the server reports healthy.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/healthz", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path, query string) (*http.Response, error) {
	u := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	return resp, nil
}

// =============================================================================
// Responses and errors
// =============================================================================

// transportError marks a request that failed before a response arrived.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retriable reports whether a failed submission may be resent. Transport
// failures are retried too; those may double count.
func retriable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *transportError
	return errors.As(err, &te) || errors.IsRetriable(err)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// codeErrors maps server error codes back to sentinels.
var codeErrors = map[string]error{
	errors.CodeInvalidBatch:  errors.ErrInvalidBatch,
	errors.CodeShapeMismatch: errors.ErrShapeMismatch,
	errors.CodePersistence:   errors.ErrPersistence,
	errors.CodeBusy:          errors.ErrBusy,
	errors.CodeTooLarge:      errors.ErrTooLarge,
	errors.CodeNotReady:      errors.ErrNotReady,
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil {
		if sentinel, ok := codeErrors[env.Error.Code]; ok {
			return fmt.Errorf("server returned %d: %s: %w", resp.StatusCode, env.Error.Message, sentinel)
		}
	}
	return fmt.Errorf("server returned %d: %w", resp.StatusCode, errors.ErrUnexpectedCode)
}

func parseTotal(s string) (*big.Int, error) {
	v, err := snapshot.ParseCounter(s)
	if err != nil {
		return nil, fmt.Errorf("total %q: %v: %w", s, err, errors.ErrUnexpectedCode)
	}
	return v, nil
}
