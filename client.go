// Package rawclient is an asynchronous HTTP/1.1 client: requests are
// submitted to a single serialized request manager and completions are
// delivered to a caller-supplied handler on a caller-chosen executor,
// rather than blocking the submitting goroutine for the round trip.
package rawclient

import (
	"fmt"

	"github.com/asynchttp/rawclient/internal/dispatch"
	"github.com/asynchttp/rawclient/internal/manager"
	"github.com/asynchttp/rawclient/internal/pool"
	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/urlx"
)

// Version is the current version of this library.
const Version = "1.0.0"

// Re-export the value types a caller builds requests and reads results
// with, so nothing outside this package needs to import internal/reqres
// directly.
type (
	Method            = reqres.Method
	CompressionPolicy = reqres.CompressionPolicy
	Header            = reqres.Header
	SSLSettings       = reqres.SSLSettings
	Request           = reqres.Request
	Result            = reqres.Result
	ConnMeta          = reqres.ConnMeta

	// Executor runs a completion handler; supply a custom one to marshal
	// callbacks onto an existing event loop instead of a bare goroutine.
	Executor = dispatch.Executor

	// PoolStats reports idle connection occupancy and lifetime counters.
	PoolStats = pool.Stats
)

const (
	MethodGET  = reqres.MethodGET
	MethodHEAD = reqres.MethodHEAD
	MethodPOST = reqres.MethodPOST
	MethodPUT  = reqres.MethodPUT

	CompressionNever      = reqres.CompressionNever
	CompressionWhenBetter = reqres.CompressionWhenBetter
	CompressionAlways     = reqres.CompressionAlways

	// DefaultTimeoutMS is applied to any Request that leaves TimeoutMS unset.
	DefaultTimeoutMS = reqres.DefaultTimeoutMS
)

// SystemExecutor delivers completions on a fresh goroutine each, the
// default when no Executor is supplied.
var SystemExecutor Executor = dispatch.System

// InlineExecutor delivers completions synchronously on the manager's own
// loop goroutine. Mostly useful for tests wanting deterministic ordering.
var InlineExecutor Executor = dispatch.Inline

// Settings controls the client's admission and retry policy.
type Settings struct {
	// MaxParallelRequests bounds how many requests may be actively doing
	// socket I/O at once; additional requests queue.
	MaxParallelRequests int

	// MaxAttempts bounds how many times one request may be tried,
	// counting the first attempt, across transient-fault retries and
	// redirect follows combined.
	MaxAttempts int
}

// DefaultSettings returns the client's out-of-the-box admission and retry
// policy: 25 parallel requests, 5 attempts per request.
func DefaultSettings() Settings {
	d := manager.DefaultSettings()
	return Settings{MaxParallelRequests: d.MaxParallelRequests, MaxAttempts: d.MaxAttempts}
}

func (s Settings) toManagerSettings() manager.Settings {
	return manager.Settings{MaxParallelRequests: s.MaxParallelRequests, MaxAttempts: s.MaxAttempts}
}

// Client is an asynchronous HTTP/1.1 client built on a connection pool, a
// serialized request manager, and a caller-chosen completion executor.
type Client struct {
	mgr *manager.Manager
}

// New constructs a Client with the given Settings and starts its request
// manager loop.
func New(settings Settings) *Client {
	return &Client{mgr: manager.New(settings.toManagerSettings())}
}

// NewRequest parses rawURL and builds a Request with the given method
// against it, using the default timeout.
func NewRequest(method Method, rawURL string) (Request, error) {
	u, err := urlx.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("rawclient: %w", err)
	}
	return Request{Method: method, URL: u}, nil
}

// ExecuteRequest submits req for execution, delivering the terminal Result
// to handler on the default SystemExecutor. cancellationToken, if
// non-empty, lets a later CancelRequests call abort this request (and any
// other request sharing the same token) before or during execution.
func (c *Client) ExecuteRequest(handler func(Result), req Request, cancellationToken string) {
	c.ExecuteRequestOn(handler, SystemExecutor, req, cancellationToken)
}

// ExecuteRequestOn is ExecuteRequest with an explicit completion Executor.
func (c *Client) ExecuteRequestOn(handler func(Result), executor Executor, req Request, cancellationToken string) {
	c.mgr.Execute(handler, executor, req, cancellationToken)
}

// Get is a convenience wrapper submitting a GET request for rawURL.
func (c *Client) Get(handler func(Result), rawURL string, cancellationToken string, ssl SSLSettings) error {
	req, err := NewRequest(MethodGET, rawURL)
	if err != nil {
		return err
	}
	req.SSL = ssl
	c.ExecuteRequest(handler, req, cancellationToken)
	return nil
}

// Post is a convenience wrapper submitting a POST request for rawURL with
// the given body and Content-Type.
func (c *Client) Post(handler func(Result), rawURL string, body []byte, contentType string, cancellationToken string, ssl SSLSettings) error {
	req, err := NewRequest(MethodPOST, rawURL)
	if err != nil {
		return err
	}
	req.SSL = ssl
	req.Body = body
	if contentType != "" {
		req.Headers = append(req.Headers, Header{Name: "Content-Type", Value: contentType})
	}
	c.ExecuteRequest(handler, req, cancellationToken)
	return nil
}

// CancelRequests cancels every in-flight or waiting request submitted with
// this cancellationToken. An empty token cancels every request.
func (c *Client) CancelRequests(cancellationToken string) {
	c.mgr.CancelRequests(cancellationToken)
}

// PoolStats reports the connection pool's current occupancy and lifetime
// counters.
func (c *Client) PoolStats() PoolStats {
	return c.mgr.PoolStats()
}

// Close cancels every waiting and in-flight request exactly as
// CancelRequests("") would, invoking each one's callback with a Cancelled
// result, then closes the pool's idle connections. It blocks until every
// pending callback has been handed to its executor and the manager's loop
// goroutine has exited.
func (c *Client) Close() {
	c.mgr.Shutdown()
}

// Future adapts ExecuteRequest into a single-value wait, for callers that
// prefer blocking on one request rather than supplying a handler.
type Future struct {
	ch chan Result
}

// Wait blocks until the request completes and returns its Result.
func (f *Future) Wait() Result {
	return <-f.ch
}

// ExecuteRequestFuture submits req and returns a Future resolved with its
// terminal Result, instead of invoking a handler.
func (c *Client) ExecuteRequestFuture(req Request, cancellationToken string) *Future {
	f := &Future{ch: make(chan Result, 1)}
	c.ExecuteRequest(func(r Result) { f.ch <- r }, req, cancellationToken)
	return f
}
