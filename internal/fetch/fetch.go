// Package fetch performs HTTP requests with a per-attempt timeout and a
// fixed-delay retry policy.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultTimeout    = 8 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = time.Second
)

// ErrTimeout is returned when an attempt is aborted by its timeout
var ErrTimeout = errors.New("request timed out")

// StatusError reports a non-2xx response on an attempt that was retried
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// Options controls a single Do call
type Options struct {
	// Timeout aborts an attempt; zero disables it
	Timeout time.Duration
	// Retries is the number of attempts after the first one
	Retries int
	// RetryDelay is the fixed pause between attempts
	RetryDelay time.Duration
}

// Option overrides one of the Options
type Option func(*Options)

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRetries sets the number of additional attempts
func WithRetries(n int) Option {
	return func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.Retries = n
	}
}

// WithRetryDelay sets the pause between attempts
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// Request is a replayable HTTP request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Doer is satisfied by *http.Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher issues requests with timeout and retry
type Fetcher struct {
	client   Doer
	logger   *zap.Logger
	defaults Options
}

// New creates a Fetcher. The given options replace the package defaults for
// every call made through it.
func New(client Doer, logger *zap.Logger, defaults ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := Options{
		Timeout:    DefaultTimeout,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
	}
	for _, opt := range defaults {
		opt(&o)
	}
	return &Fetcher{client: client, logger: logger, defaults: o}
}

// Do performs req. Transport errors, timeouts and non-2xx responses are
// retried while attempts remain. Once retries are exhausted a transport
// error is returned, while a non-2xx response is handed back to the caller.
// The caller must close the response body.
func (f *Fetcher) Do(ctx context.Context, req Request, opts ...Option) (*http.Response, error) {
	o := f.defaults
	for _, opt := range opts {
		opt(&o)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.RetryDelay), uint64(o.Retries)),
		ctx,
	)

	attempts := 0
	operation := func() (*http.Response, error) {
		attempts++
		resp, err := f.attempt(ctx, req, o.Timeout)
		if err != nil {
			return nil, err
		}
		if (resp.StatusCode >= 200 && resp.StatusCode < 300) || attempts > o.Retries {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	notify := func(err error, delay time.Duration) {
		f.logger.Warn("Request attempt failed, retrying",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("attempt", attempts),
			zap.Duration("retry_delay", delay),
			zap.Error(err))
	}

	resp, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
		}
		return nil, err
	}
	return resp, nil
}

// attempt performs a single request under its own timeout
func (f *Fetcher) attempt(ctx context.Context, req Request, timeout time.Duration) (*http.Response, error) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if timedOut {
			return nil, fmt.Errorf("%s %s: %w after %s", req.Method, req.URL, ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	// Keep the attempt context alive until the caller is done with the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
