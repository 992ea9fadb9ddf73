package providers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentcore/internal/backoff"
	"github.com/haasonsaas/agentcore/internal/observability"
)

const (
	// DefaultTimeout bounds one single-shot call and the idle gap between
	// stream lines.
	DefaultTimeout    = 120 * time.Second
	defaultMaxRetries = 2
	maxStreamLine     = 1024 * 1024
)

// ClientConfig configures the transport.
type ClientConfig struct {
	HTTPClient *http.Client
	// Timeout bounds a single-shot call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// StreamIdleTimeout is the longest wait for the next stream line.
	// Defaults to Timeout.
	StreamIdleTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Negative
	// disables retries.
	MaxRetries int
	Backoff    backoff.Policy
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// StreamEvent is one value on a stream channel. The final event carries the
// accumulated Response, and Err when the stream failed; partial content
// already delivered is kept in that Response.
type StreamEvent struct {
	Chunk    *StreamChunk
	Response *Response
	Err      error
}

// Client carries adapter requests over HTTP.
type Client struct {
	registry *Registry
	http     *http.Client
	timeout  time.Duration
	idle     time.Duration
	retries  int
	policy   backoff.Policy
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewClient creates a transport over the adapters in registry.
func NewClient(registry *Registry, cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = cfg.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		registry: registry,
		http:     cfg.HTTPClient,
		timeout:  cfg.Timeout,
		idle:     cfg.StreamIdleTimeout,
		retries:  cfg.MaxRetries,
		policy:   cfg.Backoff,
		logger:   cfg.Logger.With("component", "providers"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
}

// Registry returns the adapter registry.
func (c *Client) Registry() *Registry { return c.registry }

// Complete performs a single-shot call. Rate limits, 5xx answers and
// transport failures are retried with backoff.
func (c *Client) Complete(ctx context.Context, provider string, req *Request) (*Response, error) {
	adapter, err := c.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	single := *req
	single.Stream = false
	wire, err := adapter.BuildRequest(&single)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.TraceLLMRequest(ctx, adapter.Name(), req.Model, false)
	defer span.End()
	start := time.Now()

	resp, attempts, err := backoff.Retry(ctx, c.policy, c.retries+1, IsRetryable, func(attempt int) (*Response, error) {
		if attempt > 1 {
			c.logger.Debug("retrying provider request", "provider", adapter.Name(), "model", req.Model, "attempt", attempt)
		}
		body, err := c.roundTrip(ctx, adapter.Name(), req.Model, wire)
		if err != nil {
			return nil, err
		}
		return adapter.ParseResponse(body)
	})
	c.observe(adapter.Name(), req.Model, start, resp, err)
	if err != nil {
		c.tracer.RecordError(span, err)
		c.logger.Warn("provider request failed",
			"provider", adapter.Name(), "model", req.Model, "attempts", attempts, "error", err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, provider, model string, wire *WireRequest) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := wire.HTTPRequest()
	if err != nil {
		return nil, NewProviderError(KindProvider, provider, model, err)
	}
	resp, err := c.http.Do(httpReq.WithContext(ctx))
	if err != nil {
		return nil, c.transportError(ctx, provider, model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, provider, model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(provider, model, resp, body)
	}
	return body, nil
}

// transportError keeps caller cancellation distinguishable from network faults.
func (c *Client) transportError(ctx context.Context, provider, model string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return networkError(provider, model, err)
}

// Stream starts a streaming call. Each connection attempt waits at most the
// client timeout for response headers and is retried like Complete; once the
// first line is read nothing is retried. The channel is
// closed after the final event. Cancelling ctx closes the response body.
func (c *Client) Stream(ctx context.Context, provider string, req *Request) (<-chan StreamEvent, error) {
	adapter, err := c.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	streaming := *req
	streaming.Stream = true
	wire, err := adapter.BuildRequest(&streaming)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.TraceLLMRequest(ctx, adapter.Name(), req.Model, true)
	start := time.Now()
	streamCtx, cancel := context.WithCancel(ctx)

	resp, _, err := backoff.Retry(streamCtx, c.policy, c.retries+1, IsRetryable, func(int) (*http.Response, error) {
		return c.openStream(streamCtx, adapter.Name(), req.Model, wire)
	})
	if err != nil {
		cancel()
		c.observe(adapter.Name(), req.Model, start, nil, err)
		c.tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer span.End()
		defer cancel()
		defer close(out)

		final, err := c.readStream(streamCtx, ctx, cancel, adapter, req.Model, resp.Body, out)
		c.observe(adapter.Name(), req.Model, start, final, err)
		if err != nil {
			c.tracer.RecordError(span, err)
		}
		send(ctx, out, StreamEvent{Response: final, Err: err})
	}()
	return out, nil
}

// openStream sends the request and waits at most c.timeout for response
// headers. The returned body cancels the attempt context when closed.
func (c *Client) openStream(ctx context.Context, provider, model string, wire *WireRequest) (*http.Response, error) {
	httpReq, err := wire.HTTPRequest()
	if err != nil {
		return nil, NewProviderError(KindProvider, provider, model, err)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	setup := time.AfterFunc(c.timeout, cancel)
	resp, err := c.http.Do(httpReq.WithContext(attemptCtx))
	if !setup.Stop() && ctx.Err() == nil {
		cancel()
		if resp != nil {
			resp.Body.Close()
		}
		return nil, networkError(provider, model,
			fmt.Errorf("no response headers within %s: %w", c.timeout, context.DeadlineExceeded))
	}
	if err != nil {
		cancel()
		return nil, c.transportError(ctx, provider, model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLine))
		return nil, statusError(provider, model, resp, body)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// readStream decodes lines until a terminator, an error, cancellation or an
// idle timeout. The body is always closed.
func (c *Client) readStream(
	streamCtx, callerCtx context.Context,
	cancel context.CancelFunc,
	adapter Adapter,
	model string,
	body io.ReadCloser,
	out chan<- StreamEvent,
) (*Response, error) {
	defer body.Close()

	var idled atomic.Bool
	watchdog := time.AfterFunc(c.idle, func() {
		idled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	decoder := adapter.NewStreamDecoder()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		watchdog.Reset(c.idle)
		chunk, err := decoder.Decode(scanner.Bytes())
		if err != nil {
			return decoder.Result(), err
		}
		if chunk == nil {
			continue
		}
		if chunk.ContentDelta != "" || chunk.FinishReason != "" {
			if !send(callerCtx, out, StreamEvent{Chunk: chunk}) {
				return decoder.Result(), callerCtx.Err()
			}
		}
		if chunk.Done {
			return decoder.Result(), nil
		}
	}

	switch {
	case callerCtx.Err() != nil:
		return decoder.Result(), callerCtx.Err()
	case idled.Load():
		return decoder.Result(), networkError(adapter.Name(), model,
			fmt.Errorf("stream idle for %s: %w", c.idle, context.DeadlineExceeded))
	case scanner.Err() != nil:
		return decoder.Result(), networkError(adapter.Name(), model, scanner.Err())
	case streamCtx.Err() != nil:
		return decoder.Result(), streamCtx.Err()
	}
	return decoder.Result(), invalidResponse(adapter.Name(), model, "stream ended without a terminator")
}

func send(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) observe(provider, model string, start time.Time, resp *Response, err error) {
	status := "success"
	if err != nil {
		status = string(ErrorKindOf(err))
		if status == "" {
			status = "error"
		}
	}
	var in, outTokens int
	if resp != nil && resp.Usage != nil {
		in, outTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	c.metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), in, outTokens)
}
