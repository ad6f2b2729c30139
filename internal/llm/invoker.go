package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/shared"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of a successful invocation.
type Result struct {
	Text     string
	Usage    shared.TokenUsage
	Attempts int
	Duration time.Duration
}

// AttemptObserver is notified after every provider call with "ok",
// "transient" or "error".
type AttemptObserver func(provider, result string)

// Invoker calls a TextGenerator with a per-attempt timeout, bounded retries
// for transient failures, and a cap on concurrent in-flight calls.
type Invoker struct {
	gen        TextGenerator
	provider   string
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	slots      *semaphore.Weighted
	observe    AttemptObserver
	log        *logger.Logger
}

type InvokerOption func(*Invoker)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) InvokerOption {
	return func(i *Invoker) { i.maxRetries = n }
}

// WithBackoff sets the first retry delay; later delays double up to max.
func WithBackoff(base, max time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.backoff = base
		i.maxBackoff = max
	}
}

// WithConcurrency caps in-flight provider calls across all requests.
func WithConcurrency(n int64) InvokerOption {
	return func(i *Invoker) {
		if n > 0 {
			i.slots = semaphore.NewWeighted(n)
		}
	}
}

func WithObserver(o AttemptObserver) InvokerOption {
	return func(i *Invoker) { i.observe = o }
}

func WithLogger(l *logger.Logger) InvokerOption {
	return func(i *Invoker) { i.log = l }
}

// NewInvoker wraps gen. A nil gen means no credential is configured: every
// Invoke then fails with a ConfigError without touching the network.
func NewInvoker(gen TextGenerator, provider string, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		gen:        gen,
		provider:   provider,
		maxRetries: 2,
		backoff:    time.Second,
		maxBackoff: 10 * time.Second,
		observe:    func(string, string) {},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs req, retrying transient failures up to the configured bound.
// It makes at most maxRetries+1 provider calls.
func (i *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if i.gen == nil {
		return Result{}, planerr.Config("cannot call the generation service", ErrMissingCredential)
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= i.maxRetries; attempt++ {
		if attempt > 0 {
			if err := i.wait(ctx, attempt); err != nil {
				return Result{Attempts: attempts, Duration: time.Since(start)},
					planerr.Transient("generation cancelled while waiting to retry", errors.Join(lastErr, err))
			}
		}

		attempts++
		resp, err := i.call(ctx, req)
		if err == nil {
			i.observe(i.provider, "ok")
			return Result{
				Text:     resp.Content,
				Usage:    resp.Usage,
				Attempts: attempts,
				Duration: time.Since(start),
			}, nil
		}
		lastErr = err

		if !IsTransient(err) {
			i.observe(i.provider, "error")
			res := Result{Attempts: attempts, Duration: time.Since(start)}
			if IsAuth(err) {
				return res, planerr.Config("generation service rejected the credential", err)
			}
			return res, planerr.Permanent("generation service failed", err)
		}

		i.observe(i.provider, "transient")
		i.log.Warn("transient generation failure",
			"provider", i.provider, "attempt", attempts, "max_attempts", i.maxRetries+1, "error", err)
	}

	return Result{Attempts: attempts, Duration: time.Since(start)},
		planerr.Transient("generation service unavailable", lastErr)
}

// call performs one provider call under the per-attempt timeout. A call that
// outlives the timeout is reported as transient.
func (i *Invoker) call(ctx context.Context, req Request) (ContentResponse, error) {
	if i.slots != nil {
		if err := i.slots.Acquire(ctx, 1); err != nil {
			return ContentResponse{}, NewTransientError(err)
		}
		defer i.slots.Release(1)
	}

	callCtx := ctx
	if req.Options.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
		defer cancel()
	}

	resp, err := i.gen.GenerateContent(callCtx, req)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
		err = NewTransientError(err)
	}
	return resp, err
}

// wait sleeps for the backoff of the given retry, or until ctx ends.
func (i *Invoker) wait(ctx context.Context, retry int) error {
	d := i.backoff << (retry - 1)
	if i.maxBackoff > 0 && (d > i.maxBackoff || d <= 0) {
		d = i.maxBackoff
	}
	// ±20% jitter
	if d > 0 {
		d = time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HasCredential reports whether Invoke can reach a provider at all.
func (i *Invoker) HasCredential() bool {
	return i.gen != nil
}
