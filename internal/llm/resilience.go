package llm

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"engram/internal/engramerr"
)

// CircuitBreaker trips after a run of consecutive provider failures within a
// rolling window and fails fast (without calling the provider) until the
// cooldown has elapsed since the failure that tripped it.
type CircuitBreaker struct {
	mu          sync.Mutex
	failures    int
	windowStart time.Time
	openUntil   time.Time
	failThresh  int
	window      time.Duration
	cooldown    time.Duration
}

// NewCircuitBreaker returns a breaker that opens after failThresh failures
// observed within window, and stays open for cooldown.
func NewCircuitBreaker(failThresh int, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failThresh: failThresh, window: window, cooldown: cooldown}
}

// DefaultCircuitBreaker matches the daemon's standard policy: 5 failures in
// 60 seconds opens the breaker for 60 seconds.
func DefaultCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreaker(5, 60*time.Second, 60*time.Second)
}

// Allow reports whether a call should proceed, or whether the breaker is open.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.After(b.openUntil)
}

// RecordSuccess resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.windowStart = time.Time{}
}

// RecordFailure registers a failure, opening the breaker once the threshold
// is reached within the window.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.failThresh {
		b.openUntil = now.Add(b.cooldown)
		b.failures = 0
		b.windowStart = time.Time{}
	}
}

// ResilientProvider wraps a Provider with retry-with-backoff and a circuit
// breaker, per the daemon's standard provider resilience policy.
type ResilientProvider struct {
	inner      Provider
	breaker    *CircuitBreaker
	maxRetries uint
}

// NewResilientProvider wraps inner with the daemon's default retry/breaker policy.
func NewResilientProvider(inner Provider) *ResilientProvider {
	return &ResilientProvider{inner: inner, breaker: DefaultCircuitBreaker(), maxRetries: 3}
}

func (r *ResilientProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	if !r.breaker.Allow(time.Now()) {
		return Message{}, engramerr.ProviderTransportErr("circuit breaker open", nil)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	result, err := backoff.Retry(ctx, func() (Message, error) {
		msg, err := r.inner.Chat(ctx, msgs, tools, model)
		if err == nil {
			r.breaker.RecordSuccess()
			return msg, nil
		}
		r.breaker.RecordFailure(time.Now())
		if !engramerr.IsRetryable(err) {
			return Message{}, backoff.Permanent(err)
		}
		return Message{}, retryAfterAwareErr(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(r.maxRetries+1))
	return result, err
}

func (r *ResilientProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	if !r.breaker.Allow(time.Now()) {
		return engramerr.ProviderTransportErr("circuit breaker open", nil)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.inner.ChatStream(ctx, msgs, tools, model, h)
		if err == nil {
			r.breaker.RecordSuccess()
			return struct{}{}, nil
		}
		r.breaker.RecordFailure(time.Now())
		if !engramerr.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, retryAfterAwareErr(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(r.maxRetries+1))
	return err
}

// retryAfterAwareErr is a no-op passthrough today; backoff/v5 does not read
// Retry-After headers itself, so providers that report one should clamp
// their own retry loop. Kept as a seam for per-provider Retry-After honoring.
func retryAfterAwareErr(err error) error {
	return err
}
