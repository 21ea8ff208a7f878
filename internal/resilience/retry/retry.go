// Package retry implements the policy-driven backoff engine described in
// the resilience fabric: linear, exponential, Fibonacci, and custom delay
// schedules with optional jitter, an overall timeout, and cooperative
// cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

// ErrMaxAttemptsExceeded, ErrTimeoutExceeded, ErrNonRetryable, and
// ErrCancelled are the sentinel errors returned alongside the matching
// domain.RetryErrorKind.
var (
	ErrMaxAttemptsExceeded = errors.New("retry: max attempts exceeded")
	ErrTimeoutExceeded     = errors.New("retry: overall timeout exceeded")
	ErrNonRetryable        = errors.New("retry: non-retryable error")
	ErrCancelled           = errors.New("retry: cancelled")
)

// Engine executes operations under a domain.RetryConfig.
type Engine struct {
	config    domain.RetryConfig
	observer  Observer
	cancelled atomic.Bool
	mu        sync.Mutex
}

// Observer receives the progress signals named in the resilience fabric.
// A nil Observer is valid; New wraps it in a no-op.
type Observer interface {
	AttemptStarted(n int)
	AttemptFailed(n int, err error)
	RetryScheduled(nextN int, delayMs int64)
	OperationCompleted(success bool)
	OperationCancelled()
}

type noopObserver struct{}

func (noopObserver) AttemptStarted(int)        {}
func (noopObserver) AttemptFailed(int, error)  {}
func (noopObserver) RetryScheduled(int, int64) {}
func (noopObserver) OperationCompleted(bool)   {}
func (noopObserver) OperationCancelled()       {}

// New builds an Engine for the given config. Config is normalized per the
// boundary rules (negative initial delay clamps to zero, non-positive
// jitter factor disables jitter).
func New(cfg domain.RetryConfig, obs Observer) *Engine {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Engine{config: cfg.Normalize(), observer: obs}
}

// NetworkDefaults returns the exponential 1s->30s policy the recovery
// coordinator applies by default to network-class components.
func NetworkDefaults() domain.RetryConfig {
	return domain.RetryConfig{
		Policy:            domain.RetryPolicyExponential,
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.25,
		EnableJitter:      true,
	}
}

// StorageDefaults returns the linear 500ms->5s policy for storage/database
// components.
func StorageDefaults() domain.RetryConfig {
	return domain.RetryConfig{
		Policy:       domain.RetryPolicyLinear,
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
		EnableJitter: true,
	}
}

// MediaDefaults returns the Fibonacci 2s->15s policy for media/FFmpeg-class
// components.
func MediaDefaults() domain.RetryConfig {
	return domain.RetryConfig{
		Policy:       domain.RetryPolicyFibonacci,
		MaxAttempts:  4,
		InitialDelay: 2 * time.Second,
		MaxDelay:     15 * time.Second,
		JitterFactor: 0.2,
		EnableJitter: true,
	}
}

// Cancel short-circuits the current in-flight delay and makes subsequent
// attempts return UserCancelled.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Config returns the engine's normalized configuration.
func (e *Engine) Config() domain.RetryConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// SetConfig replaces the engine's configuration for subsequent operations.
func (e *Engine) SetConfig(cfg domain.RetryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg.Normalize()
}

// Execute runs op, retrying per the configured policy. isRetryable decides
// whether a given failure warrants another attempt; when nil, the config's
// ShouldRetry hook is consulted instead, and with neither set every error
// is retryable.
func Execute[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error), isRetryable func(error) bool) (T, domain.RetryErrorKind, error) {
	var zero T

	cfg := e.Config()
	if cfg.MaxAttempts <= 0 {
		e.observer.OperationCompleted(false)
		return zero, domain.RetryErrMaxAttemptsExceeded, ErrMaxAttemptsExceeded
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if e.cancelled.Load() {
			e.observer.OperationCancelled()
			return zero, domain.RetryErrUserCancelled, ErrCancelled
		}

		e.observer.AttemptStarted(attempt)
		value, err := op(ctx)
		if err == nil {
			e.observer.OperationCompleted(true)
			return value, domain.RetryErrNone, nil
		}
		e.observer.AttemptFailed(attempt, err)

		retryable := true
		switch {
		case isRetryable != nil:
			retryable = isRetryable(err)
		case cfg.ShouldRetry != nil:
			retryable = cfg.ShouldRetry(attempt, err)
		}
		if !retryable {
			e.observer.OperationCompleted(false)
			return zero, domain.RetryErrNonRetryableError, fmt.Errorf("%w: %v", ErrNonRetryable, err)
		}
		if attempt >= cfg.MaxAttempts {
			e.observer.OperationCompleted(false)
			return zero, domain.RetryErrMaxAttemptsExceeded, fmt.Errorf("%w: last error: %v", ErrMaxAttemptsExceeded, err)
		}

		delay := e.computeDelay(cfg, attempt)

		if cfg.OverallTimeout > 0 {
			elapsed := time.Since(start)
			if elapsed+delay >= cfg.OverallTimeout {
				e.observer.OperationCompleted(false)
				return zero, domain.RetryErrTimeoutExceeded, ErrTimeoutExceeded
			}
		}

		if e.cancelled.Load() {
			e.observer.OperationCancelled()
			return zero, domain.RetryErrUserCancelled, ErrCancelled
		}

		e.observer.RetryScheduled(attempt+1, delay.Milliseconds())

		timer := time.NewTimer(delay)
		poll := time.NewTicker(10 * time.Millisecond)
	wait:
		for {
			select {
			case <-timer.C:
				break wait
			case <-poll.C:
				if e.cancelled.Load() {
					timer.Stop()
					poll.Stop()
					e.observer.OperationCancelled()
					return zero, domain.RetryErrUserCancelled, ErrCancelled
				}
			case <-ctx.Done():
				timer.Stop()
				poll.Stop()
				e.observer.OperationCancelled()
				return zero, domain.RetryErrUserCancelled, ctx.Err()
			}
		}
		poll.Stop()
	}
}

// ExecuteAsync runs op on its own goroutine and invokes exactly one of
// onSuccess or onFailure when the retry loop finishes.
func ExecuteAsync[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error), onSuccess func(T), onFailure func(domain.RetryErrorKind, error), isRetryable func(error) bool) {
	go func() {
		value, kind, err := Execute(ctx, e, op, isRetryable)
		if err != nil {
			if onFailure != nil {
				onFailure(kind, err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(value)
		}
	}()
}

func (e *Engine) computeDelay(cfg domain.RetryConfig, attempt int) time.Duration {
	var delay time.Duration
	switch cfg.Policy {
	case domain.RetryPolicyLinear:
		delay = cfg.InitialDelay
	case domain.RetryPolicyExponential:
		mult := cfg.BackoffMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		delay = time.Duration(float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	case domain.RetryPolicyFibonacci:
		delay = cfg.InitialDelay * time.Duration(fib(attempt))
	case domain.RetryPolicyCustom:
		if cfg.CalculateDelay != nil {
			delay = cfg.CalculateDelay(attempt)
		}
	default:
		delay = cfg.InitialDelay
	}

	if cfg.EnableJitter && cfg.JitterFactor > 0 {
		delay = applyJitter(delay, cfg.JitterFactor)
	}

	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func applyJitter(delay time.Duration, factor float64) time.Duration {
	span := float64(delay) * factor
	perturb := (rand.Float64()*2 - 1) * span
	return time.Duration(float64(delay) + perturb)
}

// fib returns the nth Fibonacci number (fib(1)=1, fib(2)=1, fib(3)=2, ...).
func fib(n int) int64 {
	if n <= 0 {
		return 0
	}
	var a, b int64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
