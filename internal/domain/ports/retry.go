package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// Retryer executes an operation under a RetryConfig, retrying on failure per
// the configured policy. T is the operation's success payload type.
type Retryer[T any] interface {
	Execute(ctx context.Context, op func(ctx context.Context) (T, error), isRetryable func(error) bool) (T, domain.RetryErrorKind, error)
}

// RetryObserver receives the progress signals the retry engine requires implementers to
// expose. Implementations must not block; slow subscribers should buffer or
// drop.
type RetryObserver interface {
	AttemptStarted(n int)
	AttemptFailed(n int, err error)
	RetryScheduled(nextN int, delayMs int64)
	OperationCompleted(success bool)
	OperationCancelled()
}
