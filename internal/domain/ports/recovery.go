package ports

import (
	"context"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

// RecoveryCoordinator handles error reporting, strategy
// dispatch, circuit breaker, and health checks.
type RecoveryCoordinator interface {
	RegisterStrategy(component, operation string, strategy domain.RecoveryStrategy)
	RegisterGlobalStrategy(severity domain.Severity, strategy domain.RecoveryStrategy)

	ReportError(ctx context.Context, ec domain.ErrorContext)
	AttemptRecovery(ctx context.Context, ec domain.ErrorContext) error

	IsCircuitOpen(component string) bool
	ConfigureBreaker(component string, threshold int, resetTimeout time.Duration)

	StartHealthCheck(component string, probe func(ctx context.Context) error, interval time.Duration)
	StopHealthCheck(component string)

	HandleUserResponse(component, operation string, shouldRetry bool)

	History(component string) []domain.ErrorContext
	Stats(component string) RecoveryStats
}

// RecoveryStats summarizes error history ("supports
// statistics").
type RecoveryStats struct {
	CountBySeverity map[domain.Severity]int
	CountByOp       map[string]int
	RecentHourCount int
}
