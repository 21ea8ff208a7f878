// Package recovery implements the error reporting and recovery coordinator:
// per-component/per-severity strategy dispatch, circuit breakers, health
// check loops, and a bounded error history.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/resilience/retry"
)

// EventType tags an Event published on the coordinator's event channel.
type EventType int

const (
	EventBreakerTripped EventType = iota
	EventBreakerClosed
	EventComponentRestart
	EventUserPrompt
	EventFatal
	EventHealthChanged
	EventRecoverySucceeded
	EventRecoveryFailed
)

func (t EventType) String() string {
	switch t {
	case EventBreakerTripped:
		return "breaker_tripped"
	case EventBreakerClosed:
		return "breaker_closed"
	case EventComponentRestart:
		return "component_restart"
	case EventUserPrompt:
		return "user_prompt"
	case EventFatal:
		return "fatal"
	case EventHealthChanged:
		return "health_changed"
	case EventRecoverySucceeded:
		return "recovery_succeeded"
	default:
		return "recovery_failed"
	}
}

// Event is the coordinator's observable surface. Restart events carry the
// sub-action string the target component interprets; health events carry the
// new health state in Healthy.
type Event struct {
	Type          EventType
	Component     string
	Operation     string
	RestartAction domain.RestartAction
	Healthy       bool
	Context       domain.ErrorContext
}

// Options configures a Coordinator.
type Options struct {
	MaxErrorHistory       int
	ErrorReportingEnabled bool
	AutoRecoveryEnabled   bool
	BreakerThreshold      int
	BreakerResetTimeout   time.Duration
	HealthProbeTimeout    time.Duration
}

// DefaultOptions returns the conventional defaults: 1000-entry history,
// breaker threshold 5 with a 5 minute reset, 30 s health probes.
func DefaultOptions() Options {
	return Options{
		MaxErrorHistory:       1000,
		ErrorReportingEnabled: true,
		AutoRecoveryEnabled:   true,
		BreakerThreshold:      5,
		BreakerResetTimeout:   5 * time.Minute,
		HealthProbeTimeout:    30 * time.Second,
	}
}

// ErrBreakerOpen is returned by AttemptRecovery when the component's circuit
// breaker currently blocks recovery.
var ErrBreakerOpen = errors.New("recovery: circuit breaker open")

// ErrRecoveryFailed is returned when both the primary and fallback actions
// failed (or none was runnable).
var ErrRecoveryFailed = errors.New("recovery: all recovery actions failed")

type healthCheck struct {
	cancel  context.CancelFunc
	healthy bool
}

// Coordinator owns error history, strategies, breakers, and health check
// schedulers. All maps share one mutex; the mutex is never held across a
// recovery function, probe, or channel send.
type Coordinator struct {
	logger *slog.Logger
	opts   Options

	mu                  sync.Mutex
	history             []domain.ErrorContext
	componentStrategies map[string]map[string]domain.RecoveryStrategy
	globalStrategies    map[domain.Severity]domain.RecoveryStrategy
	breakers            map[string]*domain.CircuitBreakerState
	healthChecks        map[string]*healthCheck
	pendingPrompts      map[string]domain.ErrorContext

	events chan Event
}

// New builds a Coordinator. The events channel is buffered; if no consumer
// drains it, events are dropped rather than blocking a reporting component.
func New(logger *slog.Logger, opts Options) *Coordinator {
	if opts.MaxErrorHistory <= 0 {
		opts.MaxErrorHistory = DefaultOptions().MaxErrorHistory
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = DefaultOptions().BreakerThreshold
	}
	if opts.BreakerResetTimeout <= 0 {
		opts.BreakerResetTimeout = DefaultOptions().BreakerResetTimeout
	}
	if opts.HealthProbeTimeout <= 0 {
		opts.HealthProbeTimeout = DefaultOptions().HealthProbeTimeout
	}
	return &Coordinator{
		logger:              logger,
		opts:                opts,
		componentStrategies: make(map[string]map[string]domain.RecoveryStrategy),
		globalStrategies:    make(map[domain.Severity]domain.RecoveryStrategy),
		breakers:            make(map[string]*domain.CircuitBreakerState),
		healthChecks:        make(map[string]*healthCheck),
		pendingPrompts:      make(map[string]domain.ErrorContext),
		events:              make(chan Event, 256),
	}
}

// Events exposes the coordinator's event stream to host observers.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("recovery event dropped, channel full",
			slog.String("type", ev.Type.String()),
			slog.String("component", ev.Component),
		)
	}
}

// RegisterStrategy installs a strategy for a (component, operation) pair.
func (c *Coordinator) RegisterStrategy(component, operation string, strategy domain.RecoveryStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops, ok := c.componentStrategies[component]
	if !ok {
		ops = make(map[string]domain.RecoveryStrategy)
		c.componentStrategies[component] = ops
	}
	ops[operation] = strategy
}

// RegisterGlobalStrategy installs a severity-scoped fallback strategy.
func (c *Coordinator) RegisterGlobalStrategy(severity domain.Severity, strategy domain.RecoveryStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalStrategies[severity] = strategy
}

// ConfigureBreaker overrides the breaker threshold/reset for one component.
func (c *Coordinator) ConfigureBreaker(component string, threshold int, resetTimeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.breaker(component)
	b.Threshold = threshold
	b.ResetTimeout = resetTimeout
}

// breaker returns the component's breaker state, creating it with the
// coordinator defaults on first use. Caller holds c.mu.
func (c *Coordinator) breaker(component string) *domain.CircuitBreakerState {
	b, ok := c.breakers[component]
	if !ok {
		b = &domain.CircuitBreakerState{
			Threshold:    c.opts.BreakerThreshold,
			ResetTimeout: c.opts.BreakerResetTimeout,
		}
		c.breakers[component] = b
	}
	return b
}

// ReportError records a failure: appends it to history, advances the
// component's breaker, and kicks off auto-recovery for Error-or-worse
// severities when enabled.
func (c *Coordinator) ReportError(ctx context.Context, ec domain.ErrorContext) {
	if !c.opts.ErrorReportingEnabled {
		return
	}

	metrics.ErrorsReportedTotal.WithLabelValues(ec.Component, ec.Severity.String()).Inc()
	c.logger.Log(ctx, slogLevel(ec.Severity), "error reported",
		slog.String("component", ec.Component),
		slog.String("operation", ec.Operation),
		slog.String("code", ec.Code),
		slog.String("message", ec.Message),
	)

	c.mu.Lock()
	c.history = append(c.history, ec)
	if over := len(c.history) - c.opts.MaxErrorHistory; over > 0 {
		c.history = c.history[over:]
	}

	b := c.breaker(ec.Component)
	wasOpen := b.IsOpen(time.Now())
	b.FailureCount++
	b.LastFailure = ec.Timestamp
	if b.LastFailure.IsZero() {
		b.LastFailure = time.Now()
	}
	nowOpen := b.IsOpen(time.Now())
	c.mu.Unlock()

	if nowOpen && !wasOpen {
		metrics.CircuitBreakerTripsTotal.WithLabelValues(ec.Component).Inc()
		metrics.CircuitBreakerOpen.WithLabelValues(ec.Component).Set(1)
		c.emit(Event{Type: EventBreakerTripped, Component: ec.Component, Context: ec})
	}

	if c.opts.AutoRecoveryEnabled && ec.Severity >= domain.SeverityError {
		if err := c.AttemptRecovery(ctx, ec); err != nil {
			c.logger.Warn("auto recovery failed",
				slog.String("component", ec.Component),
				slog.String("operation", ec.Operation),
				slog.String("error", err.Error()),
			)
		}
	}
}

// IsCircuitOpen reports the breaker state for a component. Once the reset
// timeout has elapsed the breaker closes optimistically (half-open trial):
// the failure count is pulled back to one below the threshold so the next
// recorded failure re-opens it immediately.
func (c *Coordinator) IsCircuitOpen(component string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[component]
	if !ok {
		return false
	}
	now := time.Now()
	if b.FailureCount >= b.Threshold && !b.IsOpen(now) {
		b.FailureCount = b.Threshold - 1
		metrics.CircuitBreakerOpen.WithLabelValues(component).Set(0)
		return false
	}
	return b.IsOpen(now)
}

// lookupStrategy resolves the strategy for an error: component+operation
// first, then the severity-global table, then a no-op.
func (c *Coordinator) lookupStrategy(ec domain.ErrorContext) domain.RecoveryStrategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ops, ok := c.componentStrategies[ec.Component]; ok {
		if s, ok := ops[ec.Operation]; ok {
			return s
		}
	}
	if s, ok := c.globalStrategies[ec.Severity]; ok {
		return s
	}
	return domain.NoopStrategy()
}

// AttemptRecovery runs the strategy registered for ec. It refuses while the
// component breaker is open; the recovery outcome feeds back into the
// breaker (success closes it, failure advances it).
func (c *Coordinator) AttemptRecovery(ctx context.Context, ec domain.ErrorContext) error {
	if c.IsCircuitOpen(ec.Component) {
		metrics.RecoveryAttemptsTotal.WithLabelValues(ec.Component, "breaker_open").Inc()
		return fmt.Errorf("%w: component %q", ErrBreakerOpen, ec.Component)
	}

	strategy := c.lookupStrategy(ec)
	if strategy.PrimaryAction == domain.ActionNone && strategy.FallbackAction == domain.ActionNone {
		return nil
	}

	ok := c.executeAction(ctx, strategy.PrimaryAction, strategy, ec)
	if !ok && strategy.FallbackAction != domain.ActionNone {
		ok = c.executeAction(ctx, strategy.FallbackAction, strategy, ec)
	}

	c.mu.Lock()
	b := c.breaker(ec.Component)
	if ok {
		b.FailureCount = 0
	} else {
		b.FailureCount++
		b.LastFailure = time.Now()
	}
	c.mu.Unlock()

	if ok {
		metrics.RecoveryAttemptsTotal.WithLabelValues(ec.Component, "success").Inc()
		metrics.CircuitBreakerOpen.WithLabelValues(ec.Component).Set(0)
		c.emit(Event{Type: EventRecoverySucceeded, Component: ec.Component, Operation: ec.Operation, Context: ec})
		return nil
	}
	metrics.RecoveryAttemptsTotal.WithLabelValues(ec.Component, "failure").Inc()
	c.emit(Event{Type: EventRecoveryFailed, Component: ec.Component, Operation: ec.Operation, Context: ec})
	return fmt.Errorf("%w: component %q operation %q", ErrRecoveryFailed, ec.Component, ec.Operation)
}

func (c *Coordinator) executeAction(ctx context.Context, action domain.Action, strategy domain.RecoveryStrategy, ec domain.ErrorContext) bool {
	switch action {
	case domain.ActionRetry:
		if strategy.RecoveryFn != nil {
			return strategy.RecoveryFn(ec)
		}
		return c.retryWithEngine(ctx, strategy, ec)
	case domain.ActionFallback:
		if strategy.FallbackFn != nil {
			return strategy.FallbackFn(ec)
		}
		return false
	case domain.ActionReset:
		if strategy.RecoveryFn != nil {
			return strategy.RecoveryFn(ec)
		}
		return false
	case domain.ActionRestart:
		c.emit(Event{
			Type:          EventComponentRestart,
			Component:     ec.Component,
			Operation:     ec.Operation,
			RestartAction: restartActionFor(ec.Component),
			Context:       ec,
		})
		return true
	case domain.ActionUserPrompt:
		c.mu.Lock()
		c.pendingPrompts[promptKey(ec.Component, ec.Operation)] = ec
		c.mu.Unlock()
		c.emit(Event{Type: EventUserPrompt, Component: ec.Component, Operation: ec.Operation, Context: ec})
		return true
	case domain.ActionTerminate:
		c.emit(Event{Type: EventFatal, Component: ec.Component, Operation: ec.Operation, Context: ec})
		return true
	default:
		return false
	}
}

// retryWithEngine delegates the Retry action to the retry engine when no
// user recovery function is supplied. Without an explicit RetryConfig the
// component-class heuristics apply.
func (c *Coordinator) retryWithEngine(ctx context.Context, strategy domain.RecoveryStrategy, ec domain.ErrorContext) bool {
	cfg := configForComponent(strategy, ec.Component)
	engine := retry.New(cfg, nil)
	_, kind, _ := retry.Execute(ctx, engine, func(ctx context.Context) (struct{}, error) {
		// Without a recovery function there is nothing to re-run: the op
		// succeeds on its first attempt, so the action reports success at
		// once and no retry delay is spent.
		return struct{}{}, nil
	}, nil)
	return kind == domain.RetryErrNone
}

func configForComponent(strategy domain.RecoveryStrategy, component string) domain.RetryConfig {
	if strategy.RetryConfig != nil {
		return *strategy.RetryConfig
	}
	switch classifyComponent(component) {
	case "network":
		return retry.NetworkDefaults()
	case "storage":
		return retry.StorageDefaults()
	case "media":
		return retry.MediaDefaults()
	default:
		return retry.NetworkDefaults()
	}
}

// classifyComponent maps a component name onto the retry-heuristic classes.
func classifyComponent(component string) string {
	name := strings.ToLower(component)
	switch {
	case strings.Contains(name, "download"), strings.Contains(name, "network"),
		strings.Contains(name, "http"), strings.Contains(name, "torrent"):
		return "network"
	case strings.Contains(name, "storage"), strings.Contains(name, "database"),
		strings.Contains(name, "sqlite"), strings.Contains(name, "db"):
		return "storage"
	case strings.Contains(name, "media"), strings.Contains(name, "ffmpeg"),
		strings.Contains(name, "encoder"), strings.Contains(name, "pipeline"):
		return "media"
	default:
		return "other"
	}
}

// restartActionFor picks the restart sub-action a component's restart
// handler interprets.
func restartActionFor(component string) domain.RestartAction {
	name := strings.ToLower(component)
	switch {
	case strings.Contains(name, "whisper"), strings.Contains(name, "stt"):
		return domain.RestartReinitializeLibraries
	case strings.Contains(name, "model"):
		return domain.RestartReloadModels
	case strings.Contains(name, "realtime"), strings.Contains(name, "session"):
		return domain.RestartSession
	case strings.Contains(name, "media"), strings.Contains(name, "pipeline"), strings.Contains(name, "encoder"):
		return domain.RestartStopAndReset
	case strings.Contains(name, "storage"), strings.Contains(name, "database"):
		return domain.RestartReconnectDatabase
	case strings.Contains(name, "download"), strings.Contains(name, "network"):
		return domain.RestartResetConnections
	default:
		return domain.RestartGeneric
	}
}

func promptKey(component, operation string) string {
	return component + "::" + operation
}

// HandleUserResponse resumes a stored UserPrompt: shouldRetry re-runs
// recovery for the stored context, otherwise the prompt is dropped.
func (c *Coordinator) HandleUserResponse(component, operation string, shouldRetry bool) {
	c.mu.Lock()
	ec, ok := c.pendingPrompts[promptKey(component, operation)]
	delete(c.pendingPrompts, promptKey(component, operation))
	c.mu.Unlock()
	if !ok || !shouldRetry {
		return
	}

	// Re-dispatch through the retry path rather than the prompt path so the
	// response cannot loop back into another prompt.
	strategy := c.lookupStrategy(ec)
	ok = false
	if strategy.RecoveryFn != nil {
		ok = strategy.RecoveryFn(ec)
	}
	c.mu.Lock()
	b := c.breaker(component)
	if ok {
		b.FailureCount = 0
	}
	c.mu.Unlock()
}

// History returns the recorded errors for one component, oldest first. An
// empty component returns the full history.
func (c *Coordinator) History(component string) []domain.ErrorContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ErrorContext, 0, len(c.history))
	for _, ec := range c.history {
		if component == "" || ec.Component == component {
			out = append(out, ec)
		}
	}
	return out
}

// Stats summarizes the error history for one component (or all components
// when component is empty).
func (c *Coordinator) Stats(component string) ports.RecoveryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := ports.RecoveryStats{
		CountBySeverity: make(map[domain.Severity]int),
		CountByOp:       make(map[string]int),
	}
	cutoff := time.Now().Add(-time.Hour)
	for _, ec := range c.history {
		if component != "" && ec.Component != component {
			continue
		}
		stats.CountBySeverity[ec.Severity]++
		stats.CountByOp[ec.Operation]++
		if ec.Timestamp.After(cutoff) {
			stats.RecentHourCount++
		}
	}
	return stats
}

func slogLevel(s domain.Severity) slog.Level {
	switch s {
	case domain.SeverityInfo:
		return slog.LevelInfo
	case domain.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
