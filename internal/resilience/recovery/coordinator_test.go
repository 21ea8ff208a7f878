package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(opts Options) *Coordinator {
	if opts.MaxErrorHistory == 0 {
		opts.MaxErrorHistory = 100
	}
	opts.ErrorReportingEnabled = true
	return New(testLogger(), opts)
}

func reportN(c *Coordinator, component string, n int) {
	for i := 0; i < n; i++ {
		ec := domain.NewErrorContext(component, "op", "E1", domain.SeverityError, errors.New("boom"))
		c.ReportError(context.Background(), ec)
	}
}

func TestBreakerTripAndReset(t *testing.T) {
	c := newTestCoordinator(Options{
		BreakerThreshold:    3,
		BreakerResetTimeout: time.Second,
		AutoRecoveryEnabled: false,
	})

	reportN(c, "X", 3)

	if !c.IsCircuitOpen("X") {
		t.Fatal("breaker should be open after threshold failures")
	}

	ec := domain.NewErrorContext("X", "op", "E1", domain.SeverityError, errors.New("boom"))
	c.RegisterStrategy("X", "op", domain.RecoveryStrategy{
		PrimaryAction: domain.ActionReset,
		RecoveryFn:    func(domain.ErrorContext) bool { return true },
	})
	if err := c.AttemptRecovery(context.Background(), ec); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("AttemptRecovery = %v, want ErrBreakerOpen", err)
	}

	time.Sleep(1100 * time.Millisecond)

	// Cooldown elapsed: the next query closes the breaker optimistically.
	if c.IsCircuitOpen("X") {
		t.Fatal("breaker should close after reset timeout")
	}

	// A recovery success clears the count for good.
	if err := c.AttemptRecovery(context.Background(), ec); err != nil {
		t.Fatalf("recovery after half-open failed: %v", err)
	}
	if c.IsCircuitOpen("X") {
		t.Fatal("breaker should stay closed after a success")
	}
}

func TestBreakerReopensImmediatelyAfterHalfOpenFailure(t *testing.T) {
	c := newTestCoordinator(Options{
		BreakerThreshold:    3,
		BreakerResetTimeout: 200 * time.Millisecond,
		AutoRecoveryEnabled: false,
	})

	reportN(c, "Y", 3)
	time.Sleep(250 * time.Millisecond)
	if c.IsCircuitOpen("Y") {
		t.Fatal("breaker should be half-open closed after cooldown")
	}

	// One more failure re-opens immediately.
	reportN(c, "Y", 1)
	if !c.IsCircuitOpen("Y") {
		t.Fatal("breaker should re-open on the next failure after half-open")
	}
}

func TestStrategyLookupOrder(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: false})

	var componentHit, globalHit bool
	c.RegisterStrategy("engine", "load", domain.RecoveryStrategy{
		PrimaryAction: domain.ActionReset,
		RecoveryFn:    func(domain.ErrorContext) bool { componentHit = true; return true },
	})
	c.RegisterGlobalStrategy(domain.SeverityError, domain.RecoveryStrategy{
		PrimaryAction: domain.ActionReset,
		RecoveryFn:    func(domain.ErrorContext) bool { globalHit = true; return true },
	})

	ec := domain.NewErrorContext("engine", "load", "E1", domain.SeverityError, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if !componentHit || globalHit {
		t.Fatalf("componentHit=%v globalHit=%v, want component strategy to win", componentHit, globalHit)
	}

	// A different operation falls through to the severity-global table.
	componentHit, globalHit = false, false
	ec2 := domain.NewErrorContext("engine", "other", "E1", domain.SeverityError, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec2); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if componentHit || !globalHit {
		t.Fatalf("componentHit=%v globalHit=%v, want global strategy", componentHit, globalHit)
	}

	// No strategy at all is a successful no-op.
	ec3 := domain.NewErrorContext("engine", "other", "E1", domain.SeverityCritical, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec3); err != nil {
		t.Fatalf("no-op recovery should not error: %v", err)
	}
}

func TestFallbackRunsWhenPrimaryFails(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: false})

	var fallbackHit bool
	c.RegisterStrategy("comp", "op", domain.RecoveryStrategy{
		PrimaryAction:  domain.ActionReset,
		FallbackAction: domain.ActionFallback,
		RecoveryFn:     func(domain.ErrorContext) bool { return false },
		FallbackFn:     func(domain.ErrorContext) bool { fallbackHit = true; return true },
	})

	ec := domain.NewErrorContext("comp", "op", "E1", domain.SeverityError, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if !fallbackHit {
		t.Fatal("fallback action never ran")
	}
}

func TestRestartEmitsComponentEvent(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: false})
	c.RegisterStrategy("model-manager", "load", domain.RecoveryStrategy{
		PrimaryAction: domain.ActionRestart,
	})

	ec := domain.NewErrorContext("model-manager", "load", "E1", domain.SeverityError, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}

	for {
		select {
		case ev := <-c.Events():
			if ev.Type == EventComponentRestart {
				if ev.RestartAction != domain.RestartReloadModels {
					t.Fatalf("restart action = %q, want reload_models", ev.RestartAction)
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no restart event emitted")
		}
	}
}

func TestUserPromptStoredAndResumed(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: false})

	var retried bool
	c.RegisterStrategy("dl", "fetch", domain.RecoveryStrategy{
		PrimaryAction: domain.ActionUserPrompt,
		RecoveryFn:    func(domain.ErrorContext) bool { retried = true; return true },
	})

	ec := domain.NewErrorContext("dl", "fetch", "E1", domain.SeverityError, errors.New("x"))
	if err := c.AttemptRecovery(context.Background(), ec); err != nil {
		t.Fatalf("prompt action failed: %v", err)
	}

	c.HandleUserResponse("dl", "fetch", true)
	if !retried {
		t.Fatal("user approval did not re-run the recovery function")
	}

	// A second response finds nothing stored and is a no-op.
	retried = false
	c.HandleUserResponse("dl", "fetch", true)
	if retried {
		t.Fatal("prompt was not consumed on first response")
	}
}

func TestHistoryTrimAndStats(t *testing.T) {
	c := newTestCoordinator(Options{MaxErrorHistory: 5, AutoRecoveryEnabled: false})

	for i := 0; i < 8; i++ {
		sev := domain.SeverityWarning
		if i%2 == 0 {
			sev = domain.SeverityError
		}
		ec := domain.NewErrorContext("comp", "op", "E1", sev, errors.New("x"))
		c.ReportError(context.Background(), ec)
	}

	history := c.History("comp")
	if len(history) != 5 {
		t.Fatalf("history length = %d, want trimmed to 5", len(history))
	}
	if got := len(c.History("other")); got != 0 {
		t.Fatalf("unrelated component history = %d, want 0", got)
	}

	stats := c.Stats("comp")
	total := 0
	for _, n := range stats.CountBySeverity {
		total += n
	}
	if total != 5 {
		t.Fatalf("stats total = %d, want 5", total)
	}
	if stats.RecentHourCount != 5 {
		t.Fatalf("recent hour count = %d, want 5", stats.RecentHourCount)
	}
	if stats.CountByOp["op"] != 5 {
		t.Fatalf("count by op = %d, want 5", stats.CountByOp["op"])
	}
}

func TestAutoRecoveryTriggersOnErrorSeverity(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: true, BreakerThreshold: 100})

	recovered := make(chan struct{}, 2)
	c.RegisterStrategy("comp", "op", domain.RecoveryStrategy{
		PrimaryAction: domain.ActionReset,
		RecoveryFn:    func(domain.ErrorContext) bool { recovered <- struct{}{}; return true },
	})

	c.ReportError(context.Background(),
		domain.NewErrorContext("comp", "op", "W", domain.SeverityWarning, errors.New("w")))
	select {
	case <-recovered:
		t.Fatal("warning severity should not auto-recover")
	case <-time.After(50 * time.Millisecond):
	}

	c.ReportError(context.Background(),
		domain.NewErrorContext("comp", "op", "E", domain.SeverityError, errors.New("e")))
	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("error severity should auto-recover")
	}
}

func TestHealthCheckTransitions(t *testing.T) {
	c := newTestCoordinator(Options{AutoRecoveryEnabled: false, HealthProbeTimeout: time.Second})
	defer c.Close()

	healthy := make(chan bool, 1)
	probe := func(ctx context.Context) error {
		if len(healthy) > 0 && <-healthy {
			return nil
		}
		return errors.New("down")
	}
	c.StartHealthCheck("svc", probe, 30*time.Millisecond)

	waitEvent := func(wantHealthy bool) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case ev := <-c.Events():
				if ev.Type == EventHealthChanged && ev.Healthy == wantHealthy {
					return
				}
			case <-deadline:
				t.Fatalf("no health event with healthy=%v", wantHealthy)
			}
		}
	}

	// First probe fails: healthy -> unhealthy.
	waitEvent(false)

	// Next probe succeeds: unhealthy -> healthy, breaker closes.
	healthy <- true
	waitEvent(true)

	c.StopHealthCheck("svc")
}

func TestClassifyComponent(t *testing.T) {
	tests := []struct {
		component string
		want      string
	}{
		{"download-manager", "network"},
		{"sqlite-storage", "storage"},
		{"media-pipeline", "media"},
		{"whisper", "other"},
	}
	for _, tt := range tests {
		if got := classifyComponent(tt.component); got != tt.want {
			t.Fatalf("classifyComponent(%q) = %q, want %q", tt.component, got, tt.want)
		}
	}
}
