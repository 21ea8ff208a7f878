package recovery

import (
	"context"
	"log/slog"
	"time"
)

// StartHealthCheck schedules a periodic probe for a component. A
// healthy-to-unhealthy transition emits a health event; the reverse
// transition additionally closes the component's breaker. Starting a check
// for a component that already has one replaces it.
func (c *Coordinator) StartHealthCheck(component string, probe func(ctx context.Context) error, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if prev, ok := c.healthChecks[component]; ok {
		prev.cancel()
	}
	hc := &healthCheck{cancel: cancel, healthy: true}
	c.healthChecks[component] = hc
	c.mu.Unlock()

	go c.runHealthCheck(ctx, component, hc, probe, interval)
}

func (c *Coordinator) runHealthCheck(ctx context.Context, component string, hc *healthCheck, probe func(ctx context.Context) error, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, c.opts.HealthProbeTimeout)
		err := probe(probeCtx)
		cancel()
		healthy := err == nil

		c.mu.Lock()
		// The check may have been replaced while the probe ran; only the
		// registered instance may publish transitions.
		current, registered := c.healthChecks[component]
		if !registered || current != hc {
			c.mu.Unlock()
			return
		}
		changed := hc.healthy != healthy
		hc.healthy = healthy
		if changed && healthy {
			b := c.breaker(component)
			b.FailureCount = 0
		}
		c.mu.Unlock()

		if !changed {
			continue
		}
		if healthy {
			c.logger.Info("component recovered", slog.String("component", component))
			c.emit(Event{Type: EventBreakerClosed, Component: component, Healthy: true})
		} else {
			c.logger.Warn("component unhealthy",
				slog.String("component", component),
				slog.String("error", err.Error()),
			)
		}
		c.emit(Event{Type: EventHealthChanged, Component: component, Healthy: healthy})
	}
}

// StopHealthCheck cancels a component's health check scheduler.
func (c *Coordinator) StopHealthCheck(component string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.healthChecks[component]; ok {
		hc.cancel()
		delete(c.healthChecks, component)
	}
}

// Close stops every health check loop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for component, hc := range c.healthChecks {
		hc.cancel()
		delete(c.healthChecks, component)
	}
}
