package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthChecker periodically probes every enabled endpoint's adapter and
// records the outcome through the registry. A probe failure marks the
// endpoint unhealthy for future reads and syncs; it never interrupts work
// already in flight.
type HealthChecker struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// probeKey is the object key used for liveness probes. Exists on a missing
// key still exercises the backend round trip; only transport-level failures
// count against health.
const probeKey = ".imagevault-health"

// NewHealthChecker creates a checker that probes endpoints every interval.
func NewHealthChecker(registry *Registry, interval time.Duration, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{
		registry: registry,
		interval: interval,
		logger:   logger.With(slog.String("component", "health_checker")),
	}
}

// Start launches the background probe loop.
func (h *HealthChecker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go h.run(ctx)
}

// Stop halts the probe loop and waits for the in-progress round to finish.
func (h *HealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *HealthChecker) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Probe once at startup so endpoints do not sit unverified for a full
	// interval after boot.
	h.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}

// CheckAll probes every enabled endpoint once and records the results.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	endpoints, err := h.registry.List(ctx)
	if err != nil {
		h.logger.Error("failed to list endpoints for health check", "error", err)
		return
	}

	for _, endpoint := range endpoints {
		if !endpoint.IsEnabled {
			continue
		}

		healthy, probeErr := h.probe(ctx, endpoint.ID)
		errMsg := ""
		if probeErr != nil {
			errMsg = probeErr.Error()
		}

		if err := h.registry.UpdateHealth(ctx, endpoint.ID, healthy, errMsg); err != nil {
			h.logger.Error("failed to record endpoint health",
				"endpoint_id", endpoint.ID,
				"error", err)
			continue
		}

		if !healthy {
			h.logger.Warn("endpoint failed health probe",
				"endpoint_id", endpoint.ID,
				"endpoint_name", endpoint.Name,
				"error", errMsg)
		}
	}
}

func (h *HealthChecker) probe(ctx context.Context, endpointID int64) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	endpoint, err := h.registry.Get(probeCtx, endpointID)
	if err != nil {
		return false, err
	}

	adapter, err := h.registry.AdapterFor(probeCtx, endpoint)
	if err != nil {
		return false, err
	}

	if _, err := adapter.Exists(probeCtx, probeKey); err != nil {
		return false, err
	}

	return true, nil
}
