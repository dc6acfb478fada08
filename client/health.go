package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HealthMonitor periodically tests the connection and reconnects after a
// run of consecutive failures.
type HealthMonitor struct {
	client           *Client
	interval         time.Duration
	failureThreshold int
	failureCount     atomic.Int32
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	logger           Logger
}

func newHealthMonitor(client *Client, interval time.Duration, threshold int) *HealthMonitor {
	return &HealthMonitor{
		client:           client,
		interval:         interval,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
		logger:           client.logger.WithFields(String("component", "health_monitor")),
	}
}

// Start begins the health check monitoring in a background goroutine.
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go h.monitorLoop()
	h.logger.Info("health monitor started", Duration("interval", h.interval))
}

// Stop stops the health monitor and waits for the loop to exit.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

func (h *HealthMonitor) monitorLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if h.client.State() != Connected {
				continue
			}
			h.check()
		}
	}
}

func (h *HealthMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.client.TestConnection(ctx); err != nil {
		failures := int(h.failureCount.Add(1))
		h.logger.Warn("health check failed", Error("error", err), Int("failureCount", failures))

		if failures >= h.failureThreshold {
			h.logger.Error("health check failure threshold exceeded, reconnecting")
			h.failureCount.Store(0)
			if err := h.client.reconnect(context.Background()); err != nil {
				h.logger.Error("reconnect failed", Error("error", err))
			}
		}
		return
	}

	if prev := h.failureCount.Swap(0); prev > 0 {
		h.logger.Info("health check recovered", Int("previousFailures", int(prev)))
	}
}

// Failures returns the current run of consecutive failed checks.
func (h *HealthMonitor) Failures() int {
	return int(h.failureCount.Load())
}
