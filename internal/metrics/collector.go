package metrics

import (
	"context"
	"runtime"
	"time"
)

// RuntimeCollector periodically refreshes gauges that are cheaper to poll than
// to maintain on every state change.
type RuntimeCollector struct {
	metrics     *Metrics
	interval    time.Duration
	activeCount func() int
	stopCh      chan struct{}
}

// NewRuntimeCollector creates a collector. activeCount reports the number of
// registered deployments and may be nil.
func NewRuntimeCollector(interval time.Duration, activeCount func() int) *RuntimeCollector {
	return &RuntimeCollector{
		metrics:     Get(),
		interval:    interval,
		activeCount: activeCount,
		stopCh:      make(chan struct{}),
	}
}

// Start begins periodic metric collection
func (rc *RuntimeCollector) Start(ctx context.Context) {
	go func() {
		rc.collect()

		ticker := time.NewTicker(rc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rc.collect()
			case <-rc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector
func (rc *RuntimeCollector) Stop() {
	close(rc.stopCh)
}

func (rc *RuntimeCollector) collect() {
	rc.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))
	if rc.activeCount != nil {
		rc.metrics.SetActiveDeployments(rc.activeCount())
	}
}
