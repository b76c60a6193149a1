package connection

import (
	"sync"
	"time"

	"github.com/hannesnortje/memlink/internal/model"
)

// TrafficSource reports transport byte counters. The realtime channel
// satisfies this; the manager folds its numbers into the metrics snapshot.
type TrafficSource interface {
	Traffic() (bytesIn, bytesOut int64)
}

// tracker accumulates connection statistics. Snapshots are derived on read;
// nothing here is persisted.
type tracker struct {
	mu sync.Mutex

	healthChecks       int64
	failedHealthChecks int64
	reconnections      int64

	latencySum   time.Duration
	latencyCount int64
	lastLatency  time.Duration
}

func (t *tracker) recordHealthCheck(ok bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok {
		t.healthChecks++
	} else {
		t.failedHealthChecks++
	}
	if latency > 0 {
		t.latencySum += latency
		t.latencyCount++
		t.lastLatency = latency
	}
}

func (t *tracker) recordReconnection() {
	t.mu.Lock()
	t.reconnections++
	t.mu.Unlock()
}

func (t *tracker) reset() {
	t.mu.Lock()
	*t = tracker{}
	t.mu.Unlock()
}

// snapshot derives a Metrics value. connectedAt is zero when disconnected.
func (t *tracker) snapshot(connectedAt time.Time, traffic TrafficSource) model.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := model.Metrics{
		HealthChecks:       t.healthChecks,
		FailedHealthChecks: t.failedHealthChecks,
		Reconnections:      t.reconnections,
		LastResponseTime:   t.lastLatency,
	}
	if t.latencyCount > 0 {
		m.AvgResponseTime = t.latencySum / time.Duration(t.latencyCount)
	}
	if !connectedAt.IsZero() {
		m.Uptime = time.Since(connectedAt)
	}
	if traffic != nil {
		m.BytesIn, m.BytesOut = traffic.Traffic()
	}
	return m
}
