package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Monitor records per-operation timing for observability. Read-only from
// the consumer's perspective; never affects routing results.
type Monitor struct {
	enabled atomic.Bool

	mu  sync.Mutex
	ops map[string]*opStats
}

type opStats struct {
	count   int64
	totalMs float64
	maxMs   float64
}

// OpStats is an aggregate for one operation type.
type OpStats struct {
	Count     int64   `json:"count"`
	AverageMs float64 `json:"averageMs"`
	MaxMs     float64 `json:"maxMs"`
}

func NewMonitor(enabled bool) *Monitor {
	m := &Monitor{ops: make(map[string]*opStats)}
	m.enabled.Store(enabled)
	return m
}

func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// Record adds one timed operation. No-op while disabled.
func (m *Monitor) Record(operation string, d time.Duration) {
	if !m.enabled.Load() {
		return
	}

	ms := float64(d) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[operation]
	if !ok {
		s = &opStats{}
		m.ops[operation] = s
	}
	s.count++
	s.totalMs += ms
	if ms > s.maxMs {
		s.maxMs = ms
	}
}

// Snapshot returns the per-operation aggregates plus overall totals.
func (m *Monitor) Snapshot() (total int64, avgMs, maxMs float64, perOp map[string]OpStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perOp = make(map[string]OpStats, len(m.ops))
	var totalMs float64
	for name, s := range m.ops {
		avg := 0.0
		if s.count > 0 {
			avg = s.totalMs / float64(s.count)
		}
		perOp[name] = OpStats{Count: s.count, AverageMs: avg, MaxMs: s.maxMs}
		total += s.count
		totalMs += s.totalMs
		if s.maxMs > maxMs {
			maxMs = s.maxMs
		}
	}
	if total > 0 {
		avgMs = totalMs / float64(total)
	}
	return total, avgMs, maxMs, perOp
}

// Reset clears all aggregates.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.ops = make(map[string]*opStats)
	m.mu.Unlock()
}
