package approval

import "sync/atomic"

type MetricsSnapshot struct {
	Registered int64
	Approved   int64
	Denied     int64
	Timeouts   int64
	Orphaned   int64
}

type Metrics struct {
	registered atomic.Int64
	approved   atomic.Int64
	denied     atomic.Int64
	timeouts   atomic.Int64
	orphaned   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordRegistered(delta int) {
	m.registered.Add(int64(delta))
}

func (m *Metrics) RecordDecision(approved bool) {
	if approved {
		m.approved.Add(1)
	} else {
		m.denied.Add(1)
	}
}

func (m *Metrics) RecordTimeout(delta int) {
	m.timeouts.Add(int64(delta))
}

func (m *Metrics) RecordOrphaned(delta int) {
	m.orphaned.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Registered: m.registered.Load(),
		Approved:   m.approved.Load(),
		Denied:     m.denied.Load(),
		Timeouts:   m.timeouts.Load(),
		Orphaned:   m.orphaned.Load(),
	}
}
