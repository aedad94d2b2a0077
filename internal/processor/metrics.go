package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics are in-process counters for the periodic log line. The
// prometheus side lives in pkg/prom.
type ServiceMetrics struct {
	processed atomic.Int64
	failed    atomic.Int64
	busyNs    atomic.Int64
	startedAt time.Time
}

type Stats struct {
	Processed     int64
	Failed        int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{startedAt: time.Now()}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.processed.Add(1)
	m.busyNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

func (m *ServiceMetrics) GetStats() Stats {
	s := Stats{
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		Uptime:    time.Since(m.startedAt),
	}
	if secs := s.Uptime.Seconds(); secs > 0 {
		s.RatePerSecond = float64(s.Processed) / secs
	}
	if s.Processed > 0 {
		s.AvgDuration = time.Duration(m.busyNs.Load() / s.Processed)
	}
	return s
}
